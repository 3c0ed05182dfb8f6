package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// defaultTokenSkew renews device tokens this long before they expire.
	defaultTokenSkew = time.Minute

	// fallbackTokenTTL applies to tokens that carry no readable exp claim.
	fallbackTokenTTL = 30 * time.Minute
)

// StaticTokens serves tokens supplied by configuration.
// Services without a dedicated entry fall back to Default.
type StaticTokens struct {
	Default  string
	Services map[string]string
}

// Token implements TokenProvider.
func (s StaticTokens) Token(_ context.Context, service string) (string, error) {
	if t := s.Services[service]; t != "" {
		return t, nil
	}
	if s.Default != "" {
		return s.Default, nil
	}
	return "", fmt.Errorf("%w: service %q", ErrNoCredentials, service)
}

// DeviceTokenSource fetches conversation tokens for a speaker.
type DeviceTokenSource interface {
	DeviceToken(ctx context.Context, deviceID, platform string) (string, error)
}

type cachedToken struct {
	value   string
	expires time.Time
}

// DeviceTokens caches per-speaker conversation tokens until shortly
// before the expiry encoded in the token itself.
type DeviceTokens struct {
	source DeviceTokenSource
	skew   time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedToken
}

// NewDeviceTokens creates a cache in front of source.
func NewDeviceTokens(source DeviceTokenSource) *DeviceTokens {
	return &DeviceTokens{
		source: source,
		skew:   defaultTokenSkew,
		now:    time.Now,
		cache:  make(map[string]cachedToken),
	}
}

// Token returns a valid conversation token for deviceID.
func (d *DeviceTokens) Token(ctx context.Context, deviceID, platform string) (string, error) {
	d.mu.Lock()
	cached, ok := d.cache[deviceID]
	d.mu.Unlock()

	if ok && d.now().Before(cached.expires.Add(-d.skew)) {
		return cached.value, nil
	}

	token, err := d.source.DeviceToken(ctx, deviceID, platform)
	if err != nil {
		return "", fmt.Errorf("device token for %s: %w", deviceID, err)
	}

	d.mu.Lock()
	d.cache[deviceID] = cachedToken{value: token, expires: d.expiry(token)}
	d.mu.Unlock()

	return token, nil
}

// Invalidate drops the cached token, e.g. after the speaker refused it.
func (d *DeviceTokens) Invalidate(deviceID string) {
	d.mu.Lock()
	delete(d.cache, deviceID)
	d.mu.Unlock()
}

// expiry reads the exp claim without verifying the signature; the
// speaker is the party that verifies it.
func (d *DeviceTokens) expiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return d.now().Add(fallbackTokenTTL)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return d.now().Add(fallbackTokenTTL)
	}
	return exp.Time
}
