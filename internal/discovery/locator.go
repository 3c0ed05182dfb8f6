package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/nerrad567/station-bridge/internal/cloud"
	"github.com/nerrad567/station-bridge/internal/transport"
)

// defaultMaxAge is how long a stored endpoint is trusted without asking
// the cloud.
const defaultMaxAge = 10 * time.Minute

// EndpointStore reads and writes endpoints.
type EndpointStore interface {
	Get(ctx context.Context, deviceID string) (Endpoint, error)
	Upsert(ctx context.Context, ep Endpoint) error
}

// NetworkInfoSource asks the cloud for a speaker's local address.
type NetworkInfoSource interface {
	LocalNetworkInfo(ctx context.Context, deviceID string) (cloud.NetworkInfo, error)
}

// Locator resolves a speaker's local host:port.
//
// A stored endpoint newer than MaxAge wins. Otherwise the cloud is asked,
// and its answer is stored. When the cloud fails a stale stored endpoint is
// still used. When neither knows the speaker, the error wraps
// transport.ErrNoAddress.
type Locator struct {
	store  EndpointStore
	cloud  NetworkInfoSource
	maxAge time.Duration
	now    func() time.Time
	logger Logger
}

// NewLocator creates a Locator. plane may be nil.
func NewLocator(store EndpointStore, plane NetworkInfoSource, maxAge time.Duration, logger Logger) *Locator {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Locator{store: store, cloud: plane, maxAge: maxAge, now: time.Now, logger: logger}
}

// LocalAddress returns host:port for the speaker with local ID deviceID.
func (l *Locator) LocalAddress(ctx context.Context, deviceID string) (string, error) {
	stored, err := l.store.Get(ctx, deviceID)
	haveStored := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		l.logger.Warn("reading stored endpoint failed", "device_id", deviceID, "error", err)
	}
	if haveStored && l.now().Sub(stored.SeenAt) < l.maxAge {
		return hostPort(stored), nil
	}

	if l.cloud == nil {
		if haveStored {
			return hostPort(stored), nil
		}
		return "", fmt.Errorf("%w: %s", transport.ErrNoAddress, deviceID)
	}

	info, err := l.cloud.LocalNetworkInfo(ctx, deviceID)
	switch {
	case err == nil:
		ep := Endpoint{
			DeviceID: deviceID,
			Host:     info.Host,
			Port:     info.Port,
			Platform: info.Platform,
			Source:   SourceCloud,
			SeenAt:   l.now(),
		}
		if err := l.store.Upsert(ctx, ep); err != nil {
			l.logger.Warn("storing endpoint failed", "device_id", deviceID, "error", err)
		}
		return hostPort(ep), nil
	case haveStored:
		l.logger.Debug("using stale endpoint", "device_id", deviceID, "error", err)
		return hostPort(stored), nil
	case errors.Is(err, cloud.ErrNoNetworkInfo):
		return "", fmt.Errorf("%w: %w", transport.ErrNoAddress, err)
	default:
		return "", err
	}
}

func hostPort(ep Endpoint) string {
	return net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))
}
