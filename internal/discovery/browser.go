package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/nerrad567/station-bridge/internal/infrastructure/config"
)

const (
	defaultService       = "_yandexio._tcp"
	defaultDomain        = "local."
	defaultInterval      = 60 * time.Second
	defaultBrowseTimeout = 5 * time.Second

	// drainTimeout bounds the wait for the resolver to close its channel.
	drainTimeout = time.Second
)

// Logger defines the logging interface used by discovery.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// EndpointWriter records discovered endpoints.
type EndpointWriter interface {
	Upsert(ctx context.Context, ep Endpoint) error
}

// browseFunc matches zeroconf.Resolver.Browse.
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Browser finds speakers on the local network over mDNS and records their
// addresses.
type Browser struct {
	service  string
	domain   string
	interval time.Duration
	timeout  time.Duration
	store    EndpointWriter
	logger   Logger
	browse   browseFunc

	mu      sync.Mutex
	onFound func(Endpoint)
}

// NewBrowser creates a Browser. Interval and BrowseTimeout are in seconds.
func NewBrowser(cfg config.DiscoveryConfig, store EndpointWriter, logger Logger) *Browser {
	if logger == nil {
		logger = noopLogger{}
	}
	b := &Browser{
		service:  cfg.Service,
		domain:   cfg.Domain,
		interval: time.Duration(cfg.Interval) * time.Second,
		timeout:  time.Duration(cfg.BrowseTimeout) * time.Second,
		store:    store,
		logger:   logger,
		browse:   zeroconfBrowse,
	}
	if b.service == "" {
		b.service = defaultService
	}
	if b.domain == "" {
		b.domain = defaultDomain
	}
	if b.interval <= 0 {
		b.interval = defaultInterval
	}
	if b.timeout <= 0 {
		b.timeout = defaultBrowseTimeout
	}
	return b
}

func zeroconfBrowse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return fmt.Errorf("creating mDNS resolver: %w", err)
	}
	return resolver.Browse(ctx, service, domain, entries)
}

// SetOnFound registers a callback for every endpoint found.
func (b *Browser) SetOnFound(fn func(Endpoint)) {
	b.mu.Lock()
	b.onFound = fn
	b.mu.Unlock()
}

// Run browses every interval until ctx is cancelled.
func (b *Browser) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		if _, err := b.BrowseOnce(ctx); err != nil {
			b.logger.Warn("mDNS browse failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// BrowseOnce runs one browse round and returns the speakers it found.
func (b *Browser) BrowseOnce(ctx context.Context) ([]Endpoint, error) {
	bctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var (
		mu    sync.Mutex
		found []Endpoint
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			ep, ok := parseEntry(e)
			if !ok {
				continue
			}
			mu.Lock()
			found = append(found, ep)
			mu.Unlock()
			b.record(ctx, ep)
		}
	}()

	if err := b.browse(bctx, b.service, b.domain, entries); err != nil {
		close(entries)
		return nil, err
	}
	<-bctx.Done()

	select {
	case <-done:
	case <-time.After(drainTimeout):
	}

	mu.Lock()
	defer mu.Unlock()
	b.logger.Debug("mDNS browse finished", "found", len(found))
	return append([]Endpoint(nil), found...), nil
}

func (b *Browser) record(ctx context.Context, ep Endpoint) {
	if b.store != nil {
		if err := b.store.Upsert(ctx, ep); err != nil {
			b.logger.Warn("storing endpoint failed", "device_id", ep.DeviceID, "error", err)
		}
	}
	b.mu.Lock()
	fn := b.onFound
	b.mu.Unlock()
	if fn != nil {
		fn(ep)
	}
}

// parseEntry reads a speaker endpoint from an mDNS entry. The deviceId
// TXT record is required.
func parseEntry(e *zeroconf.ServiceEntry) (Endpoint, bool) {
	if e == nil || e.Port == 0 {
		return Endpoint{}, false
	}
	ep := Endpoint{Port: e.Port, Source: SourceMDNS, SeenAt: time.Now()}
	for _, txt := range e.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "deviceId":
			ep.DeviceID = value
		case "platform":
			ep.Platform = value
		}
	}
	switch {
	case len(e.AddrIPv4) > 0:
		ep.Host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		ep.Host = e.AddrIPv6[0].String()
	}
	if ep.DeviceID == "" || ep.Host == "" {
		return Endpoint{}, false
	}
	return ep, true
}
