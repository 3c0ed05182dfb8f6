package yandex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/station-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/station-bridge/internal/station"
)

const defaultHealthInterval = 30 * time.Second

// HealthPublisher publishes health messages.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StatsSource reports station counters.
type StatsSource interface {
	Stats() map[string]station.Stats
}

// HealthReporterConfig configures a HealthReporter.
type HealthReporterConfig struct {
	Version   string
	Interval  time.Duration
	Publisher HealthPublisher
	Stations  StatsSource
	Logger    Logger
}

// HealthReporter publishes bridge health on stationbridge/system/health
// at a fixed interval.
type HealthReporter struct {
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	stations  StatsSource
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHealthReporter creates a HealthReporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}
	return &HealthReporter{
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  cfg.Interval,
		publisher: cfg.Publisher,
		stations:  cfg.Stations,
		logger:    cfg.Logger,
		done:      make(chan struct{}),
	}
}

// Start publishes health now and then every interval until ctx is
// cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		if err := h.publish(h.message(HealthStopping, "")); err != nil {
			h.logger.Debug("publishing stopping status failed", "error", err)
		}
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(h.message(HealthStarting, "bridge starting"))
}

// PublishNow publishes the current status.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Current())
}

// Current builds the health message for the present state.
func (h *HealthReporter) Current() HealthMessage {
	msg := h.message(HealthHealthy, "")
	status, reason := determineStatus(h.publisher, msg.Stations)
	msg.Status, msg.Reason = status, reason
	return msg
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if err := h.PublishNow(); err != nil {
			h.logger.Warn("publishing health failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Status:        status,
		Reason:        reason,
		Version:       h.version,
		Timestamp:     time.Now().UTC(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stations:      make(map[string]StationHealth),
	}
	if h.stations != nil {
		for id, s := range h.stations.Stats() {
			msg.Stations[id] = stationHealth(s)
		}
	}
	return msg
}

// determineStatus is degraded when MQTT is down or a station has lost
// its local channel and is running on cloud fallback.
func determineStatus(pub HealthPublisher, stations map[string]StationHealth) (HealthStatus, string) {
	if pub == nil || !pub.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	var fallback []string
	for id, s := range stations {
		if s.Mode == station.ModeCloud {
			fallback = append(fallback, id)
		}
	}
	if len(fallback) > 0 {
		sort.Strings(fallback)
		return HealthDegraded, "local channel down: " + strings.Join(fallback, ", ")
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding health: %w", err)
	}
	return h.publisher.Publish(mqtt.Topics{}.SystemHealth(), payload, qosAtLeastOnce, true)
}
