package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/station-bridge/internal/event"
	"github.com/nerrad567/station-bridge/internal/infrastructure/config"
	"github.com/nerrad567/station-bridge/internal/transport"
)

// Defaults for zero FeedConfig values.
const (
	// defaultScenarioTimeout bounds re-resolving scenarios from a push message.
	defaultScenarioTimeout = 10 * time.Second

	// Background feed retry delays, used when the first open fails.
	defaultFeedRetryDelay    = 1 * time.Second
	defaultFeedMaxRetryDelay = 60 * time.Second
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ControlPlane is the part of the cloud API the registry reads.
type ControlPlane interface {
	Devices(ctx context.Context) (DeviceList, error)
	Scenarios(ctx context.Context) ([]ScenarioSummary, error)
	Scenario(ctx context.Context, id string) (ScenarioDetail, error)
}

// feedRequest is the outbound type of the push feed, which never sends.
type feedRequest struct{}

// Registry caches the account's devices and voice scenarios and keeps them
// current from the cloud push feed.
//
// Devices are loaded by the first Devices call: resolving the push feed
// address returns the full device snapshot, which replaces the cache. Every
// feed reconnect resolves again and so refreshes the snapshot. Scenarios
// are loaded on first use, one detail request per scenario.
//
// The cache is replaced, never patched. All public methods are thread-safe.
type Registry struct {
	plane  ControlPlane
	feed   *transport.Conn[feedRequest, PushMessage]
	logger Logger

	scenarioTimeout time.Duration
	retryDelay      time.Duration
	maxRetryDelay   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cacheMu         sync.RWMutex
	devices         map[string]Device
	scenarios       map[string]Scenario
	scenariosLoaded bool

	// feedMu and scenarioMu serialise the lazy first loads. Event
	// subscribers must not call Devices from inside the first load.
	feedMu      sync.Mutex
	feedStarted bool
	scenarioMu  sync.Mutex

	devicesEvents   event.Emitter[map[string]Device]
	scenariosEvents event.Emitter[[]Scenario]
	statesEvents    event.Emitter[StatesUpdate]
	runEvents       event.Emitter[ScenarioRun]
}

// NewRegistry creates a registry reading from plane.
//
// Parameters:
//   - plane: cloud control plane
//   - cfg: push feed timing from config.yaml
//   - logger: optional; nil disables logging
//
// Returns:
//   - *Registry: ready for use; nothing is fetched until the first lookup
//   - error: if the feed connection cannot be constructed
func NewRegistry(plane ControlPlane, cfg config.FeedConfig, logger Logger) (*Registry, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		plane:           plane,
		logger:          logger,
		scenarioTimeout: defaultScenarioTimeout,
		retryDelay:      defaultFeedRetryDelay,
		maxRetryDelay:   defaultFeedMaxRetryDelay,
		ctx:             ctx,
		cancel:          cancel,
		devices:         make(map[string]Device),
		scenarios:       make(map[string]Scenario),
	}
	if cfg.ScenarioTimeout > 0 {
		r.scenarioTimeout = time.Duration(cfg.ScenarioTimeout) * time.Second
	}
	if cfg.ReconnectDelay > 0 {
		r.retryDelay = time.Duration(cfg.ReconnectDelay) * time.Second
	}
	if cfg.MaxReconnectDelay > 0 {
		r.maxRetryDelay = time.Duration(cfg.MaxReconnectDelay) * time.Second
	}
	if r.maxRetryDelay < r.retryDelay {
		r.maxRetryDelay = r.retryDelay
	}

	feed, err := transport.New(transport.Options[feedRequest, PushMessage]{
		Name:              "feed",
		Resolve:           r.resolveFeed,
		ConnectTimeout:    time.Duration(cfg.ConnectTimeout) * time.Second,
		HeartbeatInterval: time.Duration(cfg.HeartbeatInterval) * time.Second,
		ReconnectDelay:    time.Duration(cfg.ReconnectDelay) * time.Second,
		MaxReconnectDelay: time.Duration(cfg.MaxReconnectDelay) * time.Second,
		Encode:            transport.EncodeJSON[feedRequest],
		Decode:            transport.DecodeJSON[PushMessage],
		Logger:            logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating push feed: %w", err)
	}
	feed.SetOnMessage(r.handlePush)
	feed.SetOnReconnect(func(attempt int) {
		r.logger.Debug("push feed reconnecting", "attempt", attempt)
	})
	r.feed = feed

	return r, nil
}

// Close stops the push feed and any background feed retry.
func (r *Registry) Close() error {
	r.cancel()
	err := r.feed.Close()
	r.wg.Wait()
	return err
}

// FeedStats returns push feed statistics.
func (r *Registry) FeedStats() transport.Stats {
	return r.feed.Stats()
}

// resolveFeed fetches the device snapshot and returns the push feed address.
func (r *Registry) resolveFeed(ctx context.Context) (string, error) {
	list, err := r.plane.Devices(ctx)
	if err != nil {
		return "", fmt.Errorf("loading devices: %w", err)
	}

	r.replaceDevices(list.Devices)

	if list.UpdatesURL == "" {
		return "", ErrNoUpdatesURL
	}
	return list.UpdatesURL, nil
}

// replaceDevices swaps the device cache and emits the new snapshot.
func (r *Registry) replaceDevices(devices map[string]Device) {
	cache := make(map[string]Device, len(devices))
	for id, d := range devices {
		cache[id] = d.DeepCopy()
	}

	r.cacheMu.Lock()
	r.devices = cache
	r.cacheMu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(cache))
	r.devicesEvents.Emit(r.snapshotDevices())
}

// ensureFeed performs the first device load and opens the push feed.
// Once a snapshot is cached it returns immediately; a feed that failed to
// open is retried in the background.
func (r *Registry) ensureFeed(ctx context.Context) error {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()

	if r.feedStarted {
		return nil
	}

	if err := r.feed.Connect(ctx); err != nil {
		r.cacheMu.RLock()
		loaded := len(r.devices) > 0
		r.cacheMu.RUnlock()
		if !loaded {
			return err
		}
		r.logger.Warn("push feed unavailable, serving cached devices", "error", err)
		r.feedStarted = true
		r.wg.Add(1)
		go r.retryFeed()
		return nil
	}

	r.feedStarted = true
	return nil
}

// retryFeed keeps opening the push feed with backoff until it succeeds or
// the registry is closed. Each attempt refreshes the device snapshot.
func (r *Registry) retryFeed() {
	defer r.wg.Done()

	backoff := r.retryDelay
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-time.After(backoff):
		}

		err := r.feed.Connect(r.ctx)
		if err == nil {
			r.logger.Info("push feed opened")
			return
		}
		if errors.Is(err, transport.ErrClosed) || r.ctx.Err() != nil {
			return
		}
		backoff = transport.NextBackoff(backoff, r.maxRetryDelay)
		r.logger.Warn("push feed retry failed", "error", err, "next_retry", backoff.String())
	}
}

// Devices returns all cached devices keyed by id.
// The first call loads the snapshot and opens the push feed.
func (r *Registry) Devices(ctx context.Context) (map[string]Device, error) {
	if err := r.ensureFeed(ctx); err != nil {
		return nil, err
	}
	return r.snapshotDevices(), nil
}

// Device returns one cached device.
func (r *Registry) Device(ctx context.Context, id string) (Device, error) {
	if err := r.ensureFeed(ctx); err != nil {
		return Device{}, err
	}

	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d.DeepCopy(), nil
}

// DevicesByType returns cached devices whose type is t.
func (r *Registry) DevicesByType(ctx context.Context, t string) ([]Device, error) {
	return r.filterDevices(ctx, func(d Device) bool { return d.Type == t })
}

// DevicesByPlatform returns cached speakers running on platform.
func (r *Registry) DevicesByPlatform(ctx context.Context, platform string) ([]Device, error) {
	return r.filterDevices(ctx, func(d Device) bool { return d.Platform() == platform })
}

// Speakers returns every cached smart speaker.
func (r *Registry) Speakers(ctx context.Context) ([]Device, error) {
	return r.filterDevices(ctx, Device.IsSpeaker)
}

func (r *Registry) filterDevices(ctx context.Context, keep func(Device) bool) ([]Device, error) {
	all, err := r.Devices(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Device, 0, len(all))
	for _, d := range all {
		if keep(d) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) snapshotDevices() map[string]Device {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make(map[string]Device, len(r.devices))
	for id, d := range r.devices {
		out[id] = d.DeepCopy()
	}
	return out
}

// Scenarios returns the usable voice scenarios, loading them on first use.
func (r *Registry) Scenarios(ctx context.Context) ([]Scenario, error) {
	if err := r.ensureScenarios(ctx); err != nil {
		return nil, err
	}
	return r.usableScenarios(), nil
}

// ScenarioByAction returns the scenario whose action value is value.
func (r *Registry) ScenarioByAction(ctx context.Context, value string) (Scenario, error) {
	return r.findScenario(ctx, func(s Scenario) bool { return s.Action.Value == value })
}

// ScenarioByTrigger returns the scenario triggered by the phrase trigger.
// Matching ignores case and surrounding whitespace.
func (r *Registry) ScenarioByTrigger(ctx context.Context, trigger string) (Scenario, error) {
	want := strings.TrimSpace(trigger)
	return r.findScenario(ctx, func(s Scenario) bool { return strings.EqualFold(s.Trigger, want) })
}

func (r *Registry) findScenario(ctx context.Context, match func(Scenario) bool) (Scenario, error) {
	all, err := r.Scenarios(ctx)
	if err != nil {
		return Scenario{}, err
	}
	for _, s := range all {
		if match(s) {
			return s, nil
		}
	}
	return Scenario{}, ErrScenarioNotFound
}

func (r *Registry) ensureScenarios(ctx context.Context) error {
	r.scenarioMu.Lock()
	defer r.scenarioMu.Unlock()

	r.cacheMu.RLock()
	loaded := r.scenariosLoaded
	r.cacheMu.RUnlock()
	if loaded {
		return nil
	}

	summaries, err := r.plane.Scenarios(ctx)
	if err != nil {
		return fmt.Errorf("loading scenarios: %w", err)
	}

	r.replaceScenarios(r.resolveScenarios(ctx, summaries))
	r.logger.Info("scenario cache loaded", "count", len(summaries))
	return nil
}

// resolveScenarios fetches and derives every listed scenario. Scenarios
// that fail to load are skipped.
func (r *Registry) resolveScenarios(ctx context.Context, summaries []ScenarioSummary) map[string]Scenario {
	out := make(map[string]Scenario, len(summaries))
	for _, sum := range summaries {
		detail, err := r.plane.Scenario(ctx, sum.ID)
		if err != nil {
			r.logger.Warn("skipping scenario", "scenario_id", sum.ID, "error", err)
			continue
		}
		if detail.Name == "" {
			detail.Name = sum.Name
		}
		out[sum.ID] = DeriveScenario(detail)
	}
	return out
}

func (r *Registry) replaceScenarios(scenarios map[string]Scenario) {
	r.cacheMu.Lock()
	r.scenarios = scenarios
	r.scenariosLoaded = true
	r.cacheMu.Unlock()
}

// mergeScenarios re-derives the listed scenarios in place. A listed id
// that could not be resolved is dropped; unlisted ids are kept.
func (r *Registry) mergeScenarios(listed []ScenarioSummary, resolved map[string]Scenario) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	merged := make(map[string]Scenario, len(r.scenarios)+len(resolved))
	for id, sc := range r.scenarios {
		merged[id] = sc
	}
	for _, sum := range listed {
		if sc, ok := resolved[sum.ID]; ok {
			merged[sum.ID] = sc
		} else {
			delete(merged, sum.ID)
		}
	}
	r.scenarios = merged
}

func (r *Registry) usableScenarios() []Scenario {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	out := make([]Scenario, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		if s.Usable() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DeriveScenario normalises a scenario record to its voice trigger and the
// server action of its first launch device.
func DeriveScenario(detail ScenarioDetail) Scenario {
	s := Scenario{ID: detail.ID, Name: detail.Name}

	for _, t := range detail.Triggers {
		if t.Type != TriggerVoice {
			continue
		}
		var phrase string
		if err := json.Unmarshal(t.Value, &phrase); err == nil {
			s.Trigger = phrase
			break
		}
	}

	for _, step := range detail.Steps {
		for _, ld := range step.Parameters.LaunchDevices {
			for _, c := range ld.Capabilities {
				if c.Type != CapabilityServerAction || c.State == nil {
					continue
				}
				s.Action = Action{Type: c.State.Instance, Value: fmt.Sprint(c.State.Value)}
				s.DeviceID = ld.ID
				return s
			}
		}
	}
	return s
}

// handlePush processes one push feed frame. It runs on the feed's listener
// goroutine, so frames are handled in arrival order.
func (r *Registry) handlePush(msg PushMessage) {
	payload, err := unwrapMessage(msg.Message)
	if err != nil {
		r.logger.Warn("dropping push message", "operation", msg.Operation, "error", err)
		return
	}

	switch msg.Operation {
	case OperationDeviceList:
		var u DeviceListUpdate
		if err := json.Unmarshal(payload, &u); err != nil {
			r.logger.Warn("dropping device list update", "error", err)
			return
		}
		r.replaceDevices(Flatten(u.Households))

	case OperationScenarioList:
		var u ScenarioListUpdate
		if err := json.Unmarshal(payload, &u); err != nil {
			r.logger.Warn("dropping scenario list update", "error", err)
			return
		}
		r.cacheMu.RLock()
		loaded := r.scenariosLoaded
		r.cacheMu.RUnlock()
		if !loaded {
			// The first Scenarios call loads the full list.
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.scenarioTimeout)
		scenarios := r.resolveScenarios(ctx, u.Scenarios)
		cancel()
		r.mergeScenarios(u.Scenarios, scenarios)
		r.logger.Info("scenario cache refreshed", "updated", len(u.Scenarios))
		r.scenariosEvents.Emit(r.usableScenarios())

	case OperationStates:
		var u StatesUpdate
		if err := json.Unmarshal(payload, &u); err != nil {
			r.logger.Warn("dropping states update", "error", err)
			return
		}
		r.statesEvents.Emit(u)
		if u.Source == SourceAction {
			r.detectScenarioRuns(u)
		}

	default:
		r.logger.Debug("ignoring push operation", "operation", msg.Operation)
	}
}

// detectScenarioRuns emits a ScenarioRun for every updated device whose
// only changed capability is a server action matching a known scenario.
func (r *Registry) detectScenarioRuns(u StatesUpdate) {
	for _, d := range u.UpdatedDevices {
		if len(d.Capabilities) != 1 {
			continue
		}
		c := d.Capabilities[0]
		if c.Type != CapabilityServerAction || c.State == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.scenarioTimeout)
		s, err := r.ScenarioByAction(ctx, fmt.Sprint(c.State.Value))
		cancel()
		if err != nil {
			r.logger.Debug("server action without scenario", "device_id", d.ID, "error", err)
			continue
		}

		r.logger.Info("scenario run detected", "scenario_id", s.ID, "device_id", d.ID)
		r.runEvents.Emit(ScenarioRun{Scenario: s, DeviceID: d.ID})
	}
}

// unwrapMessage returns the JSON document carried by a push frame, which
// may be embedded as a string.
func unwrapMessage(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedPush)
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPush, err)
	}
	return json.RawMessage(s), nil
}

// SubscribeDevices registers fn for device list replacements.
func (r *Registry) SubscribeDevices(fn func(map[string]Device)) (unsubscribe func()) {
	return r.devicesEvents.Subscribe(fn)
}

// SubscribeScenarios registers fn for scenario list refreshes.
func (r *Registry) SubscribeScenarios(fn func([]Scenario)) (unsubscribe func()) {
	return r.scenariosEvents.Subscribe(fn)
}

// SubscribeStates registers fn for raw state updates.
func (r *Registry) SubscribeStates(fn func(StatesUpdate)) (unsubscribe func()) {
	return r.statesEvents.Subscribe(fn)
}

// SubscribeScenarioRuns registers fn for detected voice scenario runs.
func (r *Registry) SubscribeScenarioRuns(fn func(ScenarioRun)) (unsubscribe func()) {
	return r.runEvents.Subscribe(fn)
}
