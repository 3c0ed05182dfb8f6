package yandex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/station-bridge/internal/device"
	"github.com/nerrad567/station-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/station-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/station-bridge/internal/station"
)

const (
	// defaultCommandTimeout covers a bracketed say: volume change, speech
	// and restore.
	defaultCommandTimeout = 60 * time.Second

	qosAtLeastOnce = 1
)

// Logger is the logging interface used by the bridge.
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

// MQTTClient is the part of *mqtt.Client the bridge uses.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Stations runs commands on stations and reports their state.
// *station.Manager satisfies it.
type Stations interface {
	Execute(ctx context.Context, deviceID string, req station.CommandRequest) error
	SubscribeStates(fn func(station.StateChange)) (unsubscribe func())
	Stats() map[string]station.Stats
}

// ScenarioRuns reports voice scenario runs. *device.Registry satisfies it.
type ScenarioRuns interface {
	SubscribeScenarioRuns(fn func(device.ScenarioRun)) (unsubscribe func())
}

// Telemetry records station metrics. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteStationState(s influxdb.StationSample)
	WriteCommandResult(deviceID, command string, latency time.Duration, err error)
	WriteScenarioRun(scenarioID, name string)
}

// Options holds the collaborators of a Bridge. MQTT and Stations are
// required.
type Options struct {
	MQTT      MQTTClient
	Stations  Stations
	Scenarios ScenarioRuns
	Telemetry Telemetry

	Version        string
	HealthInterval time.Duration
	CommandTimeout time.Duration
	Logger         Logger
}

// Bridge connects stations to MQTT. It accepts commands on
// stationbridge/command/{device_id}, acks them, and publishes station
// state, scenario runs and periodic health.
type Bridge struct {
	mqtt      MQTTClient
	stations  Stations
	scenarios ScenarioRuns
	telemetry Telemetry
	health    *HealthReporter
	timeout   time.Duration
	logger    Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	unsubscribes []func()
	stopOnce     sync.Once
}

// NewBridge creates a Bridge. Call Start to begin.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.MQTT == nil {
		return nil, errors.New("MQTT client is required")
	}
	if opts.Stations == nil {
		return nil, errors.New("stations are required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		mqtt:      opts.MQTT,
		stations:  opts.Stations,
		scenarios: opts.Scenarios,
		telemetry: opts.Telemetry,
		health: NewHealthReporter(HealthReporterConfig{
			Version:   opts.Version,
			Interval:  opts.HealthInterval,
			Publisher: opts.MQTT,
			Stations:  opts.Stations,
			Logger:    opts.Logger,
		}),
		timeout: opts.CommandTimeout,
		logger:  opts.Logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start subscribes to commands, starts publishing state and health.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("publishing starting status failed", "error", err)
	}

	topic := mqtt.Topics{}.AllCommands()
	if err := b.mqtt.Subscribe(topic, qosAtLeastOnce, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logger.Info("subscribed to commands", "topic", topic)

	b.mu.Lock()
	b.unsubscribes = append(b.unsubscribes, b.stations.SubscribeStates(b.publishState))
	if b.scenarios != nil {
		b.unsubscribes = append(b.unsubscribes, b.scenarios.SubscribeScenarioRuns(b.publishScenarioRun))
	}
	b.mu.Unlock()

	b.health.Start(ctx)
	b.logger.Info("bridge started")
	return nil
}

// Stop cancels in-flight commands and stops health reporting.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		unsubscribes := b.unsubscribes
		b.unsubscribes = nil
		b.cancel()
		b.mu.Unlock()

		for _, unsubscribe := range unsubscribes {
			unsubscribe()
		}
		b.wg.Wait()
		b.health.Stop()
		b.logger.Info("bridge stopped")
	})
}

// handleCommand runs on the MQTT client's goroutine; the command itself
// runs in the background so a long say does not hold up other messages.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	deviceID, ok := mqtt.DeviceFromTopic(topic)
	if !ok {
		return fmt.Errorf("invalid command topic %q", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(newAck(deviceID, cmd, fmt.Errorf("%w: %w", station.ErrInvalidArgument, err)))
		return fmt.Errorf("parsing command: %w", err)
	}

	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		b.publishAck(newAck(deviceID, cmd, station.ErrClosed))
		return nil
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		b.execute(deviceID, cmd)
	}()
	return nil
}

func (b *Bridge) execute(deviceID string, cmd CommandMessage) {
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()

	b.logger.Debug("executing command", "device_id", deviceID, "command", cmd.Command, "command_id", cmd.ID)
	start := time.Now()
	err := b.stations.Execute(ctx, deviceID, cmd.CommandRequest)
	if b.telemetry != nil {
		b.telemetry.WriteCommandResult(deviceID, cmd.Command, time.Since(start), err)
	}
	if err != nil {
		b.logger.Warn("command failed", "device_id", deviceID, "command", cmd.Command, "error", err)
	}
	b.publishAck(newAck(deviceID, cmd, err))
}

func (b *Bridge) publishAck(ack AckMessage) {
	b.publishJSON(mqtt.Topics{}.Ack(ack.DeviceID), ack, false)
}

func (b *Bridge) publishState(c station.StateChange) {
	b.publishJSON(mqtt.Topics{}.State(c.DeviceID), StateMessage{
		DeviceID:  c.DeviceID,
		Timestamp: time.Now().UTC(),
		State:     c.State,
	}, true)

	if b.telemetry != nil {
		b.telemetry.WriteStationState(influxdb.StationSample{
			DeviceID:   c.DeviceID,
			Mode:       string(c.State.Mode),
			AliceState: string(c.State.AliceState),
			Volume:     c.State.Volume,
			Playing:    c.State.Playing,
			Time:       c.State.UpdatedAt,
		})
	}
}

func (b *Bridge) publishScenarioRun(run device.ScenarioRun) {
	b.publishJSON(mqtt.Topics{}.Event("scenario_run"), ScenarioRunMessage{
		ScenarioID: run.Scenario.ID,
		Name:       run.Scenario.Name,
		Trigger:    run.Scenario.Trigger,
		DeviceID:   run.DeviceID,
		Timestamp:  time.Now().UTC(),
	}, false)

	if b.telemetry != nil {
		b.telemetry.WriteScenarioRun(run.Scenario.ID, run.Scenario.Name)
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("encoding MQTT message failed", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, qosAtLeastOnce, retained); err != nil {
		b.logger.Warn("publishing MQTT message failed", "topic", topic, "error", err)
	}
}
