package yandex

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/station-bridge/internal/cloud"
	"github.com/nerrad567/station-bridge/internal/device"
	"github.com/nerrad567/station-bridge/internal/station"
	"github.com/nerrad567/station-bridge/internal/transport"
)

// CommandMessage is received on stationbridge/command/{device_id}.
//
//	{"id":"c-1","command":"say","text":"Привет","volume":0.5}
type CommandMessage struct {
	// ID correlates the command with its ack. Optional.
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Source    string    `json:"source,omitempty"`

	station.CommandRequest
}

// AckStatus is the outcome of a command.
type AckStatus string

// Ack statuses.
const (
	AckAccepted AckStatus = "accepted"
	AckFailed   AckStatus = "failed"
	AckTimeout  AckStatus = "timeout"
)

// AckMessage is published on stationbridge/ack/{device_id}.
type AckMessage struct {
	CommandID string    `json:"command_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	Status    AckStatus `json:"status"`
	Error     *AckError `json:"error,omitempty"`
}

// AckError describes a failed command.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for failed commands.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeNotSpeaker        = "NOT_SPEAKER"
	ErrCodeLocalFailed       = "LOCAL_FAILED"
	ErrCodeRejected          = "REJECTED"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeUnavailable       = "UNAVAILABLE"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// errorCode maps a command error to an ack error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, station.ErrUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, station.ErrInvalidArgument):
		return ErrCodeInvalidParameters
	case errors.Is(err, device.ErrDeviceNotFound):
		return ErrCodeNotFound
	case errors.Is(err, station.ErrNotSpeaker):
		return ErrCodeNotSpeaker
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, transport.ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, station.ErrCommandRejected), errors.Is(err, cloud.ErrRemoteRejected):
		return ErrCodeRejected
	case errors.Is(err, station.ErrLocalFailed):
		return ErrCodeLocalFailed
	case errors.Is(err, station.ErrClosed), errors.Is(err, device.ErrRegistryClosed):
		return ErrCodeUnavailable
	default:
		return ErrCodeBridgeError
	}
}

func newAck(deviceID string, cmd CommandMessage, err error) AckMessage {
	ack := AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Command:   cmd.Command,
		Status:    AckAccepted,
	}
	if err != nil {
		code := errorCode(err)
		ack.Status = AckFailed
		if code == ErrCodeTimeout {
			ack.Status = AckTimeout
		}
		ack.Error = &AckError{Code: code, Message: err.Error()}
	}
	return ack
}

// StateMessage is published, retained, on stationbridge/state/{device_id}.
type StateMessage struct {
	DeviceID  string        `json:"device_id"`
	Timestamp time.Time     `json:"timestamp"`
	State     station.State `json:"state"`
}

// ScenarioRunMessage is published on stationbridge/event/scenario_run.
type ScenarioRunMessage struct {
	ScenarioID string    `json:"scenario_id"`
	Name       string    `json:"name"`
	Trigger    string    `json:"trigger"`
	DeviceID   string    `json:"device_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// HealthStatus is the overall bridge status.
type HealthStatus string

// Health statuses.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published, retained, on stationbridge/system/health.
type HealthMessage struct {
	Status        HealthStatus             `json:"status"`
	Reason        string                   `json:"reason,omitempty"`
	Version       string                   `json:"version"`
	Timestamp     time.Time                `json:"timestamp"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Stations      map[string]StationHealth `json:"stations"`
}

// StationHealth summarises one station.
type StationHealth struct {
	Mode       station.Mode `json:"mode"`
	Connected  bool         `json:"connected"`
	Local      uint64       `json:"local"`
	Fallback   uint64       `json:"fallback"`
	Cloud      uint64       `json:"cloud"`
	Skipped    uint64       `json:"skipped"`
	Failed     uint64       `json:"failed"`
	Reconnects uint64       `json:"reconnects"`
}

func stationHealth(s station.Stats) StationHealth {
	return StationHealth{
		Mode:       s.Mode,
		Connected:  s.Transport.Connected,
		Local:      s.Local,
		Fallback:   s.Fallback,
		Cloud:      s.Cloud,
		Skipped:    s.Skipped,
		Failed:     s.Failed,
		Reconnects: s.Transport.ReconnectsTotal,
	}
}
