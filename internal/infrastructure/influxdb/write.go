package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the bridge.
const (
	MeasurementStationState   = "station_state"
	MeasurementStationCommand = "station_command"
	MeasurementScenarioRun    = "scenario_run"
)

// StationSample is one observed state of a station.
type StationSample struct {
	DeviceID   string
	Mode       string
	AliceState string
	Volume     float64
	Playing    bool
	Time       time.Time
}

// WriteStationState records an observed station state.
func (c *Client) WriteStationState(s StationSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(stationStatePoint(s))
}

// WriteCommandResult records the outcome of one station command.
func (c *Client) WriteCommandResult(deviceID, command string, latency time.Duration, err error) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(commandPoint(deviceID, command, latency, err, time.Now()))
}

// WriteScenarioRun records a scenario run reported by the push feed.
func (c *Client) WriteScenarioRun(scenarioID, name string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(MeasurementScenarioRun,
		map[string]string{"scenario_id": scenarioID},
		map[string]interface{}{"name": name},
		time.Now()))
}

func stationStatePoint(s StationSample) *write.Point {
	ts := s.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(MeasurementStationState,
		map[string]string{
			"device_id": s.DeviceID,
			"mode":      s.Mode,
		},
		map[string]interface{}{
			"volume":      s.Volume,
			"playing":     s.Playing,
			"alice_state": s.AliceState,
		},
		ts)
}

func commandPoint(deviceID, command string, latency time.Duration, err error, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"ok":         err == nil,
		"latency_ms": latency.Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	return write.NewPoint(MeasurementStationCommand,
		map[string]string{"device_id": deviceID, "command": command},
		fields, ts)
}
