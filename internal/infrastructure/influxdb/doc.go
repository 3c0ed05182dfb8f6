// Package influxdb records station telemetry in InfluxDB v2.
//
// Every observed state change of a station becomes a station_state point
// tagged with device_id and mode. Command outcomes are written as
// station_command points and push-feed scenario runs as scenario_run
// points. Writes are batched and never block the caller.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteStationState(influxdb.StationSample{DeviceID: "spk-1", Volume: 0.4})
package influxdb
