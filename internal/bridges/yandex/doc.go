// Package yandex bridges Yandex stations to MQTT.
//
// Commands arrive as JSON on stationbridge/command/{device_id} and are run
// through the station manager; every command gets an ack on
// stationbridge/ack/{device_id}. Observed station state is published,
// retained, on stationbridge/state/{device_id}, voice scenario runs on
// stationbridge/event/scenario_run, and bridge health with per-station
// route counters on stationbridge/system/health.
//
// When a Telemetry sink is configured, state changes, command results
// and scenario runs are also written to InfluxDB.
package yandex
