// Package api provides the HTTP and WebSocket surface of the bridge.
//
// REST endpoints under /api/v1 list devices and scenarios, report
// station state and run station commands. Commands pick their channel
// the same way as everywhere else: local first, cloud when the local
// channel is down or the command has no local form.
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	GET  /api/v1/devices?type=&platform=
//	GET  /api/v1/devices/{id}
//	GET  /api/v1/scenarios
//	GET  /api/v1/endpoints
//	GET  /api/v1/stations
//	GET  /api/v1/stations/{id}/state
//	POST /api/v1/stations/{id}/commands
//	POST /api/v1/stations/{id}/connect
//	POST /api/v1/stations/{id}/disconnect
//
// The WebSocket endpoint (default /ws) streams events on the channels
// station.state, registry.devices, registry.scenarios, registry.states
// and scenario.run after a subscribe message, and accepts command
// messages carrying a device_id and a command request.
package api
