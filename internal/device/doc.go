// Package device provides the Device Registry for the station bridge.
//
// The registry is the bridge's view of the vendor account: every device
// (speakers and everything else), the voice scenarios, and the live
// capability states pushed by the cloud. It never writes to the account.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                      Device Registry                      │
//	│                                                           │
//	│  ┌──────────────────┐          ┌──────────────────────┐  │
//	│  │    Registry      │◀─────────│     Push feed        │  │
//	│  │  (registry.go)   │  states  │  (transport.Conn)    │  │
//	│  │                  │  devices │                      │  │
//	│  │ • snapshot cache │          │ • reconnect/backoff  │  │
//	│  │ • scenarios      │          │ • heartbeat          │  │
//	│  │ • events         │          └──────────┬───────────┘  │
//	│  └────────┬─────────┘                     │ updates_url  │
//	└───────────│───────────────────────────────│──────────────┘
//	            ▼                               ▼
//	   station.Manager, API,           Cloud control plane
//	   MQTT bridge                     (ControlPlane)
//
// # Key Types
//
//   - Device: one account device; IsSpeaker reports whether it has a local channel
//   - Scenario: a voice scenario with its trigger phrase and action
//   - StatesUpdate: a batch of capability changes from the feed
//   - ScenarioRun: a scenario whose action was seen executing on a speaker
//
// # Usage
//
//	registry, err := device.NewRegistry(plane, cfg.Feed, log.Component("registry"))
//	if err != nil {
//	    return err
//	}
//	defer registry.Close()
//
//	speakers, _ := registry.Speakers(ctx)
//	unsubscribe := registry.SubscribeStates(func(u device.StatesUpdate) { ... })
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Event callbacks run on the feed
// goroutine and must not block.
package device
