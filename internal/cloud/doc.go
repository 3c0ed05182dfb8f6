// Package cloud is the HTTP client for the speaker vendor's control plane.
//
// It covers the calls the bridge needs:
//   - RunDeviceAction: cloud-routed commands (server actions)
//   - Devices: device snapshot plus the push feed address
//   - Scenarios / Scenario: voice scenario records
//   - LocalNetworkInfo / DeviceToken: what a speaker's local channel needs
//
// Acquiring account tokens is out of scope; a TokenProvider supplies them.
// DeviceTokens caches the short-lived per-speaker conversation tokens.
package cloud
