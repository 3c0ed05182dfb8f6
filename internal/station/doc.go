// Package station dispatches commands to smart speakers.
//
// Each Station owns a local WebSocket channel to one speaker (see package
// transport) and falls back to cloud server actions when the channel is
// down or a local command fails.
//
// # Modes
//
//   - cloud: initial mode; commands use their cloud form
//   - local: entered after the local channel opens and answers a probe
//   - cloud-only: the speaker has no known local address; only an
//     explicit Connect retries the local channel
//
// A closed local channel returns a local station to cloud mode.
//
// # Commands
//
// A Command carries an optional local form and an optional cloud form.
// In local mode the local form is tried first and a failure falls back to
// the cloud form. A command with no form for the current mode is a no-op.
// Play, Pause and VolumeSet skip sending when the observed state already
// matches.
//
// Say and Send accept a volume. When it differs from the current volume
// the phrase is bracketed:
//
//	pause (if playing) → set volume → phrase → wait for IDLE (local only)
//	→ restore volume → play (if it was playing)
//
// # Observed state
//
// Speaker reports pass through a Projection: for a short grace period
// after a command, reports that disagree with the commanded volume or
// playing flag are ignored.
//
// # Usage
//
//	mgr := station.NewManager(registry, station.Options{
//	    Plane:    cloudClient,
//	    Resolver: locator,
//	    Tokens:   deviceTokens,
//	    Config:   cfg.Station,
//	    Logger:   log.Component("station"),
//	})
//	st, err := mgr.Get(ctx, deviceID)
//	err = st.Say(ctx, "Ужин готов", &volume)
package station
