package station

import (
	"math"
	"time"
)

// Mode is the connection mode of a station.
type Mode string

// Connection modes.
const (
	// ModeLocal sends commands over the speaker's local channel.
	ModeLocal Mode = "local"
	// ModeCloud sends commands through the cloud; local may come back.
	ModeCloud Mode = "cloud"
	// ModeCloudOnly means the speaker has no known local address. Local
	// attempts resume only after an explicit Connect.
	ModeCloudOnly Mode = "cloud-only"
)

// AliceState is the assistant activity reported by the speaker.
type AliceState string

// Assistant activity states.
const (
	AliceIdle      AliceState = "IDLE"
	AliceListening AliceState = "LISTENING"
	AliceSpeaking  AliceState = "SPEAKING"
	AliceBusy      AliceState = "BUSY"
)

// PlayerInfo describes the current track.
type PlayerInfo struct {
	ID       string  `json:"id,omitempty"`
	Title    string  `json:"title,omitempty"`
	Subtitle string  `json:"subtitle,omitempty"`
	Duration float64 `json:"duration,omitempty"`
	Progress float64 `json:"progress,omitempty"`
}

// State is the observed state of a speaker.
type State struct {
	Volume     float64    `json:"volume"`
	Playing    bool       `json:"playing"`
	AliceState AliceState `json:"alice_state,omitempty"`
	Player     PlayerInfo `json:"player"`
	Mode       Mode       `json:"mode"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// equalContent compares everything but the timestamp.
func (s State) equalContent(o State) bool {
	s.UpdatedAt, o.UpdatedAt = time.Time{}, time.Time{}
	return s == o
}

// volumeEpsilon is the tolerance when comparing volumes.
const volumeEpsilon = 0.005

func clampVolume(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func sameVolume(a, b float64) bool {
	return math.Abs(a-b) < volumeEpsilon
}
