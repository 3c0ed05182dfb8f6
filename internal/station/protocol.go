package station

import (
	"time"

	"github.com/google/uuid"
)

// statusSuccess is the status of an accepted local command.
const statusSuccess = "SUCCESS"

// Envelope is an outbound frame on a speaker's local channel.
type Envelope struct {
	ConversationToken string    `json:"conversationToken"`
	ID                string    `json:"id"`
	Payload           LocalForm `json:"payload"`
	SentTime          int64     `json:"sentTime"`
}

// Reply is an inbound frame. Command replies carry RequestID; unsolicited
// state pushes leave it empty.
type Reply struct {
	ID              string       `json:"id"`
	RequestID       string       `json:"requestId,omitempty"`
	Status          string       `json:"status,omitempty"`
	SoftwareVersion string       `json:"softwareVersion,omitempty"`
	State           *DeviceState `json:"state,omitempty"`
}

// DeviceState is the state block a speaker reports.
type DeviceState struct {
	AliceState  string      `json:"aliceState"`
	Playing     bool        `json:"playing"`
	Volume      float64     `json:"volume"`
	PlayerState *PlayerInfo `json:"playerState,omitempty"`
}

// stamp fills the fields every outbound frame needs.
func stamp(env Envelope, token string, now time.Time) Envelope {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	env.ConversationToken = token
	env.SentTime = now.UnixMilli()
	return env
}

// answers reports whether reply is the response to env.
func answers(env Envelope, reply Reply) bool {
	return reply.RequestID != "" && reply.RequestID == env.ID
}
