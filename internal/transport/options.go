package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Default timeouts and intervals.
const (
	// defaultConnectTimeout bounds a single Connect when the caller's
	// context carries no deadline.
	defaultConnectTimeout = 10 * time.Second

	// defaultSendTimeout bounds a Send round trip when the caller's
	// context carries no deadline.
	defaultSendTimeout = 5 * time.Second

	// defaultHeartbeatInterval is the maximum silence tolerated on an open session.
	defaultHeartbeatInterval = 30 * time.Second

	// defaultReconnectDelay is the initial delay between reconnection attempts.
	defaultReconnectDelay = 1 * time.Second

	// defaultMaxReconnectDelay caps the exponential backoff.
	defaultMaxReconnectDelay = 60 * time.Second

	// backoffFactor multiplies the delay after each failed attempt.
	backoffFactor = 1.5

	// writeTimeout is the deadline for writing a single frame.
	writeTimeout = 5 * time.Second

	// controlWriteTimeout is the deadline for pong and close frames.
	controlWriteTimeout = time.Second

	// eventQueueSize is the buffer for listener callbacks.
	eventQueueSize = 256
)

// Resolver returns the WebSocket URL to dial. It is invoked on every
// connection attempt, so a changed device address is picked up on the
// next reconnect without restarting the Conn.
type Resolver func(ctx context.Context) (string, error)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Conn.
//
// Req is the caller-facing outbound payload type and Msg the decoded
// inbound message type. Resolve, Encode and Decode are required.
type Options[Req, Msg any] struct {
	// Name labels log lines (e.g. "station:ab12" or "feed").
	Name string

	// Resolve supplies the URL for each connection attempt.
	Resolve Resolver

	// Header is sent with the opening handshake.
	Header http.Header

	// TLSConfig is used for wss:// endpoints.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the HTTP upgrade. Default: ConnectTimeout.
	HandshakeTimeout time.Duration

	// ConnectTimeout applies when Connect is called without a deadline.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// SendTimeout applies when Send is called without a deadline.
	// Default: 5 seconds.
	SendTimeout time.Duration

	// HeartbeatInterval is the maximum silence on an open session before a
	// reconnect is forced. Negative disables the heartbeat.
	// Default: 30 seconds.
	HeartbeatInterval time.Duration

	// ReconnectDelay is the initial backoff. Default: 1 second.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the backoff. Default: 60 seconds.
	MaxReconnectDelay time.Duration

	// TerminalCloseCodes extends the built-in terminal set
	// (1000 normal, 1001 going away, 1006 abnormal).
	TerminalCloseCodes []int

	// Transform runs on every outbound payload before Encode. Optional.
	Transform func(Req) Req

	// Encode serialises a transformed payload into a text frame.
	Encode func(Req) ([]byte, error)

	// Decode parses an inbound frame. Frames that fail to decode are dropped.
	Decode func([]byte) (Msg, error)

	// Identify reports whether msg answers the transformed request req.
	// Required for Send.
	Identify func(req Req, msg Msg) bool

	// Logger is optional.
	Logger Logger
}

// withDefaults fills zero values with package defaults.
func (o Options[Req, Msg]) withDefaults() Options[Req, Msg] {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = o.ConnectTimeout
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = defaultSendTimeout
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.MaxReconnectDelay < o.ReconnectDelay {
		o.MaxReconnectDelay = defaultMaxReconnectDelay
		if o.MaxReconnectDelay < o.ReconnectDelay {
			o.MaxReconnectDelay = o.ReconnectDelay
		}
	}
	if o.Logger == nil {
		o.Logger = noopLogger{}
	}
	return o
}

func (o Options[Req, Msg]) validate() error {
	switch {
	case o.Resolve == nil:
		return errors.Join(ErrInvalidOptions, errors.New("resolver is required"))
	case o.Encode == nil:
		return errors.Join(ErrInvalidOptions, errors.New("encode hook is required"))
	case o.Decode == nil:
		return errors.Join(ErrInvalidOptions, errors.New("decode hook is required"))
	}
	return nil
}

// terminalSet builds the lookup of close codes that must not be retried
// on the first connection attempt.
func terminalSet(extra []int) map[int]bool {
	set := map[int]bool{
		websocket.CloseNormalClosure:   true,
		websocket.CloseGoingAway:       true,
		websocket.CloseAbnormalClosure: true,
	}
	for _, code := range extra {
		set[code] = true
	}
	return set
}

// dialCloseCode maps a failed handshake onto a close code.
// Network-level failures have no response and count as abnormal closure.
func dialCloseCode(resp *http.Response) int {
	if resp == nil {
		return websocket.CloseAbnormalClosure
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return websocket.ClosePolicyViolation
	case resp.StatusCode >= http.StatusInternalServerError:
		return websocket.CloseTryAgainLater
	default:
		return websocket.CloseProtocolError
	}
}

// closeCodeOf extracts the close code from a read error.
func closeCodeOf(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

// NextBackoff grows d by the reconnect backoff factor, capped at limit.
func NextBackoff(d, limit time.Duration) time.Duration {
	next := time.Duration(float64(d) * backoffFactor)
	if next > limit {
		return limit
	}
	return next
}

// EncodeJSON is a ready-made Encode hook.
func EncodeJSON[T any](v T) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeJSON is a ready-made Decode hook.
func DecodeJSON[T any](data []byte) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}
