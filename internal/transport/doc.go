// Package transport provides a reconnecting WebSocket client with
// request/response correlation for Station Bridge.
//
// This package manages:
//   - Lazy connection with a connection lock (one physical attempt at a time)
//   - Heartbeat supervision reset by every inbound message and ping
//   - Exponential-backoff reconnection after the first successful open
//   - Correlation of outbound requests to inbound messages via an Identify hook
//   - Ordered delivery of decoded messages to a single listener goroutine
//
// # Architecture
//
// A Conn knows nothing about speakers or the cloud push feed. Callers
// supply hooks:
//
//	Resolve   → WebSocket URL, re-invoked on every attempt
//	Transform → stamps ids or tokens onto an outbound payload
//	Encode    → payload to text frame
//	Decode    → text frame to message (failures are logged and dropped)
//	Identify  → does this message answer that request?
//
// The same type carries the per-speaker local channel (internal/station)
// and the cloud push feed (internal/device).
//
// # Failure Semantics
//
//   - A terminal close code (1000, 1001, 1006 plus configured codes) rejects
//     the first Connect; other codes are retried until the context expires.
//   - After one successful open every closure self-heals in the background.
//   - A Send timeout abandons only that request; the session stays open.
//   - A resolver returning ErrNoAddress stops background reconnection until
//     the next explicit Connect; other resolver errors are retried.
//
// # Usage
//
//	conn, err := transport.New(transport.Options[Request, Response]{
//	    Name:     "station:" + id,
//	    Resolve:  locator.Resolve,
//	    Encode:   transport.EncodeJSON[Request],
//	    Decode:   transport.DecodeJSON[Response],
//	    Identify: func(req Request, msg Response) bool { return msg.RequestID == req.ID },
//	})
//	if err != nil {
//	    return err
//	}
//	defer conn.Close()
//
//	resp, err := conn.Send(ctx, Request{Payload: payload})
package transport
