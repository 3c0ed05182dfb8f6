package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Stats holds operational statistics for a Conn.
type Stats struct {
	MessagesTx      uint64
	MessagesRx      uint64
	MessagesDropped uint64 // Decoded messages dropped due to a full listener queue
	DecodeErrors    uint64
	SendTimeouts    uint64
	ErrorsTotal     uint64
	Dials           uint64 // Physical connection attempts
	ReconnectsTotal uint64 // Successful reconnections
	HeartbeatMisses uint64
	Attempt         int // Current consecutive reconnect attempt, 0 when healthy
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool
}

// session is one physical WebSocket connection.
type session struct {
	ws        *websocket.Conn
	closed    chan struct{} // closed when the read loop exits
	heartbeat *time.Timer
	expired   atomic.Bool
}

// attempt is a connection attempt that concurrent callers can join.
type attempt struct {
	done chan struct{}
	err  error
}

type result[Msg any] struct {
	msg Msg
	err error
}

// pending is an in-flight request waiting for its matching message.
type pending[Req, Msg any] struct {
	req    Req
	result chan result[Msg]
}

// Conn is a reconnecting, heartbeat-monitored WebSocket session with
// request/response correlation.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Listener callbacks run on a single dedicated goroutine, in arrival order.
//
// Auto-Reconnection:
//   - After the first successful open, any closure or heartbeat miss schedules
//     a reconnect with exponential backoff from ReconnectDelay to MaxReconnectDelay.
//   - Reconnection stops on Disconnect or Close, and when the resolver
//     reports ErrNoAddress.
type Conn[Req, Msg any] struct {
	opts     Options[Req, Msg]
	dialer   *websocket.Dialer
	terminal map[int]bool

	// Session state
	mu         sync.Mutex
	sess       *session
	inflight   *attempt
	wantOpen   bool
	everOpened bool
	stop       chan struct{} // closed by Disconnect to abort a reconnect loop

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   []*pending[Req, Msg]

	// Reconnection state
	reconnecting atomic.Bool
	attempts     atomic.Int32

	// Listeners
	callbackMu  sync.RWMutex
	onOpen      func()
	onClose     func(code int, err error)
	onMessage   func(Msg)
	onReconnect func(attempt int)
	onError     func(err error)

	// Serialised listener queue
	events chan func()

	// Shutdown coordination
	done *closeOnce
	wg   sync.WaitGroup

	// Statistics
	messagesTx      atomic.Uint64
	messagesRx      atomic.Uint64
	messagesDropped atomic.Uint64
	decodeErrors    atomic.Uint64
	sendTimeouts    atomic.Uint64
	errorsTotal     atomic.Uint64
	dials           atomic.Uint64
	reconnectsTotal atomic.Uint64
	heartbeatMisses atomic.Uint64
	lastActivity    atomic.Int64
}

// New creates a Conn. No connection is opened until Connect or Send.
//
// Parameters:
//   - opts: hooks and timing; Resolve, Encode and Decode are required
//
// Returns:
//   - *Conn: ready for use; call Close when the owner is torn down
//   - error: wrapping ErrInvalidOptions if a required hook is missing
func New[Req, Msg any](opts Options[Req, Msg]) (*Conn[Req, Msg], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	c := &Conn[Req, Msg]{
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			TLSClientConfig:  opts.TLSConfig,
		},
		terminal: terminalSet(opts.TerminalCloseCodes),
		events:   make(chan func(), eventQueueSize),
		done:     newCloseOnce(),
	}

	c.wg.Add(1)
	go c.eventWorker()

	return c, nil
}

// Connect opens the session if it is not already open.
//
// A call made while another attempt is in flight waits for that attempt
// instead of dialling again. Before the first successful open, a close code
// outside the terminal set is retried until ctx expires; a terminal code is
// returned immediately.
//
// Parameters:
//   - ctx: bounds the whole call; ConnectTimeout applies if it has no deadline
//
// Returns:
//   - error: nil once open; ErrNoAddress, ErrResolveFailed, *CloseError or ErrTimeout otherwise
func (c *Conn[Req, Msg]) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}

	ctx, cancel := withDefaultTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	c.mu.Lock()
	c.wantOpen = true
	if c.stop == nil {
		c.stop = make(chan struct{})
	}
	c.mu.Unlock()

	for {
		err := c.attemptOnce(ctx)
		if err == nil {
			return nil
		}

		var ce *CloseError
		if !errors.As(err, &ce) || c.terminal[ce.Code] {
			return err
		}

		c.logDebug("connect attempt rejected, retrying", "code", ce.Code, "error", ce.Err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		case <-c.done.Done():
			return ErrClosed
		case <-time.After(c.opts.ReconnectDelay):
		}
	}
}

// attemptOnce performs or joins a single physical connection attempt.
func (c *Conn[Req, Msg]) attemptOnce(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return nil
	}
	if a := c.inflight; a != nil {
		c.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		}
	}
	a := &attempt{done: make(chan struct{})}
	c.inflight = a
	c.mu.Unlock()

	a.err = c.open(ctx)

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(a.done)

	return a.err
}

// open resolves the address, dials and installs a new session.
func (c *Conn[Req, Msg]) open(ctx context.Context) error {
	addr, err := c.opts.Resolve(ctx)
	if err != nil {
		if errors.Is(err, ErrNoAddress) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}

	c.dials.Add(1)
	ws, resp, err := c.dialer.DialContext(ctx, addr, c.opts.Header)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return &CloseError{Code: dialCloseCode(resp), Err: err}
	}

	return c.install(ws)
}

// install registers ws as the current session and starts its read loop.
func (c *Conn[Req, Msg]) install(ws *websocket.Conn) error {
	sess := &session{ws: ws, closed: make(chan struct{})}

	ws.SetPingHandler(func(data string) error {
		c.touch(sess)
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	c.mu.Lock()
	if !c.wantOpen || c.isClosed() {
		c.mu.Unlock()
		ws.Close()
		return ErrConnectionClosed
	}
	c.sess = sess
	c.everOpened = true
	c.mu.Unlock()

	c.attempts.Store(0)
	c.lastActivity.Store(time.Now().Unix())

	if c.opts.HeartbeatInterval > 0 {
		sess.heartbeat = time.AfterFunc(c.opts.HeartbeatInterval, func() { c.expire(sess) })
	}

	c.wg.Add(1)
	go c.readLoop(sess)

	c.logInfo("connected")
	c.emitControl(func() {
		c.callbackMu.RLock()
		cb := c.onOpen
		c.callbackMu.RUnlock()
		if cb != nil {
			cb()
		}
	})

	return nil
}

// touch resets the heartbeat timer of sess.
func (c *Conn[Req, Msg]) touch(sess *session) {
	if sess.heartbeat != nil {
		sess.heartbeat.Reset(c.opts.HeartbeatInterval)
	}
	c.lastActivity.Store(time.Now().Unix())
}

// expire is called when sess stays silent for a full heartbeat interval.
// Closing the socket unblocks the read loop, which then reconnects.
func (c *Conn[Req, Msg]) expire(sess *session) {
	c.heartbeatMisses.Add(1)
	sess.expired.Store(true)
	c.logWarn("heartbeat timeout, forcing reconnect", "interval", c.opts.HeartbeatInterval.String())
	sess.ws.Close()
}

// readLoop reads frames until the session ends.
func (c *Conn[Req, Msg]) readLoop(sess *session) {
	defer c.wg.Done()
	defer close(sess.closed)

	for {
		_, data, err := sess.ws.ReadMessage()
		if err != nil {
			c.handleClosed(sess, err)
			return
		}

		c.touch(sess)
		c.messagesRx.Add(1)

		msg, err := c.opts.Decode(data)
		if err != nil {
			c.decodeErrors.Add(1)
			c.errorsTotal.Add(1)
			c.logWarn("dropping undecodable message", "error", err, "size", len(data))
			continue
		}

		c.resolvePending(msg)
		c.emitMessage(msg)
	}
}

// handleClosed tears down sess and schedules a reconnect when wanted.
func (c *Conn[Req, Msg]) handleClosed(sess *session, err error) {
	if sess.heartbeat != nil {
		sess.heartbeat.Stop()
	}

	code := closeCodeOf(err)
	if sess.expired.Load() {
		code = websocket.CloseAbnormalClosure
	}

	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
	}
	reconnect := c.wantOpen && c.everOpened && !c.isClosed()
	stop := c.stop
	c.mu.Unlock()

	sess.ws.Close()
	c.failPending(fmt.Errorf("%w: code %d", ErrConnectionClosed, code))

	if reconnect {
		c.logInfo("connection lost, will attempt reconnection", "code", code, "error", err)
	}

	c.emitControl(func() {
		c.callbackMu.RLock()
		cb := c.onClose
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(code, err)
		}
	})

	if reconnect && stop != nil {
		go c.reconnectLoop(stop)
	}
}

// reconnectLoop re-establishes the session with exponential backoff.
// It keeps going if the new session closed before the flag was released.
func (c *Conn[Req, Msg]) reconnectLoop(stop <-chan struct{}) {
	for {
		// Prevent multiple concurrent reconnection loops
		if !c.reconnecting.CompareAndSwap(false, true) {
			return
		}
		opened := c.reconnectUntilOpen(stop)
		c.reconnecting.Store(false)
		if !opened || !c.sessionLost(stop) {
			return
		}
	}
}

// sessionLost reports whether the session opened under stop has already
// gone while the Conn should still be open.
func (c *Conn[Req, Msg]) sessionLost(stop <-chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == nil && c.inflight == nil && c.wantOpen && c.stop == stop && !c.isClosed()
}

// reconnectUntilOpen retries until a session is installed, reporting
// whether it was.
func (c *Conn[Req, Msg]) reconnectUntilOpen(stop <-chan struct{}) bool {
	backoff := c.opts.ReconnectDelay

	for {
		attempt := int(c.attempts.Add(1))
		c.emitControl(func() {
			c.callbackMu.RLock()
			cb := c.onReconnect
			c.callbackMu.RUnlock()
			if cb != nil {
				cb(attempt)
			}
		})
		c.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		select {
		case <-stop:
			return false
		case <-c.done.Done():
			return false
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
		err := c.attemptOnce(ctx)
		cancel()

		if err == nil {
			c.reconnectsTotal.Add(1)
			c.logInfo("reconnection successful", "total_reconnects", c.reconnectsTotal.Load())
			return true
		}

		c.errorsTotal.Add(1)
		c.logError("reconnect failed", err)
		c.emitError(err)

		if errors.Is(err, ErrNoAddress) {
			c.logWarn("no address to reconnect to, waiting for an explicit connect")
			return false
		}

		c.mu.Lock()
		want := c.wantOpen
		c.mu.Unlock()
		if !want {
			return false
		}

		backoff = NextBackoff(backoff, c.opts.MaxReconnectDelay)
	}
}

// Disconnect closes the session with a normal-closure frame and waits for
// the read loop to finish. It is idempotent and the Conn may be reopened.
//
// Parameters:
//   - ctx: bounds the wait for the peer's close; ConnectTimeout applies if no deadline
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Conn[Req, Msg]) Disconnect(ctx context.Context) error {
	ctx, cancel := withDefaultTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	c.mu.Lock()
	c.wantOpen = false
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := sess.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlWriteTimeout)); err != nil {
		sess.ws.Close()
	}

	select {
	case <-sess.closed:
	case <-ctx.Done():
		sess.ws.Close()
		<-sess.closed
	}

	c.logInfo("disconnected")
	return nil
}

// Close disconnects and stops the listener goroutine. The Conn cannot be
// reused afterwards. Safe to call multiple times.
func (c *Conn[Req, Msg]) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), controlWriteTimeout)
	defer cancel()

	//nolint:errcheck // Disconnect is best-effort and always returns nil
	c.Disconnect(ctx)
	c.done.Close()
	c.failPending(ErrClosed)
	c.wg.Wait()
	return nil
}

// Send writes payload and waits for the inbound message that Identify
// matches against the transformed payload.
//
// A timeout only abandons this request; the session stays open.
//
// Parameters:
//   - ctx: bounds connect plus round trip; SendTimeout applies if no deadline
//   - payload: the request before Transform
//
// Returns:
//   - Msg: the matching decoded message
//   - error: connect, encode or write failure, ErrTimeout, or ErrConnectionClosed
func (c *Conn[Req, Msg]) Send(ctx context.Context, payload Req) (Msg, error) {
	var zero Msg
	if c.opts.Identify == nil {
		return zero, fmt.Errorf("%w: identify hook is required for Send", ErrInvalidOptions)
	}

	ctx, cancel := withDefaultTimeout(ctx, c.opts.SendTimeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		return zero, err
	}

	out := payload
	if c.opts.Transform != nil {
		out = c.opts.Transform(payload)
	}

	data, err := c.opts.Encode(out)
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	p := &pending[Req, Msg]{req: out, result: make(chan result[Msg], 1)}
	c.addPending(p)
	defer c.removePending(p)

	if err := c.write(data); err != nil {
		return zero, err
	}

	select {
	case r := <-p.result:
		return r.msg, r.err
	case <-ctx.Done():
		c.sendTimeouts.Add(1)
		return zero, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

// write sends a text frame on the current session.
func (c *Conn[Req, Msg]) write(data []byte) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	if sess == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := sess.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}
	if err := sess.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.messagesTx.Add(1)
	return nil
}

func (c *Conn[Req, Msg]) addPending(p *pending[Req, Msg]) {
	c.pendingMu.Lock()
	c.pending = append(c.pending, p)
	c.pendingMu.Unlock()
}

func (c *Conn[Req, Msg]) removePending(p *pending[Req, Msg]) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// resolvePending completes the oldest request that msg answers.
func (c *Conn[Req, Msg]) resolvePending(msg Msg) {
	if c.opts.Identify == nil {
		return
	}

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for i, p := range c.pending {
		if c.opts.Identify(p.req, msg) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			p.result <- result[Msg]{msg: msg}
			return
		}
	}
}

// failPending rejects every outstanding request with err.
func (c *Conn[Req, Msg]) failPending(err error) {
	c.pendingMu.Lock()
	waiting := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	for _, p := range waiting {
		p.result <- result[Msg]{err: err}
	}
}

// emitMessage queues a message for the listener, dropping it if the queue is full.
func (c *Conn[Req, Msg]) emitMessage(msg Msg) {
	c.callbackMu.RLock()
	cb := c.onMessage
	c.callbackMu.RUnlock()
	if cb == nil {
		return
	}

	select {
	case c.events <- func() { cb(msg) }:
	default:
		c.messagesDropped.Add(1)
		c.errorsTotal.Add(1)
		c.logWarn("listener queue full, dropping message")
	}
}

// emitControl queues a lifecycle callback, waiting for room unless closed.
func (c *Conn[Req, Msg]) emitControl(fn func()) {
	select {
	case c.events <- fn:
	case <-c.done.Done():
	}
}

func (c *Conn[Req, Msg]) emitError(err error) {
	c.emitControl(func() {
		c.callbackMu.RLock()
		cb := c.onError
		c.callbackMu.RUnlock()
		if cb != nil {
			cb(err)
		}
	})
}

// eventWorker runs listener callbacks one at a time.
func (c *Conn[Req, Msg]) eventWorker() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case fn := <-c.events:
			c.safeCall(fn)
		}
	}
}

func (c *Conn[Req, Msg]) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("listener panic", fmt.Errorf("%v", r))
		}
	}()
	fn()
}

// SetOnOpen sets the callback invoked after every successful open.
func (c *Conn[Req, Msg]) SetOnOpen(callback func()) {
	c.callbackMu.Lock()
	c.onOpen = callback
	c.callbackMu.Unlock()
}

// SetOnClose sets the callback invoked when a session ends.
func (c *Conn[Req, Msg]) SetOnClose(callback func(code int, err error)) {
	c.callbackMu.Lock()
	c.onClose = callback
	c.callbackMu.Unlock()
}

// SetOnMessage sets the callback for every decoded inbound message,
// including those that also completed a pending Send.
func (c *Conn[Req, Msg]) SetOnMessage(callback func(Msg)) {
	c.callbackMu.Lock()
	c.onMessage = callback
	c.callbackMu.Unlock()
}

// SetOnReconnect sets the callback invoked before each reconnect attempt.
func (c *Conn[Req, Msg]) SetOnReconnect(callback func(attempt int)) {
	c.callbackMu.Lock()
	c.onReconnect = callback
	c.callbackMu.Unlock()
}

// SetOnError sets the callback for background reconnect failures.
func (c *Conn[Req, Msg]) SetOnError(callback func(err error)) {
	c.callbackMu.Lock()
	c.onError = callback
	c.callbackMu.Unlock()
}

// IsConnected returns true while a session is open.
func (c *Conn[Req, Msg]) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Stats returns current operational statistics.
func (c *Conn[Req, Msg]) Stats() Stats {
	return Stats{
		MessagesTx:      c.messagesTx.Load(),
		MessagesRx:      c.messagesRx.Load(),
		MessagesDropped: c.messagesDropped.Load(),
		DecodeErrors:    c.decodeErrors.Load(),
		SendTimeouts:    c.sendTimeouts.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		Dials:           c.dials.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		HeartbeatMisses: c.heartbeatMisses.Load(),
		Attempt:         int(c.attempts.Load()),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		Connected:       c.IsConnected(),
		Reconnecting:    c.reconnecting.Load(),
	}
}

// HealthCheck reports ErrNotConnected when no session is open.
func (c *Conn[Req, Msg]) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("transport health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// isClosed returns true if Close has been called.
func (c *Conn[Req, Msg]) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// withDefaultTimeout applies d only when ctx has no deadline of its own.
func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func (c *Conn[Req, Msg]) logDebug(msg string, keysAndValues ...any) {
	c.opts.Logger.Debug(msg, append([]any{"conn", c.opts.Name}, keysAndValues...)...)
}

func (c *Conn[Req, Msg]) logInfo(msg string, keysAndValues ...any) {
	c.opts.Logger.Info(msg, append([]any{"conn", c.opts.Name}, keysAndValues...)...)
}

func (c *Conn[Req, Msg]) logWarn(msg string, keysAndValues ...any) {
	c.opts.Logger.Warn(msg, append([]any{"conn", c.opts.Name}, keysAndValues...)...)
}

func (c *Conn[Req, Msg]) logError(msg string, err error) {
	c.opts.Logger.Error(msg, "conn", c.opts.Name, "error", err)
}
