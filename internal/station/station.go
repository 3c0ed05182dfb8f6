package station

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/station-bridge/internal/cloud"
	"github.com/nerrad567/station-bridge/internal/device"
	"github.com/nerrad567/station-bridge/internal/event"
	"github.com/nerrad567/station-bridge/internal/infrastructure/config"
	"github.com/nerrad567/station-bridge/internal/transport"
)

// Defaults for zero StationConfig values the transport does not cover.
const (
	defaultProbeTimeout  = 3 * time.Second
	defaultIdleTimeout   = 30 * time.Second
	defaultDebounceGrace = 3 * time.Second
	defaultVolumeStep    = 0.1
)

// Logger defines the logging interface used by stations.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ActionRunner sends cloud server actions to a device.
type ActionRunner interface {
	RunDeviceAction(ctx context.Context, deviceID string, actions []cloud.Action) error
}

// AddressResolver finds a speaker's local host:port. Errors wrapping
// transport.ErrNoAddress mean the speaker has no known local address.
type AddressResolver interface {
	LocalAddress(ctx context.Context, deviceID string) (string, error)
}

// TokenSource issues conversation tokens for the local channel.
type TokenSource interface {
	Token(ctx context.Context, deviceID, platform string) (string, error)
	Invalidate(deviceID string)
}

// Options holds the collaborators of a Station. Plane is required; without
// Resolver the station is cloud-only.
type Options struct {
	Plane    ActionRunner
	Resolver AddressResolver
	Tokens   TokenSource
	Config   config.StationConfig
	Logger   Logger
}

// Route is the path a dispatched command took.
type Route string

// Routes.
const (
	RouteNone     Route = "none"
	RouteLocal    Route = "local"
	RouteFallback Route = "fallback"
	RouteCloud    Route = "cloud"
)

// Stats is a snapshot of a station's counters.
type Stats struct {
	Mode      Mode            `json:"mode"`
	Local     uint64          `json:"local"`
	Fallback  uint64          `json:"fallback"`
	Cloud     uint64          `json:"cloud"`
	Skipped   uint64          `json:"skipped"`
	Failed    uint64          `json:"failed"`
	Transport transport.Stats `json:"transport"`
}

// Station controls one speaker over its local channel, falling back to
// cloud server actions.
//
// Commands are serialised per station. Observed state combines speaker
// reports with the expected result of commands, filtered through a
// Projection so stale echoes do not flicker.
type Station struct {
	id       string
	name     string
	quasarID string
	platform string

	plane    ActionRunner
	resolver AddressResolver
	tokens   TokenSource
	cfg      config.StationConfig
	logger   Logger

	conn *transport.Conn[Envelope, Reply]
	proj *Projection

	cmdMu   sync.Mutex
	probing atomic.Bool

	mu          sync.Mutex
	mode        Mode
	modeChanged chan struct{}
	token       string
	state       State
	closed      bool
	seq         uint64

	emitMu  sync.Mutex
	emitted uint64
	states  event.Emitter[State]

	routeLocal    atomic.Uint64
	routeFallback atomic.Uint64
	routeCloud    atomic.Uint64
	skipped       atomic.Uint64
	failed        atomic.Uint64
}

// New creates a Station for a speaker device. The local channel is not
// opened until Connect.
func New(dev device.Device, opts Options) (*Station, error) {
	if !dev.IsSpeaker() {
		return nil, fmt.Errorf("%w: %s", ErrNotSpeaker, dev.ID)
	}
	if opts.Plane == nil {
		return nil, errors.New("station: action runner is required")
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	cfg := withDefaults(opts.Config)

	s := &Station{
		id:          dev.ID,
		name:        dev.Name,
		quasarID:    dev.QuasarInfo.DeviceID,
		platform:    dev.QuasarInfo.Platform,
		plane:       opts.Plane,
		resolver:    opts.Resolver,
		tokens:      opts.Tokens,
		cfg:         cfg,
		logger:      opts.Logger,
		proj:        NewProjection(cfg.DebounceGrace),
		mode:        ModeCloud,
		modeChanged: make(chan struct{}),
		state:       State{Mode: ModeCloud},
	}

	conn, err := transport.New(transport.Options[Envelope, Reply]{
		Name:    "station:" + dev.ID,
		Resolve: s.resolve,
		// Speakers present self-signed certificates.
		TLSConfig:          &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // see above
		ConnectTimeout:     cfg.ConnectTimeout,
		SendTimeout:        cfg.SendTimeout,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		ReconnectDelay:     cfg.ReconnectDelay,
		MaxReconnectDelay:  cfg.MaxReconnectDelay,
		TerminalCloseCodes: cfg.TerminalCloseCodes,
		Transform:          s.stamp,
		Encode:             transport.EncodeJSON[Envelope],
		Decode:             transport.DecodeJSON[Reply],
		Identify:           answers,
		Logger:             opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating local channel: %w", err)
	}
	s.conn = conn

	conn.SetOnOpen(s.handleOpen)
	conn.SetOnClose(s.handleClose)
	conn.SetOnMessage(s.handleMessage)
	conn.SetOnError(s.handleError)

	return s, nil
}

func withDefaults(cfg config.StationConfig) config.StationConfig {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.DebounceGrace <= 0 {
		cfg.DebounceGrace = defaultDebounceGrace
	}
	if cfg.VolumeStep <= 0 {
		cfg.VolumeStep = defaultVolumeStep
	}
	return cfg
}

// ID returns the cloud device ID.
func (s *Station) ID() string { return s.id }

// Name returns the device name.
func (s *Station) Name() string { return s.name }

// QuasarID returns the speaker's local device ID.
func (s *Station) QuasarID() string { return s.quasarID }

// Mode returns the current connection mode.
func (s *Station) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// State returns the observed state.
func (s *Station) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubscribeState registers fn for observed state changes. fn runs
// synchronously and must not block.
func (s *Station) SubscribeState(fn func(State)) (unsubscribe func()) {
	return s.states.Subscribe(fn)
}

// Stats returns a snapshot of the station counters.
func (s *Station) Stats() Stats {
	return Stats{
		Mode:      s.Mode(),
		Local:     s.routeLocal.Load(),
		Fallback:  s.routeFallback.Load(),
		Cloud:     s.routeCloud.Load(),
		Skipped:   s.skipped.Load(),
		Failed:    s.failed.Load(),
		Transport: s.conn.Stats(),
	}
}

// Connect opens the local channel and waits briefly for the capability
// probe that switches the station to local mode.
//
// When the speaker has no local address the station becomes cloud-only
// and the transport.ErrNoAddress error is returned; commands keep working
// over the cloud.
func (s *Station) Connect(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.conn.Connect(ctx); err != nil {
		s.invalidateOnPolicy(err)
		return err
	}
	if s.Mode() != ModeLocal {
		// The socket may have been open already with a failed probe.
		go s.probe()
	}

	timer := time.NewTimer(s.cfg.ProbeTimeout)
	defer timer.Stop()
	for {
		s.mu.Lock()
		mode, changed := s.mode, s.modeChanged
		s.mu.Unlock()
		if mode == ModeLocal {
			return nil
		}
		select {
		case <-changed:
		case <-timer.C:
			s.logger.Debug("local channel open but not yet probed", "device_id", s.id)
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Disconnect closes the local channel and returns to cloud mode.
func (s *Station) Disconnect(ctx context.Context) error {
	err := s.conn.Disconnect(ctx)
	s.transition(ModeCloud, ModeLocal)
	return err
}

// Close releases the station. It is not usable afterwards.
func (s *Station) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}

func (s *Station) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// resolve supplies the local channel URL and refreshes the conversation
// token for the attempt.
func (s *Station) resolve(ctx context.Context) (string, error) {
	if s.resolver == nil {
		s.transition(ModeCloudOnly)
		return "", fmt.Errorf("%w: %s has no resolver", transport.ErrNoAddress, s.id)
	}
	addr, err := s.resolver.LocalAddress(ctx, s.quasarID)
	if err != nil {
		if errors.Is(err, transport.ErrNoAddress) {
			s.transition(ModeCloudOnly)
		}
		return "", err
	}

	var token string
	if s.tokens != nil {
		token, err = s.tokens.Token(ctx, s.quasarID, s.platform)
		if err != nil {
			return "", fmt.Errorf("conversation token: %w", err)
		}
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.transition(ModeCloud, ModeCloudOnly)

	return "wss://" + addr, nil
}

func (s *Station) stamp(env Envelope) Envelope {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	return stamp(env, token, time.Now())
}

func (s *Station) handleOpen() {
	go s.probe()
}

// probe confirms the speaker answers commands before switching to local.
// Only one probe runs at a time.
func (s *Station) probe() {
	if !s.probing.CompareAndSwap(false, true) {
		return
	}
	defer s.probing.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProbeTimeout)
	defer cancel()

	reply, err := s.sendLocal(ctx, probeCommand())
	if err != nil {
		s.logger.Warn("capability probe failed", "device_id", s.id, "error", err)
		return
	}
	if !s.conn.IsConnected() {
		return
	}
	s.transition(ModeLocal)
	s.logger.Info("speaker connected locally",
		"device_id", s.id,
		"software_version", reply.SoftwareVersion,
	)
}

func (s *Station) handleClose(code int, _ error) {
	s.transition(ModeCloud, ModeLocal)
	if code == websocket.ClosePolicyViolation {
		s.invalidateToken()
	}
}

func (s *Station) handleMessage(r Reply) {
	if r.State != nil {
		s.applyReported(*r.State)
	}
}

func (s *Station) handleError(err error) {
	s.invalidateOnPolicy(err)
}

func (s *Station) invalidateOnPolicy(err error) {
	var ce *transport.CloseError
	if errors.As(err, &ce) && ce.Code == websocket.ClosePolicyViolation {
		s.invalidateToken()
	}
}

func (s *Station) invalidateToken() {
	if s.tokens != nil {
		s.tokens.Invalidate(s.quasarID)
	}
}

// transition moves to mode to. With from given, it only moves out of
// one of those modes.
func (s *Station) transition(to Mode, from ...Mode) {
	s.mu.Lock()
	cur := s.mode
	if cur == to || (len(from) > 0 && !containsMode(from, cur)) {
		s.mu.Unlock()
		return
	}
	s.mode = to
	close(s.modeChanged)
	s.modeChanged = make(chan struct{})
	next := s.state
	next.Mode = to
	next.UpdatedAt = time.Now()
	s.state = next
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	s.logger.Info("station mode changed", "device_id", s.id, "from", cur, "to", to)
	s.emit(seq, next)
}

func containsMode(modes []Mode, m Mode) bool {
	for _, v := range modes {
		if v == m {
			return true
		}
	}
	return false
}

// applyReported merges a speaker report into the observed state.
func (s *Station) applyReported(ds DeviceState) {
	s.mu.Lock()
	next := s.state
	if s.proj.Accept(attrVolume, ds.Volume) {
		next.Volume = ds.Volume
	}
	if s.proj.Accept(attrPlaying, ds.Playing) {
		next.Playing = ds.Playing
	}
	if ds.AliceState != "" {
		next.AliceState = AliceState(ds.AliceState)
	}
	if ds.PlayerState != nil {
		next.Player = *ds.PlayerState
	}
	changed := s.commitLocked(next)
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	if changed {
		s.emit(seq, next)
	}
}

// applyExpect writes the expected result of a sent command.
func (s *Station) applyExpect(e Expect) {
	if e.Volume == nil && e.Playing == nil {
		return
	}
	s.mu.Lock()
	next := s.state
	if e.Volume != nil {
		next.Volume = *e.Volume
	}
	if e.Playing != nil {
		next.Playing = *e.Playing
	}
	changed := s.commitLocked(next)
	seq := s.nextSeqLocked()
	s.mu.Unlock()

	if changed {
		s.emit(seq, next)
	}
}

func (s *Station) nextSeqLocked() uint64 {
	s.seq++
	return s.seq
}

// emit publishes a committed state unless a later commit was already
// published, so subscribers never end on an older state.
func (s *Station) emit(seq uint64, st State) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if seq <= s.emitted {
		return
	}
	s.emitted = seq
	s.states.Emit(st)
}

func (s *Station) commitLocked(next State) bool {
	if next.equalContent(s.state) {
		return false
	}
	next.UpdatedAt = time.Now()
	s.state = next
	return true
}

func (s *Station) mark(e Expect) {
	if e.Volume != nil {
		s.proj.Mark(attrVolume, *e.Volume)
	}
	if e.Playing != nil {
		s.proj.Mark(attrPlaying, *e.Playing)
	}
}

func (s *Station) clearMarks(e Expect) {
	if e.Volume != nil {
		s.proj.Clear(attrVolume)
	}
	if e.Playing != nil {
		s.proj.Clear(attrPlaying)
	}
}

// Dispatch sends one command, preferring the local channel and falling
// back to the cloud when the local send fails. It reports the route taken.
func (s *Station) Dispatch(ctx context.Context, cmd Command) (Route, error) {
	if s.isClosed() {
		return RouteNone, ErrClosed
	}
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.dispatch(ctx, cmd)
}

func (s *Station) dispatch(ctx context.Context, cmd Command) (Route, error) {
	if s.Mode() == ModeLocal && cmd.Local != nil {
		s.mark(cmd.Expect)
		_, err := s.sendLocal(ctx, *cmd.Local)
		if err == nil {
			s.routeLocal.Add(1)
			s.applyExpect(cmd.Expect)
			return RouteLocal, nil
		}
		if cmd.Cloud == nil {
			s.clearMarks(cmd.Expect)
			s.failed.Add(1)
			return RouteNone, fmt.Errorf("%w: %s: %w", ErrLocalFailed, cmd.Name, err)
		}
		s.logger.Warn("local command failed, using cloud",
			"device_id", s.id,
			"command", cmd.Name,
			"error", err,
		)
		if err := s.sendCloud(ctx, *cmd.Cloud); err != nil {
			s.clearMarks(cmd.Expect)
			s.failed.Add(1)
			return RouteFallback, err
		}
		s.routeFallback.Add(1)
		s.applyExpect(cmd.Expect)
		return RouteFallback, nil
	}

	if cmd.Cloud != nil {
		s.mark(cmd.Expect)
		if err := s.sendCloud(ctx, *cmd.Cloud); err != nil {
			s.clearMarks(cmd.Expect)
			s.failed.Add(1)
			return RouteCloud, err
		}
		s.routeCloud.Add(1)
		s.applyExpect(cmd.Expect)
		return RouteCloud, nil
	}

	s.logger.Debug("command not available in mode", "device_id", s.id, "command", cmd.Name)
	return RouteNone, nil
}

func (s *Station) sendLocal(ctx context.Context, form LocalForm) (Reply, error) {
	reply, err := s.conn.Send(ctx, Envelope{Payload: form})
	if err != nil {
		return Reply{}, err
	}
	if reply.Status != "" && reply.Status != statusSuccess {
		return reply, fmt.Errorf("%w: %s", ErrCommandRejected, reply.Status)
	}
	return reply, nil
}

func (s *Station) sendCloud(ctx context.Context, form CloudForm) error {
	action := cloud.ServerAction(form.Instance, form.Value)
	if err := s.plane.RunDeviceAction(ctx, s.id, []cloud.Action{action}); err != nil {
		return fmt.Errorf("cloud %s: %w", form.Instance, err)
	}
	return nil
}
