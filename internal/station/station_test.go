package station

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/station-bridge/internal/cloud"
	"github.com/nerrad567/station-bridge/internal/device"
	"github.com/nerrad567/station-bridge/internal/infrastructure/config"
	"github.com/nerrad567/station-bridge/internal/transport"
)

// recorder collects outbound commands from both channels in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type fakePlane struct {
	rec *recorder

	mu  sync.Mutex
	err error
}

func (f *fakePlane) RunDeviceAction(_ context.Context, _ string, actions []cloud.Action) error {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return err
	}
	for _, a := range actions {
		f.rec.add(fmt.Sprintf("cloud %s %v", a.State.Instance, a.State.Value))
	}
	return nil
}

func (f *fakePlane) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeResolver struct {
	mu   sync.Mutex
	addr string
	err  error
}

func (f *fakeResolver) LocalAddress(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addr, f.err
}

func (f *fakeResolver) set(addr string, err error) {
	f.mu.Lock()
	f.addr, f.err = addr, err
	f.mu.Unlock()
}

type fakeTokens struct {
	invalidated atomic.Int32
}

func (f *fakeTokens) Token(_ context.Context, _, _ string) (string, error) {
	return "conv-token", nil
}

func (f *fakeTokens) Invalidate(string) {
	f.invalidated.Add(1)
}

// fakeSpeaker imitates a speaker's local channel. It applies play, stop
// and setVolume to its state, answers every command with that state, and
// after sendText reports SPEAKING and then IDLE.
type fakeSpeaker struct {
	*httptest.Server
	rec *recorder

	mu        sync.Mutex
	state     DeviceState
	reject    map[string]string
	silent    map[string]bool
	staleEcho bool
	refuse    bool
	conns     []*websocket.Conn
	tokens    []string
}

var speakerUpgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func newFakeSpeaker(t *testing.T, rec *recorder, initial DeviceState) *fakeSpeaker {
	t.Helper()
	sp := &fakeSpeaker{
		rec:    rec,
		state:  initial,
		reject: make(map[string]string),
		silent: make(map[string]bool),
	}
	sp.Server = httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sp.mu.Lock()
		refuse := sp.refuse
		sp.mu.Unlock()
		if refuse {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ws, err := speakerUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		sp.mu.Lock()
		sp.conns = append(sp.conns, ws)
		sp.mu.Unlock()
		var writeMu sync.Mutex
		write := func(v any) {
			writeMu.Lock()
			defer writeMu.Unlock()
			_ = ws.WriteJSON(v)
		}
		for {
			var env Envelope
			if err := ws.ReadJSON(&env); err != nil {
				return
			}
			sp.handle(env, write)
		}
	}))
	t.Cleanup(sp.Close)
	return sp
}

func (sp *fakeSpeaker) addr() string {
	return strings.TrimPrefix(sp.URL, "https://")
}

func (sp *fakeSpeaker) handle(env Envelope, write func(any)) {
	p := env.Payload
	if p.Command != "softwareVersion" {
		sp.rec.add(describe(p))
	}

	sp.mu.Lock()
	sp.tokens = append(sp.tokens, env.ConversationToken)
	status, rejected := sp.reject[p.Command]
	silent := sp.silent[p.Command]
	before := sp.state
	if !rejected && !silent {
		switch p.Command {
		case "play":
			sp.state.Playing = true
		case "stop":
			sp.state.Playing = false
		case "setVolume":
			sp.state.Volume = *p.Volume
		}
	}
	after := sp.state
	stale := sp.staleEcho
	sp.mu.Unlock()

	if silent {
		return
	}
	if stale && p.Command == "setVolume" {
		write(Reply{ID: uuid.NewString(), State: &before})
	}
	if !rejected {
		status = statusSuccess
	}
	write(Reply{
		ID:              uuid.NewString(),
		RequestID:       env.ID,
		Status:          status,
		SoftwareVersion: "1.2.3",
		State:           &after,
	})
	if p.Command == "sendText" && !rejected {
		go sp.speak(after, write)
	}
}

func (sp *fakeSpeaker) speak(st DeviceState, write func(any)) {
	time.Sleep(20 * time.Millisecond)
	st.AliceState = string(AliceSpeaking)
	write(Reply{ID: uuid.NewString(), State: &st})
	time.Sleep(50 * time.Millisecond)
	sp.rec.add("idle")
	st.AliceState = string(AliceIdle)
	write(Reply{ID: uuid.NewString(), State: &st})
}

// dropAll closes every session and refuses new ones.
func (sp *fakeSpeaker) dropAll() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.refuse = true
	for _, ws := range sp.conns {
		ws.Close()
	}
}

func (sp *fakeSpeaker) set(fn func(sp *fakeSpeaker)) {
	sp.mu.Lock()
	fn(sp)
	sp.mu.Unlock()
}

func describe(p LocalForm) string {
	switch p.Command {
	case "setVolume":
		return fmt.Sprintf("local setVolume %.2f", *p.Volume)
	case "sendText":
		return "local sendText " + p.Text
	case "rewind":
		return fmt.Sprintf("local rewind %.0f", *p.Position)
	case "control":
		return "local control " + p.Action
	default:
		return "local " + p.Command
	}
}

func testDevice() device.Device {
	return device.Device{
		ID:         "spk-1",
		Name:       "Kitchen",
		Type:       "devices.types.smart_speaker.yandex.station",
		QuasarInfo: &device.QuasarInfo{DeviceID: "q-1", Platform: "yandexstation"},
	}
}

func testConfig() config.StationConfig {
	return config.StationConfig{
		ConnectTimeout:    2 * time.Second,
		SendTimeout:       300 * time.Millisecond,
		ProbeTimeout:      time.Second,
		HeartbeatInterval: -1,
		ReconnectDelay:    20 * time.Millisecond,
		MaxReconnectDelay: 100 * time.Millisecond,
		IdleTimeout:       2 * time.Second,
		DebounceGrace:     time.Second,
		VolumeStep:        0.1,
	}
}

type harness struct {
	st       *Station
	rec      *recorder
	plane    *fakePlane
	resolver *fakeResolver
	tokens   *fakeTokens
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rec := &recorder{}
	h := &harness{
		rec:      rec,
		plane:    &fakePlane{rec: rec},
		resolver: &fakeResolver{err: fmt.Errorf("%w: not on network", transport.ErrNoAddress)},
		tokens:   &fakeTokens{},
	}
	st, err := New(testDevice(), Options{
		Plane:    h.plane,
		Resolver: h.resolver,
		Tokens:   h.tokens,
		Config:   testConfig(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })
	h.st = st
	return h
}

// newLocalHarness connects the station to a fake speaker and waits for
// local mode and the initial state.
func newLocalHarness(t *testing.T, initial DeviceState) (*harness, *fakeSpeaker) {
	t.Helper()
	rec := &recorder{}
	sp := newFakeSpeaker(t, rec, initial)
	h := newHarness(t)
	h.rec = rec
	h.plane.rec = rec
	h.resolver.set(sp.addr(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.st.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "local mode", func() bool { return h.st.Mode() == ModeLocal })
	waitFor(t, "initial state", func() bool {
		s := h.st.State()
		return s.Playing == initial.Playing && sameVolume(s.Volume, initial.Volume)
	})
	rec.reset()
	return h, sp
}

// seed sets the observed state directly, as a cloud-only station has no
// speaker reports.
func (h *harness) seed(volume float64, playing bool) {
	h.st.mu.Lock()
	h.st.state.Volume = volume
	h.st.state.Playing = playing
	h.st.mu.Unlock()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func assertEvents(t *testing.T, got, want []string) {
	t.Helper()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events =\n  %q\nwant\n  %q", got, want)
	}
}

func TestNew_RejectsNonSpeaker(t *testing.T) {
	dev := device.Device{ID: "lamp-1", Type: "devices.types.light"}
	_, err := New(dev, Options{Plane: &fakePlane{rec: &recorder{}}})
	if !errors.Is(err, ErrNotSpeaker) {
		t.Errorf("New() error = %v, want ErrNotSpeaker", err)
	}
}

func TestConnect_NoAddressIsCloudOnly(t *testing.T) {
	h := newHarness(t)

	err := h.st.Connect(context.Background())
	if !errors.Is(err, transport.ErrNoAddress) {
		t.Fatalf("Connect() error = %v, want ErrNoAddress", err)
	}
	if got := h.st.Mode(); got != ModeCloudOnly {
		t.Errorf("Mode() = %q, want %q", got, ModeCloudOnly)
	}

	if err := h.st.Next(context.Background()); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	assertEvents(t, h.rec.list(), []string{"cloud text следующий трек"})
}

func TestConnect_CloudOnlyClearsWhenAddressReturns(t *testing.T) {
	rec := &recorder{}
	sp := newFakeSpeaker(t, rec, DeviceState{Volume: 0.5, AliceState: "IDLE"})
	h := newHarness(t)

	if err := h.st.Connect(context.Background()); err == nil {
		t.Fatal("Connect() error = nil, want ErrNoAddress")
	}
	if got := h.st.Mode(); got != ModeCloudOnly {
		t.Fatalf("Mode() = %q, want %q", got, ModeCloudOnly)
	}

	h.resolver.set(sp.addr(), nil)
	if err := h.st.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	waitFor(t, "local mode", func() bool { return h.st.Mode() == ModeLocal })

	sp.mu.Lock()
	defer sp.mu.Unlock()
	for _, tok := range sp.tokens {
		if tok != "conv-token" {
			t.Errorf("conversation token = %q, want %q", tok, "conv-token")
		}
	}
}

func TestConnect_ReprobesOpenChannel(t *testing.T) {
	rec := &recorder{}
	sp := newFakeSpeaker(t, rec, DeviceState{Volume: 0.5, AliceState: "IDLE"})
	sp.set(func(sp *fakeSpeaker) { sp.silent["softwareVersion"] = true })
	h := newHarness(t)
	h.resolver.set(sp.addr(), nil)

	if err := h.st.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := h.st.Mode(); got != ModeCloud {
		t.Fatalf("Mode() after unanswered probe = %q, want %q", got, ModeCloud)
	}
	waitFor(t, "first probe to finish", func() bool { return !h.st.probing.Load() })

	sp.set(func(sp *fakeSpeaker) { sp.silent["softwareVersion"] = false })
	if err := h.st.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := h.st.Mode(); got != ModeLocal {
		t.Errorf("Mode() after second Connect = %q, want %q", got, ModeLocal)
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()
	if len(sp.conns) != 1 {
		t.Errorf("speaker sessions = %d, want 1", len(sp.conns))
	}
}

func TestEmit_DropsOutOfOrderStates(t *testing.T) {
	h := newHarness(t)

	var mu sync.Mutex
	var got []float64
	h.st.SubscribeState(func(s State) {
		mu.Lock()
		got = append(got, s.Volume)
		mu.Unlock()
	})

	h.st.emit(2, State{Volume: 0.4})
	h.st.emit(1, State{Volume: 0.2})
	h.st.emit(3, State{Volume: 0.6})

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(got, []float64{0.4, 0.6}) {
		t.Errorf("emitted volumes = %v, want [0.4 0.6]", got)
	}
}

func TestMode_ServerDropReturnsToCloud(t *testing.T) {
	h, sp := newLocalHarness(t, DeviceState{Volume: 0.5, AliceState: "IDLE"})

	sp.dropAll()
	waitFor(t, "cloud mode", func() bool { return h.st.Mode() != ModeLocal })
	if got := h.st.Mode(); got != ModeCloud {
		t.Errorf("Mode() = %q, want %q", got, ModeCloud)
	}
}

func TestBracket_CloudOrder(t *testing.T) {
	h := newHarness(t)
	_ = h.st.Connect(context.Background())
	h.seed(0.3, true)

	vol := 0.8
	if err := h.st.Say(context.Background(), "hello", &vol); err != nil {
		t.Fatalf("Say() error = %v", err)
	}

	assertEvents(t, h.rec.list(), []string{
		"cloud text пауза",
		"cloud text громкость на 8",
		"cloud phrase_action hello",
		"cloud text громкость на 3",
		"cloud text продолжи",
	})
	st := h.st.State()
	if !st.Playing || !sameVolume(st.Volume, 0.3) {
		t.Errorf("State() = %+v, want playing at 0.3", st)
	}
}

func TestBracket_LocalWaitsForIdle(t *testing.T) {
	h, _ := newLocalHarness(t, DeviceState{Volume: 0.3, Playing: true, AliceState: "IDLE"})

	vol := 0.8
	if err := h.st.Say(context.Background(), "hello", &vol); err != nil {
		t.Fatalf("Say() error = %v", err)
	}

	assertEvents(t, h.rec.list(), []string{
		"local stop",
		"local setVolume 0.80",
		"local sendText Повтори за мной 'hello'",
		"idle",
		"local setVolume 0.30",
		"local play",
	})
}

func TestBracket_SkippedWhenVolumeMatches(t *testing.T) {
	tests := []struct {
		name   string
		volume *float64
	}{
		{name: "no volume", volume: nil},
		{name: "same volume", volume: func() *float64 { v := 0.5; return &v }()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_ = h.st.Connect(context.Background())
			h.seed(0.5, true)

			if err := h.st.Send(context.Background(), "включи музыку", tt.volume); err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			assertEvents(t, h.rec.list(), []string{"cloud text включи музыку"})
		})
	}
}

func TestBracket_RestoresAfterInnerFailure(t *testing.T) {
	h := newHarness(t)
	_ = h.st.Connect(context.Background())
	h.seed(0.3, false)

	vol := 0.6
	calls := 0
	inner := Command{Name: "broken", Cloud: &CloudForm{Instance: "text", Value: "boom"}}
	h.st.plane = &failOnValue{fakePlane: h.plane, value: "boom", calls: &calls}

	if err := h.st.bracketed(context.Background(), inner, &vol); err == nil {
		t.Fatal("bracketed() error = nil, want inner failure")
	}
	assertEvents(t, h.rec.list(), []string{
		"cloud text громкость на 6",
		"cloud text громкость на 3",
	})
	if calls != 1 {
		t.Errorf("failing calls = %d, want 1", calls)
	}
}

type failOnValue struct {
	*fakePlane
	value string
	calls *int
}

func (f *failOnValue) RunDeviceAction(ctx context.Context, id string, actions []cloud.Action) error {
	if actions[0].State.Value == f.value {
		*f.calls++
		return errors.New("rejected")
	}
	return f.fakePlane.RunDeviceAction(ctx, id, actions)
}

func TestPlayPause_GuardsRepeatedCalls(t *testing.T) {
	h := newHarness(t)
	_ = h.st.Connect(context.Background())
	ctx := context.Background()

	steps := []func(context.Context) error{h.st.Play, h.st.Play, h.st.Pause, h.st.Pause, h.st.Play}
	for i, step := range steps {
		if err := step(ctx); err != nil {
			t.Fatalf("step %d error = %v", i, err)
		}
	}

	assertEvents(t, h.rec.list(), []string{
		"cloud text продолжи",
		"cloud text пауза",
		"cloud text продолжи",
	})
	if got := h.st.Stats().Skipped; got != 2 {
		t.Errorf("Stats().Skipped = %d, want 2", got)
	}
}

func TestVolumeSet_Cloud(t *testing.T) {
	tests := []struct {
		name  string
		input float64
		want  float64
		event string
	}{
		{name: "in range", input: 0.8, want: 0.8, event: "cloud text громкость на 8"},
		{name: "rounds", input: 0.44, want: 0.44, event: "cloud text громкость на 4"},
		{name: "clamps high", input: 1.7, want: 1, event: "cloud text громкость на 10"},
		{name: "clamps low", input: -0.2, want: 0, event: "cloud text громкость на 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_ = h.st.Connect(context.Background())
			h.seed(0.5, false)

			if err := h.st.VolumeSet(context.Background(), tt.input); err != nil {
				t.Fatalf("VolumeSet() error = %v", err)
			}
			assertEvents(t, h.rec.list(), []string{tt.event})
			if got := h.st.State().Volume; !sameVolume(got, tt.want) {
				t.Errorf("State().Volume = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVolumeSet_SameVolumeSendsNothing(t *testing.T) {
	h := newHarness(t)
	_ = h.st.Connect(context.Background())
	h.seed(0.5, false)

	if err := h.st.VolumeSet(context.Background(), 0.5); err != nil {
		t.Fatalf("VolumeSet() error = %v", err)
	}
	if got := h.rec.list(); len(got) != 0 {
		t.Errorf("events = %q, want none", got)
	}
}

func TestVolumeStep(t *testing.T) {
	h := newHarness(t)
	_ = h.st.Connect(context.Background())
	h.seed(0.95, false)
	ctx := context.Background()

	if err := h.st.VolumeUp(ctx, 0); err != nil {
		t.Fatalf("VolumeUp() error = %v", err)
	}
	if err := h.st.VolumeUp(ctx, 0); err != nil {
		t.Fatalf("VolumeUp() error = %v", err)
	}
	if err := h.st.VolumeDown(ctx, 0.5); err != nil {
		t.Fatalf("VolumeDown() error = %v", err)
	}

	assertEvents(t, h.rec.list(), []string{
		"cloud text громкость на 10",
		"cloud text громкость на 5",
	})
	if got := h.st.State().Volume; !sameVolume(got, 0.5) {
		t.Errorf("State().Volume = %v, want 0.5", got)
	}
}

func TestVolumeSet_LocalMasksStaleEcho(t *testing.T) {
	h, sp := newLocalHarness(t, DeviceState{Volume: 0.3, AliceState: "IDLE"})
	sp.set(func(sp *fakeSpeaker) { sp.staleEcho = true })

	var mu sync.Mutex
	var seen []float64
	unsubscribe := h.st.SubscribeState(func(s State) {
		mu.Lock()
		seen = append(seen, s.Volume)
		mu.Unlock()
	})
	defer unsubscribe()

	if err := h.st.VolumeSet(context.Background(), 0.55); err != nil {
		t.Fatalf("VolumeSet() error = %v", err)
	}
	waitFor(t, "converged volume", func() bool { return !h.st.proj.Pending(attrVolume) })

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("no state emitted")
	}
	for _, v := range seen {
		if !sameVolume(v, 0.55) {
			t.Errorf("emitted volume %v, want only 0.55", v)
		}
	}
	assertEvents(t, h.rec.list(), []string{"local setVolume 0.55"})
}

func TestDispatch_Routes(t *testing.T) {
	h, sp := newLocalHarness(t, DeviceState{Volume: 0.5, AliceState: "IDLE"})
	ctx := context.Background()

	route, err := h.st.Dispatch(ctx, NextCommand())
	if err != nil || route != RouteLocal {
		t.Fatalf("Dispatch(next) = %q, %v, want local", route, err)
	}

	sp.set(func(sp *fakeSpeaker) { sp.silent["next"] = true })
	route, err = h.st.Dispatch(ctx, NextCommand())
	if err != nil || route != RouteFallback {
		t.Fatalf("Dispatch(silent next) = %q, %v, want fallback", route, err)
	}

	sp.set(func(sp *fakeSpeaker) { sp.reject["prev"] = "REFUSED" })
	route, err = h.st.Dispatch(ctx, PrevCommand())
	if err != nil || route != RouteFallback {
		t.Fatalf("Dispatch(rejected prev) = %q, %v, want fallback", route, err)
	}

	assertEvents(t, h.rec.list(), []string{
		"local next",
		"local next",
		"cloud text следующий трек",
		"local prev",
		"cloud text предыдущий трек",
	})
	stats := h.st.Stats()
	if stats.Local != 1 || stats.Fallback != 2 {
		t.Errorf("Stats() = %+v, want 1 local and 2 fallback", stats)
	}
	if h.st.Mode() != ModeLocal {
		t.Errorf("Mode() = %q, a send timeout must keep the local channel", h.st.Mode())
	}
}

func TestDispatch_LocalOnlyFailureHasNoFallback(t *testing.T) {
	h, sp := newLocalHarness(t, DeviceState{Volume: 0.5, AliceState: "IDLE"})
	sp.set(func(sp *fakeSpeaker) { sp.reject["rewind"] = "UNSUPPORTED" })

	route, err := h.st.Dispatch(context.Background(), RewindCommand(42))
	if !errors.Is(err, ErrLocalFailed) || !errors.Is(err, ErrCommandRejected) {
		t.Fatalf("Dispatch(rewind) error = %v, want ErrLocalFailed and ErrCommandRejected", err)
	}
	if route != RouteNone {
		t.Errorf("route = %q, want none", route)
	}
	assertEvents(t, h.rec.list(), []string{"local rewind 42"})
}

func TestDispatch_LocalOnlyInCloudModeIsNoop(t *testing.T) {
	h := newHarness(t)
	_ = h.st.Connect(context.Background())

	for _, fn := range []func(context.Context) error{h.st.Up, h.st.Down, h.st.Left, h.st.Right, h.st.Click} {
		if err := fn(context.Background()); err != nil {
			t.Fatalf("navigation error = %v", err)
		}
	}
	route, err := h.st.Dispatch(context.Background(), RewindCommand(10))
	if err != nil || route != RouteNone {
		t.Errorf("Dispatch(rewind) = %q, %v, want none", route, err)
	}
	if got := h.rec.list(); len(got) != 0 {
		t.Errorf("events = %q, want none", got)
	}

	if err := h.st.Home(context.Background()); err != nil {
		t.Fatalf("Home() error = %v", err)
	}
	assertEvents(t, h.rec.list(), []string{"cloud text домой"})
}

func TestDispatch_CloudRejectionLeavesState(t *testing.T) {
	h := newHarness(t)
	_ = h.st.Connect(context.Background())
	h.plane.fail(&cloud.StatusError{Op: "device action", StatusCode: 403, Message: "forbidden"})

	err := h.st.Play(context.Background())
	if !errors.Is(err, cloud.ErrRemoteRejected) {
		t.Fatalf("Play() error = %v, want ErrRemoteRejected", err)
	}
	if h.st.State().Playing {
		t.Error("State().Playing = true after rejected play")
	}
	if h.st.proj.Pending(attrPlaying) {
		t.Error("playing mark left after rejected play")
	}
}

func TestClose_RejectsCommands(t *testing.T) {
	h := newHarness(t)
	if err := h.st.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := h.st.Play(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Play() error = %v, want ErrClosed", err)
	}
	if err := h.st.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Connect() error = %v, want ErrClosed", err)
	}
}
