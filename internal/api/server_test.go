package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/station-bridge/internal/cloud"
	"github.com/nerrad567/station-bridge/internal/device"
	"github.com/nerrad567/station-bridge/internal/discovery"
	"github.com/nerrad567/station-bridge/internal/event"
	"github.com/nerrad567/station-bridge/internal/infrastructure/config"
	"github.com/nerrad567/station-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/station-bridge/internal/station"
	"github.com/nerrad567/station-bridge/internal/transport"
)

// fakeCatalog implements DeviceCatalog and station.DeviceSource.
type fakeCatalog struct {
	devices   map[string]device.Device
	scenarios []device.Scenario

	deviceEvents   event.Emitter[map[string]device.Device]
	scenarioEvents event.Emitter[[]device.Scenario]
	stateEvents    event.Emitter[device.StatesUpdate]
	runEvents      event.Emitter[device.ScenarioRun]
}

func newFakeCatalog(devs ...device.Device) *fakeCatalog {
	c := &fakeCatalog{devices: make(map[string]device.Device)}
	for _, d := range devs {
		c.devices[d.ID] = d
	}
	return c
}

func (c *fakeCatalog) Devices(context.Context) (map[string]device.Device, error) {
	return c.devices, nil
}

func (c *fakeCatalog) Device(_ context.Context, id string) (device.Device, error) {
	d, ok := c.devices[id]
	if !ok {
		return device.Device{}, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, id)
	}
	return d, nil
}

func (c *fakeCatalog) DevicesByType(_ context.Context, t string) ([]device.Device, error) {
	var out []device.Device
	for _, d := range c.devices {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *fakeCatalog) DevicesByPlatform(_ context.Context, platform string) ([]device.Device, error) {
	var out []device.Device
	for _, d := range c.devices {
		if d.QuasarInfo != nil && d.QuasarInfo.Platform == platform {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *fakeCatalog) Speakers(context.Context) ([]device.Device, error) {
	var out []device.Device
	for _, d := range c.devices {
		if d.IsSpeaker() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *fakeCatalog) Scenarios(context.Context) ([]device.Scenario, error) {
	return c.scenarios, nil
}

func (c *fakeCatalog) SubscribeDevices(fn func(map[string]device.Device)) func() {
	return c.deviceEvents.Subscribe(fn)
}

func (c *fakeCatalog) SubscribeScenarios(fn func([]device.Scenario)) func() {
	return c.scenarioEvents.Subscribe(fn)
}

func (c *fakeCatalog) SubscribeStates(fn func(device.StatesUpdate)) func() {
	return c.stateEvents.Subscribe(fn)
}

func (c *fakeCatalog) SubscribeScenarioRuns(fn func(device.ScenarioRun)) func() {
	return c.runEvents.Subscribe(fn)
}

func (c *fakeCatalog) FeedStats() transport.Stats {
	return transport.Stats{Connected: true, MessagesRx: 7}
}

type fakePlane struct {
	mu      sync.Mutex
	err     error
	actions []cloud.Action
}

func (p *fakePlane) RunDeviceAction(_ context.Context, _ string, actions []cloud.Action) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.actions = append(p.actions, actions...)
	return nil
}

func (p *fakePlane) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.actions)
}

type fakeEndpoints struct {
	endpoints []discovery.Endpoint
	err       error
}

func (f *fakeEndpoints) List(context.Context) ([]discovery.Endpoint, error) {
	return f.endpoints, f.err
}

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

const speakerType = "devices.types.smart_speaker.yandex.station"

func testDevices() []device.Device {
	return []device.Device{
		{
			ID:         "spk-1",
			Name:       "Kitchen",
			Type:       speakerType,
			QuasarInfo: &device.QuasarInfo{DeviceID: "q-1", Platform: "yandexstation"},
		},
		{
			ID:         "mini-1",
			Name:       "Bedroom",
			Type:       "devices.types.smart_speaker.yandex.station.mini",
			QuasarInfo: &device.QuasarInfo{DeviceID: "q-2", Platform: "yandexmini"},
		},
		{ID: "lamp-1", Name: "Lamp", Type: "devices.types.light"},
	}
}

type testEnv struct {
	srv     *Server
	catalog *fakeCatalog
	plane   *fakePlane
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	catalog := newFakeCatalog(testDevices()...)
	catalog.scenarios = []device.Scenario{
		{ID: "sc-1", Name: "Morning", Trigger: "good morning", DeviceID: "spk-1"},
	}
	plane := &fakePlane{}
	manager := station.NewManager(catalog, station.Options{
		Plane: plane,
		Config: config.StationConfig{
			ConnectTimeout: time.Second,
			ProbeTimeout:   100 * time.Millisecond,
		},
	})
	t.Cleanup(func() { manager.Close() })

	deps := Deps{
		WS:        config.WebSocketConfig{Path: "/ws", PingInterval: 30, PongTimeout: 10},
		Logger:    logging.Discard(),
		Devices:   catalog,
		Stations:  manager,
		Endpoints: &fakeEndpoints{},
		Version:   "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{srv: srv, catalog: catalog, plane: plane}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestNew_RequiresDependencies(t *testing.T) {
	catalog := newFakeCatalog()
	manager := station.NewManager(catalog, station.Options{Plane: &fakePlane{}})
	defer manager.Close()

	tests := []struct {
		name string
		deps Deps
	}{
		{"no logger", Deps{Devices: catalog, Stations: manager}},
		{"no devices", Deps{Logger: logging.Discard(), Stations: manager}},
		{"no stations", Deps{Logger: logging.Discard(), Devices: catalog}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() error = nil, want error")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all ok", map[string]HealthChecker{"database": fakeCheck{}}, http.StatusOK, "ok"},
		{
			"one failing",
			map[string]HealthChecker{"database": fakeCheck{}, "mqtt": fakeCheck{err: errors.New("down")}},
			http.StatusServiceUnavailable,
			"degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(d *Deps) { d.Checks = tt.checks })
			rec := env.do(t, http.MethodGet, "/api/v1/health", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := decodeBody(t, rec)["status"]; got != tt.wantBody {
				t.Errorf("status field = %v, want %s", got, tt.wantBody)
			}
		})
	}
}

func TestListDevices(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		query     string
		wantCount float64
		wantFirst string
	}{
		{"", 3, "lamp-1"},
		{"?type=" + speakerType, 1, "spk-1"},
		{"?platform=yandexmini", 1, "mini-1"},
		{"?platform=unknown", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/devices"+tt.query, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			body := decodeBody(t, rec)
			if body["count"] != tt.wantCount {
				t.Errorf("count = %v, want %v", body["count"], tt.wantCount)
			}
			devices, _ := body["devices"].([]any)
			if tt.wantFirst == "" {
				if len(devices) != 0 {
					t.Errorf("devices = %v, want empty", devices)
				}
				return
			}
			first, _ := devices[0].(map[string]any)
			if first["id"] != tt.wantFirst {
				t.Errorf("first id = %v, want %s", first["id"], tt.wantFirst)
			}
		})
	}
}

func TestGetDevice(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/devices/spk-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeBody(t, rec)["name"]; got != "Kitchen" {
		t.Errorf("name = %v, want Kitchen", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/devices/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing device status = %d, want 404", rec.Code)
	}
}

func TestListScenarios(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/v1/scenarios", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decodeBody(t, rec)["count"]; got != float64(1) {
		t.Errorf("count = %v, want 1", got)
	}
}

func TestStationCommand(t *testing.T) {
	tests := []struct {
		name       string
		device     string
		body       string
		planeErr   error
		wantStatus int
		wantCode   string
		wantCloud  int
	}{
		{name: "next via cloud", device: "spk-1", body: `{"command":"next"}`, wantStatus: http.StatusOK, wantCloud: 1},
		{name: "bad json", device: "spk-1", body: `{`, wantStatus: http.StatusBadRequest, wantCode: ErrCodeBadRequest},
		{name: "missing command", device: "spk-1", body: `{}`, wantStatus: http.StatusBadRequest, wantCode: ErrCodeBadRequest},
		{name: "unknown command", device: "spk-1", body: `{"command":"dance"}`, wantStatus: http.StatusBadRequest, wantCode: ErrCodeBadRequest},
		{name: "say without text", device: "spk-1", body: `{"command":"say"}`, wantStatus: http.StatusBadRequest, wantCode: ErrCodeBadRequest},
		{name: "unknown device", device: "ghost", body: `{"command":"next"}`, wantStatus: http.StatusNotFound, wantCode: ErrCodeNotFound},
		{name: "not a speaker", device: "lamp-1", body: `{"command":"next"}`, wantStatus: http.StatusUnprocessableEntity, wantCode: ErrCodeNotSpeaker},
		{
			name:       "cloud rejects",
			device:     "spk-1",
			body:       `{"command":"next"}`,
			planeErr:   fmt.Errorf("%w: DEVICE_UNREACHABLE", cloud.ErrRemoteRejected),
			wantStatus: http.StatusBadGateway,
			wantCode:   ErrCodeUpstream,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.plane.err = tt.planeErr

			rec := env.do(t, http.MethodPost, "/api/v1/stations/"+tt.device+"/commands", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if tt.wantCode != "" && body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
			}
			if tt.wantStatus == http.StatusOK && body["status"] != "ok" {
				t.Errorf("status field = %v, want ok", body["status"])
			}
			if got := env.plane.count(); got != tt.wantCloud {
				t.Errorf("cloud actions = %d, want %d", got, tt.wantCloud)
			}
		})
	}
}

func TestStationConnect_NoAddress(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/stations/spk-1/connect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["mode"] != string(station.ModeCloudOnly) {
		t.Errorf("mode = %v, want %s", body["mode"], station.ModeCloudOnly)
	}
	if body["error"] == nil {
		t.Error("error field missing for a speaker without address")
	}

	rec = env.do(t, http.MethodPost, "/api/v1/stations/lamp-1/connect", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("lamp connect status = %d, want 422", rec.Code)
	}
}

func TestListStationsAndState(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/stations/spk-1/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("state status = %d, want 200", rec.Code)
	}
	if got := decodeBody(t, rec)["id"]; got != "spk-1" {
		t.Errorf("id = %v, want spk-1", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/stations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	if got := decodeBody(t, rec)["count"]; got != float64(1) {
		t.Errorf("count = %v, want 1", got)
	}
}

func TestListEndpoints(t *testing.T) {
	seen := time.Now().Add(-2 * time.Hour)
	env := newTestEnv(t, func(d *Deps) {
		d.Endpoints = &fakeEndpoints{endpoints: []discovery.Endpoint{
			{DeviceID: "q-1", Host: "192.168.1.20", Port: 1961, Source: discovery.SourceMDNS, SeenAt: seen},
		}}
	})
	rec := env.do(t, http.MethodGet, "/api/v1/endpoints", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	endpoints, _ := body["endpoints"].([]any)
	if len(endpoints) != 1 {
		t.Fatalf("endpoints = %v, want 1 entry", endpoints)
	}
	if got := endpoints[0].(map[string]any)["seen_ago"]; got != "2 hours ago" {
		t.Errorf("seen_ago = %v, want 2 hours ago", got)
	}

	env = newTestEnv(t, func(d *Deps) { d.Endpoints = nil })
	if rec := env.do(t, http.MethodGet, "/api/v1/endpoints", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without discovery status = %d, want 503", rec.Code)
	}

	env = newTestEnv(t, func(d *Deps) { d.Endpoints = &fakeEndpoints{err: errors.New("disk")} })
	if rec := env.do(t, http.MethodGet, "/api/v1/endpoints", ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("store failure status = %d, want 500", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodPost, "/api/v1/stations/spk-1/commands", `{"command":"next"}`)

	rec := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var m SystemMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding metrics: %v", err)
	}
	if m.Version != "test" {
		t.Errorf("Version = %q, want test", m.Version)
	}
	if m.Stations.Total != 1 || m.Stations.Cloud != 1 {
		t.Errorf("Stations = %+v, want 1 station with 1 cloud command", m.Stations)
	}
	if !m.Feed.Connected || m.Feed.MessagesRx != 7 {
		t.Errorf("Feed = %+v, want connected with 7 messages", m.Feed)
	}
	if m.MQTT.Enabled {
		t.Error("MQTT.Enabled = true without a client")
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/health", "")
	if _, err := uuid.Parse(rec.Header().Get("X-Request-ID")); err != nil {
		t.Errorf("generated X-Request-ID %q is not a UUID: %v", rec.Header().Get("X-Request-ID"), err)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/devices", nil)
	req.Header.Set("Origin", "http://panel.local")
	rec := httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://panel.local" {
		t.Errorf("Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin for unknown origin = %q, want empty", got)
	}
}

func TestStationErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{station.ErrUnknownCommand, http.StatusBadRequest},
		{fmt.Errorf("%w: text", station.ErrInvalidArgument), http.StatusBadRequest},
		{fmt.Errorf("%w: x", device.ErrDeviceNotFound), http.StatusNotFound},
		{station.ErrNotSpeaker, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{transport.ErrTimeout, http.StatusGatewayTimeout},
		{station.ErrCommandRejected, http.StatusBadGateway},
		{fmt.Errorf("%w: next: %w", station.ErrLocalFailed, transport.ErrNotConnected), http.StatusBadGateway},
		{cloud.ErrRemoteRejected, http.StatusBadGateway},
		{station.ErrClosed, http.StatusServiceUnavailable},
		{device.ErrRegistryClosed, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got, _ := stationErrorStatus(tt.err); got != tt.want {
				t.Errorf("stationErrorStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestFormatAgo(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{time.Minute, "1 min ago"},
		{5 * time.Minute, "5 mins ago"},
		{time.Hour, "1 hour ago"},
		{25 * time.Hour, "1 day ago"},
		{72 * time.Hour, "3 days ago"},
	}
	for _, tt := range tests {
		if got := formatAgo(tt.d); got != tt.want {
			t.Errorf("formatAgo(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestHub_BroadcastToSubscribers(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())

	subscribed := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{ChannelStationState: {}}}
	other := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast(ChannelStationState, station.StateChange{DeviceID: "spk-1"})

	select {
	case data := <-subscribed.send:
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decoding broadcast: %v", err)
		}
		if msg.Type != WSTypeEvent || msg.EventType != ChannelStationState {
			t.Errorf("message = %+v", msg)
		}
		if !strings.Contains(string(msg.Payload), `"spk-1"`) {
			t.Errorf("payload = %s, want device id", msg.Payload)
		}
	default:
		t.Fatal("subscribed client got nothing")
	}
	select {
	case <-other.send:
		t.Error("unsubscribed client got a message")
	default:
	}

	hub.Unregister(subscribed)
	hub.Unregister(subscribed)
	if n := hub.ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d, want 1", n)
	}
	// Sending to an unregistered client is absorbed.
	subscribed.trySend([]byte("x"))
}

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.srv.buildRouter())
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading websocket message: %v", err)
	}
	return msg
}

func TestWebSocket_SubscribeReceivesEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	env.srv.subscribeEvents()
	conn := dialWS(t, env)

	if err := conn.WriteJSON(map[string]any{
		"type":    WSTypeSubscribe,
		"id":      "1",
		"payload": map[string]any{"channels": []string{ChannelScenarioRun}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if msg := readWS(t, conn); msg.Type != WSTypeResponse || msg.ID != "1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}

	env.catalog.runEvents.Emit(device.ScenarioRun{
		Scenario: device.Scenario{ID: "sc-1", Name: "Morning"},
		DeviceID: "spk-1",
	})

	msg := readWS(t, conn)
	if msg.Type != WSTypeEvent || msg.EventType != ChannelScenarioRun {
		t.Fatalf("event = %+v", msg)
	}
	if !strings.Contains(string(msg.Payload), "sc-1") {
		t.Errorf("payload = %s, want scenario id", msg.Payload)
	}
}

func TestWebSocket_Messages(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		wantType string
	}{
		{"ping", `{"type":"ping","id":"p"}`, WSTypePong},
		{"unknown type", `{"type":"shout","id":"p"}`, WSTypeError},
		{"unknown channel", `{"type":"subscribe","id":"p","payload":{"channels":["nope"]}}`, WSTypeError},
		{"invalid json", `{`, WSTypeError},
		{"command", `{"type":"command","id":"p","payload":{"device_id":"spk-1","command":"next"}}`, WSTypeResponse},
		{"command for unknown device", `{"type":"command","id":"p","payload":{"device_id":"ghost","command":"next"}}`, WSTypeError},
		{"command without device", `{"type":"command","id":"p","payload":{"command":"next"}}`, WSTypeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			conn := dialWS(t, env)

			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.message)); err != nil {
				t.Fatalf("write: %v", err)
			}
			if msg := readWS(t, conn); msg.Type != tt.wantType {
				t.Errorf("reply type = %q, want %q (payload %s)", msg.Type, tt.wantType, msg.Payload)
			}
		})
	}
}

func TestServer_StartClose(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Config.Host = "127.0.0.1"
		d.Config.Port = 0
	})
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() after Start = %v", err)
	}
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
