package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/station-bridge/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "stationbridge-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{}
	tests := []struct {
		got  string
		want string
	}{
		{topics.Command("spk-1"), "stationbridge/command/spk-1"},
		{topics.Ack("spk-1"), "stationbridge/ack/spk-1"},
		{topics.State("spk-1"), "stationbridge/state/spk-1"},
		{topics.Event("scenario_run"), "stationbridge/event/scenario_run"},
		{topics.SystemStatus(), "stationbridge/system/status"},
		{topics.SystemHealth(), "stationbridge/system/health"},
		{topics.AllCommands(), "stationbridge/command/+"},
		{topics.AllStates(), "stationbridge/state/+"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestDeviceFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"stationbridge/command/spk-1", "spk-1", true},
		{"stationbridge/command/", "", false},
		{"plain", "", false},
	}
	for _, tt := range tests {
		got, ok := DeviceFromTopic(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("DeviceFromTopic(%q) = %q, %v, want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestBuildClientOptions(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*config.MQTTConfig)
		wantServer string
		wantUser   string
		wantTLS    bool
	}{
		{name: "plain", wantServer: "tcp://127.0.0.1:1883"},
		{
			name: "tls with auth",
			mutate: func(c *config.MQTTConfig) {
				c.Broker.TLS = true
				c.Broker.Port = 8883
				c.Auth.Username = "bridge"
				c.Auth.Password = "secret"
			},
			wantServer: "ssl://127.0.0.1:8883",
			wantUser:   "bridge",
			wantTLS:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			opts := buildClientOptions(cfg)

			if len(opts.Servers) != 1 || opts.Servers[0].String() != tt.wantServer {
				t.Errorf("Servers = %v, want [%s]", opts.Servers, tt.wantServer)
			}
			if opts.ClientID != "stationbridge-test" {
				t.Errorf("ClientID = %q", opts.ClientID)
			}
			if opts.Username != tt.wantUser {
				t.Errorf("Username = %q, want %q", opts.Username, tt.wantUser)
			}
			if (opts.TLSConfig != nil) != tt.wantTLS {
				t.Errorf("TLSConfig set = %v, want %v", opts.TLSConfig != nil, tt.wantTLS)
			}
			if !opts.WillEnabled || opts.WillTopic != "stationbridge/system/status" || !opts.WillRetained {
				t.Errorf("will = %v %q retained=%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
			}
			var will StatusMessage
			if err := json.Unmarshal(opts.WillPayload, &will); err != nil {
				t.Fatalf("will payload: %v", err)
			}
			if will.Status != StatusOffline || will.Reason != "unexpected_disconnect" {
				t.Errorf("will = %+v", will)
			}
		})
	}
}

func TestClient_ValidationBeforeConnection(t *testing.T) {
	c := newClient(testConfig())
	handler := func(string, []byte) error { return nil }

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"publish empty topic", c.Publish("", nil, 1, false), ErrInvalidTopic},
		{"publish bad qos", c.Publish("t", nil, 3, false), ErrInvalidQoS},
		{"publish too large", c.Publish("t", make([]byte, maxPayloadSize+1), 1, false), ErrPublishFailed},
		{"publish disconnected", c.Publish("t", []byte("x"), 1, false), ErrNotConnected},
		{"publish json disconnected", c.PublishJSON("t", map[string]int{"a": 1}, false), ErrNotConnected},
		{"publish json unencodable", c.PublishJSON("t", make(chan int), false), ErrPublishFailed},
		{"subscribe empty topic", c.Subscribe("", 1, handler), ErrInvalidTopic},
		{"subscribe bad qos", c.Subscribe("t", 3, handler), ErrInvalidQoS},
		{"subscribe nil handler", c.Subscribe("t", 1, nil), ErrSubscribeFailed},
		{"subscribe disconnected", c.Subscribe("t", 1, handler), ErrNotConnected},
		{"unsubscribe empty", c.Unsubscribe(""), ErrInvalidTopic},
		{"unsubscribe disconnected", c.Unsubscribe("t"), ErrNotConnected},
		{"health", c.HealthCheck(context.Background()), ErrNotConnected},
	}
	for _, tt := range tests {
		if !errors.Is(tt.err, tt.want) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, tt.want)
		}
	}
	if c.HasSubscription("t") {
		t.Error("failed subscribe was tracked")
	}
}

func TestClient_HealthCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := newClient(testConfig()).HealthCheck(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() error = %v, want context.Canceled", err)
	}
}

func TestClient_CloseWithoutConnection(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
	if err := newClient(testConfig()).Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error: " + msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn: " + msg) }

func (l *recordingLogger) add(s string) {
	l.mu.Lock()
	l.lines = append(l.lines, s)
	l.mu.Unlock()
}

func TestWrapHandler(t *testing.T) {
	c := newClient(testConfig())
	log := &recordingLogger{}
	c.SetLogger(log)

	var got string
	c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return nil
	})(nil, fakeMessage{topic: "a/b", payload: []byte("1")})
	if got != "a/b=1" {
		t.Errorf("handler saw %q", got)
	}

	c.wrapHandler(func(string, []byte) error { return errors.New("bad") })(nil, fakeMessage{topic: "a"})
	c.wrapHandler(func(string, []byte) error { panic("boom") })(nil, fakeMessage{topic: "a"})

	joined := strings.Join(log.lines, "\n")
	if !strings.Contains(joined, "warn: MQTT handler returned error") {
		t.Errorf("missing handler error log in %q", joined)
	}
	if !strings.Contains(joined, "error: MQTT handler panic recovered") {
		t.Errorf("missing panic log in %q", joined)
	}
}
