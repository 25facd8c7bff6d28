package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/config"
	"github.com/nerrad567/houseflow-core/internal/infrastructure/logging"
)

// testConfig returns a valid MQTT configuration. Tests in this file never
// reach a broker; see integration_test.go for those.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "houseflow-test",
		},
		QoS:         1,
		TopicPrefix: "houseflow",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Options
// =============================================================================

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*config.MQTTConfig)
		wantServer string
		wantTLS    bool
		wantUser   string
	}{
		{
			name:       "plain",
			wantServer: "tcp://127.0.0.1:1883",
		},
		{
			name: "tls with credentials",
			mutate: func(c *config.MQTTConfig) {
				c.Broker.TLS = true
				c.Broker.Port = 8883
				c.Auth = config.MQTTAuthConfig{Username: "hub", Password: "secret"}
			},
			wantServer: "ssl://127.0.0.1:8883",
			wantTLS:    true,
			wantUser:   "hub",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			opts := clientOptions(cfg)

			if len(opts.Servers) != 1 || opts.Servers[0].String() != tt.wantServer {
				t.Errorf("Servers = %v, want %s", opts.Servers, tt.wantServer)
			}
			if opts.ClientID != "houseflow-test" {
				t.Errorf("ClientID = %q", opts.ClientID)
			}
			if opts.Username != tt.wantUser {
				t.Errorf("Username = %q, want %q", opts.Username, tt.wantUser)
			}
			if !opts.AutoReconnect || !opts.CleanSession {
				t.Error("expected auto-reconnect and clean session")
			}
			if opts.MaxReconnectInterval != 5*time.Second {
				t.Errorf("MaxReconnectInterval = %v, want 5s", opts.MaxReconnectInterval)
			}
			gotTLS := opts.TLSConfig != nil && opts.TLSConfig.MinVersion == tlsMinVersion
			if gotTLS != tt.wantTLS {
				t.Errorf("TLS configured = %v, want %v", gotTLS, tt.wantTLS)
			}
		})
	}
}

func TestSetWill(t *testing.T) {
	opts := clientOptions(testConfig())
	setWill(opts, Topics{Prefix: "home"}.Status("houseflow-test"), "houseflow-test")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatal("will not enabled and retained")
	}
	if opts.WillTopic != "home/status/houseflow-test" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	var status Status
	if err := json.Unmarshal(opts.WillPayload, &status); err != nil {
		t.Fatalf("unmarshal will payload %s: %v", opts.WillPayload, err)
	}
	if status.State != statusOffline || status.Reason != reasonLost || status.ClientID != "houseflow-test" {
		t.Errorf("will = %+v", status)
	}
}

// =============================================================================
// Disconnected client
// =============================================================================

func newDisconnected() *Client {
	return &Client{
		clientID:      "houseflow-test",
		topics:        Topics{},
		logger:        logging.Nop(),
		subscriptions: make(map[string]subscription),
	}
}

func TestPublish_Validation(t *testing.T) {
	c := newDisconnected()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"invalid qos", "houseflow/x", nil, 3, ErrInvalidQoS},
		{"oversized", "houseflow/x", make([]byte, maxPayloadSize+1), 1, ErrPayloadTooLarge},
		{"not connected", "houseflow/x", []byte("{}"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_Validation(t *testing.T) {
	c := newDisconnected()
	noop := func(string, []byte) error { return nil }
	commands := c.Topics().AllCommands()

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe(commands, 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := c.Subscribe(commands, 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe(commands, 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if c.Subscribed(commands) {
		t.Error("failed subscribe was tracked")
	}
}

func TestHealthCheck_Disconnected(t *testing.T) {
	c := newDisconnected()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v", err)
	}
}

func TestClose_NeverConnected(t *testing.T) {
	if err := newDisconnected().Close(); err != nil {
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

func TestDeliver(t *testing.T) {
	var buf bytes.Buffer
	c := newDisconnected()
	c.logger = logging.NewWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, &buf, "test", "dev")
	topic := "houseflow/command/x/switch"

	var got []byte
	ok := c.deliver(func(_ string, payload []byte) error {
		got = payload
		return nil
	})
	ok(nil, fakeMessage{topic: topic, payload: []byte("{}")})
	if string(got) != "{}" {
		t.Errorf("payload = %q, want {}", got)
	}
	if buf.Len() != 0 {
		t.Errorf("unexpected log output: %s", buf.String())
	}

	c.deliver(func(string, []byte) error { return errors.New("bad payload") })(nil, fakeMessage{topic: topic})
	if !strings.Contains(buf.String(), "mqtt message rejected") {
		t.Errorf("rejection not logged: %s", buf.String())
	}

	buf.Reset()
	c.deliver(func(string, []byte) error { panic("boom") })(nil, fakeMessage{topic: topic})
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

// =============================================================================
// Topics
// =============================================================================

func TestTopics(t *testing.T) {
	id := uuid.MustParse("c4b2d3e5-6f70-4b8c-9dae-1f2a3b4c5d6e")
	topics := Topics{}

	tests := []struct {
		got, want string
	}{
		{topics.State(id, accessory.ServiceSwitch, accessory.NameOnOff), "houseflow/state/" + id.String() + "/switch/on-off"},
		{topics.Availability(id), "houseflow/availability/" + id.String()},
		{topics.Command(id, accessory.ServiceGarageDoorOpener), "houseflow/command/" + id.String() + "/garage-door-opener"},
		{topics.AllCommands(), "houseflow/command/+/+"},
		{Topics{Prefix: "home"}.Status("hub"), "home/status/hub"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestTopics_ParseCommand(t *testing.T) {
	id := uuid.MustParse("c4b2d3e5-6f70-4b8c-9dae-1f2a3b4c5d6e")
	topics := Topics{Prefix: "home"}

	gotID, service, err := topics.ParseCommand(topics.Command(id, accessory.ServiceSwitch))
	if err != nil {
		t.Fatalf("ParseCommand() error = %v", err)
	}
	if gotID != id || service != accessory.ServiceSwitch {
		t.Errorf("ParseCommand() = %v, %v", gotID, service)
	}

	bad := []struct {
		name  string
		topic string
		want  error
	}{
		{"other prefix", "houseflow/command/" + id.String() + "/switch", ErrInvalidTopic},
		{"state topic", "home/state/" + id.String() + "/switch/on-off", ErrInvalidTopic},
		{"missing service", "home/command/" + id.String(), ErrInvalidTopic},
		{"extra level", "home/command/" + id.String() + "/switch/on-off", ErrInvalidTopic},
		{"bad id", "home/command/garage/switch", ErrInvalidTopic},
		{"unknown service", "home/command/" + id.String() + "/toaster", accessory.ErrServiceNotSupported},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := topics.ParseCommand(tt.topic); !errors.Is(err, tt.want) {
				t.Errorf("ParseCommand(%q) error = %v, want %v", tt.topic, err, tt.want)
			}
		})
	}
}
