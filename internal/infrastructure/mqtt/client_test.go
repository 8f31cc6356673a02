package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
)

const testNodeID = "esp-test-01"

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "graylogic-node-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// requireBroker skips the test unless a broker listens on 127.0.0.1:1883.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("no MQTT broker on 127.0.0.1:1883")
	}
	conn.Close()
}

// =============================================================================
// Options
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "node"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg, testNodeID)

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "graylogic-node-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "node" || opts.Password != "secret" {
		t.Error("credentials not applied")
	}
	if !opts.AutoReconnect || !opts.ConnectRetry {
		t.Error("auto-reconnect and connect-retry must be enabled")
	}
	if opts.TLSConfig != nil {
		t.Error("TLS config set without TLS enabled")
	}
}

func TestBuildClientOptions_TLSAndClientIDFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	cfg.Broker.ClientID = ""

	opts := buildClientOptions(cfg, testNodeID)

	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS 1.2 minimum not configured")
	}
	if opts.ClientID != testNodeID {
		t.Errorf("ClientID = %q, want node id fallback", opts.ClientID)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig(), testNodeID)
	configureLWT(opts, Topics{NodeID: testNodeID})

	if opts.WillTopic != "graylogic/node/esp-test-01/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Error("LWT must be retained QoS 1")
	}
	payload := string(opts.WillPayload)
	if !strings.Contains(payload, `"status":"offline"`) || !strings.Contains(payload, testNodeID) {
		t.Errorf("WillPayload = %s", payload)
	}
}

func TestPresencePayload(t *testing.T) {
	var p Presence
	if err := json.Unmarshal(presencePayload(testNodeID, presenceOnline, ""), &p); err != nil {
		t.Fatalf("online payload is not JSON: %v", err)
	}
	if p.Status != "online" || p.NodeID != testNodeID || p.Reason != "" || p.Timestamp.IsZero() {
		t.Errorf("online presence = %+v", p)
	}

	off := string(presencePayload(testNodeID, presenceOffline, reasonShutdown))
	if !strings.Contains(off, `"status":"offline"`) || !strings.Contains(off, "graceful_shutdown") {
		t.Errorf("offline payload = %s", off)
	}
}

// =============================================================================
// Disconnected behaviour
// =============================================================================

func TestIsConnected_InitialState(t *testing.T) {
	if (&Client{}).IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
	if New(testConfig(), testNodeID).IsConnected() {
		t.Error("IsConnected() should be false before Connect")
	}
}

func TestCloseNil(t *testing.T) {
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() on empty client error = %v, want nil", err)
	}
}

func TestPublish_Validation(t *testing.T) {
	c := New(testConfig(), testNodeID)

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{name: "empty topic", topic: "", qos: 1, want: ErrInvalidTopic},
		{name: "invalid qos", topic: "t", qos: 3, want: ErrInvalidQoS},
		{name: "oversized", topic: "t", payload: make([]byte, maxPayloadSize+1), qos: 1, want: ErrPayloadTooLarge},
		{name: "disconnected", topic: "t", payload: []byte("x"), qos: 1, want: ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSubscribe_RecordedWhileDisconnected(t *testing.T) {
	c := New(testConfig(), testNodeID)
	handler := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, handler); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a", 3, handler); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("invalid qos error = %v", err)
	}
	if err := c.Subscribe("a", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}

	topic := c.Topics().AllCommands()
	if err := c.Subscribe(topic, 1, handler); err != nil {
		t.Fatalf("Subscribe() while disconnected error = %v", err)
	}
	if !c.HasSubscription(topic) {
		t.Error("subscription should be recorded for restoration on connect")
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
	warns []string
	errs  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errs = append(l.errs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestWrapHandler(t *testing.T) {
	c := New(testConfig(), testNodeID)
	log := &recordingLogger{}
	c.SetLogger(log)

	var got string
	c.wrapHandler(func(topic string, payload []byte) error {
		got = topic + "=" + string(payload)
		return errors.New("bad payload")
	})(nil, fakeMessage{topic: "a/b", payload: []byte("1")})

	if got != "a/b=1" {
		t.Errorf("handler saw %q", got)
	}
	if len(log.warns) != 1 {
		t.Errorf("handler error should be logged as warning, got %v", log.warns)
	}

	c.wrapHandler(func(string, []byte) error {
		panic("boom")
	})(nil, fakeMessage{topic: "a/b"})

	if len(log.errs) != 1 {
		t.Errorf("panic should be recovered and logged, got %v", log.errs)
	}
}

// =============================================================================
// Topics
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{NodeID: "esp-01"}

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"Status", topics.Status(), "graylogic/node/esp-01/status"},
		{"Heartbeat", topics.Heartbeat(), "graylogic/node/esp-01/system/heartbeat"},
		{"SensorData", topics.SensorData(34), "graylogic/node/esp-01/sensor/34/data"},
		{"SensorStatus", topics.SensorStatus(34), "graylogic/node/esp-01/sensor/34/status"},
		{"ActuatorStatus", topics.ActuatorStatus(5), "graylogic/node/esp-01/actuator/5/status"},
		{"Alert", topics.Alert(), "graylogic/node/esp-01/alert"},
		{"Command", topics.Command("emergency-stop"), "graylogic/node/esp-01/command/emergency-stop"},
		{"AllCommands", topics.AllCommands(), "graylogic/node/esp-01/command/+"},
		{"Response", topics.Response(), "graylogic/node/esp-01/response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestTopics_CommandName(t *testing.T) {
	topics := Topics{NodeID: "esp-01"}

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"graylogic/node/esp-01/command/resume", "resume", true},
		{"graylogic/node/esp-02/command/resume", "", false},
		{"graylogic/node/esp-01/command/", "", false},
		{"graylogic/node/esp-01/command/a/b", "", false},
		{"graylogic/node/esp-01/status", "", false},
	}
	for _, tt := range tests {
		got, ok := topics.CommandName(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("CommandName(%q) = %q, %v; want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

// =============================================================================
// Broker tests (skipped without a local broker)
// =============================================================================

func TestConnect_Broker(t *testing.T) {
	requireBroker(t)

	c := New(testConfig(), testNodeID)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestConnect_Cancelled(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19998
	c := New(cfg, testNodeID)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Connect(ctx); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	requireBroker(t)

	pubCfg := testConfig()
	pubCfg.Broker.ClientID = "graylogic-node-test-pub"
	pub := New(pubCfg, "esp-pub")
	if err := pub.Connect(context.Background()); err != nil {
		t.Fatalf("publisher Connect() error = %v", err)
	}
	defer pub.Close()

	subCfg := testConfig()
	subCfg.Broker.ClientID = "graylogic-node-test-sub"
	sub := New(subCfg, testNodeID)
	if err := sub.Connect(context.Background()); err != nil {
		t.Fatalf("subscriber Connect() error = %v", err)
	}
	defer sub.Close()

	received := make(chan string, 1)
	err := sub.Subscribe(sub.Topics().AllCommands(), 1, func(topic string, payload []byte) error {
		name, _ := sub.Topics().CommandName(topic)
		received <- name + ":" + string(payload)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := pub.Publish(sub.Topics().Command("resume"), []byte(`{}`), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "resume:{}" {
			t.Errorf("received %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for message")
	}
}
