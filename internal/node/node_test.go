package node

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/gray-logic-node/internal/driver"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/library"
	"github.com/nerrad567/gray-logic-node/internal/safety"
	"github.com/nerrad567/gray-logic-node/internal/storage"
)

type message struct {
	topic    string
	payload  []byte
	retained bool
}

// mockPublisher records publishes and subscriptions in memory.
type mockPublisher struct {
	mu          sync.Mutex
	connected   bool
	publishErr  error
	messages    []message
	handlers    map[string]mqtt.MessageHandler
	subscribeTo []string
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{connected: connected, handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockPublisher) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return mqtt.ErrNotConnected
	}
	if m.publishErr != nil {
		return m.publishErr
	}
	m.messages = append(m.messages, message{topic: topic, payload: payload, retained: retained})
	return nil
}

func (m *mockPublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	m.subscribeTo = append(m.subscribeTo, topic)
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) setConnected(c bool) {
	m.mu.Lock()
	m.connected = c
	m.mu.Unlock()
}

func (m *mockPublisher) setPublishErr(err error) {
	m.mu.Lock()
	m.publishErr = err
	m.mu.Unlock()
}

func (m *mockPublisher) on(topic string) []message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []message
	for _, msg := range m.messages {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// deliver routes a message to the handler whose filter matches topic.
func (m *mockPublisher) deliver(topic string, payload []byte) error {
	m.mu.Lock()
	var h mqtt.MessageHandler
	for filter, handler := range m.handlers {
		if topicMatches(filter, topic) {
			h = handler
			break
		}
	}
	m.mu.Unlock()
	if h == nil {
		return errors.New("no subscription matches " + topic)
	}
	return h(topic, payload)
}

func topicMatches(filter, topic string) bool {
	f, t := strings.Split(filter, "/"), strings.Split(topic, "/")
	if len(f) != len(t) {
		return false
	}
	for i := range f {
		if f[i] != "+" && f[i] != t[i] {
			return false
		}
	}
	return true
}

type fixture struct {
	node  *Node
	pub   *mockPublisher
	store *storage.MemoryStore
	comp  *Components
	topic mqtt.Topics
}

func testConfig() *config.Config {
	return &config.Config{
		Node:     config.NodeConfig{ID: "esp-test", ZoneID: "greenhouse"},
		Board:    config.BoardConfig{Profile: "host_sim"},
		Hardware: config.HardwareConfig{Backend: "sim"},
		MQTT:     config.MQTTConfig{QoS: 1},
		Sensors:  config.SensorsConfig{PollIntervalMS: 1000, StaleAfterMS: 5000},
		Buffer:   config.BufferConfig{Persist: true},
		Loop:     config.LoopConfig{TickIntervalMS: 10, StatusIntervalMS: 60000},
	}
}

func newFixtureWith(t *testing.T, connected bool, store *storage.MemoryStore, reg prometheus.Registerer) *fixture {
	t.Helper()
	cfg := testConfig()
	comp, err := BuildComponents(cfg, driver.NewSimPins(64))
	if err != nil {
		t.Fatalf("BuildComponents() error = %v", err)
	}
	pub := newMockPublisher(connected)
	opts := comp.Options(cfg)
	opts.Publisher = pub
	opts.Store = store
	opts.Registry = reg
	opts.Version = "test"
	n, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{node: n, pub: pub, store: store, comp: comp, topic: mqtt.Topics{NodeID: cfg.Node.ID}}
}

func newFixture(t *testing.T, connected bool) *fixture {
	t.Helper()
	f := newFixtureWith(t, connected, storage.NewMemoryStore(), nil)
	if err := f.node.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return f
}

func (f *fixture) exec(t *testing.T, name, payload string) Response {
	t.Helper()
	return f.node.Execute(name, []byte(payload))
}

func (f *fixture) mustExec(t *testing.T, name, payload string) Response {
	t.Helper()
	resp := f.exec(t, name, payload)
	if !resp.Success {
		t.Fatalf("%s %s failed: %s", name, payload, resp.Error)
	}
	return resp
}

// alertFields is the part of an alert payload the tests inspect.
type alertFields struct {
	NodeID string `json:"esp_id"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

const soilSensor = `{"gpio":4,"type":"DS18B20","name":"soil","params":{"initial":21.5}}`

func TestNew_MissingComponent(t *testing.T) {
	cfg := testConfig()
	comp, err := BuildComponents(cfg, driver.NewSimPins(64))
	if err != nil {
		t.Fatalf("BuildComponents() error = %v", err)
	}
	opts := comp.Options(cfg)
	if _, err := New(opts); !errors.Is(err, ErrMissingComponent) {
		t.Errorf("New() without publisher error = %v, want ErrMissingComponent", err)
	}
	opts.Publisher = newMockPublisher(true)
	opts.Safety = nil
	if _, err := New(opts); !errors.Is(err, ErrMissingComponent) {
		t.Errorf("New() without safety error = %v, want ErrMissingComponent", err)
	}
}

func TestStart_SubscribesAndPublishesHeartbeat(t *testing.T) {
	f := newFixture(t, true)

	want := []string{f.topic.AllCommands(), mqtt.TopicBroadcastEmergency}
	if len(f.pub.subscribeTo) != len(want) {
		t.Fatalf("subscriptions = %v, want %v", f.pub.subscribeTo, want)
	}
	for i, topic := range want {
		if f.pub.subscribeTo[i] != topic {
			t.Errorf("subscription[%d] = %q, want %q", i, f.pub.subscribeTo[i], topic)
		}
	}

	hbs := f.pub.on(f.topic.Heartbeat())
	if len(hbs) != 1 {
		t.Fatalf("heartbeats = %d, want 1", len(hbs))
	}
	var hb struct {
		NodeID  string `json:"esp_id"`
		Version string `json:"version"`
		Safety  string `json:"safety_state"`
	}
	if err := json.Unmarshal(hbs[0].payload, &hb); err != nil {
		t.Fatalf("heartbeat payload: %v", err)
	}
	if hb.NodeID != "esp-test" || hb.Version != "test" || hb.Safety != safety.StateNormal.String() {
		t.Errorf("heartbeat = %+v", hb)
	}
}

func TestTick_PublishesReadings(t *testing.T) {
	f := newFixture(t, true)
	f.mustExec(t, CmdConfigureSensor, soilSensor)

	if got := f.pub.on(f.topic.SensorStatus(4)); len(got) != 1 || !got[0].retained {
		t.Errorf("sensor status messages = %+v, want one retained", got)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.node.Tick(context.Background(), now)

	msgs := f.pub.on(f.topic.SensorData(4))
	if len(msgs) != 1 {
		t.Fatalf("sensor data messages = %d, want 1", len(msgs))
	}
	var rm readingMessage
	if err := json.Unmarshal(msgs[0].payload, &rm); err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	if rm.NodeID != "esp-test" || rm.ZoneID != "greenhouse" || rm.Value != 21.5 || rm.SensorType != "DS18B20" {
		t.Errorf("reading = %+v", rm)
	}
	if rm.Buffered {
		t.Error("live reading marked buffered")
	}
	if !rm.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", rm.Timestamp, now)
	}

	// Not due again within the poll interval.
	f.node.Tick(context.Background(), now.Add(500*time.Millisecond))
	if got := len(f.pub.on(f.topic.SensorData(4))); got != 1 {
		t.Errorf("sensor data messages after early tick = %d, want 1", got)
	}
}

func TestTick_OfflineSpillAndFlush(t *testing.T) {
	f := newFixture(t, false)
	f.mustExec(t, CmdConfigureSensor, soilSensor)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.node.Tick(context.Background(), now)
	f.node.Tick(context.Background(), now.Add(time.Second))

	if got := f.comp.Buffer.Count(); got != 2 {
		t.Fatalf("buffer count = %d, want 2", got)
	}

	f.pub.setConnected(true)
	f.node.Tick(context.Background(), now.Add(1500*time.Millisecond))

	if got := f.comp.Buffer.Count(); got != 0 {
		t.Errorf("buffer count after flush = %d, want 0", got)
	}
	msgs := f.pub.on(f.topic.SensorData(4))
	if len(msgs) != 2 {
		t.Fatalf("replayed messages = %d, want 2", len(msgs))
	}
	var first, second readingMessage
	_ = json.Unmarshal(msgs[0].payload, &first)
	_ = json.Unmarshal(msgs[1].payload, &second)
	if !first.Buffered || !second.Buffered {
		t.Error("replayed readings not marked buffered")
	}
	if !first.Timestamp.Before(second.Timestamp) {
		t.Errorf("replay order: %v then %v, want oldest first", first.Timestamp, second.Timestamp)
	}
}

func TestTick_PublishFailureBuffers(t *testing.T) {
	f := newFixture(t, true)
	f.mustExec(t, CmdConfigureSensor, soilSensor)
	f.pub.setPublishErr(mqtt.ErrPublishFailed)

	f.node.Tick(context.Background(), time.Now())

	if got := f.comp.Buffer.Count(); got != 1 {
		t.Errorf("buffer count = %d, want 1", got)
	}

	// Flush stops at the first failure and keeps the entry.
	f.node.Tick(context.Background(), time.Now())
	if got := f.comp.Buffer.Count(); got < 1 {
		t.Errorf("buffer count after failed flush = %d, want entries kept", got)
	}
}

func TestCommands_EmergencyLifecycle(t *testing.T) {
	f := newFixture(t, true)

	f.mustExec(t, CmdConfigureActuator, `{"gpio":5,"type":"PUMP","name":"irrigation"}`)
	if got := f.pub.on(f.topic.ActuatorStatus(5)); len(got) == 0 || !got[len(got)-1].retained {
		t.Fatalf("actuator status = %+v, want retained publication", got)
	}
	cfg, ok := f.comp.Actuators.Config(5)
	if !ok || !cfg.Active || cfg.AuxGPIO != driver.NoGPIO {
		t.Errorf("actuator config = %+v, want active with no aux pin", cfg)
	}

	f.mustExec(t, CmdSetActuator, `{"gpio":5,"state":true}`)
	if st, _ := f.comp.Actuators.Status(5); !st.State.On {
		t.Error("actuator not on after set-actuator")
	}

	f.mustExec(t, CmdEmergencyStop, `{"reason":"leak detected"}`)
	if !f.comp.Safety.EmergencyActive() {
		t.Fatal("emergency not active after emergency-stop")
	}

	resp := f.exec(t, CmdSetActuator, `{"gpio":5,"state":true}`)
	if resp.Success || !strings.Contains(resp.Error, "emergency") {
		t.Errorf("set-actuator during emergency = %+v, want refusal", resp)
	}

	alerts := f.pub.on(f.topic.Alert())
	if len(alerts) == 0 {
		t.Fatal("no alert published")
	}
	var alert alertFields
	if err := json.Unmarshal(alerts[0].payload, &alert); err != nil {
		t.Fatalf("alert payload: %v", err)
	}
	if alert.NodeID != "esp-test" || alert.Type != safety.AlertEmergencyStop || alert.Reason != "leak detected" {
		t.Errorf("alert = %+v", alert)
	}

	resp = f.exec(t, CmdResume, `{}`)
	if resp.Success {
		t.Error("resume before clear succeeded")
	}

	f.mustExec(t, CmdClearEmergency, `{}`)
	f.mustExec(t, CmdResume, `{}`)
	if f.comp.Safety.State() != safety.StateNormal {
		t.Errorf("state after resume = %v, want normal", f.comp.Safety.State())
	}
	f.mustExec(t, CmdSetActuator, `{"gpio":5,"value":1}`)
}

func TestCommands_ActuatorEmergency(t *testing.T) {
	f := newFixture(t, true)
	f.mustExec(t, CmdConfigureActuator, `{"gpio":5,"type":"PUMP"}`)
	f.mustExec(t, CmdConfigureActuator, `{"gpio":6,"type":"FAN"}`)

	f.mustExec(t, CmdEmergencyStop, `{"gpio":5}`)
	if f.comp.Safety.EmergencyActive() {
		t.Error("per-actuator stop activated system emergency")
	}
	if resp := f.exec(t, CmdSetActuator, `{"gpio":5,"state":true}`); resp.Success {
		t.Error("stopped actuator accepted a command")
	}
	f.mustExec(t, CmdSetActuator, `{"gpio":6,"value":0.5}`)

	f.mustExec(t, CmdClearEmergency, `{"gpio":5}`)
	f.mustExec(t, CmdSetActuator, `{"gpio":5,"state":true}`)
}

func TestCommands_Validation(t *testing.T) {
	f := newFixture(t, true)
	f.mustExec(t, CmdConfigureActuator, `{"gpio":5,"type":"PUMP"}`)

	tests := []struct {
		name    string
		command string
		payload string
	}{
		{"unknown command", "self-destruct", `{}`},
		{"malformed json", CmdConfigureSensor, `{"gpio":`},
		{"sensor without gpio", CmdConfigureSensor, `{"type":"DS18B20"}`},
		{"actuator without gpio", CmdConfigureActuator, `{"type":"PUMP"}`},
		{"remove without gpio", CmdRemoveSensor, `{}`},
		{"set without value", CmdSetActuator, `{"gpio":5}`},
		{"set with value and state", CmdSetActuator, `{"gpio":5,"value":1,"state":true}`},
		{"unload without name", CmdUnloadLibrary, `{}`},
		{"pin conflict", CmdConfigureSensor, `{"gpio":5,"type":"DS18B20"}`},
		{"clear without emergency", CmdClearEmergency, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.exec(t, tt.command, tt.payload)
			if resp.Success {
				t.Errorf("%s %s succeeded, want failure", tt.command, tt.payload)
			}
			if resp.Error == "" {
				t.Error("failure without error text")
			}
			if resp.CommandID == "" {
				t.Error("response without command id")
			}
		})
	}
}

func TestHandleCommand_PublishesResponse(t *testing.T) {
	f := newFixture(t, true)

	err := f.pub.deliver(f.topic.Command(CmdQueryStatus), []byte(`{"command_id":"abc-123"}`))
	if err != nil {
		t.Fatalf("deliver() error = %v", err)
	}

	msgs := f.pub.on(f.topic.Response())
	if len(msgs) != 1 {
		t.Fatalf("responses = %d, want 1", len(msgs))
	}
	var resp struct {
		CommandID string `json:"command_id"`
		Command   string `json:"command"`
		Success   bool   `json:"success"`
		Data      struct {
			NodeID string `json:"esp_id"`
			Board  string `json:"board"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msgs[0].payload, &resp); err != nil {
		t.Fatalf("response payload: %v", err)
	}
	if resp.CommandID != "abc-123" || resp.Command != CmdQueryStatus || !resp.Success {
		t.Errorf("response = %+v", resp)
	}
	if resp.Data.NodeID != "esp-test" || resp.Data.Board != "host_sim" {
		t.Errorf("status = %+v", resp.Data)
	}
}

func TestBroadcastEmergency(t *testing.T) {
	f := newFixture(t, true)
	f.mustExec(t, CmdConfigureActuator, `{"gpio":5,"type":"PUMP"}`)

	if err := f.pub.deliver(mqtt.TopicBroadcastEmergency, []byte(`{"reason":"fire alarm"}`)); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	st := f.comp.Safety.Status()
	if st.State != safety.StateEmergencyActive || st.Reason != "fire alarm" {
		t.Errorf("safety status = %+v, want active with broadcast reason", st)
	}

	// A garbled broadcast still stops everything.
	f.mustExec(t, CmdClearEmergency, `{}`)
	f.mustExec(t, CmdResume, `{}`)
	if err := f.pub.deliver(mqtt.TopicBroadcastEmergency, []byte(`not json`)); err != nil {
		t.Fatalf("deliver() error = %v", err)
	}
	if !f.comp.Safety.EmergencyActive() {
		t.Error("malformed broadcast did not stop")
	}
}

func TestCommands_Libraries(t *testing.T) {
	f := newFixture(t, true)

	blob, err := library.EncodeBundle(library.Bundle{
		Format:   library.BundleFormat,
		Kind:     library.KindActuator,
		Template: "binary_output",
	})
	if err != nil {
		t.Fatalf("EncodeBundle() error = %v", err)
	}
	payload, _ := json.Marshal(map[string]any{
		"name":    "relay_board",
		"version": "1.0.0",
		"payload": base64.StdEncoding.EncodeToString(blob),
		"size":    len(blob),
	})

	f.mustExec(t, CmdInstallLibrary, string(payload))
	if !f.comp.Loader.IsLoaded("relay_board") {
		t.Fatal("library not loaded")
	}
	if resp := f.exec(t, CmdInstallLibrary, string(payload)); resp.Success {
		t.Error("duplicate install succeeded")
	}

	keys, _ := f.store.Keys(context.Background(), storage.KeyLibraryPrefix)
	if len(keys) != 1 {
		t.Errorf("persisted libraries = %v, want 1", keys)
	}

	f.mustExec(t, CmdUnloadLibrary, `{"name":"relay_board"}`)
	if f.comp.Loader.IsLoaded("relay_board") {
		t.Error("library still loaded after unload")
	}
}

func TestStart_RestoresSafeBoot(t *testing.T) {
	store := storage.NewMemoryStore()

	first := newFixtureWith(t, true, store, nil)
	if err := first.node.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first.mustExec(t, CmdEmergencyStop, `{"reason":"power loss"}`)

	second := newFixtureWith(t, true, store, nil)
	if err := second.node.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !second.comp.Safety.EmergencyActive() {
		t.Fatal("restarted node not in emergency stop")
	}

	var sawSafeBoot bool
	for _, m := range second.pub.on(second.topic.Alert()) {
		var a alertFields
		if json.Unmarshal(m.payload, &a) == nil && a.Type == safety.AlertSafeBoot {
			sawSafeBoot = true
		}
	}
	if !sawSafeBoot {
		t.Error("no safe_boot alert after restart")
	}
}

func TestRun_PersistsBufferOnExit(t *testing.T) {
	f := newFixture(t, false)
	f.mustExec(t, CmdConfigureSensor, soilSensor)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := f.node.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if _, err := f.store.Load(context.Background(), storage.KeyBufferSnapshot); err != nil {
		t.Errorf("buffer snapshot not persisted: %v", err)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := newFixtureWith(t, false, storage.NewMemoryStore(), reg)
	if err := f.node.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	f.mustExec(t, CmdConfigureSensor, soilSensor)
	f.mustExec(t, CmdConfigureActuator, `{"gpio":5,"type":"PUMP"}`)
	f.mustExec(t, CmdEmergencyStop, `{}`)
	f.exec(t, CmdSetActuator, `{"gpio":5,"state":true}`)

	f.node.Tick(context.Background(), time.Now())

	if got := testutil.ToFloat64(f.node.metrics.readings.WithLabelValues(outcomeBuffered)); got != 1 {
		t.Errorf("buffered readings = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.node.metrics.commands.WithLabelValues(CmdSetActuator, resultRefused)); got != 1 {
		t.Errorf("refused set-actuator = %v, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	gauges := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if g := m.GetGauge(); g != nil && len(m.GetLabel()) == 0 {
				gauges[mf.GetName()] = g.GetValue()
			}
		}
	}
	if gauges["graylogic_buffer_readings"] != 1 {
		t.Errorf("graylogic_buffer_readings = %v, want 1", gauges["graylogic_buffer_readings"])
	}
	if gauges["graylogic_safety_emergency_active"] != 1 {
		t.Errorf("graylogic_safety_emergency_active = %v, want 1", gauges["graylogic_safety_emergency_active"])
	}
	if gauges["graylogic_sensor_configured"] != 1 {
		t.Errorf("graylogic_sensor_configured = %v, want 1", gauges["graylogic_sensor_configured"])
	}
}

func TestResolveBoard(t *testing.T) {
	b, err := ResolveBoard(config.BoardConfig{
		Profile:      "esp32_devkit",
		MaxActuators: 4,
		MaxSensors:   500,
		ReservedPins: []int{13, 0},
	})
	if err != nil {
		t.Fatalf("ResolveBoard() error = %v", err)
	}
	if b.MaxActuators != 4 {
		t.Errorf("MaxActuators = %d, want narrowed to 4", b.MaxActuators)
	}
	if b.MaxSensors != 20 {
		t.Errorf("MaxSensors = %d, want profile limit 20", b.MaxSensors)
	}
	if !b.IsReserved(13) {
		t.Error("extra reserved pin 13 not applied")
	}

	if _, err := ResolveBoard(config.BoardConfig{Profile: "arduino_uno"}); err == nil {
		t.Error("unknown profile accepted")
	}
}
