package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-node/internal/actuator"
	"github.com/nerrad567/gray-logic-node/internal/buffer"
	"github.com/nerrad567/gray-logic-node/internal/driver"
	"github.com/nerrad567/gray-logic-node/internal/gpio"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-node/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-node/internal/library"
	"github.com/nerrad567/gray-logic-node/internal/safety"
	"github.com/nerrad567/gray-logic-node/internal/sensor"
	"github.com/nerrad567/gray-logic-node/internal/storage"
)

// commandTimeout bounds a single command, including a resume's soft start.
const commandTimeout = 60 * time.Second

// shutdownTimeout bounds the buffer snapshot written on exit.
const shutdownTimeout = 5 * time.Second

// Logger is the logging interface used by the node.
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

// Publisher is the transport to the upstream controller.
// *mqtt.Client implements it.
type Publisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// Telemetry receives time-series points. *influxdb.Client implements it.
type Telemetry interface {
	WriteSensorReading(p influxdb.SensorPoint)
	WriteActuatorRuntime(gpio int, actuatorType string, runtimeHours, value float64, on bool)
	WriteBufferStats(count int, fillPercent float64, dataLoss bool)
}

// Options holds the collaborators a Node is built from.
type Options struct {
	// Config is the loaded node configuration.
	Config *config.Config

	Arbiter   *gpio.Arbiter
	Actuators *actuator.Registry
	Sensors   *sensor.Registry
	Safety    *safety.Controller
	Buffer    *buffer.Buffer
	Loader    *library.Loader

	// Catalog is optional. When set, library-backed slots are built from Loader.
	Catalog *driver.Catalog

	// Store is optional. Without it nothing survives a restart.
	Store storage.Store

	// Publisher is the MQTT client.
	Publisher Publisher

	// Telemetry is optional.
	Telemetry Telemetry

	// Registry is optional. When set, node and sensor metrics are registered on it.
	Registry prometheus.Registerer

	// Logger is optional structured logger.
	Logger Logger

	// Version is reported in status payloads.
	Version string
}

// Node owns one of every core component and runs them as a single
// cooperative control loop. Command handlers arrive on transport goroutines
// and take the node mutex, so every core operation is serialised with Tick.
type Node struct {
	mu sync.Mutex

	cfg       *config.Config
	version   string
	topics    mqtt.Topics
	qos       byte
	arbiter   *gpio.Arbiter
	actuators *actuator.Registry
	sensors   *sensor.Registry
	safety    *safety.Controller
	buffer    *buffer.Buffer
	loader    *library.Loader
	publisher Publisher
	telemetry Telemetry
	metrics   *nodeMetrics
	logger    Logger

	// baseCtx is the context Start was called with; commands derive from it.
	baseCtx       context.Context
	started       time.Time
	lastHeartbeat time.Time
	now           func() time.Time
}

// New wires the collaborators together and returns a node ready to Start.
//
// It performs the following wiring:
//  1. The safety controller becomes the actuator registry's emergency guard
//  2. Registry changes and safety alerts publish through opts.Publisher
//  3. The loader learns which libraries the registries still use
//  4. The catalog, if given, builds and destroys library drivers via the loader
//  5. The store, if given, backs safety state, libraries and the buffer
//  6. The Prometheus registry, if given, receives node and sensor metrics
//
// Parameters:
//   - opts: Components to wire; Store, Telemetry, Catalog, Registry and Logger are optional
//
// Returns:
//   - *Node: Node ready for Start
//   - error: ErrMissingComponent for a missing required component, or a metrics registration failure
func New(opts Options) (*Node, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("%w: config", ErrMissingComponent)
	case opts.Arbiter == nil:
		return nil, fmt.Errorf("%w: gpio arbiter", ErrMissingComponent)
	case opts.Actuators == nil:
		return nil, fmt.Errorf("%w: actuator registry", ErrMissingComponent)
	case opts.Sensors == nil:
		return nil, fmt.Errorf("%w: sensor registry", ErrMissingComponent)
	case opts.Safety == nil:
		return nil, fmt.Errorf("%w: safety controller", ErrMissingComponent)
	case opts.Buffer == nil:
		return nil, fmt.Errorf("%w: offline buffer", ErrMissingComponent)
	case opts.Loader == nil:
		return nil, fmt.Errorf("%w: library loader", ErrMissingComponent)
	case opts.Publisher == nil:
		return nil, fmt.Errorf("%w: publisher", ErrMissingComponent)
	}

	n := &Node{
		cfg:       opts.Config,
		version:   opts.Version,
		topics:    mqtt.Topics{NodeID: opts.Config.Node.ID},
		qos:       byte(opts.Config.MQTT.QoS), //nolint:gosec // validated to 0-2 by config
		arbiter:   opts.Arbiter,
		actuators: opts.Actuators,
		sensors:   opts.Sensors,
		safety:    opts.Safety,
		buffer:    opts.Buffer,
		loader:    opts.Loader,
		publisher: opts.Publisher,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
		baseCtx:   context.Background(),
		now:       time.Now,
	}
	if n.logger == nil {
		n.logger = noopLogger{}
	}

	n.actuators.SetGuard(n.safety)
	n.actuators.SetNotifier(statusNotifier{n})
	n.safety.SetAlertPublisher(alertPublisher{n})
	n.loader.AddInUseChecker(n.actuators)
	n.loader.AddInUseChecker(n.sensors)
	if opts.Catalog != nil {
		opts.Catalog.SetLibrarySource(n.loader)
	}

	if opts.Store != nil {
		n.safety.SetStore(opts.Store)
		n.loader.SetStore(opts.Store)
		if n.cfg.Buffer.Persist {
			n.buffer.SetStore(opts.Store)
		}
	}

	if opts.Registry != nil {
		m, err := newNodeMetrics(opts.Registry, n)
		if err != nil {
			return nil, fmt.Errorf("registering node metrics: %w", err)
		}
		n.metrics = m
		if err := n.sensors.SetMetrics(opts.Registry); err != nil {
			return nil, fmt.Errorf("registering sensor metrics: %w", err)
		}
	}

	return n, nil
}

// Start restores persisted state, subscribes to commands and publishes the
// initial status. A persisted non-normal safety state boots the node into
// emergency stop before any command is accepted.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.baseCtx = ctx
	n.started = n.now()

	if err := n.safety.Restore(ctx); err != nil {
		return fmt.Errorf("restoring safety state: %w", err)
	}
	if err := n.loader.Restore(ctx); err != nil {
		n.logger.Error("restoring driver libraries failed", "error", err)
	}
	if err := n.buffer.Restore(ctx); err != nil {
		n.logger.Error("restoring offline buffer failed", "error", err)
	}

	if err := n.publisher.Subscribe(n.topics.AllCommands(), n.qos, n.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	if err := n.publisher.Subscribe(mqtt.TopicBroadcastEmergency, n.qos, n.handleBroadcastEmergency); err != nil {
		return fmt.Errorf("subscribe to emergency broadcast: %w", err)
	}

	n.publishHeartbeat(n.started)
	n.lastHeartbeat = n.started

	n.logger.Info("node started",
		"node_id", n.cfg.Node.ID,
		"board", n.arbiter.Board().Name,
		"safety_state", n.safety.State().String(),
		"libraries", len(n.loader.List()),
		"buffered", n.buffer.Count())
	return nil
}

// Run calls Tick every loop interval until ctx is cancelled, then persists
// the offline buffer.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.TickInterval())
	defer ticker.Stop()

	n.Tick(ctx, n.now())
	for {
		select {
		case <-ctx.Done():
			n.shutdown()
			return nil
		case t := <-ticker.C:
			n.Tick(ctx, t)
		}
	}
}

func (n *Node) shutdown() {
	n.mu.Lock()
	defer n.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := n.buffer.Persist(ctx); err != nil {
		n.logger.Error("persisting offline buffer failed", "error", err)
		return
	}
	n.logger.Info("node stopped", "buffered", n.buffer.Count())
}

// Tick runs one pass of the control loop: sensor poll, reading publication
// or spill, buffer flush, actuator runtime, safety supervision and the
// periodic heartbeat, in that order.
func (n *Node) Tick(ctx context.Context, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	readings, err := n.sensors.Poll(ctx, now)
	if err != nil {
		n.logger.Warn("sensor poll incomplete", "error", err)
	}
	for _, rd := range readings {
		n.deliverReading(rd)
	}

	if n.publisher.IsConnected() {
		n.flushBuffer()
	}

	n.actuators.Tick(now)
	n.safety.Tick(ctx)

	if n.lastHeartbeat.IsZero() || now.Sub(n.lastHeartbeat) >= n.cfg.StatusInterval() {
		n.writeTelemetry()
		n.publishHeartbeat(now)
		n.lastHeartbeat = now
	}
}

// readingMessage is the wire form of a sensor reading, live or replayed.
type readingMessage struct {
	NodeID     string    `json:"esp_id"`
	ZoneID     string    `json:"zone_id,omitempty"`
	SubzoneID  string    `json:"subzone_id,omitempty"`
	GPIO       int       `json:"gpio"`
	SensorType string    `json:"sensor_type"`
	SensorName string    `json:"sensor_name,omitempty"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Quality    string    `json:"quality,omitempty"`
	Source     string    `json:"source,omitempty"`
	Buffered   bool      `json:"buffered,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// deliverReading publishes a reading, spilling it to the offline buffer when
// the transport is down or the publish fails. Caller holds n.mu.
func (n *Node) deliverReading(rd sensor.Reading) {
	if n.telemetry != nil {
		n.telemetry.WriteSensorReading(influxdb.SensorPoint{
			GPIO:      rd.GPIO,
			Type:      rd.Type,
			Name:      rd.Name,
			SubzoneID: rd.SubzoneID,
			Unit:      rd.Unit,
			Quality:   rd.Quality.String(),
			Source:    rd.Source,
			Value:     rd.Value,
			Timestamp: rd.Timestamp,
		})
	}

	if n.publisher.IsConnected() {
		err := n.publishJSON(n.topics.SensorData(rd.GPIO), readingMessage{
			NodeID:     n.cfg.Node.ID,
			ZoneID:     n.cfg.Node.ZoneID,
			SubzoneID:  rd.SubzoneID,
			GPIO:       rd.GPIO,
			SensorType: rd.Type,
			SensorName: rd.Name,
			Value:      rd.Value,
			Unit:       rd.Unit,
			Quality:    rd.Quality.String(),
			Source:     rd.Source,
			Timestamp:  rd.Timestamp.UTC(),
		}, false)
		if err == nil {
			n.metrics.reading(outcomePublished)
			return
		}
		n.logger.Warn("publishing reading failed, buffering", "gpio", rd.GPIO, "error", err)
	}

	err := n.buffer.Add(buffer.Reading{
		Timestamp:  rd.Timestamp.UTC(),
		DeviceID:   n.cfg.Node.ID,
		ZoneID:     n.cfg.Node.ZoneID,
		SubzoneID:  rd.SubzoneID,
		GPIO:       rd.GPIO,
		SensorType: rd.Type,
		Value:      rd.Value,
		SensorName: rd.Name,
	})
	if err != nil {
		n.logger.Error("buffering reading failed", "gpio", rd.GPIO, "error", err)
		return
	}
	n.metrics.reading(outcomeBuffered)
}

// flushBuffer replays buffered readings oldest first. An entry leaves the
// buffer only after it was published; corrupt entries are dropped. Caller
// holds n.mu.
func (n *Node) flushBuffer() {
	flushed := 0
	for limit := n.buffer.Count(); limit > 0; limit-- {
		r, err := n.buffer.Peek()
		if errors.Is(err, buffer.ErrEmpty) {
			break
		}
		if errors.Is(err, buffer.ErrIntegrity) {
			n.logger.Warn("dropping corrupt buffered reading", "error", err)
			n.buffer.Discard()
			n.metrics.reading(outcomeCorrupt)
			continue
		}
		if err != nil {
			n.logger.Error("reading offline buffer failed", "error", err)
			break
		}

		err = n.publishJSON(n.topics.SensorData(r.GPIO), readingMessage{
			NodeID:     r.DeviceID,
			ZoneID:     r.ZoneID,
			SubzoneID:  r.SubzoneID,
			GPIO:       r.GPIO,
			SensorType: r.SensorType,
			SensorName: r.SensorName,
			Value:      r.Value,
			Buffered:   true,
			Timestamp:  r.Timestamp,
		}, false)
		if err != nil {
			n.logger.Warn("replaying buffered reading failed", "gpio", r.GPIO, "error", err)
			break
		}
		n.buffer.Discard()
		n.metrics.reading(outcomeReplayed)
		flushed++
	}
	if flushed > 0 {
		n.logger.Info("offline buffer flushed", "readings", flushed, "remaining", n.buffer.Count())
	}
}

// writeTelemetry records actuator runtime and buffer health. Caller holds n.mu.
func (n *Node) writeTelemetry() {
	if n.telemetry == nil {
		return
	}
	for _, s := range n.actuators.List() {
		n.telemetry.WriteActuatorRuntime(s.GPIO, s.Type, s.RuntimeHours, s.State.Value, s.State.On)
	}
	n.telemetry.WriteBufferStats(n.buffer.Count(), n.buffer.FillPercentage(), n.buffer.DataLoss())
}

// publishJSON marshals v and publishes it with the node's QoS.
func (n *Node) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", topic, err)
	}
	return n.publisher.Publish(topic, payload, n.qos, retained)
}

// RepublishStatus publishes the retained status of every slot. It is meant
// for the transport's reconnect callback.
func (n *Node) RepublishStatus() {
	for _, s := range n.actuators.List() {
		n.publishActuatorStatus(s)
	}
	for _, info := range n.sensors.List() {
		n.publishSensorStatus(info)
	}
}

func (n *Node) publishActuatorStatus(s actuator.Status) {
	if !n.publisher.IsConnected() {
		return
	}
	if err := n.publishJSON(n.topics.ActuatorStatus(s.GPIO), s, true); err != nil {
		n.logger.Warn("publishing actuator status failed", "gpio", s.GPIO, "error", err)
	}
}

func (n *Node) publishSensorStatus(info sensor.Info) {
	if !n.publisher.IsConnected() {
		return
	}
	if err := n.publishJSON(n.topics.SensorStatus(info.GPIO), info, true); err != nil {
		n.logger.Warn("publishing sensor status failed", "gpio", info.GPIO, "error", err)
	}
}

// clearRetained removes a retained status message for a slot that no longer exists.
func (n *Node) clearRetained(topic string) {
	if !n.publisher.IsConnected() {
		return
	}
	if err := n.publisher.Publish(topic, nil, n.qos, true); err != nil {
		n.logger.Warn("clearing retained status failed", "topic", topic, "error", err)
	}
}

// statusNotifier publishes actuator changes. The registry calls it with its
// lock held, so it only publishes the snapshot it is given.
type statusNotifier struct{ n *Node }

func (s statusNotifier) ActuatorChanged(st actuator.Status) {
	s.n.publishActuatorStatus(st)
}

func (s statusNotifier) ActuatorRemoved(gpio int) {
	s.n.clearRetained(s.n.topics.ActuatorStatus(gpio))
}

// alertPublisher forwards safety alerts to the alert topic.
type alertPublisher struct{ n *Node }

func (a alertPublisher) PublishAlert(alert safety.Alert) {
	n := a.n
	if !n.publisher.IsConnected() {
		n.logger.Warn("alert not delivered, transport offline", "type", alert.Type, "reason", alert.Reason)
		return
	}
	payload, err := json.Marshal(alertMessage{NodeID: n.cfg.Node.ID, Alert: alert})
	if err != nil {
		n.logger.Error("marshalling alert failed", "error", err)
		return
	}
	if err := n.publisher.Publish(n.topics.Alert(), payload, n.qos, false); err != nil {
		n.logger.Error("publishing alert failed", "type", alert.Type, "error", err)
	}
}

type alertMessage struct {
	NodeID string `json:"esp_id"`
	safety.Alert
}
