package node

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-node/internal/gpio"
	"github.com/nerrad567/gray-logic-node/internal/safety"
)

// Reading outcomes counted by graylogic_node_readings_total.
const (
	outcomePublished = "published"
	outcomeBuffered  = "buffered"
	outcomeReplayed  = "replayed"
	outcomeCorrupt   = "dropped_corrupt"
)

// Command results counted by graylogic_node_commands_total.
const (
	resultOK      = "ok"
	resultRefused = "refused"
	resultError   = "error"
)

// nodeMetrics holds the node's Prometheus collectors. Gauges are sampled
// from the components at scrape time. A nil *nodeMetrics records nothing.
type nodeMetrics struct {
	commands *prometheus.CounterVec
	readings *prometheus.CounterVec
}

func newNodeMetrics(reg prometheus.Registerer, n *Node) (*nodeMetrics, error) {
	m := &nodeMetrics{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "node",
			Name:      "commands_total",
			Help:      "Commands handled, by command name and result",
		}, []string{"command", "result"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "node",
			Name:      "readings_total",
			Help:      "Sensor readings by delivery outcome",
		}, []string{"outcome"}),
	}

	collectors := []prometheus.Collector{m.commands, m.readings}
	for _, owner := range []gpio.Owner{gpio.OwnerSensor, gpio.OwnerActuator, gpio.OwnerSafeMode} {
		collectors = append(collectors, prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "graylogic",
			Subsystem:   "gpio",
			Name:        "pins_owned",
			Help:        "GPIO pins held, by owner kind",
			ConstLabels: prometheus.Labels{"owner": owner.String()},
		}, func() float64 { return float64(n.arbiter.CountOwned(owner)) }))
	}
	collectors = append(collectors,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "graylogic",
			Subsystem: "buffer",
			Name:      "readings",
			Help:      "Readings waiting in the offline buffer",
		}, func() float64 { return float64(n.buffer.Count()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "graylogic",
			Subsystem: "buffer",
			Name:      "fill_ratio",
			Help:      "Offline buffer occupancy between 0 and 1",
		}, func() float64 { return n.buffer.FillPercentage() / 100 }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "graylogic",
			Subsystem: "buffer",
			Name:      "data_loss",
			Help:      "1 once the offline buffer has overwritten unread readings",
		}, func() float64 { return boolGauge(n.buffer.DataLoss()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "graylogic",
			Subsystem: "safety",
			Name:      "emergency_active",
			Help:      "1 while the system emergency stop is active",
		}, func() float64 { return boolGauge(n.safety.State() == safety.StateEmergencyActive) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "graylogic",
			Subsystem: "library",
			Name:      "resident_bytes",
			Help:      "Decoded bytes held by loaded driver libraries",
		}, func() float64 { return float64(n.loader.TotalBytes()) }),
	)

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *nodeMetrics) command(name string, err error) {
	if m == nil {
		return
	}
	result := resultOK
	switch {
	case err == nil:
	case isSafetyRefusal(err):
		result = resultRefused
	case errors.Is(err, ErrUnknownCommand):
		name = "unknown"
		result = resultError
	default:
		result = resultError
	}
	m.commands.WithLabelValues(name, result).Inc()
}

func (m *nodeMetrics) reading(outcome string) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(outcome).Inc()
}
