package sensor

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// registryMetrics mirrors the in-struct hybrid counters for Prometheus.
// A nil *registryMetrics records nothing.
type registryMetrics struct {
	requests      *prometheus.CounterVec
	remoteSuccess *prometheus.CounterVec
	fallbacks     *prometheus.CounterVec
	invalid       *prometheus.CounterVec
	configured    prometheus.Gauge
}

func newRegistryMetrics(reg prometheus.Registerer) (*registryMetrics, error) {
	m := &registryMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "sensor",
			Name:      "requests_total",
			Help:      "Hybrid sensor reads attempted through the remote processor",
		}, []string{"gpio"}),
		remoteSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "sensor",
			Name:      "requests_success_remote_total",
			Help:      "Hybrid sensor reads resolved by the remote processor",
		}, []string{"gpio"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "sensor",
			Name:      "fallback_uses_total",
			Help:      "Hybrid sensor reads that fell back to the local driver",
		}, []string{"gpio"}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic",
			Subsystem: "sensor",
			Name:      "invalid_readings_total",
			Help:      "Reads rejected as outside the sensor's valid range",
		}, []string{"gpio"}),
		configured: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graylogic",
			Subsystem: "sensor",
			Name:      "configured",
			Help:      "Number of configured sensor slots",
		}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.remoteSuccess, m.fallbacks, m.invalid, m.configured} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *registryMetrics) remote(gpio int, ok bool) {
	if m == nil {
		return
	}
	label := strconv.Itoa(gpio)
	m.requests.WithLabelValues(label).Inc()
	if ok {
		m.remoteSuccess.WithLabelValues(label).Inc()
	} else {
		m.fallbacks.WithLabelValues(label).Inc()
	}
}

func (m *registryMetrics) invalidReading(gpio int) {
	if m == nil {
		return
	}
	m.invalid.WithLabelValues(strconv.Itoa(gpio)).Inc()
}

func (m *registryMetrics) setConfigured(n int) {
	if m == nil {
		return
	}
	m.configured.Set(float64(n))
}
