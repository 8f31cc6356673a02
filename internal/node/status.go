package node

import (
	"time"

	"github.com/nerrad567/gray-logic-node/internal/actuator"
	"github.com/nerrad567/gray-logic-node/internal/gpio"
	"github.com/nerrad567/gray-logic-node/internal/library"
	"github.com/nerrad567/gray-logic-node/internal/safety"
	"github.com/nerrad567/gray-logic-node/internal/sensor"
)

// Heartbeat is the periodic liveness message.
type Heartbeat struct {
	NodeID     string       `json:"esp_id"`
	ZoneID     string       `json:"zone_id,omitempty"`
	KaiserID   string       `json:"kaiser_id,omitempty"`
	Version    string       `json:"version"`
	UptimeS    int64        `json:"uptime_s"`
	Safety     safety.State `json:"safety_state"`
	Sensors    int          `json:"sensor_count"`
	Actuators  int          `json:"actuator_count"`
	Libraries  int          `json:"library_count"`
	Buffered   int          `json:"buffered_readings"`
	BufferFill float64      `json:"buffer_fill_percent"`
	DataLoss   bool         `json:"data_loss"`
	Timestamp  time.Time    `json:"timestamp"`
}

// BufferStatus describes the offline buffer.
type BufferStatus struct {
	Count       int     `json:"count"`
	Capacity    int     `json:"capacity"`
	FillPercent float64 `json:"fill_percent"`
	DataLoss    bool    `json:"data_loss"`
}

// StatusReport is the full node snapshot returned by query-status.
type StatusReport struct {
	NodeID       string            `json:"esp_id"`
	Name         string            `json:"name,omitempty"`
	ZoneID       string            `json:"zone_id,omitempty"`
	Board        string            `json:"board"`
	Version      string            `json:"version"`
	UptimeS      int64             `json:"uptime_s"`
	Connected    bool              `json:"connected"`
	Safety       safety.Status     `json:"safety"`
	Actuators    []actuator.Status `json:"actuators"`
	Sensors      []sensor.Info     `json:"sensors"`
	SensorStats  sensor.Stats      `json:"sensor_stats"`
	Libraries    []library.Info    `json:"libraries"`
	LibraryBytes int               `json:"library_bytes"`
	Buffer       BufferStatus      `json:"buffer"`
	Pins         []gpio.PinRecord  `json:"pins"`
	Timestamp    time.Time         `json:"timestamp"`
}

func (n *Node) uptime(now time.Time) int64 {
	if n.started.IsZero() {
		return 0
	}
	return int64(now.Sub(n.started).Seconds())
}

// Status returns a full snapshot of the node.
func (n *Node) Status() StatusReport {
	now := n.now()
	return StatusReport{
		NodeID:       n.cfg.Node.ID,
		Name:         n.cfg.Node.Name,
		ZoneID:       n.cfg.Node.ZoneID,
		Board:        n.arbiter.Board().Name,
		Version:      n.version,
		UptimeS:      n.uptime(now),
		Connected:    n.publisher.IsConnected(),
		Safety:       n.safety.Status(),
		Actuators:    n.actuators.List(),
		Sensors:      n.sensors.List(),
		SensorStats:  n.sensors.Stats(),
		Libraries:    n.loader.List(),
		LibraryBytes: n.loader.TotalBytes(),
		Buffer: BufferStatus{
			Count:       n.buffer.Count(),
			Capacity:    n.buffer.Capacity(),
			FillPercent: n.buffer.FillPercentage(),
			DataLoss:    n.buffer.DataLoss(),
		},
		Pins:      n.arbiter.Snapshot(),
		Timestamp: now.UTC(),
	}
}

// publishHeartbeat sends the heartbeat when connected. Heartbeats are not
// buffered. Caller holds n.mu.
func (n *Node) publishHeartbeat(now time.Time) {
	if !n.publisher.IsConnected() {
		return
	}
	hb := Heartbeat{
		NodeID:     n.cfg.Node.ID,
		ZoneID:     n.cfg.Node.ZoneID,
		KaiserID:   n.cfg.Node.KaiserID,
		Version:    n.version,
		UptimeS:    n.uptime(now),
		Safety:     n.safety.State(),
		Sensors:    n.sensors.Count(),
		Actuators:  n.actuators.Count(),
		Libraries:  len(n.loader.List()),
		Buffered:   n.buffer.Count(),
		BufferFill: n.buffer.FillPercentage(),
		DataLoss:   n.buffer.DataLoss(),
		Timestamp:  now.UTC(),
	}
	if err := n.publishJSON(n.topics.Heartbeat(), hb, false); err != nil {
		n.logger.Warn("publishing heartbeat failed", "error", err)
	}
}
