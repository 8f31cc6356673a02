package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the node.
const (
	MeasurementSensor   = "sensor_reading"
	MeasurementActuator = "actuator_runtime"
	MeasurementBuffer   = "offline_buffer"
)

// SensorPoint is one sensor reading.
type SensorPoint struct {
	GPIO      int
	Type      string
	Name      string
	SubzoneID string
	Unit      string
	Quality   string
	Source    string
	Value     float64
	Timestamp time.Time
}

// WriteSensorReading records a reading at its own timestamp.
func (c *Client) WriteSensorReading(p SensorPoint) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"node_id":     c.nodeID,
		"gpio":        strconv.Itoa(p.GPIO),
		"sensor_type": p.Type,
		"source":      p.Source,
	}
	if p.SubzoneID != "" {
		tags["subzone_id"] = p.SubzoneID
	}
	fields := map[string]any{
		"value":   p.Value,
		"quality": p.Quality,
	}
	if p.Name != "" {
		fields["name"] = p.Name
	}
	if p.Unit != "" {
		fields["unit"] = p.Unit
	}

	c.writeAPI.WritePoint(write.NewPoint(MeasurementSensor, tags, fields, p.Timestamp))
}

// WriteActuatorRuntime records an actuator's accumulated on-time and output.
func (c *Client) WriteActuatorRuntime(gpio int, actuatorType string, runtimeHours, value float64, on bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementActuator,
		map[string]string{
			"node_id":       c.nodeID,
			"gpio":          strconv.Itoa(gpio),
			"actuator_type": actuatorType,
		},
		map[string]any{
			"runtime_hours": runtimeHours,
			"value":         value,
			"on":            on,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

// WriteBufferStats records the offline buffer's fill level.
func (c *Client) WriteBufferStats(count int, fillPercent float64, dataLoss bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		MeasurementBuffer,
		map[string]string{"node_id": c.nodeID},
		map[string]any{
			"count":        count,
			"fill_percent": fillPercent,
			"data_loss":    dataLoss,
		},
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}
