// Package influxdb provides the node's optional InfluxDB telemetry sink.
//
// It wraps the official influxdb-client-go v2 library and records:
//   - sensor readings (measurement sensor_reading)
//   - actuator runtime hours and output (actuator_runtime)
//   - offline buffer fill level (offline_buffer)
//
// Every point is tagged with node_id. Writes are non-blocking and batched
// according to batch_size and flush_interval; async write errors are
// delivered through SetOnError. Telemetry is best effort and never gates
// the control loop.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Node.ID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without telemetry
//	}
//	defer client.Close()
//
//	client.WriteSensorReading(influxdb.SensorPoint{GPIO: 34, Type: "PH", Value: 6.9})
package influxdb
