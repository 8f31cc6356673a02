package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the node topic tree.
const (
	// TopicPrefixNode is the base for every per-node topic:
	// graylogic/node/{node_id}/...
	TopicPrefixNode = "graylogic/node"

	// TopicBroadcastEmergency is published by the upstream controller to stop
	// every node at once.
	TopicBroadcastEmergency = "graylogic/broadcast/emergency"
)

// Topics provides builders for one node's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{NodeID: "esp-greenhouse-01"}
//	topics.SensorData(34)
//	// Returns: "graylogic/node/esp-greenhouse-01/sensor/34/data"
type Topics struct {
	NodeID string
}

func (t Topics) base() string {
	return fmt.Sprintf("%s/%s", TopicPrefixNode, t.NodeID)
}

// Status returns the retained online/offline topic, also used for the LWT.
//
// Example: graylogic/node/esp-01/status
func (t Topics) Status() string {
	return t.base() + "/status"
}

// Heartbeat returns the periodic node status topic.
//
// Example: graylogic/node/esp-01/system/heartbeat
func (t Topics) Heartbeat() string {
	return t.base() + "/system/heartbeat"
}

// SensorData returns the topic for readings from the sensor on gpio.
//
// Example: graylogic/node/esp-01/sensor/34/data
func (t Topics) SensorData(gpio int) string {
	return fmt.Sprintf("%s/sensor/%d/data", t.base(), gpio)
}

// SensorStatus returns the retained configuration/health topic of a sensor.
//
// Example: graylogic/node/esp-01/sensor/34/status
func (t Topics) SensorStatus(gpio int) string {
	return fmt.Sprintf("%s/sensor/%d/status", t.base(), gpio)
}

// ActuatorStatus returns the retained state topic of an actuator.
//
// Example: graylogic/node/esp-01/actuator/5/status
func (t Topics) ActuatorStatus(gpio int) string {
	return fmt.Sprintf("%s/actuator/%d/status", t.base(), gpio)
}

// Alert returns the topic for safety and health alerts.
//
// Example: graylogic/node/esp-01/alert
func (t Topics) Alert() string {
	return t.base() + "/alert"
}

// Command returns the topic a named command is received on.
//
// Example: graylogic/node/esp-01/command/configure-sensor
func (t Topics) Command(name string) string {
	return fmt.Sprintf("%s/command/%s", t.base(), name)
}

// AllCommands returns a pattern matching every command for this node.
//
// Pattern: graylogic/node/esp-01/command/+
func (t Topics) AllCommands() string {
	return t.base() + "/command/+"
}

// Response returns the topic command responses are published on.
//
// Example: graylogic/node/esp-01/response
func (t Topics) Response() string {
	return t.base() + "/response"
}

// CommandName extracts the command name from a topic matched by AllCommands.
func (t Topics) CommandName(topic string) (string, bool) {
	prefix := t.base() + "/command/"
	name, ok := strings.CutPrefix(topic, prefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

