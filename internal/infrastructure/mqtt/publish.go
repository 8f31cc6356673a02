package mqtt

import (
	"fmt"
	"time"
)

// maxPayloadSize caps a single message. Status reports with a full pin table
// are the largest payloads a node sends.
const maxPayloadSize = 256 << 10

func checkTopic(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: %d", ErrInvalidQoS, qos)
	}
	return nil
}

// Publish sends payload to topic and waits for the broker's acknowledgment
// (QoS 1 and 2) or for the write to complete (QoS 0).
//
// Retain status topics only. Readings, alerts and command responses are
// events and must not be retained.
//
// While the link is down Publish returns ErrNotConnected immediately
// instead of letting paho queue the message.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	start := time.Now()
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: no ack on %s within %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	if elapsed := time.Since(start); elapsed > slowPublish {
		c.log().Warn("slow MQTT publish", "topic", topic, "elapsed", elapsed)
	}
	return nil
}
