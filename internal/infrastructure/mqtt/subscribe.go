package mqtt

import (
	"fmt"
)

// Subscribe registers handler for topic, which may contain + and # wildcards.
// Handlers run on paho's goroutines.
//
// Every subscription is remembered and replayed after each reconnect. While
// the link is down the subscription is only remembered, so a node that boots
// without its broker still receives commands once the broker appears.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopic(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, topic)
	}

	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	err := waitToken(token, defaultPublishTimeout)
	if err != nil {
		c.mu.Lock()
		delete(c.subs, topic)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// HasSubscription reports whether topic (the exact filter string) is remembered.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[topic]
	return ok
}

// resubscribe replays every remembered subscription. Failures are logged;
// the next reconnect tries again.
func (c *Client) resubscribe() {
	c.mu.RLock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, s := range c.subs {
		subs[topic] = s
	}
	c.mu.RUnlock()

	for topic, s := range subs {
		topic := topic
		token := c.client.Subscribe(topic, s.qos, c.wrapHandler(s.handler))
		go func() {
			if err := waitToken(token, defaultPublishTimeout); err != nil {
				c.log().Warn("MQTT resubscribe failed", "topic", topic, "error", err)
			}
		}()
	}
}
