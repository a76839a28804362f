package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/u3640877/transitive/internal/mqttsync"
)

// Subscribe asks the broker for a subscription and reports the outcome
// through cb, satisfying the sync core's Broker contract.
//
// Topics can include MQTT wildcards:
//   - + (single-level): "/acme/+/status" matches any device's status
//   - # (multi-level): "/acme/#" matches the whole organization
//
// The grant slice carries the broker's per-topic answer; a granted QoS of
// 128 or above denotes permission denial. Subscriptions are automatically
// restored if the connection is lost and reconnected.
//
// An empty topic, an invalid QoS or a disconnected client is reported to
// the callback synchronously; otherwise the callback runs on a separate
// goroutine once the broker acknowledges (or the operation times out).
func (c *Client) Subscribe(topic string, qos byte, cb func(err error, granted []mqttsync.Grant)) {
	report := func(err error, granted []mqttsync.Grant) {
		if cb != nil {
			cb(err, granted)
		}
	}

	if topic == "" {
		report(ErrInvalidTopic, nil)
		return
	}
	if qos > maxQoS {
		report(ErrInvalidQoS, nil)
		return
	}
	if !c.IsConnected() {
		report(ErrNotConnected, nil)
		return
	}

	token := c.client.Subscribe(topic, qos, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.route(msg)
	})

	go func() {
		if !token.WaitTimeout(defaultOpTimeout) {
			report(fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultOpTimeout), nil)
			return
		}
		if err := token.Error(); err != nil {
			report(fmt.Errorf("%w: %w", ErrSubscribeFailed, err), nil)
			return
		}

		granted := []mqttsync.Grant{{Topic: topic, QoS: qos}}
		if st, ok := token.(*pahomqtt.SubscribeToken); ok {
			granted = granted[:0]
			for t, q := range st.Result() {
				granted = append(granted, mqttsync.Grant{Topic: t, QoS: q})
			}
		}

		// Track for reconnection restoration only once granted.
		denied := false
		for _, g := range granted {
			if g.QoS >= mqttsync.DeniedQoS {
				denied = true
			}
		}
		if !denied {
			c.subMu.Lock()
			c.subscriptions[topic] = qos
			c.subMu.Unlock()
		}

		report(nil, granted)
	}()
}

// Unsubscribe removes a subscription and stops receiving messages for a topic.
//
// After unsubscribing, listeners will no longer receive messages routed
// through this subscription. Any messages in flight may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultOpTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultOpTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// HandleMessage installs a listener for every inbound message. Listeners
// are never removed; install them once at startup.
func (c *Client) HandleMessage(fn mqttsync.MessageFn) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, fn)
	c.listenerMu.Unlock()
}

// SubscriptionCount returns the number of active subscriptions.
//
// This can be useful for monitoring and debugging.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
