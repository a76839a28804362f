package mqttsync

// Grant reports the broker's answer to one topic of a subscribe request.
// A QoS of 128 or above denotes permission denial.
type Grant struct {
	Topic string
	QoS   byte
}

// DeniedQoS is the lowest granted QoS value that signals a rejected
// subscription.
const DeniedQoS = 128

// MessageFn receives one inbound broker message. The retained flag is the
// broker's, not the publisher's: it is set on messages replayed from the
// retained store.
type MessageFn func(topic string, payload []byte, retained bool)

// Broker is the externally supplied MQTT collaborator. The sync core never
// connects, reconnects, or tears the client down; it only subscribes,
// publishes, and listens.
//
// Implementations must deliver every subscribed message to every listener
// installed with HandleMessage, and should subscribe with
// retain-as-published semantics where the broker supports them.
type Broker interface {
	// IsConnected reports the current connection state.
	IsConnected() bool

	// Subscribe asks the broker for a subscription and reports the result
	// through cb. Granted entries with QoS >= DeniedQoS are permission
	// failures.
	Subscribe(topic string, qos byte, cb func(err error, granted []Grant))

	// Publish sends payload to topic. A nil or empty payload with retain
	// set clears the topic's retained message.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Unsubscribe removes a subscription.
	Unsubscribe(topic string) error

	// HandleMessage installs a listener for all inbound messages.
	HandleMessage(fn MessageFn)
}
