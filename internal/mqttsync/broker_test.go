package mqttsync

import (
	"sort"
	"strconv"
	"sync"

	"github.com/u3640877/transitive/internal/topics"
)

// publishRecord is one publish observed by the test broker.
type publishRecord struct {
	Topic    string
	Payload  string
	Retained bool
}

// testBroker simulates a broker: a retained store, per-client
// subscription routing with retained replay on subscribe, and a retained
// heartbeat on $SYS/broker/uptime.
type testBroker struct {
	mu       sync.Mutex
	retained map[string][]byte
	clients  []*testClient
	denied   map[string]bool
	log      []publishRecord
	uptime   int
}

func newTestBroker() *testBroker {
	return &testBroker{
		retained: map[string][]byte{HeartbeatTopic: []byte("0")},
		denied:   map[string]bool{},
	}
}

// client connects a new test client to the broker.
func (b *testBroker) client() *testClient {
	c := &testClient{b: b, connected: true, subs: map[string]byte{}}
	b.mu.Lock()
	b.clients = append(b.clients, c)
	b.mu.Unlock()
	return c
}

// heartbeat publishes one live uptime tick.
func (b *testBroker) heartbeat() {
	b.mu.Lock()
	b.uptime++
	payload := []byte("uptime " + strconv.Itoa(b.uptime))
	b.retained[HeartbeatTopic] = payload
	b.mu.Unlock()
	b.route(HeartbeatTopic, payload, true)
}

// route delivers a message to every client with a matching subscription.
func (b *testBroker) route(topic string, payload []byte, retained bool) {
	b.mu.Lock()
	clients := make([]*testClient, len(b.clients))
	copy(clients, b.clients)
	b.mu.Unlock()

	for _, c := range clients {
		c.deliverIfSubscribed(topic, payload, retained)
	}
}

// retainedState returns the retained store minus the heartbeat, decoded
// as strings.
func (b *testBroker) retainedState() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := map[string]string{}
	for t, p := range b.retained {
		if t == HeartbeatTopic {
			continue
		}
		out[t] = string(p)
	}
	return out
}

// publishLog returns all non-heartbeat publishes in order.
func (b *testBroker) publishLog() []publishRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]publishRecord, len(b.log))
	copy(out, b.log)
	return out
}

// testClient implements Broker against a testBroker.
type testClient struct {
	b         *testBroker
	mu        sync.Mutex
	connected bool
	subs      map[string]byte
	listeners []MessageFn
}

func (c *testClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *testClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

func (c *testClient) Subscribe(topic string, qos byte, cb func(err error, granted []Grant)) {
	c.b.mu.Lock()
	if c.b.denied[topic] {
		c.b.mu.Unlock()
		if cb != nil {
			cb(nil, []Grant{{Topic: topic, QoS: DeniedQoS}})
		}
		return
	}
	c.b.mu.Unlock()

	c.mu.Lock()
	c.subs[topic] = qos
	c.mu.Unlock()

	if cb != nil {
		cb(nil, []Grant{{Topic: topic, QoS: qos}})
	}

	// Replay retained messages matching the new subscription, in topic
	// order for determinism.
	c.b.mu.Lock()
	var matched []string
	for t := range c.b.retained {
		if _, ok := topics.MatchTopic(topic, t); ok || t == topic {
			matched = append(matched, t)
		}
	}
	sort.Strings(matched)
	payloads := make(map[string][]byte, len(matched))
	for _, t := range matched {
		payloads[t] = c.b.retained[t]
	}
	c.b.mu.Unlock()

	for _, t := range matched {
		c.deliver(t, payloads[t], true)
	}
}

func (c *testClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	c.b.mu.Lock()
	if retained {
		if len(payload) == 0 {
			delete(c.b.retained, topic)
		} else {
			c.b.retained[topic] = append([]byte(nil), payload...)
		}
	}
	if topic != HeartbeatTopic {
		c.b.log = append(c.b.log, publishRecord{Topic: topic, Payload: string(payload), Retained: retained})
	}
	c.b.mu.Unlock()

	c.b.route(topic, payload, retained)
	return nil
}

func (c *testClient) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	return nil
}

func (c *testClient) HandleMessage(fn MessageFn) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *testClient) hasSubscription(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

// deliverIfSubscribed routes a message through the client's subscription
// table. MQTT brokers deliver once per client even when several filters
// match.
func (c *testClient) deliverIfSubscribed(topic string, payload []byte, retained bool) {
	c.mu.Lock()
	match := false
	for sel := range c.subs {
		if sel == topic {
			match = true
			break
		}
		if _, ok := topics.MatchTopic(sel, topic); ok {
			match = true
			break
		}
	}
	c.mu.Unlock()
	if match {
		c.deliver(topic, payload, retained)
	}
}

func (c *testClient) deliver(topic string, payload []byte, retained bool) {
	c.mu.Lock()
	listeners := make([]MessageFn, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()
	for _, fn := range listeners {
		fn(topic, payload, retained)
	}
}
