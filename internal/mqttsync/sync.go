package mqttsync

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/u3640877/transitive/internal/datacache"
	"github.com/u3640877/transitive/internal/topics"
)

// Sync reconciles a region of the local data cache with the broker's
// retained-message space.
//
// Local writes to Data (without the external tag) flow out through the
// publication queue; inbound retained messages on subscribed selectors
// flow into Data tagged external. The published mirror tracks what has
// been sent so mode transitions can undo stale retained state.
type Sync struct {
	client Broker
	log    Logger
	opts   Options
	qos    byte

	// Data is the document shared through the broker. Local consumers
	// read and subscribe here.
	Data *datacache.Cache

	// published mirrors what has been sent to the broker as retained,
	// each value stored under its topic path plus the Sentinel segment.
	published *datacache.Cache

	queue *pubQueue

	mu              sync.Mutex
	publishedPaths  map[string]PublishOptions
	publishedSubs   map[string]datacache.ListenerID
	subscribedPaths map[string]struct{}
	receivedTopics  map[string]struct{}

	heartbeats   int
	waiters      []func()
	hooks        []func()
	nextListener int
	listeners    []*rawListener

	rpcHandlers map[string]Handler
	rpcCalls    map[string]func(result any)
}

// rawListener receives every inbound non-heartbeat message with its raw
// topic. Clear uses these to observe retained arrivals.
type rawListener struct {
	id int
	fn MessageFn
}

// New creates a Sync on an externally managed broker connection.
//
// It installs a message listener on the client, subscribes the heartbeat
// topic, and arranges the readiness chain: OnReady fires after the second
// broker heartbeat (or after all configured migrations) plus one
// additional heartbeat.
func New(opts Options) (*Sync, error) {
	if opts.Client == nil {
		return nil, ErrNoClient
	}
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}

	s := &Sync{
		client:          opts.Client,
		log:             log,
		opts:            opts,
		qos:             opts.QoS,
		Data:            datacache.New(),
		published:       datacache.New(),
		publishedPaths:  map[string]PublishOptions{},
		publishedSubs:   map[string]datacache.ListenerID{},
		subscribedPaths: map[string]struct{}{},
		receivedTopics:  map[string]struct{}{},
		rpcHandlers:     map[string]Handler{},
		rpcCalls:        map[string]func(any){},
	}
	s.queue = newPubQueue(s.publishValue, opts.Client.IsConnected, log)

	opts.Client.HandleMessage(s.handleMessage)

	opts.Client.Subscribe(HeartbeatTopic, opts.QoS, func(err error, granted []Grant) {
		if err != nil {
			log.Warn("heartbeat subscription failed", "error", err)
			return
		}
		for _, g := range granted {
			if g.QoS >= DeniedQoS {
				log.Warn("heartbeat subscription denied", "topic", g.Topic)
				return
			}
		}
		if opts.OnHeartbeatGranted != nil {
			opts.OnHeartbeatGranted()
		}
	})

	if opts.OnReady != nil || len(opts.Migrations) > 0 {
		s.WaitForHeartbeatOnce(func() {
			finish := func() {
				if opts.OnReady != nil {
					s.WaitForHeartbeatOnce(opts.OnReady)
				}
			}
			if len(opts.Migrations) > 0 {
				s.Migrate(opts.Migrations, finish)
			} else {
				finish()
			}
		})
	}

	return s, nil
}

// publishValue encodes value and sends it retained. The queue calls this
// for each drained entry.
func (s *Sync) publishValue(topic string, value any) error {
	payload, err := encodePayload(value)
	if err != nil {
		return err
	}
	return s.client.Publish(topic, payload, s.qos, true)
}

// encodePayload renders a cache value for the wire. nil becomes a
// zero-length payload, which brokers treat as "clear retained".
func encodePayload(value any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return payload, nil
}

// decodePayload parses a wire payload. Zero-length decodes to nil.
func decodePayload(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return value, nil
}

// =============================================================================
// Inbound classification
// =============================================================================

// handleMessage classifies one inbound broker message: heartbeat, RPC
// request, RPC response, or sync traffic.
func (s *Sync) handleMessage(topic string, payload []byte, retained bool) {
	if topic == HeartbeatTopic {
		s.handleHeartbeat()
		return
	}

	s.mu.Lock()
	s.receivedTopics[topic] = struct{}{}
	raw := make([]*rawListener, len(s.listeners))
	copy(raw, s.listeners)

	logical := topic
	if s.opts.SliceTopic > 0 {
		path := topics.TopicToPath(topic)
		if len(path) < s.opts.SliceTopic {
			s.mu.Unlock()
			return
		}
		logical = topics.PathToTopic(path[s.opts.SliceTopic:])
	}

	handler := s.rpcHandlers[logical]
	callback, isResponse := s.rpcCalls[logical]
	if isResponse {
		delete(s.rpcCalls, logical)
	}

	var publishedFlat bool
	if handler == nil && !isResponse {
		for sel, popts := range s.publishedPaths {
			if popts.Atomic {
				continue
			}
			if _, ok := topics.MatchTopic(sel, logical); ok {
				publishedFlat = true
				break
			}
		}
	}
	var subscribed bool
	if handler == nil && !isResponse && !publishedFlat {
		for sel := range s.subscribedPaths {
			if _, ok := topics.MatchTopic(sel, logical); ok {
				subscribed = true
				break
			}
		}
	}
	s.mu.Unlock()

	for _, l := range raw {
		l.fn(topic, payload, retained)
	}

	switch {
	case handler != nil:
		s.dispatchRequest(logical, handler, payload)

	case isResponse:
		s.dispatchResponse(logical, callback, payload)

	case retained || s.opts.IgnoreRetain:
		if publishedFlat {
			value, err := decodePayload(payload)
			if err != nil {
				// Round-tripped state we published is always JSON; anything
				// else on this topic is foreign traffic.
				s.log.Warn("ignoring non-JSON payload on published topic",
					"topic", logical, "error", err)
				return
			}
			path := topics.TopicToPath(logical)
			s.published.Update(append(path, Sentinel), value, nil)
			s.Data.UpdateFromTopic(logical, value, datacache.Tags{datacache.TagExternal: true})
			return
		}
		if subscribed {
			value, err := decodePayload(payload)
			if err != nil {
				s.log.Debug("treating malformed payload as deletion", "topic", logical)
				value = nil
			}
			changes := s.Data.UpdateFromTopic(logical, value, datacache.Tags{datacache.TagExternal: true})
			if len(changes) > 0 && s.opts.OnChange != nil {
				s.opts.OnChange(changes)
			}
		}
	}
}

// addRawListener registers a temporary listener for raw inbound topics.
func (s *Sync) addRawListener(fn MessageFn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextListener++
	s.listeners = append(s.listeners, &rawListener{id: s.nextListener, fn: fn})
	return s.nextListener
}

func (s *Sync) removeRawListener(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.listeners {
		if l.id == id {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// =============================================================================
// Subscribe / Publish registries
// =============================================================================

// Subscribe registers interest in a selector and asks the broker for the
// subscription. The callback receives nil on grant, ErrSubscribeDenied
// when the broker answers with QoS >= 128, or the transport error. A
// selector already subscribed reports success immediately.
func (s *Sync) Subscribe(selector string, cb func(err error)) {
	sel := topics.Normalize(selector)

	s.mu.Lock()
	if _, ok := s.subscribedPaths[sel]; ok {
		s.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
		return
	}
	s.mu.Unlock()

	s.client.Subscribe(topics.ToWire(sel), s.qos, func(err error, granted []Grant) {
		if err != nil {
			if cb != nil {
				cb(err)
			}
			return
		}
		for _, g := range granted {
			if g.QoS >= DeniedQoS {
				if cb != nil {
					cb(fmt.Errorf("%w: %s", ErrSubscribeDenied, g.Topic))
				}
				return
			}
		}
		s.mu.Lock()
		s.subscribedPaths[sel] = struct{}{}
		s.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
	})
}

// Unsubscribe removes a subscribed selector and tells the broker.
func (s *Sync) Unsubscribe(selector string) error {
	sel := topics.Normalize(selector)

	s.mu.Lock()
	_, ok := s.subscribedPaths[sel]
	delete(s.subscribedPaths, sel)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, sel)
	}
	return s.client.Unsubscribe(topics.ToWire(sel))
}

// Publish registers a selector whose cache region is kept equal to broker
// retained state. It returns false when the selector is already published
// with identical options.
//
// In atomic mode every change publishes the whole subdocument at the
// selector's grounded topic. In flat mode every leaf is published at its
// own topic, and the client additionally subscribes to the selector so
// round-tripped retained messages keep the published mirror accurate.
func (s *Sync) Publish(selector string, popts PublishOptions) (bool, error) {
	sel := topics.Normalize(selector)
	for _, seg := range topics.TopicToPath(sel) {
		if seg == Sentinel {
			return false, fmt.Errorf("%w: %s", ErrReservedSegment, sel)
		}
	}
	prefixLen := topics.PrefixLength(sel)

	s.mu.Lock()
	if cur, ok := s.publishedPaths[sel]; ok && cur == popts {
		s.mu.Unlock()
		return false, nil
	}
	if id, ok := s.publishedSubs[sel]; ok {
		s.Data.Unsubscribe(id)
		delete(s.publishedSubs, sel)
	}
	s.publishedPaths[sel] = popts
	s.mu.Unlock()

	var id datacache.ListenerID
	if popts.Atomic {
		id = s.Data.SubscribePath(sel, func(_ any, topic string, _ map[string]string, tags datacache.Tags) {
			if tags.External() {
				return
			}
			path := topics.TopicToPath(topic)
			if len(path) > prefixLen {
				path = path[:prefixLen]
			}
			grounded := topics.PathToTopic(path)
			s.syncOut(grounded, s.Data.GetByTopic(grounded))
		})
	} else {
		s.client.Subscribe(topics.ToWire(sel), s.qos, func(err error, granted []Grant) {
			if err != nil {
				s.log.Warn("publish-side subscription failed", "selector", sel, "error", err)
			}
		})
		id = s.Data.SubscribePathFlat(sel, func(value any, topic string, _ map[string]string, tags datacache.Tags) {
			if tags.External() {
				return
			}
			s.syncOut(topic, value)
		})
	}

	s.mu.Lock()
	s.publishedSubs[sel] = id
	s.mu.Unlock()
	return true, nil
}

// =============================================================================
// Outbound reconciliation
// =============================================================================

// syncOut reconciles mode transitions around topic and then enqueues the
// new value. The queue's ordering guarantees the broker sees clears, then
// rewrites, then the new write.
func (s *Sync) syncOut(topic string, value any) {
	s.clearStaleDescendants(topic)
	s.reifyStaleAncestors(topic)
	s.enqueue(topic, value)
}

// clearStaleDescendants enqueues a retained clear for every finer-grained
// message below topic still present in the published mirror. Writing a
// coarser value would otherwise leave the old per-leaf retained messages
// shadowing it.
func (s *Sync) clearStaleDescendants(topic string) {
	path := topics.TopicToPath(topic)
	sub, ok := s.published.Get(path).(map[string]any)
	if !ok {
		return
	}
	for _, t := range sentinelTopics(sub, path) {
		if t != topic {
			s.enqueue(t, nil)
		}
	}
}

// sentinelTopics walks a published-mirror subtree and returns the real
// topic of every node that has a value stored under its Sentinel child,
// in key order.
func sentinelTopics(node map[string]any, prefix []string) []string {
	var out []string
	if v, ok := node[Sentinel]; ok && v != nil {
		out = append(out, topics.PathToTopic(prefix))
	}
	keys := make([]string, 0, len(node))
	for k := range node {
		if k != Sentinel {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if child, ok := node[k].(map[string]any); ok {
			out = append(out, sentinelTopics(child, append(append([]string{}, prefix...), k))...)
		}
	}
	return out
}

// reifyStaleAncestors handles the atomic-to-flat direction: when an
// ancestor of topic still has an atomic subdocument retained, that
// coarser message is cleared and its leaves re-published individually so
// the new finer-grained write is not shadowed.
func (s *Sync) reifyStaleAncestors(topic string) {
	path := topics.TopicToPath(topic)
	for i := 1; i < len(path); i++ {
		anc := path[:i]
		old, ok := s.published.Get(append(append([]string{}, anc...), Sentinel)).(map[string]any)
		if !ok || len(old) == 0 {
			continue
		}
		s.enqueue(topics.PathToTopic(anc), nil)
		for _, ch := range datacache.FlattenAt(anc, old) {
			s.enqueue(ch.Topic, ch.Value)
		}
	}
}

// enqueue records the publish intent in the mirror and queues the value.
// The mirror write is optimistic: reconciliation decisions made before the
// drain reaches the broker must see what will arrive there, not the stale
// pre-enqueue state.
func (s *Sync) enqueue(topic string, value any) {
	path := append(topics.TopicToPath(topic), Sentinel)
	s.published.Update(path, value, nil)
	s.queue.enqueue(topic, value)
}

// SetThrottle batches queue drains: at most one drain per window, with a
// trailing drain for writes that land mid-window.
func (s *Sync) SetThrottle(window time.Duration) {
	s.queue.setThrottle(window)
}

// ClearThrottle restores immediate draining.
func (s *Sync) ClearThrottle() {
	s.queue.clearThrottle()
}

// QueueDepth reports the number of pending retained publishes.
func (s *Sync) QueueDepth() int {
	return s.queue.depth()
}

// =============================================================================
// Heartbeat
// =============================================================================

// handleHeartbeat processes one $SYS/broker/uptime tick. The first
// message is the broker's retained copy: it reflects past state and is
// counted without waking waiters. Waiters registered while a tick is
// being delivered fire on the next tick.
func (s *Sync) handleHeartbeat() {
	s.mu.Lock()
	s.heartbeats++
	if s.heartbeats == 1 {
		s.mu.Unlock()
		return
	}
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		w()
	}
}

// WaitForHeartbeatOnce registers fn for the next live broker heartbeat.
func (s *Sync) WaitForHeartbeatOnce(fn func()) {
	s.mu.Lock()
	s.waiters = append(s.waiters, fn)
	s.mu.Unlock()
}

// HeartbeatCount returns the number of heartbeats seen, including the
// initial retained one.
func (s *Sync) HeartbeatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats
}

// =============================================================================
// Lifecycle hooks
// =============================================================================

// OnBeforeDisconnect registers a hook to run synchronously before the
// owner tears the broker connection down.
func (s *Sync) OnBeforeDisconnect(fn func()) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// BeforeDisconnect runs all registered hooks in registration order.
func (s *Sync) BeforeDisconnect() {
	s.mu.Lock()
	hooks := make([]func(), len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}
