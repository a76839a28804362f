package mqttsync

import (
	"sync"
	"time"
)

// queueEntry is one pending retained publish. seq changes whenever the
// value is replaced so the drain loop can tell whether the entry it just
// published is still current.
type queueEntry struct {
	topic string
	value any
	seq   uint64
}

// pubQueue serializes outbound retained publishes.
//
// Entries are kept in insertion order with at most one entry per topic:
// re-enqueuing a topic replaces its value without moving it. A single
// drain loop runs at a time; when the broker is disconnected the head
// entry stays put and a retry fires after disconnectRetryDelay.
type pubQueue struct {
	mu      sync.Mutex
	entries []*queueEntry
	index   map[string]*queueEntry
	seq     uint64

	draining bool
	throttle time.Duration
	lastRun  time.Time
	trailing *time.Timer
	retry    *time.Timer

	publish   func(topic string, value any) error
	connected func() bool
	log       Logger
}

func newPubQueue(publish func(string, any) error, connected func() bool, log Logger) *pubQueue {
	return &pubQueue{
		index:     map[string]*queueEntry{},
		publish:   publish,
		connected: connected,
		log:       log,
	}
}

// enqueue records the most recent value for topic and triggers a drain.
func (q *pubQueue) enqueue(topic string, value any) {
	q.mu.Lock()
	q.seq++
	if e, ok := q.index[topic]; ok {
		e.value = value
		e.seq = q.seq
	} else {
		e := &queueEntry{topic: topic, value: value, seq: q.seq}
		q.entries = append(q.entries, e)
		q.index[topic] = e
	}
	q.mu.Unlock()
	q.trigger()
}

// setThrottle wraps the drain trigger in a leading-and-trailing throttle.
func (q *pubQueue) setThrottle(d time.Duration) {
	q.mu.Lock()
	q.throttle = d
	q.mu.Unlock()
}

// clearThrottle restores immediate draining.
func (q *pubQueue) clearThrottle() {
	q.mu.Lock()
	q.throttle = 0
	if q.trailing != nil {
		q.trailing.Stop()
		q.trailing = nil
	}
	q.mu.Unlock()
	q.trigger()
}

// depth returns the number of pending entries.
func (q *pubQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// trigger starts a drain unless one is running or the throttle defers it.
func (q *pubQueue) trigger() {
	q.mu.Lock()
	if q.throttle > 0 {
		since := time.Since(q.lastRun)
		if since < q.throttle {
			// Trailing edge: one deferred drain at the end of the window.
			if q.trailing == nil {
				q.trailing = time.AfterFunc(q.throttle-since, func() {
					q.mu.Lock()
					q.trailing = nil
					q.mu.Unlock()
					q.trigger()
				})
			}
			q.mu.Unlock()
			return
		}
		q.lastRun = time.Now()
	}
	if q.draining || len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()
	go q.drain()
}

// drain publishes entries head-first until the queue empties or the broker
// disconnects. The head entry is only removed after a publish attempt, and
// only when its value was not replaced mid-flight, so a newer value can
// never be lost to an older publish.
func (q *pubQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.entries) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		head := q.entries[0]
		if !q.connected() {
			q.draining = false
			if q.retry == nil {
				q.retry = time.AfterFunc(disconnectRetryDelay, func() {
					q.mu.Lock()
					q.retry = nil
					q.mu.Unlock()
					q.trigger()
				})
			}
			q.mu.Unlock()
			q.log.Warn("broker disconnected, publication deferred",
				"topic", head.topic,
				"retry_in", disconnectRetryDelay,
			)
			return
		}
		topic, value, seq := head.topic, head.value, head.seq
		q.mu.Unlock()

		err := q.publish(topic, value)

		q.mu.Lock()
		if len(q.entries) > 0 && q.entries[0] == head && head.seq == seq {
			q.entries = q.entries[1:]
			delete(q.index, topic)
		}
		q.mu.Unlock()

		if err != nil {
			q.log.Warn("retained publish failed", "topic", topic, "error", err)
		}
	}
}
