package mqttsync

import (
	"strings"
	"sync"

	"github.com/u3640877/transitive/internal/topics"
)

// ClearOptions tunes Clear.
type ClearOptions struct {
	// Filter, when set, limits clearing to topics it returns true for.
	Filter func(topic string) bool
}

// Clear erases the broker's retained messages under each prefix.
//
// For each prefix the core subscribes prefix/#, seeds the candidate set
// with already-received matching topics, collects further matching
// arrivals (retained or not) until the next heartbeat, then unsubscribes and publishes a
// zero-length retained payload to every collected topic. The heartbeat
// gate guarantees the broker has replayed its retained store before the
// clears go out.
//
// done, when non-nil, receives the total number of topics cleared across
// all prefixes.
func (s *Sync) Clear(prefixes []string, done func(count int), opts ClearOptions) {
	if len(prefixes) == 0 {
		if done != nil {
			done(0)
		}
		return
	}

	var mu sync.Mutex
	total := 0
	remaining := len(prefixes)

	for _, p := range prefixes {
		prefix := strings.TrimSuffix(p, "/")
		selector := prefix + "/#"

		collected := map[string]struct{}{}
		matches := func(topic string) bool {
			return topic == prefix || topics.IsSubTopicOf(topic, prefix)
		}

		mu.Lock()
		s.mu.Lock()
		for t := range s.receivedTopics {
			if matches(t) {
				collected[t] = struct{}{}
			}
		}
		s.mu.Unlock()
		mu.Unlock()

		listener := s.addRawListener(func(topic string, _ []byte, _ bool) {
			if matches(topic) {
				mu.Lock()
				collected[topic] = struct{}{}
				mu.Unlock()
			}
		})

		s.client.Subscribe(selector, s.qos, func(err error, granted []Grant) {
			if err != nil {
				s.log.Warn("clear subscription failed", "selector", selector, "error", err)
			}
		})

		s.WaitForHeartbeatOnce(func() {
			s.removeRawListener(listener)
			if err := s.client.Unsubscribe(selector); err != nil {
				s.log.Warn("clear unsubscribe failed", "selector", selector, "error", err)
			}

			mu.Lock()
			targets := make([]string, 0, len(collected))
			for t := range collected {
				targets = append(targets, t)
			}
			mu.Unlock()

			cleared := 0
			for _, t := range targets {
				if opts.Filter != nil && !opts.Filter(t) {
					continue
				}
				if err := s.client.Publish(t, nil, s.qos, true); err != nil {
					s.log.Warn("clearing retained message failed", "topic", t, "error", err)
					continue
				}
				cleared++
			}

			mu.Lock()
			total += cleared
			remaining--
			finished := remaining == 0
			count := total
			mu.Unlock()

			if finished && done != nil {
				done(count)
			}
		})
	}
}
