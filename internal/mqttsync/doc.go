// Package mqttsync keeps a region of an MQTT broker's retained-message
// space equal to a region of a local datacache document.
//
// This package manages:
//   - Publish/subscribe registries keyed by normalized selectors
//   - An ordered, per-topic deduplicated publication queue with optional
//     throttling and disconnect retry
//   - Reconciliation between atomic subdocument payloads and per-leaf
//     ("flat") retained messages, including transitions between the two
//   - Heartbeat-gated ordering on $SYS/broker/uptime
//   - Retained-state clearing, version-namespace migration, and
//     request/response RPC over topic pairs
//
// # Architecture
//
// The sync core never owns the broker connection. It consumes the Broker
// contract (subscribe with grant callback, retained publish, unsubscribe,
// message listener) and an externally managed connection:
//
//	local writers → Data cache → publication queue → broker retained store
//	broker messages → classification → Data cache (tagged external)
//
// Updates applied from broker messages carry the datacache external tag,
// which the publishing listeners use to break echo loops.
//
// # Wire format
//
// Payloads are JSON-encoded leaves or subdocuments. A nil value is encoded
// as a zero-length payload, and a zero-length payload decodes to nil.
// Topics follow the grammar in package topics.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Ordering guarantees (queue
// order, clears before rewrites, atomic-before-flat listener fan-out) hold
// per writing goroutine.
package mqttsync
