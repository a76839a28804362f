package mqttsync

import "errors"

// Domain-specific errors for sync operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNoClient is returned by New when no broker client is supplied.
	ErrNoClient = errors.New("mqttsync: broker client is required")

	// ErrSubscribeDenied is surfaced through subscribe callbacks when the
	// broker grants a QoS >= 128. No retry is attempted.
	ErrSubscribeDenied = errors.New("mqttsync: subscription denied by broker")

	// ErrNotSubscribed is returned when unsubscribing a selector that was
	// never subscribed.
	ErrNotSubscribed = errors.New("mqttsync: selector not subscribed")

	// ErrReservedSegment is returned when a topic contains the internal
	// sentinel segment.
	ErrReservedSegment = errors.New("mqttsync: topic contains reserved segment")

	// ErrCallAborted is returned by CallContext when the context ends
	// before a response arrives.
	ErrCallAborted = errors.New("mqttsync: rpc call aborted")
)
