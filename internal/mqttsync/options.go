package mqttsync

import (
	"time"

	"github.com/u3640877/transitive/internal/datacache"
)

// Timing constants.
const (
	// disconnectRetryDelay is how long the publication queue waits before
	// re-attempting the head entry after a publish found the broker
	// disconnected.
	disconnectRetryDelay = 5 * time.Second
)

// HeartbeatTopic is the broker uptime topic used to gate ordering of
// reconciliation steps. The broker publishes it retained on a fixed
// interval.
const HeartbeatTopic = "$SYS/broker/uptime"

// Sentinel is the reserved trailing segment under which the published
// mirror stores every sent value. It lets a retained value at /a and one
// at /a/b coexist in a single tree. It must never appear as an application
// segment.
const Sentinel = "$_"

// Logger defines the logging interface used by the sync core.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// PublishOptions configures one published selector.
type PublishOptions struct {
	// Atomic publishes the whole subdocument at the selector's grounded
	// topic as a single retained payload. When false, every leaf is
	// published at its own topic.
	Atomic bool
}

// Options configures a Sync instance.
type Options struct {
	// Client is the externally managed broker connection. Required.
	Client Broker

	// Logger receives operational logging. Defaults to a no-op logger.
	Logger Logger

	// QoS is used for sync publishes and subscriptions. RPC traffic is
	// always QoS 2 regardless of this setting.
	QoS byte

	// IgnoreRetain processes every inbound message as if it were retained.
	IgnoreRetain bool

	// SliceTopic drops the first N segments of every inbound topic before
	// classification. Namespace-slicing consumers use this to strip their
	// own prefix.
	SliceTopic int

	// Migrations run before the instance reports ready.
	Migrations []Migration

	// OnChange is called after a subscribed inbound update changed the
	// cache.
	OnChange func(changes datacache.ChangeSet)

	// OnReady is called exactly once: after the second broker heartbeat
	// (or after migrations, when any are configured) plus one additional
	// heartbeat.
	OnReady func()

	// OnHeartbeatGranted is called when the broker grants the heartbeat
	// subscription.
	OnHeartbeatGranted func()
}
