// Package history records flat cache changes to SQLite.
//
// The recorder subscribes to the data cache and appends one row per leaf
// change: timestamp, topic, JSON value (NULL for deletions), and whether
// the change arrived from the broker or a local writer. It is a write-only
// telemetry sink: nothing is ever read back into the cache, which keeps
// the broker's retained store the single source of truth across restarts.
package history
