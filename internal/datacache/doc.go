// Package datacache implements the in-memory hierarchical document shared
// through the broker's retained-message space.
//
// This package manages:
//   - A rooted tree of string-keyed nodes holding arbitrary JSON leaves
//   - Change notification on two channels: atomic (the written subdocument
//     as a single entry) and flat (the written subdocument fully flattened
//     into per-leaf topics)
//   - Topic-scoped subscriptions with wildcard selectors and named bindings
//   - Deep-clone reads, wildcard filtering, and match iteration
//
// # Data model
//
// Interior nodes are maps from segment to child node; leaves are arbitrary
// JSON values. Arrays are opaque leaves: the flattener never descends into
// them. A node holds either a leaf value or children, never both. No empty
// interior node persists; ancestors left empty by an unset are pruned.
//
// Values are deep-cloned on write and on read, so callers can never mutate
// the tree behind the cache's back.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Listeners fire synchronously on
// the updating goroutine, atomic listeners before flat listeners, in
// registration order within each set.
package datacache
