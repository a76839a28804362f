package datacache

// Tags is an opaque mapping threaded from a writer to every listener the
// write reaches. The sync layer uses it to mark updates that originated
// from broker messages so its publishers can ignore them.
type Tags map[string]any

// TagExternal marks an update that was applied from an inbound broker
// message rather than by a local writer.
const TagExternal = "external"

// External reports whether the tags carry the external marker.
func (t Tags) External() bool {
	if t == nil {
		return false
	}
	v, ok := t[TagExternal].(bool)
	return ok && v
}

// Change is a single flat change: the full topic of a leaf and its new
// value, nil meaning the leaf was removed.
type Change struct {
	Topic string
	Value any
}

// ChangeSet is an ordered list of flat changes. Order follows the
// key-ordered walk of the written subdocument, which downstream consumers
// rely on when serializing publishes.
type ChangeSet []Change

// Map returns the change set as a topic-keyed map, losing order.
func (cs ChangeSet) Map() map[string]any {
	m := make(map[string]any, len(cs))
	for _, c := range cs {
		m[c.Topic] = c.Value
	}
	return m
}

// SubscribeFn receives whole-cache flat change sets.
type SubscribeFn func(changes ChangeSet, tags Tags)

// PathFn receives a single matched change: the value written (possibly a
// subdocument on the atomic channel), the concrete topic, the bindings
// produced by named wildcards in the selector, and the writer's tags.
type PathFn func(value any, topic string, bindings map[string]string, tags Tags)

// ListenerID identifies a registered listener for Unsubscribe.
type ListenerID int
