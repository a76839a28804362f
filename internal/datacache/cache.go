package datacache

import (
	"reflect"
	"sort"
	"sync"

	"github.com/u3640877/transitive/internal/topics"
)

// Cache is the hierarchical document store.
//
// The zero value is not usable; create instances with New.
type Cache struct {
	mu   sync.Mutex
	root map[string]any

	nextID ListenerID

	// Listener sets in registration order. Atomic listeners always fire
	// before flat listeners; whole-cache subscribers are part of the flat
	// set.
	atomic []*pathListener
	flat   []*flatListener
}

// pathListener is a topic-scoped listener on the atomic channel.
type pathListener struct {
	id       ListenerID
	selector []string
	fn       PathFn
}

// flatListener is either a whole-cache subscriber (selector nil) or a
// topic-scoped listener on the flat channel.
type flatListener struct {
	id       ListenerID
	selector []string
	whole    SubscribeFn
	fn       PathFn
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{root: map[string]any{}}
}

// Update writes value at path and notifies listeners.
//
// A nil value unsets the path and prunes empty ancestors. Writes that leave
// the stored value unchanged return an empty change set without notifying
// anyone, as does unsetting a path that holds nothing. The value is
// deep-cloned before storage.
//
// The returned change set holds the write flattened to per-leaf topics, in
// key order.
func (c *Cache) Update(path []string, value any, tags Tags) ChangeSet {
	value = deepClone(value)

	c.mu.Lock()
	topic := topics.PathToTopic(path)

	if value == nil {
		if _, ok := getNode(c.root, path); !ok {
			c.mu.Unlock()
			return nil
		}
		if len(path) == 0 {
			c.root = map[string]any{}
		} else {
			unset(c.root, path)
		}
		changes := ChangeSet{{Topic: topic, Value: nil}}
		atomicSet, flatSet := c.snapshotListeners()
		c.mu.Unlock()
		dispatch(atomicSet, flatSet, topic, nil, changes, tags)
		return changes
	}

	if existing, ok := getNode(c.root, path); ok && reflect.DeepEqual(existing, value) {
		c.mu.Unlock()
		return nil
	}

	if len(path) == 0 {
		m, ok := value.(map[string]any)
		if !ok {
			c.mu.Unlock()
			return nil
		}
		c.root = m
	} else {
		set(c.root, path, value)
	}
	changes := FlattenAt(path, value)
	atomicSet, flatSet := c.snapshotListeners()
	c.mu.Unlock()

	dispatch(atomicSet, flatSet, topic, value, changes, tags)
	return changes
}

// UpdateFromTopic is Update with a wire-form topic.
func (c *Cache) UpdateFromTopic(topic string, value any, tags Tags) ChangeSet {
	return c.Update(topics.TopicToPath(topic), value, tags)
}

// snapshotListeners copies both listener sets; the caller must hold c.mu.
func (c *Cache) snapshotListeners() ([]*pathListener, []*flatListener) {
	atomicSet := make([]*pathListener, len(c.atomic))
	copy(atomicSet, c.atomic)
	flatSet := make([]*flatListener, len(c.flat))
	copy(flatSet, c.flat)
	return atomicSet, flatSet
}

// dispatch fans a write out to both listener sets: atomic listeners first
// with the single changed entry, then flat listeners with the flattened
// change set.
func dispatch(atomicSet []*pathListener, flatSet []*flatListener, topic string, value any, changes ChangeSet, tags Tags) {
	changedPath := topics.TopicToPath(topic)
	for _, l := range atomicSet {
		if bindings, ok := topics.Match(l.selector, changedPath); ok {
			l.fn(value, topic, bindings, tags)
		}
	}
	for _, l := range flatSet {
		if l.whole != nil {
			l.whole(changes, tags)
			continue
		}
		for _, ch := range changes {
			if bindings, ok := topics.Match(l.selector, topics.TopicToPath(ch.Topic)); ok {
				l.fn(ch.Value, ch.Topic, bindings, tags)
			}
		}
	}
}

// Subscribe registers a whole-cache listener on the flat channel. Every
// write delivers its full flat change set.
func (c *Cache) Subscribe(fn SubscribeFn) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID()
	c.flat = append(c.flat, &flatListener{id: id, whole: fn})
	return id
}

// SubscribePath registers a selector-scoped listener on the atomic channel.
// The callback receives the written value (possibly a whole subdocument),
// the concrete topic, and any named-wildcard bindings.
func (c *Cache) SubscribePath(selector string, fn PathFn) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID()
	c.atomic = append(c.atomic, &pathListener{id: id, selector: topics.TopicToPath(selector), fn: fn})
	return id
}

// SubscribePathFlat registers a selector-scoped listener on the flat
// channel. The callback fires once per matched leaf of every write.
func (c *Cache) SubscribePathFlat(selector string, fn PathFn) ListenerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.newID()
	c.flat = append(c.flat, &flatListener{id: id, selector: topics.TopicToPath(selector), fn: fn})
	return id
}

// Unsubscribe removes a listener registered by any of the Subscribe
// methods. Unknown IDs are ignored.
func (c *Cache) Unsubscribe(id ListenerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, l := range c.atomic {
		if l.id == id {
			c.atomic = append(c.atomic[:i], c.atomic[i+1:]...)
			return
		}
	}
	for i, l := range c.flat {
		if l.id == id {
			c.flat = append(c.flat[:i], c.flat[i+1:]...)
			return
		}
	}
}

// newID allocates the next listener ID; the caller must hold c.mu.
func (c *Cache) newID() ListenerID {
	c.nextID++
	return c.nextID
}

// Get returns a deep copy of the value at path, or nil when nothing is
// stored there. An empty path returns the whole document.
func (c *Cache) Get(path []string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := getNode(c.root, path)
	if !ok {
		return nil
	}
	return deepClone(node)
}

// GetByTopic is Get with a wire-form topic.
func (c *Cache) GetByTopic(topic string) any {
	return c.Get(topics.TopicToPath(topic))
}

// Filter returns a deep copy of the document reduced to the subtrees
// matching the selector path. Wildcards are honoured; non-matching
// branches are pruned.
func (c *Cache) Filter(selector []string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := filterNode(c.root, selector)
	if out == nil {
		return map[string]any{}
	}
	return out
}

// FilterByTopic is Filter with a wire-form selector.
func (c *Cache) FilterByTopic(selector string) map[string]any {
	return c.Filter(topics.TopicToPath(selector))
}

// filterNode rebuilds the matching portion of node for the remaining
// selector segments, or returns nil when nothing matches.
func filterNode(node map[string]any, selector []string) map[string]any {
	if len(selector) == 0 || selector[0] == "#" {
		return deepClone(node).(map[string]any)
	}
	seg := selector[0]
	out := map[string]any{}
	for key, child := range node {
		if seg != "+" && seg != "*" && !(len(seg) >= 2 && seg[0] == '+') && seg != key {
			continue
		}
		if len(selector) == 1 {
			out[key] = deepClone(child)
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			continue
		}
		if sub := filterNode(childMap, selector[1:]); len(sub) > 0 {
			out[key] = sub
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// MatchFn receives one concrete match during iteration.
type MatchFn func(value any, path []string, bindings map[string]string)

// ForPathMatch invokes fn for every concrete path currently matching the
// selector. A trailing '#' grounds the iteration at the selector's prefix:
// fn receives each matching subdocument once, not each leaf. Values are
// deep copies.
func (c *Cache) ForPathMatch(selector []string, fn MatchFn) {
	c.mu.Lock()
	matches := collectMatches(c.root, selector, nil, map[string]string{})
	c.mu.Unlock()
	for _, m := range matches {
		fn(m.value, m.path, m.bindings)
	}
}

// ForMatch is ForPathMatch with a wire-form selector.
func (c *Cache) ForMatch(selector string, fn MatchFn) {
	c.ForPathMatch(topics.TopicToPath(selector), fn)
}

type match struct {
	value    any
	path     []string
	bindings map[string]string
}

// collectMatches walks node along the selector, branching at wildcards in
// key order.
func collectMatches(node any, selector []string, prefix []string, bindings map[string]string) []match {
	if len(selector) == 0 || selector[0] == "#" {
		return []match{{
			value:    deepClone(node),
			path:     append([]string(nil), prefix...),
			bindings: bindings,
		}}
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	seg := selector[0]

	named := ""
	wildcard := seg == "+" || seg == "*"
	if len(seg) >= 2 && seg[0] == '+' {
		wildcard = true
		named = seg[1:]
	}

	if !wildcard {
		child, ok := m[seg]
		if !ok {
			return nil
		}
		return collectMatches(child, selector[1:], appendPath(prefix, seg), bindings)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []match
	for _, k := range keys {
		next := bindings
		if named != "" {
			next = make(map[string]string, len(bindings)+1)
			for bk, bv := range bindings {
				next[bk] = bv
			}
			next[named] = k
		}
		out = append(out, collectMatches(m[k], selector[1:], appendPath(prefix, k), next)...)
	}
	return out
}

// appendPath copies prefix before extending it so recursive branches never
// share a backing array.
func appendPath(prefix []string, seg string) []string {
	out := make([]string, len(prefix)+1)
	copy(out, prefix)
	out[len(prefix)] = seg
	return out
}

// getNode resolves path inside root without copying.
func getNode(root map[string]any, path []string) (any, bool) {
	var node any = root
	for _, seg := range path {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}
