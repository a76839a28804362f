package datacache

import (
	"sort"

	"github.com/u3640877/transitive/internal/topics"
)

// ToFlatObject converts a nested document to a mapping from encoded topic
// to leaf value. Keys are the '/'-joined percent-encoded paths of each
// leaf, without a leading slash. Arrays and any non-map values terminate
// descent and become leaves.
//
// Flattening is not idempotent: a key that already contains '/' is encoded
// again if the result is re-flattened.
func ToFlatObject(doc any) map[string]any {
	out := map[string]any{}
	for _, c := range Flatten(nil, doc) {
		out[c.Topic] = c.Value
	}
	return out
}

// Flatten walks doc in key order and returns one Change per leaf, with
// encoded topics relative to prefix.
func Flatten(prefix []string, doc any) ChangeSet {
	m, ok := doc.(map[string]any)
	if !ok || len(m) == 0 {
		if len(prefix) == 0 {
			return nil
		}
		topic := ""
		for i, seg := range prefix {
			if i > 0 {
				topic += "/"
			}
			topic += topics.EncodeSegment(seg)
		}
		return ChangeSet{{Topic: topic, Value: doc}}
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out ChangeSet
	for _, k := range keys {
		out = append(out, Flatten(append(prefix, k), m[k])...)
	}
	return out
}

// FlattenAt is Flatten with every topic grounded below an absolute prefix
// path, producing wire-form topics with a leading slash.
func FlattenAt(prefix []string, doc any) ChangeSet {
	rel := Flatten(nil, doc)
	base := topics.PathToTopic(prefix)
	if base == "/" {
		base = ""
	}
	out := make(ChangeSet, 0, len(rel))
	for _, c := range rel {
		if c.Topic == "" {
			out = append(out, Change{Topic: base, Value: c.Value})
			continue
		}
		out = append(out, Change{Topic: base + "/" + c.Topic, Value: c.Value})
	}
	if len(rel) == 0 {
		// The document is itself a leaf (scalar, array, or empty map): one
		// entry at the prefix carries it.
		out = append(out, Change{Topic: base, Value: doc})
	}
	return out
}

// UpdateObject applies a modifier to a nested document in order. Each
// entry's topic addresses a leaf; nil unsets the leaf and prunes empty
// ancestors. The modified document is returned (the input map is modified
// in place when non-nil).
func UpdateObject(doc map[string]any, modifier ChangeSet) map[string]any {
	if doc == nil {
		doc = map[string]any{}
	}
	for _, c := range modifier {
		path := topics.TopicToPath(c.Topic)
		if c.Value == nil {
			unset(doc, path)
			continue
		}
		set(doc, path, c.Value)
	}
	return doc
}

// set writes value at path, replacing any leaf found on the way down.
func set(doc map[string]any, path []string, value any) {
	if len(path) == 0 {
		return
	}
	node := doc
	for _, seg := range path[:len(path)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[seg] = child
		}
		node = child
	}
	node[path[len(path)-1]] = value
}

// unset removes the node at path and prunes every ancestor left empty.
func unset(doc map[string]any, path []string) {
	if len(path) == 0 {
		return
	}
	nodes := make([]map[string]any, 0, len(path))
	node := doc
	for _, seg := range path[:len(path)-1] {
		nodes = append(nodes, node)
		child, ok := node[seg].(map[string]any)
		if !ok {
			return
		}
		node = child
	}
	nodes = append(nodes, node)

	delete(node, path[len(path)-1])
	for i := len(nodes) - 2; i >= 0; i-- {
		if len(nodes[i+1]) > 0 {
			break
		}
		delete(nodes[i], path[i])
	}
}

// deepClone copies a JSON document so callers and the cache never share
// mutable structure.
func deepClone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = deepClone(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = deepClone(child)
		}
		return out
	default:
		return v
	}
}
