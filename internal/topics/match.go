package topics

// Match checks a selector path against a concrete path.
//
// On success it returns the bindings produced by named wildcards (possibly
// empty) and true. On any mismatch it returns nil and false.
//
// Semantics are segment-by-segment: '+' and '*' match exactly one segment,
// "+name" additionally binds the matched segment, and '#' in final position
// matches any tail, including the empty one.
func Match(selector, path []string) (map[string]string, bool) {
	bindings := map[string]string{}
	for i, sel := range selector {
		if sel == "#" {
			return bindings, true
		}
		if i >= len(path) {
			return nil, false
		}
		switch {
		case sel == "+" || sel == "*":
			// unnamed single-level wildcard
		case len(sel) >= 2 && sel[0] == '+':
			bindings[sel[1:]] = path[i]
		case sel != path[i]:
			return nil, false
		}
	}
	if len(path) != len(selector) {
		return nil, false
	}
	return bindings, true
}

// MatchTopic is Match over wire-form arguments.
func MatchTopic(selector, topic string) (map[string]string, bool) {
	return Match(TopicToPath(selector), TopicToPath(topic))
}

// IsSubTopicOf reports whether sub sits strictly below parent: parent's
// path must be a proper prefix of sub's.
func IsSubTopicOf(sub, parent string) bool {
	subPath := TopicToPath(sub)
	parentPath := TopicToPath(parent)
	if len(subPath) <= len(parentPath) {
		return false
	}
	for i, seg := range parentPath {
		if subPath[i] != seg {
			return false
		}
	}
	return true
}
