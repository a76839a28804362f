package topics

import "strings"

// EncodeSegment escapes a path segment for use in a topic.
//
// '%' is replaced before '/' so that decoding can invert the substitutions
// in the opposite order.
func EncodeSegment(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "/", "%2F")
	return s
}

// DecodeSegment inverts EncodeSegment.
func DecodeSegment(s string) string {
	s = strings.ReplaceAll(s, "%2F", "/")
	s = strings.ReplaceAll(s, "%25", "%")
	return s
}

// PathToTopic converts a path slice to its wire form: a leading slash plus
// the encoded segments joined with '/'. Named single-level wildcards
// ("+name") are emitted as bare '+' since wildcard names are selector
// grammar, not wire grammar.
func PathToTopic(path []string) string {
	if len(path) == 0 {
		return "/"
	}
	parts := make([]string, len(path))
	for i, seg := range path {
		if len(seg) >= 2 && seg[0] == '+' {
			parts[i] = "+"
			continue
		}
		parts[i] = EncodeSegment(seg)
	}
	return "/" + strings.Join(parts, "/")
}

// TopicToPath converts a topic to a path slice. Leading and trailing
// slashes are stripped; each segment is decoded. Wildcard characters are
// not interpreted here: they are grammar of selectors, not of topics.
func TopicToPath(topic string) []string {
	topic = strings.Trim(topic, "/")
	if topic == "" {
		return []string{}
	}
	raw := strings.Split(topic, "/")
	path := make([]string, len(raw))
	for i, seg := range raw {
		path[i] = DecodeSegment(seg)
	}
	return path
}

// Normalize returns the registry key form of a selector: the selector with
// a "/#" suffix appended when not already present. Registries key published
// and subscribed selectors by this form so "/a" and "/a/#" collapse to one
// entry.
func Normalize(selector string) string {
	selector = strings.TrimSuffix(selector, "/")
	if selector == "" {
		return "/#"
	}
	if strings.HasSuffix(selector, "/#") || selector == "#" {
		return selector
	}
	return selector + "/#"
}

// ToWire returns the broker-facing form of a selector: named wildcards
// collapse to bare '+' (wildcard names are local grammar), while '*' and
// '#' pass through unchanged.
func ToWire(selector string) string {
	return PathToTopic(TopicToPath(selector))
}

// PrefixLength returns the number of concrete segments a selector covers
// before its trailing multi-level wildcard, or the full segment count when
// there is none.
func PrefixLength(selector string) int {
	path := TopicToPath(selector)
	if n := len(path); n > 0 && path[n-1] == "#" {
		return n - 1
	}
	return len(path)
}
