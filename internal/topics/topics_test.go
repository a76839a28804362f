package topics

import (
	"reflect"
	"testing"
)

func TestEncodeSegment(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "abc", "abc"},
		{"slash", "a/b", "a%2Fb"},
		{"percent", "100%", "100%25"},
		{"percent then slash", "%/", "%25%2F"},
		{"already encoded", "a%2Fb", "a%252Fb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeSegment(tt.in)
			if got != tt.want {
				t.Errorf("EncodeSegment(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if back := DecodeSegment(got); back != tt.in {
				t.Errorf("DecodeSegment(EncodeSegment(%q)) = %q, want round-trip", tt.in, back)
			}
		})
	}
}

func TestPathToTopic(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"empty", nil, "/"},
		{"simple", []string{"a", "b"}, "/a/b"},
		{"escaped", []string{"a/b", "c%d"}, "/a%2Fb/c%25d"},
		{"named wildcard collapses", []string{"+org", "status"}, "/+/status"},
		{"bare plus kept", []string{"+", "x"}, "/+/x"},
		{"star kept", []string{"*", "x"}, "/*/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PathToTopic(tt.in); got != tt.want {
				t.Errorf("PathToTopic(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTopicToPath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{}},
		{"root", "/", []string{}},
		{"leading slash stripped", "/a/b", []string{"a", "b"}},
		{"trailing slash stripped", "/a/b/", []string{"a", "b"}},
		{"no leading slash", "a/b", []string{"a", "b"}},
		{"decoded", "/a%2Fb/c%25d", []string{"a/b", "c%d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TopicToPath(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TopicToPath(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// Round-trip property: any topic with a leading slash, no trailing slash
// and no wildcards survives TopicToPath followed by PathToTopic.
func TestTopicRoundTrip(t *testing.T) {
	for _, topic := range []string{"/a", "/a/b/c", "/org/dev/@scope/cap/1.0.0", "/a%2Fb"} {
		if got := PathToTopic(TopicToPath(topic)); got != topic {
			t.Errorf("PathToTopic(TopicToPath(%q)) = %q, want identity", topic, got)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/a/b", "/a/b/#"},
		{"/a/b/#", "/a/b/#"},
		{"/a/b/", "/a/b/#"},
		{"", "/#"},
		{"#", "#"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToWire(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/+org/+dev/status/#", "/+/+/status/#"},
		{"/a/+/b", "/a/+/b"},
		{"/a/*/b", "/a/*/b"},
		{"/a/#", "/a/#"},
	}

	for _, tt := range tests {
		if got := ToWire(tt.in); got != tt.want {
			t.Errorf("ToWire(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrefixLength(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"/a/b/#", 2},
		{"/a/b", 2},
		{"/a/+/c/#", 3},
		{"/#", 0},
	}

	for _, tt := range tests {
		if got := PrefixLength(tt.in); got != tt.want {
			t.Errorf("PrefixLength(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
