package topics

import (
	"reflect"
	"testing"
)

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		name     string
		selector string
		topic    string
		want     map[string]string
		ok       bool
	}{
		{"exact", "/a/b", "/a/b", map[string]string{}, true},
		{"mismatch", "/a/b", "/a/c", nil, false},
		{"too short", "/a/b", "/a", nil, false},
		{"too long", "/a/b", "/a/b/c", nil, false},
		{"plus", "/a/+/c", "/a/b/c", map[string]string{}, true},
		{"star", "/a/*/c", "/a/b/c", map[string]string{}, true},
		{"named", "/+org/+dev/status", "/acme/r1/status", map[string]string{"org": "acme", "dev": "r1"}, true},
		{"hash tail", "/a/#", "/a/b/c/d", map[string]string{}, true},
		{"hash empty tail", "/a/#", "/a", map[string]string{}, true},
		{"named before hash", "/+org/#", "/acme/x/y", map[string]string{"org": "acme"}, true},
		{"hash wrong prefix", "/a/#", "/b/c", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchTopic(tt.selector, tt.topic)
			if ok != tt.ok {
				t.Fatalf("MatchTopic(%q, %q) ok = %v, want %v", tt.selector, tt.topic, ok, tt.ok)
			}
			if ok && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.selector, tt.topic, got, tt.want)
			}
		})
	}
}

func TestIsSubTopicOf(t *testing.T) {
	tests := []struct {
		sub    string
		parent string
		want   bool
	}{
		{"/a/b", "/a", true},
		{"/a/b/c", "/a", true},
		{"/a", "/a", false},
		{"/a", "/a/b", false},
		{"/b/c", "/a", false},
	}

	for _, tt := range tests {
		if got := IsSubTopicOf(tt.sub, tt.parent); got != tt.want {
			t.Errorf("IsSubTopicOf(%q, %q) = %v, want %v", tt.sub, tt.parent, got, tt.want)
		}
	}
}
