package mqttsync

import (
	"reflect"
	"testing"
)

// =============================================================================
// Version ordering
// =============================================================================

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.1.0", -1},
		{"1.1.0", "1.0.0", 1},
		{"1.2.3", "1.2.3", 0},
		{"2.0.0", "10.0.0", -1},
		{"1.2", "1.2.0", -1}, // unspecified part is the minimum
		{"1", "1.0", -1},
		{"1.2.1", "1.2", 1},
	}

	for _, tt := range tests {
		if got := compareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("compareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"a": float64(1),
		"sub": map[string]any{
			"x": float64(1),
		},
	}
	deepMerge(dst, map[string]any{
		"b": float64(2),
		"sub": map[string]any{
			"y": float64(2),
			"x": float64(9),
		},
	})

	want := map[string]any{
		"a": float64(1),
		"b": float64(2),
		"sub": map[string]any{
			"x": float64(9),
			"y": float64(2),
		},
	}
	if !reflect.DeepEqual(dst, want) {
		t.Errorf("deepMerge() = %v, want %v", dst, want)
	}
}

// =============================================================================
// Migration runs
// =============================================================================

func seedVersions(b *testBroker) {
	other := b.client()
	other.Publish("/org/dev/@s/cap/1.0.0/x", []byte(`{"a":1}`), 1, true)
	other.Publish("/org/dev/@s/cap/1.1.0/x", []byte(`{"b":2}`), 1, true)
}

func TestMigrationMerge(t *testing.T) {
	b := newTestBroker()
	seedVersions(b)
	s, _ := newTestSync(t, b, Options{})

	done := false
	s.Migrate([]Migration{{Topic: "/org/dev/@s/cap/+/x", NewVersion: "1.2.0"}}, func() { done = true })

	b.heartbeat() // retained arrival gate
	b.heartbeat() // pre-clear gate
	b.heartbeat() // clear collection gate
	if !done {
		t.Fatal("Migrate() never completed")
	}

	want := map[string]string{"/org/dev/@s/cap/1.2.0/x": `{"a":1,"b":2}`}
	if got := b.retainedState(); !reflect.DeepEqual(got, want) {
		t.Errorf("retained = %v, want %v", got, want)
	}
}

func TestMigrationSkipsNewerVersions(t *testing.T) {
	b := newTestBroker()
	seedVersions(b)
	other := b.client()
	other.Publish("/org/dev/@s/cap/9.0.0/x", []byte(`{"z":9}`), 1, true)

	s, _ := newTestSync(t, b, Options{})
	done := false
	s.Migrate([]Migration{{Topic: "/org/dev/@s/cap/+/x", NewVersion: "1.2.0"}}, func() { done = true })
	b.heartbeat()
	b.heartbeat()
	b.heartbeat()
	if !done {
		t.Fatal("Migrate() never completed")
	}

	got := b.retainedState()
	if got["/org/dev/@s/cap/1.2.0/x"] != `{"a":1,"b":2}` {
		t.Errorf("merged = %q, want data from older versions only", got["/org/dev/@s/cap/1.2.0/x"])
	}
	if got["/org/dev/@s/cap/9.0.0/x"] != `{"z":9}` {
		t.Errorf("newer version namespace was touched: %v", got)
	}
}

func TestMigrationTransform(t *testing.T) {
	b := newTestBroker()
	seedVersions(b)
	s, _ := newTestSync(t, b, Options{})

	done := false
	s.Migrate([]Migration{{
		Topic:      "/org/dev/@s/cap/+/x",
		NewVersion: "2.0.0",
		Transform: func(value any) any {
			m := value.(map[string]any)
			m["migrated"] = true
			return m
		},
	}}, func() { done = true })
	b.heartbeat()
	b.heartbeat()
	b.heartbeat()
	if !done {
		t.Fatal("Migrate() never completed")
	}

	if got := b.retainedState()["/org/dev/@s/cap/2.0.0/x"]; got != `{"a":1,"b":2,"migrated":true}` {
		t.Errorf("transformed = %q", got)
	}
}

func TestMigrationFlat(t *testing.T) {
	b := newTestBroker()
	seedVersions(b)
	s, _ := newTestSync(t, b, Options{})

	done := false
	s.Migrate([]Migration{{
		Topic:      "/org/dev/@s/cap/+/x",
		NewVersion: "1.2.0",
		Flat:       true,
	}}, func() { done = true })
	b.heartbeat()
	b.heartbeat()
	b.heartbeat()
	if !done {
		t.Fatal("Migrate() never completed")
	}

	want := map[string]string{
		"/org/dev/@s/cap/1.2.0/x/a": "1",
		"/org/dev/@s/cap/1.2.0/x/b": "2",
	}
	if got := b.retainedState(); !reflect.DeepEqual(got, want) {
		t.Errorf("retained = %v, want %v", got, want)
	}
}

func TestMigrationLevel(t *testing.T) {
	b := newTestBroker()
	other := b.client()
	other.Publish("/org/dev/@s/cap/1.0.0/x", []byte(`{"a":{"deep":1},"b":{"deep":2}}`), 1, true)

	s, _ := newTestSync(t, b, Options{})
	done := false
	s.Migrate([]Migration{{
		Topic:      "/org/dev/@s/cap/+/x",
		NewVersion: "1.1.0",
		Level:      1,
	}}, func() { done = true })
	b.heartbeat()
	b.heartbeat()
	b.heartbeat()
	if !done {
		t.Fatal("Migrate() never completed")
	}

	want := map[string]string{
		"/org/dev/@s/cap/1.1.0/x/a": `{"deep":1}`,
		"/org/dev/@s/cap/1.1.0/x/b": `{"deep":2}`,
	}
	if got := b.retainedState(); !reflect.DeepEqual(got, want) {
		t.Errorf("retained = %v, want %v", got, want)
	}
}

func TestMigrationEmptyInput(t *testing.T) {
	b := newTestBroker()
	s, _ := newTestSync(t, b, Options{})

	done := false
	s.Migrate(nil, func() { done = true })
	if !done {
		t.Error("Migrate(nil) did not complete immediately")
	}
}

func TestMigrationSubscribeDeniedStillCompletes(t *testing.T) {
	b := newTestBroker()
	b.denied["/org/dev/@s/cap/+/x/#"] = true
	s, _ := newTestSync(t, b, Options{})

	done := false
	s.Migrate([]Migration{{Topic: "/org/dev/@s/cap/+/x", NewVersion: "1.2.0"}}, func() { done = true })
	if !done {
		t.Error("Migrate() with denied subscription did not complete")
	}
}

func TestMigrationsGateOnReady(t *testing.T) {
	b := newTestBroker()
	seedVersions(b)

	ready := false
	newTestSync(t, b, Options{
		Migrations: []Migration{{Topic: "/org/dev/@s/cap/+/x", NewVersion: "1.2.0"}},
		OnReady:    func() { ready = true },
	})

	for i := 0; i < 6 && !ready; i++ {
		b.heartbeat()
	}
	if !ready {
		t.Fatal("OnReady never fired after migrations")
	}
	if got := b.retainedState()["/org/dev/@s/cap/1.2.0/x"]; got != `{"a":1,"b":2}` {
		t.Errorf("migrated data = %q", got)
	}
}
