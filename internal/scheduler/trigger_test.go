package scheduler

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMatchesEventPattern(t *testing.T) {
	cases := []struct {
		pattern, subject string
		want             bool
	}{
		{"process.spawned", "process.spawned", true},
		{"process.spawned", "process.reaped", false},
		{"process.*", "process.spawned", true},
		{"process.*", "process.stateChange", true},
		{"process.*", "process", true},
		{"process.*", "cron.fired", false},
	}
	for _, c := range cases {
		if got := matchesEventPattern(c.pattern, c.subject); got != c.want {
			t.Errorf("matchesEventPattern(%q, %q) = %v, want %v", c.pattern, c.subject, got, c.want)
		}
	}
}

func TestFilterMatches(t *testing.T) {
	payload := map[string]any{
		"pid":  float64(7),
		"from": "running",
		"nested": map[string]any{
			"to": "zombie",
		},
	}

	if !filterMatches(nil, payload) {
		t.Fatal("nil filter should match anything")
	}
	if !filterMatches(map[string]any{"from": "running"}, payload) {
		t.Fatal("matching leaf key should match")
	}
	if filterMatches(map[string]any{"from": "sleeping"}, payload) {
		t.Fatal("mismatched leaf value should not match")
	}
	if filterMatches(map[string]any{"missing_key": "x"}, payload) {
		t.Fatal("missing key should fail the match")
	}
	if !filterMatches(map[string]any{"nested": map[string]any{"to": "zombie"}}, payload) {
		t.Fatal("nested sub-tree equality should match")
	}
	if filterMatches(map[string]any{"nested": map[string]any{"to": "running"}}, payload) {
		t.Fatal("nested sub-tree mismatch should fail")
	}
}

func TestTriggerRunner_CooldownSkipsRepeatedFire(t *testing.T) {
	r := &TriggerRunner{lastFiredAt: make(map[string]time.Time)}

	r.markFired("t1", time.Now())
	if !r.inCooldownByID("t1", 60_000) {
		t.Fatal("expected a just-fired trigger to be in cooldown")
	}
	if r.inCooldownByID("t1", 0) {
		t.Fatal("a zero cooldown should never block a fire")
	}
}

func TestFilter_UnmarshalRoundTrip(t *testing.T) {
	raw := []byte(`{"from":"running"}`)
	var filter map[string]any
	if err := json.Unmarshal(raw, &filter); err != nil {
		t.Fatalf("unmarshal filter: %v", err)
	}
	if !filterMatches(filter, map[string]any{"from": "running"}) {
		t.Fatal("unmarshaled filter should match equivalent payload")
	}
}
