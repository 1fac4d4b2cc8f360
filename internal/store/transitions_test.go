package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call_next", "waiting", true},
		{"call_next", "recycled", true},
		{"call_next", "called", false},
		{"call_next", "completed", false},
		{"complete", "called", true},
		{"complete", "waiting", false},
		{"complete", "completed", false},
		{"recall", "called", true},
		{"recall", "waiting", false},
		{"no_show", "called", true},
		{"no_show", "no_show", false},
		{"recycle", "called", true},
		{"recycle", "recycled", false},
		{"transfer", "called", true},
		{"transfer", "waiting", false},
		{"transfer", "completed", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}
