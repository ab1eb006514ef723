package core

import "testing"

func TestDefaultMatcher(t *testing.T) {
	m := DefaultMatcher{}

	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		// Exact match
		{"test.topic", "test.topic", true},
		{"test.topic", "test.topic_two", false},
		{"test", "test", true},

		// Single word
		{"test.*", "test.topic", true},
		{"test.*", "test.topic_two", true},
		{"test.*", "test.a.topic", false},
		{"*.topic", "test.topic", true},
		{"test.*", "test", false},

		// Zero or more words
		{"test.#", "test.topic", true},
		{"test.#", "test.a.b.c", true},
		{"test.#", "test", true},
		{"#", "anything", true},
		{"#", "a.b.c", true},
		{"#.topic", "test.topic", true},
		{"#.topic", "topic", true},
		{"a.#.z", "a.z", true},
		{"a.#.z", "a.b.c.z", true},
		{"a.#.#.z", "a.b.z", true},

		// Combined
		{"test.*.#", "test.a.topic", true},
		{"test.*.#", "test.a", true},
		{"test.*.#", "test", false},

		// Edge cases
		{"test.topic", "test", false},
		{"test", "test.topic", false},
		{"a.#.z", "a.b.c", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"→"+tt.key, func(t *testing.T) {
			got := m.Match(tt.pattern, tt.key)
			if got != tt.want {
				t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
			}
		})
	}
}

func TestMatchAny(t *testing.T) {
	m := DefaultMatcher{}
	if !MatchAny(m, []string{"x.y", "test.*"}, "test.topic") {
		t.Error("expected a match")
	}
	if MatchAny(m, []string{"x.y"}, "test.topic") {
		t.Error("unexpected match")
	}
	if MatchAny(m, nil, "test.topic") {
		t.Error("no patterns must never match")
	}
}
