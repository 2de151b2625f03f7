package engine_test

import (
	"testing"

	"taskwarden/internal/engine"
)

func TestMatchApproximate(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"write the report", "write the report", true},
		{"Write The Report", "write the report", true},
		{"write the report", "write the report draft", true},
		{"write the report draft", "write the report", true},
		{"write the report", "fix login bug", false},
		{"", "write the report", false},
		{"  ", "write the report", false},
	}
	for _, c := range cases {
		if got := engine.MatchApproximate(c.a, c.b); got != c.want {
			t.Errorf("MatchApproximate(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestMatchExact(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"write the report", "write the report", true},
		{" write the report ", "write the report", true},
		{"Write the report", "write the report", false},
		{"write the report", "write the report draft", false},
		{"", "", false},
	}
	for _, c := range cases {
		if got := engine.MatchExact(c.a, c.b); got != c.want {
			t.Errorf("MatchExact(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
