package engine

import "strings"

// MatchApproximate reports whether two task texts refer to the same task.
// The oracle paraphrases, so matching is bidirectional case-folded
// containment: either string containing the other counts.
func MatchApproximate(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// MatchExact compares task texts after trimming whitespace. Used where the
// oracle was instructed to quote verbatim and looseness would mark the wrong
// task.
func MatchExact(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && a == b
}
