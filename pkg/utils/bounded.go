package utils

// AppendBounded appends item to s and drops the oldest entries if s would
// exceed capacity. A capacity <= 0 means unbounded.
func AppendBounded[T any](s []T, item T, capacity int) []T {
	s = append(s, item)
	if capacity > 0 && len(s) > capacity {
		// evicted entries are released once append reallocates
		s = s[len(s)-capacity:]
	}
	return s
}

// Last returns the last n entries of s.
func Last[T any](s []T, n int) []T {
	if n <= 0 {
		return s[:0]
	}
	return s[max(0, len(s)-n):]
}
