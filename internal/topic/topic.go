package topic

import "strings"

const maxLen = 20

// Normalize converts raw consumer input to the canonical topic form used on
// the wire: uppercase alphanumeric, 1-20 characters. The second return value
// reports whether the input was usable as a topic; callers treat a failed
// normalization as generic demand rather than an error.
func Normalize(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || len(s) > maxLen {
		return "", false
	}

	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			return "", false
		}
		b[i] = c
	}
	return string(b), true
}
