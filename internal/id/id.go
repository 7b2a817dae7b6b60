package id

import "github.com/google/uuid"

// New returns a random request identifier.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s looks like an identifier a client may supply in
// place of a generated one.
func Valid(s string) bool {
	if s == "" || len(s) > 128 {
		return false
	}
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
