package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4 string.
func NewID() string {
	return uuid.NewString()
}

// IsID reports whether s parses as a UUID in canonical form.
func IsID(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
