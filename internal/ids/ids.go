// Package ids generates and validates the UUIDs that identify users and
// conversations.
package ids

import (
	"github.com/google/uuid"
	"github.com/zulandar/junction/internal/chaterr"
)

// New returns a fresh random UUID string.
func New() string { return uuid.NewString() }

// Valid reports whether s is a canonical UUID.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Check returns InvalidUuidFormat naming field when s is not a UUID.
func Check(field, s string) error {
	if !Valid(s) {
		return chaterr.InvalidUuidFormat.With("%s %q is not a UUID", field, s)
	}
	return nil
}
