// Package ids mints and validates public identifiers. Events are addressed
// externally by ULID so URLs sort by creation time and never leak row counts.
package ids

import (
	"crypto/rand"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var ulidRegex = regexp.MustCompile(`(?i)^[0-9A-HJKMNP-TV-Z]{26}$`)

var ErrInvalidULID = errors.New("invalid ULID")

// NewULID generates a new ULID string.
func NewULID() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// ValidateULID checks that the value is a well-formed ULID.
func ValidateULID(value string) error {
	if !ulidRegex.MatchString(value) {
		return ErrInvalidULID
	}
	if _, err := ulid.ParseStrict(value); err != nil {
		return ErrInvalidULID
	}
	return nil
}

// NewUUID generates a new random UUID string for internal primary keys.
func NewUUID() string {
	return uuid.NewString()
}
