// Package ids issues identifiers for persisted records.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

const joinCodeLength = 8

// Provider issues unique record identifiers.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers, which sort by creation time.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// NewJoinCode returns a short upper-case invite code derived from a random UUID.
func NewJoinCode() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	compact := strings.ReplaceAll(value.String(), "-", "")
	return strings.ToUpper(compact[:joinCodeLength]), nil
}
