// Package room holds the identity types shared by every part of a room session.
package room

import (
	"strconv"

	"github.com/google/uuid"
)

// ID is the opaque identifier of a room. It is generated once by the hosting
// participant and never changes for the lifetime of the session.
type ID string

// NewID returns a fresh random room identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// ParticipantID identifies one participant within a room. It is supplied by
// the identity provider and stays stable for the participant's connection.
type ParticipantID int64

func (p ParticipantID) String() string {
	return strconv.FormatInt(int64(p), 10)
}

// ParseParticipantID parses the decimal form produced by String.
func ParseParticipantID(s string) (ParticipantID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ParticipantID(n), nil
}
