package room

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDIsUniqueUUID(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)

	_, err := uuid.Parse(string(a))
	require.NoError(t, err)
}

func TestParticipantIDStringRoundTrip(t *testing.T) {
	for _, id := range []ParticipantID{0, 1, 42, -7, 1 << 40} {
		got, err := ParseParticipantID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	_, err := ParseParticipantID("abc")
	assert.Error(t, err)
}
