package models

import (
	"github.com/stretchr/testify/require"
	"testing"
)

func TestTemporaryID(t *testing.T) {
	id := NewTemporaryID()
	require.True(t, IsTemporaryID(id))
	require.NotEqual(t, id, NewTemporaryID())
	require.False(t, IsTemporaryID("8d0b6f2a-3f7e-4bd4-9a7f-5b1f8f2f4f10"))
}

func TestStatusUnsent(t *testing.T) {
	require.True(t, StatusSending.Unsent())
	require.True(t, StatusPending.Unsent())
	require.True(t, StatusFailed.Unsent())
	require.False(t, StatusSent.Unsent())
}

func TestChannelValidate(t *testing.T) {
	dm := Channel{ID: "c", Kind: KindDirect, Participants: []string{"a"}}
	require.Equal(t, ErrBadDMParticipants, dm.Validate())

	dm.Participants = append(dm.Participants, "b")
	require.NoError(t, dm.Validate())
	require.True(t, dm.HasParticipant("b"))
	require.False(t, dm.HasParticipant("c"))

	public := Channel{ID: "p", Kind: KindPublic}
	require.NoError(t, public.Validate())
}
