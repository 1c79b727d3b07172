package testing

import (
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func TestUserPairs(t *testing.T) {
	pairs := UserPairs([]string{"a", "b", "c", "d"})
	require.Equal(t, [][2]string{{"a", "b"}, {"a", "c"}, {"a", "d"}}, pairs)
	require.Nil(t, UserPairs([]string{"a"}))
}

func TestMessagesFixture(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	ms := Messages("c1", "u1", 3, start)

	require.Equal(t, []string{"c1-0", "c1-1", "c1-2"}, IDs(ms))
	require.Equal(t, start.Add(2*time.Second), ms[2].CreatedAt)
	require.Equal(t, []string{"c1-2", "c1-1", "c1-0"}, IDs(ReverseMessages(ms)))
	require.Len(t, RandStringN(4), 4)
}
