package memstore

import (
	"chatsync/internal/models"
	"chatsync/internal/realtime"
	"chatsync/internal/storage"
	"context"
	"errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"testing"
	"time"
)

func bootstrap(t *testing.T) (*Store, string) {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	s := New(logger.Sugar())
	t.Cleanup(s.Close)

	ctx := context.Background()
	_, err = s.CreateProfile(ctx, "alice", "alice")
	require.NoError(t, err)
	_, err = s.CreateProfile(ctx, "bob", "bob")
	require.NoError(t, err)
	c, err := s.CreateChannel(ctx, models.Channel{Name: "general"})
	require.NoError(t, err)

	return s, c.ID
}

func TestCreateProfileDuplicate(t *testing.T) {
	s, _ := bootstrap(t)

	_, err := s.CreateProfile(context.Background(), "carol", "alice")
	require.ErrorIs(t, err, storage.ErrProfileExists)

	_, err = s.Profile(context.Background(), "nobody")
	require.ErrorIs(t, err, storage.ErrProfileNotExist)
}

func TestInsertAndHistory(t *testing.T) {
	s, channel := bootstrap(t)
	ctx := context.Background()

	var saved []models.Message
	for _, content := range []string{"a", "b", "c", "d"} {
		m, err := s.InsertMessage(ctx, models.NewMessage{Content: content, ChannelID: channel, AuthorID: "alice"})
		require.NoError(t, err)
		require.Equal(t, "alice", m.Username)
		saved = append(saved, m)
	}
	require.Equal(t, 4, s.Inserts())

	latest, err := s.LatestMessages(ctx, channel, 2)
	require.NoError(t, err)
	require.Equal(t, []string{saved[2].ID, saved[3].ID}, []string{latest[0].ID, latest[1].ID})

	older, err := s.MessagesBefore(ctx, channel, saved[2].CreatedAt, 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
	require.Equal(t, saved[0].ID, older[0].ID)

	n, err := s.CountMessagesAfter(ctx, channel, saved[0].CreatedAt, "bob")
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestInsertErrors(t *testing.T) {
	s, channel := bootstrap(t)
	ctx := context.Background()

	_, err := s.InsertMessage(ctx, models.NewMessage{Content: "x", ChannelID: "missing", AuthorID: "alice"})
	require.ErrorIs(t, err, storage.ErrMessageBadChannel)

	_, err = s.InsertMessage(ctx, models.NewMessage{Content: "x", ChannelID: channel, AuthorID: "nobody"})
	require.ErrorIs(t, err, storage.ErrMessageBadAuthor)

	injected := errors.New("boom")
	s.FailWrites(injected)
	_, err = s.InsertMessage(ctx, models.NewMessage{Content: "x", ChannelID: channel, AuthorID: "alice"})
	require.ErrorIs(t, err, injected)
	s.FailWrites(nil)

	s.DelayWrites(time.Second)
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = s.InsertMessage(tctx, models.NewMessage{Content: "x", ChannelID: channel, AuthorID: "alice"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, s.Inserts())
}

func TestInsertMessagesAllOrNothing(t *testing.T) {
	s, channel := bootstrap(t)
	ctx := context.Background()

	rows := []models.NewMessage{
		{Content: "ok", ChannelID: channel, AuthorID: "alice"},
		{Content: "bad", ChannelID: "missing", AuthorID: "alice"},
	}
	results, err := s.InsertMessages(ctx, rows)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		require.ErrorIs(t, r.Err, storage.ErrMessageBadChannel)
	}
	require.Equal(t, 0, s.Inserts())

	results, err = s.InsertMessages(ctx, rows[:1])
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	require.Equal(t, "ok", results[0].Message.Content)
}

func TestInsertNotifiesSubscribers(t *testing.T) {
	s, channel := bootstrap(t)
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, realtime.Filter{
		Table:  realtime.TableMessages,
		Op:     realtime.OpInsert,
		Column: "channel_id",
		Value:  channel,
	})
	require.NoError(t, err)
	defer sub.Close()

	saved, err := s.InsertMessage(ctx, models.NewMessage{Content: "hi", ChannelID: channel, AuthorID: "bob"})
	require.NoError(t, err)

	select {
	case e := <-sub.Events():
		ins, ok := e.(realtime.MessageInserted)
		require.True(t, ok)
		require.Equal(t, saved.ID, ins.Message.ID)
		require.True(t, saved.CreatedAt.Equal(ins.Message.CreatedAt))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	s.Silence(true)
	_, err = s.InsertMessage(ctx, models.NewMessage{Content: "quiet", ChannelID: channel, AuthorID: "bob"})
	require.NoError(t, err)
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event %v", e)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestPublishRawRejectsMalformed(t *testing.T) {
	s, _ := bootstrap(t)

	err := s.PublishRaw([]byte(`{"table":"messages"`))
	require.ErrorIs(t, err, realtime.ErrMalformedEvent)
}

func TestDirectChannels(t *testing.T) {
	s, _ := bootstrap(t)
	ctx := context.Background()

	id, err := s.GetOrCreateDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)
	again, err := s.GetOrCreateDirectChannel(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, id, again)

	_, err = s.GetOrCreateDirectChannel(ctx, "alice", "alice")
	require.ErrorIs(t, err, storage.ErrDirectBadUsers)

	dms, err := s.DirectChannels(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, dms, 1)
	require.Equal(t, models.KindDirect, dms[0].Kind)

	dms, err = s.DirectChannels(ctx, "carol")
	require.NoError(t, err)
	require.Empty(t, dms)
}

func TestPendingQueue(t *testing.T) {
	s, channel := bootstrap(t)
	ctx := context.Background()
	q := s.PendingQueue()

	now := time.Now()
	require.NoError(t, q.Enqueue(ctx, models.PendingMessage{ID: "p2", ChannelID: channel, AuthorID: "alice", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, q.Enqueue(ctx, models.PendingMessage{ID: "p1", ChannelID: channel, AuthorID: "alice", CreatedAt: now}))
	require.NoError(t, q.Enqueue(ctx, models.PendingMessage{ID: "p3", ChannelID: channel, AuthorID: "bob", CreatedAt: now}))

	list, err := q.List(ctx, "alice", 3)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "p1", list[0].ID)

	for i := 0; i < 4; i++ {
		require.NoError(t, q.MarkAttempt(ctx, "p1", now))
	}
	list, err = q.List(ctx, "alice", 3)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "p2", list[0].ID)

	require.NoError(t, q.Delete(ctx, "p2"))
	require.ErrorIs(t, q.Delete(ctx, "p2"), storage.ErrPendingNotExist)
	require.ErrorIs(t, q.MarkAttempt(ctx, "p2", now), storage.ErrPendingNotExist)
}

func TestPresenceRequiresProfile(t *testing.T) {
	s, _ := bootstrap(t)
	ctx := context.Background()

	require.ErrorIs(t, s.UpsertPresence(ctx, "nobody", true, time.Now()), storage.ErrProfileNotExist)
	require.NoError(t, s.UpsertPresence(ctx, "bob", true, time.Now()))

	users, err := s.OnlineUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "bob", users[0].Username)
	require.True(t, users[0].Online)
}
