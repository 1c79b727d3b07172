package storage

import (
	"chatsync/internal/models"
	"chatsync/internal/realtime"
	mytesting "chatsync/internal/testing"
	"context"
	"github.com/caarlos0/env/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"testing"
	"time"
)

// bootstrap connects to the database described by CHATSYNC_TEST_PG_* variables and skips the test when
// no host is configured
func bootstrap(t *testing.T) *Store {
	cfg := Config{Port: 5432, User: "postgres", DBName: "postgres"}
	require.NoError(t, env.Parse(&cfg, env.Options{Prefix: "CHATSYNC_TEST_"}))
	if cfg.Host == "" {
		t.Skip("CHATSYNC_TEST_PG_HOST is not set")
	}

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)
	s, err := New(context.Background(), logger.Sugar(), cfg, ConnectionTimeout(5*time.Second))
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(context.Background()))

	return s
}

func createProfile(t *testing.T, s *Store) string {
	id := uuid.NewString()
	_, err := s.CreateProfile(context.Background(), id, mytesting.RandString())
	require.NoError(t, err)
	return id
}

func createChannel(t *testing.T, s *Store) models.Channel {
	c, err := s.CreateChannel(context.Background(), models.Channel{Name: mytesting.RandString()})
	require.NoError(t, err)
	return c
}

func TestCreateProfileExists(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()

	id := uuid.NewString()
	username := mytesting.RandString()
	_, err := s.CreateProfile(ctx, id, username)
	require.NoError(t, err)
	_, err = s.CreateProfile(ctx, uuid.NewString(), username)
	require.Equal(t, ErrProfileExists, err)

	p, err := s.Profile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, username, p.Username)

	_, err = s.Profile(ctx, uuid.NewString())
	require.Equal(t, ErrProfileNotExist, err)
}

func TestMessagesOrder(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	user := createProfile(t, s)
	channel := createChannel(t, s)

	var ids []string
	for i := 0; i < 5; i++ {
		m, err := s.InsertMessage(ctx, models.NewMessage{Content: mytesting.RandString(), ChannelID: channel.ID, AuthorID: user})
		require.NoError(t, err)
		require.NotEmpty(t, m.Username)
		ids = append(ids, m.ID)
	}

	latest, err := s.LatestMessages(ctx, channel.ID, 3)
	require.NoError(t, err)
	require.Len(t, latest, 3)
	require.Equal(t, ids[2:], []string{latest[0].ID, latest[1].ID, latest[2].ID})

	older, err := s.MessagesBefore(ctx, channel.ID, latest[0].CreatedAt, 10)
	require.NoError(t, err)
	require.Equal(t, ids[:2], []string{older[0].ID, older[1].ID})
}

func TestInsertMessageViolationFK(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	user := createProfile(t, s)
	channel := createChannel(t, s)

	_, err := s.InsertMessage(ctx, models.NewMessage{Content: "x", ChannelID: uuid.NewString(), AuthorID: user})
	require.Equal(t, ErrMessageBadChannel, err)
	_, err = s.InsertMessage(ctx, models.NewMessage{Content: "x", ChannelID: channel.ID, AuthorID: uuid.NewString()})
	require.Equal(t, ErrMessageBadAuthor, err)
}

func TestInsertMessagesBatch(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	user := createProfile(t, s)
	channel := createChannel(t, s)

	results, err := s.InsertMessages(ctx, []models.NewMessage{
		{Content: "first", ChannelID: channel.ID, AuthorID: user},
		{Content: "second", ChannelID: channel.ID, AuthorID: user},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	require.Equal(t, "first", results[0].Message.Content)
	require.Equal(t, "second", results[1].Message.Content)

	results, err = s.InsertMessages(ctx, []models.NewMessage{
		{Content: "kept back", ChannelID: channel.ID, AuthorID: user},
		{Content: "bad", ChannelID: uuid.NewString(), AuthorID: user},
	})
	require.NoError(t, err)
	require.Error(t, results[0].Err)
	require.Error(t, results[1].Err)

	latest, err := s.LatestMessages(ctx, channel.ID, 10)
	require.NoError(t, err)
	require.Len(t, latest, 2)
}

func TestDirectChannel(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	a := createProfile(t, s)
	b := createProfile(t, s)

	id, err := s.GetOrCreateDirectChannel(ctx, a, b)
	require.NoError(t, err)
	again, err := s.GetOrCreateDirectChannel(ctx, b, a)
	require.NoError(t, err)
	require.Equal(t, id, again)

	_, err = s.GetOrCreateDirectChannel(ctx, a, a)
	require.Equal(t, ErrDirectBadUsers, err)

	channels, err := s.DirectChannels(ctx, a)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	require.Equal(t, models.KindDirect, channels[0].Kind)
	require.ElementsMatch(t, []string{a, b}, channels[0].Participants)
}

func TestPendingQueue(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	q := s.PendingQueue()
	user := uuid.NewString()

	p := models.PendingMessage{ID: models.NewTemporaryID(), Content: "queued", ChannelID: uuid.NewString(), AuthorID: user, CreatedAt: time.Now()}
	require.NoError(t, q.Enqueue(ctx, p))
	require.NoError(t, q.MarkAttempt(ctx, p.ID, time.Now()))

	list, err := q.List(ctx, user, 3)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 1, list[0].RetryCount)

	require.NoError(t, q.Delete(ctx, p.ID))
	require.Equal(t, ErrPendingNotExist, q.Delete(ctx, p.ID))
}

func TestReadsAndCounts(t *testing.T) {
	s := bootstrap(t)
	ctx := context.Background()
	me := createProfile(t, s)
	other := createProfile(t, s)
	channel := createChannel(t, s)

	require.NoError(t, s.UpsertChannelRead(ctx, models.ChannelRead{UserID: me, ChannelID: channel.ID, LastRead: time.Now().Add(-time.Hour)}))
	_, err := s.InsertMessage(ctx, models.NewMessage{Content: "x", ChannelID: channel.ID, AuthorID: other})
	require.NoError(t, err)
	_, err = s.InsertMessage(ctx, models.NewMessage{Content: "mine", ChannelID: channel.ID, AuthorID: me})
	require.NoError(t, err)

	reads, err := s.ChannelReads(ctx, me)
	require.NoError(t, err)
	require.Len(t, reads, 1)

	n, err := s.CountMessagesAfter(ctx, channel.ID, reads[0].LastRead, me)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestListenerDeliversInsert(t *testing.T) {
	s := bootstrap(t)
	user := createProfile(t, s)
	channel := createChannel(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := s.Listener(nil)
	defer l.Close()
	go l.Run(ctx)

	sub, err := l.Subscribe(ctx, realtime.Filter{Table: realtime.TableMessages, Column: "channel_id", Value: channel.ID})
	require.NoError(t, err)
	defer sub.Close()

	// LISTEN is issued asynchronously; keep writing until one notification arrives
	require.Eventually(t, func() bool {
		_, err := s.InsertMessage(context.Background(), models.NewMessage{Content: "live", ChannelID: channel.ID, AuthorID: user})
		require.NoError(t, err)
		select {
		case e := <-sub.Events():
			return e.(realtime.MessageInserted).Message.Content == "live"
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
