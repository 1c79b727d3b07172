package chat

import (
	"chatsync/internal/cache"
	"chatsync/internal/kv"
	"chatsync/internal/models"
	"chatsync/internal/netstate"
	"chatsync/internal/pending"
	"chatsync/internal/realtime"
	"chatsync/internal/storage/memstore"
	"context"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"testing"
	"time"
)

const (
	alice = "alice"
	bob   = "bob"
)

type env struct {
	logger  *zap.SugaredLogger
	store   *memstore.Store
	net     *netstate.Monitor
	queue   *pending.Queue
	cache   *cache.Cache
	client  *Client
	general string
	random  string
}

// bootstrapEnv prepares a backend with two users and two channels; newClient builds the client on top of it
func bootstrapEnv(t *testing.T, online bool) *env {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	store := memstore.New(logger.Sugar())
	t.Cleanup(store.Close)

	ctx := context.Background()
	_, err = store.CreateProfile(ctx, alice, "Alice")
	require.NoError(t, err)
	_, err = store.CreateProfile(ctx, bob, "Bob")
	require.NoError(t, err)
	general, err := store.CreateChannel(ctx, models.Channel{Name: "general"})
	require.NoError(t, err)
	random, err := store.CreateChannel(ctx, models.Channel{Name: "random"})
	require.NoError(t, err)

	local := kv.NewMemory()

	return &env{
		logger:  logger.Sugar(),
		store:   store,
		net:     netstate.NewMonitor(logger.Sugar(), online),
		queue:   pending.NewQueue(logger.Sugar(), local),
		cache:   cache.New(logger.Sugar(), local, nil),
		general: general.ID,
		random:  random.ID,
	}
}

func (e *env) newClient(t *testing.T, backend Backend, opts ...Option) *Client {
	if backend == nil {
		backend = e.store
	}
	e.client = NewClient(e.logger, Session{UserID: alice, Username: "Alice"}, backend, e.store, e.cache, e.queue, e.net, opts...)
	t.Cleanup(e.client.Close)
	return e.client
}

// run starts the event loop of the client until the test ends
func (e *env) run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.client.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func bootstrap(t *testing.T, online bool, opts ...Option) *env {
	e := bootstrapEnv(t, online)
	e.newClient(t, nil, opts...)
	require.NoError(t, e.client.SwitchChannel(context.Background(), e.general))
	return e
}

func statuses(messages []models.Message) []models.Status {
	out := make([]models.Status, len(messages))
	for i, m := range messages {
		out[i] = m.Status
	}
	return out
}

func TestSendOptimistic(t *testing.T) {
	e := bootstrap(t, true)
	updates, release := e.client.Subscribe()
	defer release()

	m := e.client.Send(context.Background(), "hello")
	require.NotNil(t, m)
	require.Equal(t, models.StatusSent, m.Status)
	require.False(t, models.IsTemporaryID(m.ID))
	require.Equal(t, "Alice", m.Username)

	got := e.client.Messages()
	require.Len(t, got, 1)
	require.Equal(t, m.ID, got[0].ID)
	require.Equal(t, models.StatusSent, got[0].Status)

	entry, ok := e.cache.Get(e.general)
	require.True(t, ok)
	require.Equal(t, got, entry.Messages)

	u := <-updates
	require.Equal(t, Update{Kind: UpdateMessages, ChannelID: e.general, ScrollToLatest: true}, u)
}

func TestSendEchoHandledOnce(t *testing.T) {
	e := bootstrap(t, true)
	e.run(t)

	m := e.client.Send(context.Background(), "hello")
	require.NotNil(t, m)

	// a later insert proves the echo of the first one was processed
	_, err := e.store.Emit(context.Background(), models.NewMessage{Content: "next", ChannelID: e.general, AuthorID: bob})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(e.client.Messages()) == 2 }, time.Second, 5*time.Millisecond)

	got := e.client.Messages()
	require.Equal(t, m.ID, got[0].ID)
	require.Equal(t, "Bob", got[1].Username)
}

func TestSendIgnored(t *testing.T) {
	e := bootstrapEnv(t, true)
	c := e.newClient(t, nil)
	ctx := context.Background()

	require.Nil(t, c.Send(ctx, "no channel yet"))

	require.NoError(t, c.SwitchChannel(ctx, e.general))
	require.Nil(t, c.Send(ctx, "   "))
	require.Empty(t, c.Messages())

	anon := NewClient(e.logger, Session{}, e.store, e.store, e.cache, e.queue, e.net)
	defer anon.Close()
	require.NoError(t, anon.SwitchChannel(ctx, e.general))
	require.Nil(t, anon.Send(ctx, "hi"))
	require.Equal(t, 0, e.store.Inserts())
}

func TestSendTimeoutFails(t *testing.T) {
	e := bootstrap(t, true, SendTimeout(20*time.Millisecond))
	e.store.DelayWrites(time.Second)

	start := time.Now()
	m := e.client.Send(context.Background(), "slow")
	require.Less(t, time.Since(start), 500*time.Millisecond)

	require.Equal(t, models.StatusFailed, m.Status)
	require.True(t, models.IsTemporaryID(m.ID))
	require.Equal(t, []models.Status{models.StatusFailed}, statuses(e.client.Messages()))

	queued, err := e.queue.List(context.Background(), alice, DefaultRetryCeiling)
	require.NoError(t, err)
	require.Empty(t, queued)
}

func TestSendOfflineQueues(t *testing.T) {
	e := bootstrap(t, false)
	e.store.FailWrites(memstore.ErrInjected)

	m := e.client.Send(context.Background(), "later")
	require.Equal(t, models.StatusPending, m.Status)

	queued, err := e.queue.List(context.Background(), alice, DefaultRetryCeiling)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.Equal(t, m.ID, queued[0].ID)
	require.Equal(t, "later", queued[0].Content)
	require.Equal(t, e.general, queued[0].ChannelID)
	require.Equal(t, 0, queued[0].RetryCount)

	entry, ok := e.cache.Get(e.general)
	require.True(t, ok)
	require.Equal(t, []models.Status{models.StatusPending}, statuses(entry.Messages))
}

// ackLostBackend lets the insert land and its echo reach the client, then fails the call as if the connection
// dropped before the acknowledgement
type ackLostBackend struct {
	Backend
	client *Client
	net    *netstate.Monitor
}

func (b *ackLostBackend) InsertMessage(ctx context.Context, m models.NewMessage) (models.Message, error) {
	saved, err := b.Backend.InsertMessage(ctx, m)
	if err != nil {
		return saved, err
	}
	b.client.HandleEvent(ctx, realtime.MessageInserted{Message: saved})
	b.net.Set(false)
	return models.Message{}, errInjectedWrite
}

func TestSendLostAckAfterAdoptedEcho(t *testing.T) {
	e := bootstrapEnv(t, true)
	ctx := context.Background()

	b := &ackLostBackend{Backend: e.store, net: e.net}
	c := e.newClient(t, b)
	b.client = c
	require.NoError(t, c.SwitchChannel(ctx, e.general))

	m := c.Send(ctx, "made it")
	require.NotNil(t, m)
	require.Equal(t, models.StatusSent, m.Status)
	require.False(t, models.IsTemporaryID(m.ID))

	queued, err := e.queue.List(ctx, alice, DefaultRetryCeiling)
	require.NoError(t, err)
	require.Empty(t, queued)

	got := c.Messages()
	require.Len(t, got, 1)
	require.Equal(t, m.ID, got[0].ID)
	require.Equal(t, models.StatusSent, got[0].Status)
	require.Equal(t, 1, e.store.Inserts())
}

func TestRetry(t *testing.T) {
	e := bootstrap(t, true)
	ctx := context.Background()

	e.store.FailWrites(memstore.ErrInjected)
	m := e.client.Send(ctx, "again")
	require.Equal(t, models.StatusFailed, m.Status)

	_, err := e.client.Retry(ctx, "unknown")
	require.ErrorIs(t, err, ErrNotRetryable)

	e.store.FailWrites(nil)
	retried, err := e.client.Retry(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, retried.Status)

	got := e.client.Messages()
	require.Len(t, got, 1)
	require.Equal(t, retried.ID, got[0].ID)

	_, err = e.client.Retry(ctx, retried.ID)
	require.ErrorIs(t, err, ErrNotRetryable)
}

func TestSyncPending(t *testing.T) {
	e := bootstrap(t, false)
	ctx := context.Background()

	e.store.FailWrites(memstore.ErrInjected)
	first := e.client.Send(ctx, "one")
	second := e.client.Send(ctx, "two")
	require.Equal(t, models.StatusPending, first.Status)
	require.Equal(t, models.StatusPending, second.Status)

	e.store.FailWrites(nil)
	e.net.Set(true)

	res, err := e.client.SyncPending(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Delivered: 2}, res)

	queued, err := e.queue.List(ctx, alice, DefaultRetryCeiling)
	require.NoError(t, err)
	require.Empty(t, queued)

	got := e.client.Messages()
	require.Len(t, got, 2)
	require.Equal(t, "one", got[0].Content)
	require.Equal(t, "two", got[1].Content)
	for _, m := range got {
		require.Equal(t, models.StatusSent, m.Status)
		require.False(t, models.IsTemporaryID(m.ID))
	}
}

func TestSyncPendingCeiling(t *testing.T) {
	e := bootstrap(t, false, RetryCeiling(3))
	ctx := context.Background()

	e.store.FailWrites(memstore.ErrInjected)
	m := e.client.Send(ctx, "doomed")
	require.Equal(t, models.StatusPending, m.Status)

	for i := 0; i < 3; i++ {
		res, err := e.client.SyncPending(ctx)
		require.NoError(t, err)
		require.Equal(t, SyncResult{Failed: 1}, res)
	}

	res, err := e.client.SyncPending(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Failed: 1, Exhausted: 1}, res)

	res, err = e.client.SyncPending(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{}, res)

	// the record lingers past the ceiling
	queued, err := e.queue.List(ctx, alice, 100)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	require.Equal(t, 4, queued[0].RetryCount)
	require.NotNil(t, queued[0].LastAttempt)

	require.Equal(t, []models.Status{models.StatusFailed}, statuses(e.client.Messages()))
}

func TestSyncPendingBatch(t *testing.T) {
	e := bootstrap(t, false)
	ctx := context.Background()

	e.store.FailWrites(memstore.ErrInjected)
	e.client.Send(ctx, "one")
	e.client.Send(ctx, "two")

	require.NoError(t, e.queue.Enqueue(ctx, models.PendingMessage{
		ID:        models.NewTemporaryID(),
		Content:   "orphan",
		ChannelID: "missing",
		AuthorID:  alice,
		CreatedAt: time.Now(),
	}))

	e.store.FailWrites(nil)
	res, err := e.client.SyncPendingBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Failed: 3}, res)
	require.Equal(t, 0, e.store.Inserts())

	queued, err := e.queue.List(ctx, alice, DefaultRetryCeiling)
	require.NoError(t, err)
	require.Len(t, queued, 3)
	for _, p := range queued {
		require.Equal(t, 1, p.RetryCount)
		if p.ChannelID == "missing" {
			require.NoError(t, e.queue.Delete(ctx, p.ID))
		}
	}

	res, err = e.client.SyncPendingBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, SyncResult{Delivered: 2}, res)
	require.Equal(t, []models.Status{models.StatusSent, models.StatusSent}, statuses(e.client.Messages()))
}

func TestSyncPendingUnauthenticated(t *testing.T) {
	e := bootstrapEnv(t, true)
	c := NewClient(e.logger, Session{}, e.store, e.store, e.cache, e.queue, e.net)
	defer c.Close()

	_, err := c.SyncPending(context.Background())
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRunSyncsWhenBackOnline(t *testing.T) {
	e := bootstrap(t, false)
	e.run(t)
	ctx := context.Background()

	e.store.FailWrites(memstore.ErrInjected)
	m := e.client.Send(ctx, "offline")
	require.Equal(t, models.StatusPending, m.Status)

	e.store.FailWrites(nil)
	// let Run subscribe to connectivity transitions
	time.Sleep(20 * time.Millisecond)
	e.net.Set(true)

	require.Eventually(t, func() bool {
		queued, err := e.queue.List(ctx, alice, DefaultRetryCeiling)
		return err == nil && len(queued) == 0
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		got := e.client.Messages()
		return len(got) == 1 && got[0].Status == models.StatusSent
	}, time.Second, 5*time.Millisecond)
}

func TestRunPeriodicSync(t *testing.T) {
	e := bootstrap(t, true, SyncInterval(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, e.queue.Enqueue(ctx, models.PendingMessage{
		ID:        models.NewTemporaryID(),
		Content:   "queued earlier",
		ChannelID: e.general,
		AuthorID:  alice,
		CreatedAt: time.Now(),
	}))
	e.run(t)

	require.Eventually(t, func() bool { return e.store.Inserts() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRunSyncsQueuedAtStartup(t *testing.T) {
	e := bootstrap(t, true)
	ctx := context.Background()

	require.NoError(t, e.queue.Enqueue(ctx, models.PendingMessage{
		ID:        models.NewTemporaryID(),
		Content:   "queued before restart",
		ChannelID: e.general,
		AuthorID:  alice,
		CreatedAt: time.Now(),
	}))
	e.run(t)

	require.Eventually(t, func() bool {
		queued, err := e.queue.List(ctx, alice, DefaultRetryCeiling)
		return err == nil && len(queued) == 0
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, e.store.Inserts())

	require.Eventually(t, func() bool {
		got := e.client.Messages()
		return len(got) == 1 && got[0].Content == "queued before restart" && got[0].Status == models.StatusSent
	}, time.Second, 5*time.Millisecond)
}

func TestClose(t *testing.T) {
	e := bootstrap(t, true)
	require.Equal(t, 1, e.store.Subscribers())

	e.client.Close()
	e.client.Close()

	require.Equal(t, 0, e.store.Subscribers())
	require.ErrorIs(t, e.client.SwitchChannel(context.Background(), e.random), ErrClosed)
	require.NoError(t, e.client.Run(context.Background()))
}
