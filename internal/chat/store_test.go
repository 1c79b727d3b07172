package chat

import (
	"chatsync/internal/models"
	"chatsync/internal/realtime"
	mytesting "chatsync/internal/testing"
	"context"
	"errors"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

// gatedBackend holds history reads of one channel until released
type gatedBackend struct {
	Backend
	channel string
	reached chan struct{}
	release chan struct{}
}

func (b *gatedBackend) LatestMessages(ctx context.Context, channelID string, limit int) ([]models.Message, error) {
	if channelID == b.channel {
		close(b.reached)
		<-b.release
	}
	return b.Backend.LatestMessages(ctx, channelID, limit)
}

var (
	epoch            = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)
	errInjectedRead  = errors.New("read failed")
	errInjectedWrite = errors.New("write failed")
)

func TestSwitchChannelShowsCacheThenHistory(t *testing.T) {
	e := bootstrapEnv(t, true)
	ctx := context.Background()

	history := mytesting.Messages(e.random, bob, 3, epoch)
	_, err := e.store.ImportMessages(ctx, history)
	require.NoError(t, err)

	cached := history[:1]
	require.NoError(t, e.cache.Put(e.random, cached))

	c := e.newClient(t, nil)
	updates, release := c.Subscribe()
	defer release()

	require.NoError(t, c.SwitchChannel(ctx, e.random))

	first := <-updates
	require.Equal(t, Update{Kind: UpdateMessages, ChannelID: e.random, ScrollToLatest: true}, first)

	require.Equal(t, e.random, c.ActiveChannel())
	require.Equal(t, mytesting.IDs(history), mytesting.IDs(c.Messages()))
	require.Equal(t, "Bob", c.Messages()[0].Username)

	current, ok := e.cache.CurrentChannel()
	require.True(t, ok)
	require.Equal(t, e.random, current)

	entry, ok := e.cache.Get(e.random)
	require.True(t, ok)
	require.Equal(t, mytesting.IDs(history), mytesting.IDs(entry.Messages))
}

func TestSwitchChannelFetchFailureKeepsCache(t *testing.T) {
	e := bootstrapEnv(t, true)
	ctx := context.Background()

	cached := mytesting.Messages(e.random, bob, 2, epoch)
	require.NoError(t, e.cache.Put(e.random, cached))

	c := e.newClient(t, nil)
	e.store.FailReads(errInjectedRead)

	err := c.SwitchChannel(ctx, e.random)
	require.ErrorIs(t, err, errInjectedRead)
	require.Equal(t, mytesting.IDs(cached), mytesting.IDs(c.Messages()))

	require.ErrorIs(t, c.SwitchChannel(ctx, ""), ErrNoChannel)
}

func TestStaleHistoryDiscarded(t *testing.T) {
	e := bootstrapEnv(t, true)
	ctx := context.Background()

	_, err := e.store.ImportMessages(ctx, mytesting.Messages(e.general, bob, 3, epoch))
	require.NoError(t, err)
	randomHistory := mytesting.Messages(e.random, bob, 2, epoch)
	_, err = e.store.ImportMessages(ctx, randomHistory)
	require.NoError(t, err)

	gated := &gatedBackend{
		Backend: e.store,
		channel: e.general,
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := e.newClient(t, gated)

	done := make(chan error, 1)
	go func() { done <- c.SwitchChannel(ctx, e.general) }()
	<-gated.reached

	require.NoError(t, c.SwitchChannel(ctx, e.random))
	close(gated.release)
	require.NoError(t, <-done)

	require.Equal(t, e.random, c.ActiveChannel())
	require.Equal(t, mytesting.IDs(randomHistory), mytesting.IDs(c.Messages()))

	// the superseded subscription was closed
	require.Equal(t, 1, e.store.Subscribers())
}

func TestSwitchKeepsUnsentEntries(t *testing.T) {
	e := bootstrap(t, false)
	ctx := context.Background()

	e.store.FailWrites(errInjectedWrite)
	m := e.client.Send(ctx, "draft")
	require.Equal(t, models.StatusPending, m.Status)

	require.NoError(t, e.client.SwitchChannel(ctx, e.random))
	require.Empty(t, e.client.Messages())

	require.NoError(t, e.client.SwitchChannel(ctx, e.general))
	got := e.client.Messages()
	require.Len(t, got, 1)
	require.Equal(t, m.ID, got[0].ID)
	require.Equal(t, models.StatusPending, got[0].Status)
}

func TestHistoryLimit(t *testing.T) {
	e := bootstrapEnv(t, true)
	ctx := context.Background()

	history := mytesting.Messages(e.general, bob, 10, epoch)
	_, err := e.store.ImportMessages(ctx, history)
	require.NoError(t, err)

	c := e.newClient(t, nil, HistoryLimit(4))
	require.NoError(t, c.SwitchChannel(ctx, e.general))
	require.Equal(t, mytesting.IDs(history[6:]), mytesting.IDs(c.Messages()))
}

func TestLoadOlder(t *testing.T) {
	e := bootstrapEnv(t, true)
	ctx := context.Background()

	history := mytesting.Messages(e.general, bob, 10, epoch)
	_, err := e.store.ImportMessages(ctx, history)
	require.NoError(t, err)

	c := e.newClient(t, nil, HistoryLimit(4))
	require.NoError(t, c.SwitchChannel(ctx, e.general))

	n, err := c.LoadOlder(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, mytesting.IDs(history[3:]), mytesting.IDs(c.Messages()))

	n, err = c.LoadOlder(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, mytesting.IDs(history), mytesting.IDs(c.Messages()))

	n, err = c.LoadOlder(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestLoadOlderWithoutHistory(t *testing.T) {
	e := bootstrapEnv(t, true)
	c := e.newClient(t, nil)

	_, err := c.LoadOlder(context.Background(), 10)
	require.ErrorIs(t, err, ErrNoChannel)

	require.NoError(t, c.SwitchChannel(context.Background(), e.general))
	n, err := c.LoadOlder(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestLoadChannelsSelectsFirst(t *testing.T) {
	e := bootstrapEnv(t, true)
	c := e.newClient(t, nil)

	channels, err := c.LoadChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 2)
	require.Equal(t, "general", channels[0].Name)
	require.Equal(t, e.general, c.ActiveChannel())
}

func TestLoadChannelsRestoresLastChannel(t *testing.T) {
	e := bootstrapEnv(t, true)
	require.NoError(t, e.cache.SetCurrentChannel(e.random))
	c := e.newClient(t, nil)

	_, err := c.LoadChannels(context.Background())
	require.NoError(t, err)
	require.Equal(t, e.random, c.ActiveChannel())

	// an active channel is never replaced
	_, err = c.LoadChannels(context.Background())
	require.NoError(t, err)
	require.Equal(t, e.random, c.ActiveChannel())
}

func TestLoadChannelsFailureKeepsList(t *testing.T) {
	e := bootstrapEnv(t, true)
	c := e.newClient(t, nil)

	_, err := c.LoadChannels(context.Background())
	require.NoError(t, err)

	e.store.FailReads(errInjectedRead)
	channels, err := c.LoadChannels(context.Background())
	require.ErrorIs(t, err, errInjectedRead)
	require.Len(t, channels, 2)
	require.Len(t, c.Channels(), 2)
}

func TestOpenDirect(t *testing.T) {
	e := bootstrapEnv(t, true)
	c := e.newClient(t, nil)
	ctx := context.Background()

	id, err := c.OpenDirect(ctx, bob)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	again, err := c.OpenDirect(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, id, again)

	dms := c.DirectChannels()
	require.Len(t, dms, 1)
	require.Equal(t, id, dms[0].ID)
	require.True(t, dms[0].HasParticipant(alice))

	_, err = c.OpenDirect(ctx, alice)
	require.Error(t, err)
}

func TestMergeLocal(t *testing.T) {
	fetched := mytesting.Messages("c", alice, 2, epoch)

	echoed := fetched[1]
	echoed.ID = models.NewTemporaryID()
	echoed.Status = models.StatusSending
	echoed.CreatedAt = echoed.CreatedAt.Add(100 * time.Millisecond)

	draft := models.Message{
		ID:        models.NewTemporaryID(),
		Content:   "draft",
		AuthorID:  alice,
		ChannelID: "c",
		CreatedAt: epoch.Add(time.Minute),
		Status:    models.StatusFailed,
	}
	stale := mytesting.Messages("c", bob, 1, epoch.Add(-time.Hour))[0]
	stale.ID = "stale"
	newer := mytesting.Messages("c", bob, 1, epoch.Add(2*time.Minute))[0]
	newer.ID = "newer"

	merged := mergeLocal(append([]models.Message(nil), fetched...), []models.Message{stale, echoed, draft, newer}, nil)
	require.Equal(t, []string{fetched[0].ID, fetched[1].ID, draft.ID, newer.ID}, mytesting.IDs(merged))

	// an empty snapshot keeps only what arrived during the fetch
	arrived := func(m models.Message) bool { return m.ID == "newer" }
	merged = mergeLocal(nil, []models.Message{stale, newer}, arrived)
	require.Equal(t, []string{newer.ID}, mytesting.IDs(merged))
}

func TestLiveMessageSurvivesRunningFetch(t *testing.T) {
	e := bootstrapEnv(t, true)
	ctx := context.Background()

	history := mytesting.Messages(e.general, bob, 1, epoch)
	_, err := e.store.ImportMessages(ctx, history)
	require.NoError(t, err)

	// cached entry the backend no longer returns
	gone := mytesting.Messages(e.general, bob, 1, epoch.Add(-time.Hour))[0]
	gone.ID = "gone"
	require.NoError(t, e.cache.Put(e.general, []models.Message{gone}))

	gated := &gatedBackend{
		Backend: e.store,
		channel: e.general,
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := e.newClient(t, gated)

	done := make(chan error, 1)
	go func() { done <- c.SwitchChannel(ctx, e.general) }()
	<-gated.reached

	live := models.Message{
		ID:        "live-1",
		Content:   "while loading",
		AuthorID:  bob,
		ChannelID: e.general,
		CreatedAt: time.Now(),
	}
	c.HandleEvent(ctx, realtime.MessageInserted{Message: live})
	require.Len(t, c.Messages(), 2)

	close(gated.release)
	require.NoError(t, <-done)

	require.Equal(t, []string{history[0].ID, live.ID}, mytesting.IDs(c.Messages()))
	require.True(t, c.ledger.Has(live.ID))
	require.False(t, c.ledger.Has(gone.ID))

	// a repeated delivery is still a duplicate
	c.HandleEvent(ctx, realtime.MessageInserted{Message: live})
	require.Len(t, c.Messages(), 2)

	entry, ok := e.cache.Get(e.general)
	require.True(t, ok)
	require.Equal(t, []string{history[0].ID, live.ID}, mytesting.IDs(entry.Messages))
}

func TestReplaceTemporary(t *testing.T) {
	saved := models.Message{ID: "s1", Content: "hi", Status: models.StatusSent}
	temp := models.Message{ID: "temp-1", Content: "hi", Status: models.StatusSending}
	echo := models.Message{ID: "s1", Content: "hi", Status: models.StatusSent}

	got := replaceTemporary([]models.Message{temp}, temp.ID, saved)
	require.Equal(t, []models.Message{saved}, got)

	// echo arrived first
	got = replaceTemporary([]models.Message{temp, echo}, temp.ID, saved)
	require.Equal(t, []string{"s1"}, mytesting.IDs(got))

	got = replaceTemporary([]models.Message{echo}, temp.ID, saved)
	require.Equal(t, []string{"s1"}, mytesting.IDs(got))
}
