// Package chat keeps the message view of the active channel consistent across optimistic sends,
// backend fetches, the offline queue and realtime pushes
package chat

import (
	"chatsync/internal/cache"
	"chatsync/internal/dedup"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/realtime"
	"context"
	"errors"
	"go.uber.org/zap"
	"sync"
	"time"
)

var (
	ErrNoChannel       = errors.New("no channel selected")
	ErrUnauthenticated = errors.New("no authenticated user")
	ErrNotRetryable    = errors.New("message is not in failed state")
	ErrClosed          = errors.New("client is closed")
)

// delivery is a realtime event tagged with the channel generation of the subscription that produced it
type delivery struct {
	gen   uint64
	event realtime.Event
}

// Client defines fields used by the message sync core
type Client struct {
	logger  *zap.SugaredLogger
	session Session
	backend Backend
	feed    realtime.Feed
	cache   *cache.Cache
	pending PendingQueue
	net     NetState
	ledger  *dedup.Ledger
	metrics *metrics.Metrics
	cfg     config

	mu         sync.Mutex
	active     string
	gen        uint64
	messages   []models.Message
	channels   []models.Channel
	dmChannels []models.Channel
	sub        *realtime.Subscription
	// seq numbers confirmed entries of the active channel in arrival order; fetches keep those newer than their start
	seq      uint64
	arrivals map[string]uint64
	// adopted holds in-flight sends whose live echo was adopted, by temporary id
	adopted map[string]models.Message

	namesMu   sync.Mutex
	usernames map[string]string

	syncMu sync.Mutex

	inbox     chan delivery
	updates   *notifier
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewClient returns Client acting for session
func NewClient(
	logger *zap.SugaredLogger,
	session Session,
	backend Backend,
	feed realtime.Feed,
	c *cache.Cache,
	pending PendingQueue,
	net NetState,
	opts ...Option,
) *Client {
	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(&cfg)
	}

	usernames := make(map[string]string)
	if session.Authenticated() && session.Username != "" {
		usernames[session.UserID] = session.Username
	}

	return &Client{
		logger:    logger,
		session:   session,
		backend:   backend,
		feed:      feed,
		cache:     c,
		pending:   pending,
		net:       net,
		ledger:    dedup.NewLedger(),
		metrics:   cfg.metrics,
		cfg:       cfg,
		usernames: usernames,
		arrivals:  make(map[string]uint64),
		adopted:   make(map[string]models.Message),
		inbox:     make(chan delivery, cfg.inboxSize),
		updates:   newNotifier(),
		done:      make(chan struct{}),
	}
}

// Session returns the user the client acts for
func (c *Client) Session() Session {
	return c.session
}

// Subscribe returns a stream of view updates and a function releasing it
func (c *Client) Subscribe() (<-chan Update, func()) {
	return c.updates.subscribe(32)
}

// ActiveChannel returns id of the channel currently projected
func (c *Client) ActiveChannel() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.active
}

// Messages returns a copy of the active channel projection
func (c *Client) Messages() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	return copyMessages(c.messages)
}

// Run consumes realtime deliveries and connectivity transitions until ctx is done or the client is closed.
// Every live event is applied from this goroutine
func (c *Client) Run(ctx context.Context) error {
	netCh, release := c.net.Subscribe()
	defer release()

	if c.cfg.scope == ScopeGlobal {
		sub, err := c.feed.Subscribe(ctx, realtime.Filter{Table: realtime.TableMessages, Op: realtime.OpInsert})
		if err != nil {
			return err
		}
		defer sub.Close()
		c.spawn(func() { c.forward(sub, 0) })
	}

	var tick <-chan time.Time
	if c.cfg.syncInterval > 0 {
		ticker := time.NewTicker(c.cfg.syncInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	// records queued before a restart are not waiting for a connectivity transition
	if c.session.Authenticated() && c.net.Online() {
		c.syncInBackground(ctx)
	}

	c.logger.Infof("Message sync started for user %s (live scope: %s)", c.session.UserID, c.cfg.scope)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case d := <-c.inbox:
			if d.gen != 0 && d.gen != c.generation() {
				c.metrics.LiveEvent(metrics.EventStale)
				continue
			}
			c.HandleEvent(ctx, d.event)
		case online := <-netCh:
			if online {
				c.syncInBackground(ctx)
			}
		case <-tick:
			if c.net.Online() {
				c.syncInBackground(ctx)
			}
		}
	}
}

// Close stops the live subscription and waits for background work
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		sub := c.sub
		c.sub = nil
		c.mu.Unlock()

		if sub != nil {
			sub.Close()
		}
		c.wg.Wait()
	})
}

// arrivedLocked records id as a confirmed entry of the active channel
func (c *Client) arrivedLocked(id string) {
	c.seq++
	c.arrivals[id] = c.seq
}

func (c *Client) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.gen
}

func (c *Client) syncInBackground(ctx context.Context) {
	c.spawn(func() {
		if _, err := c.SyncPending(ctx); err != nil {
			c.logger.Errorf("Pending queue synchronization: %v", err)
		}
	})
}

// spawn runs fn in a goroutine tracked by Close; it does nothing once the client is closed
func (c *Client) spawn(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// forward moves events of sub into the inbox until sub or the client is closed
func (c *Client) forward(sub *realtime.Subscription, gen uint64) {
	for {
		select {
		case e := <-sub.Events():
			select {
			case c.inbox <- delivery{gen: gen, event: e}:
			case <-sub.Done():
				return
			case <-c.done:
				return
			}
		case <-sub.Done():
			return
		case <-c.done:
			return
		}
	}
}

// resubscribe replaces the live subscription with one for channelID unless a newer switch happened meanwhile
func (c *Client) resubscribe(ctx context.Context, channelID string, gen uint64) error {
	c.mu.Lock()
	old := c.sub
	c.sub = nil
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}

	filter := realtime.Filter{
		Table:  realtime.TableMessages,
		Op:     realtime.OpInsert,
		Column: "channel_id",
		Value:  channelID,
	}
	sub, err := c.feed.Subscribe(ctx, filter)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if gen != c.gen || c.isClosed() {
		c.mu.Unlock()
		sub.Close()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()

	c.logger.Debugf("Subscribed to %s", filter)

	c.spawn(func() { c.forward(sub, gen) })

	return nil
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// mutate applies fn to the message list of channelID: the projection and its cache entry when the channel is
// active, the cache entry alone otherwise
func (c *Client) mutate(channelID string, fn func([]models.Message) []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mutateLocked(channelID, fn)
}

func (c *Client) mutateLocked(channelID string, fn func([]models.Message) []models.Message) {
	var err error
	if channelID == c.active {
		c.messages = fn(c.messages)
		err = c.cache.Put(channelID, c.messages)
	} else {
		err = c.cache.Mutate(channelID, fn)
	}
	if err != nil {
		c.logger.Warnf("Persisting cache entry for channel %s: %v", channelID, err)
	}
}

func (c *Client) notify(u Update) {
	c.updates.publish(u)
}

// username resolves the display name of user, asking the backend once per user
func (c *Client) username(ctx context.Context, user string) string {
	c.namesMu.Lock()
	name, ok := c.usernames[user]
	c.namesMu.Unlock()
	if ok {
		return name
	}

	p, err := c.backend.Profile(ctx, user)
	if err != nil {
		c.logger.Warnf("Resolving username of %s: %v", user, err)
		return ""
	}

	c.namesMu.Lock()
	c.usernames[user] = p.Username
	c.namesMu.Unlock()

	return p.Username
}

func copyMessages(in []models.Message) []models.Message {
	if in == nil {
		return nil
	}
	out := make([]models.Message, len(in))
	copy(out, in)
	return out
}
