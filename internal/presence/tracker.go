// Package presence announces the current user as online and keeps the roster of other users up to date
package presence

import (
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/realtime"
	"context"
	"errors"
	"fmt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"sort"
	"sync"
	"time"
)

const (
	DefaultHeartbeat = 15 * time.Second
	DefaultDebounce  = 30 * time.Second
)

var ErrNoUser = errors.New("presence needs an authenticated user")

// Backend is the remote presence store
type Backend interface {
	UpsertPresence(ctx context.Context, user string, online bool, at time.Time) error
	Profiles(ctx context.Context) ([]models.Profile, error)
	OnlineUsers(ctx context.Context) ([]models.OnlineUser, error)
}

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

type config struct {
	heartbeat time.Duration
	debounce  time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Heartbeat sets how often the tracker tries to refresh its own presence row
func Heartbeat(d time.Duration) Option {
	return optionFunc(func(c *config) {
		if d > 0 {
			c.heartbeat = d
		}
	})
}

// Debounce sets the shortest interval between two presence writes
func Debounce(d time.Duration) Option {
	return optionFunc(func(c *config) {
		if d > 0 {
			c.debounce = d
		}
	})
}

func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(c *config) {
		c.metrics = m
	})
}

// Tracker defines fields used for presence tracking of one user
type Tracker struct {
	logger  *zap.SugaredLogger
	user    string
	backend Backend
	feed    realtime.Feed
	cfg     config
	limiter *rate.Limiter

	mu    sync.Mutex
	users map[string]models.OnlineUser
	sub   *realtime.Subscription
	stop  chan struct{}
	wg    sync.WaitGroup
}

func NewTracker(logger *zap.SugaredLogger, user string, backend Backend, feed realtime.Feed, opts ...Option) *Tracker {
	cfg := config{
		heartbeat: DefaultHeartbeat,
		debounce:  DefaultDebounce,
		now:       time.Now,
	}
	for _, o := range opts {
		o.apply(&cfg)
	}

	return &Tracker{
		logger:  logger,
		user:    user,
		backend: backend,
		feed:    feed,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.debounce), 1),
		users:   make(map[string]models.OnlineUser),
	}
}

// Setup marks the user offline, loads every user, subscribes to presence changes, announces the user online and
// starts the heartbeat. Calling Setup twice without Cleanup is a no-op
func (t *Tracker) Setup(ctx context.Context) error {
	if t.user == "" {
		return ErrNoUser
	}

	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	t.logger.Debugf("Setting up presence for user %s", t.user)

	if err := t.write(ctx, false); err != nil {
		return fmt.Errorf("initializing presence: %w", err)
	}

	if err := t.LoadAllUsers(ctx); err != nil {
		t.logger.Errorf("Loading users: %v", err)
	}

	sub, err := t.feed.Subscribe(ctx, realtime.Filter{Table: realtime.TableOnlineUsers})
	if err != nil {
		return fmt.Errorf("subscribing to presence changes: %w", err)
	}

	// the online write takes the first debounce slot
	t.limiter.Allow()
	if err := t.write(ctx, true); err != nil {
		sub.Close()
		return fmt.Errorf("tracking presence: %w", err)
	}
	t.apply(models.OnlineUser{UserID: t.user, Online: true, LastSeen: t.timePtr()})

	stop := make(chan struct{})
	t.mu.Lock()
	t.sub = sub
	t.stop = stop
	t.mu.Unlock()

	t.wg.Add(2)
	go t.consume(sub, stop)
	go t.heartbeat(stop)

	t.logger.Infof("Presence tracking started for user %s", t.user)

	return nil
}

// Cleanup stops the heartbeat, closes the subscription and marks the user offline
func (t *Tracker) Cleanup(ctx context.Context) error {
	t.mu.Lock()
	sub, stop := t.sub, t.stop
	t.sub, t.stop = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return nil
	}

	close(stop)
	sub.Close()
	t.wg.Wait()

	if err := t.write(ctx, false); err != nil {
		return fmt.Errorf("untracking presence: %w", err)
	}
	t.apply(models.OnlineUser{UserID: t.user, Online: false, LastSeen: t.timePtr()})

	t.logger.Infof("Presence tracking stopped for user %s", t.user)

	return nil
}

// LoadAllUsers replaces the user list with profiles joined with their presence rows
func (t *Tracker) LoadAllUsers(ctx context.Context) error {
	profiles, err := t.backend.Profiles(ctx)
	if err != nil {
		return err
	}
	online, err := t.backend.OnlineUsers(ctx)
	if err != nil {
		return err
	}

	byUser := make(map[string]models.OnlineUser, len(online))
	for _, u := range online {
		byUser[u.UserID] = u
	}

	users := make(map[string]models.OnlineUser, len(profiles))
	for _, p := range profiles {
		u := models.OnlineUser{UserID: p.UserID, Username: p.Username}
		if o, ok := byUser[p.UserID]; ok {
			u.Online = o.Online
			u.LastSeen = o.LastSeen
		}
		users[p.UserID] = u
	}

	t.mu.Lock()
	t.users = users
	t.mu.Unlock()

	t.logger.Debugf("Loaded %d users", len(users))

	return nil
}

// IsOnline reports whether user is currently marked online
func (t *Tracker) IsOnline(user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.users[user].Online
}

// Roster returns users currently online, sorted by username
func (t *Tracker) Roster() []models.OnlineUser {
	var out []models.OnlineUser
	for _, u := range t.AllUsers() {
		if u.Online {
			out = append(out, u)
		}
	}
	return out
}

// AllUsers returns every known user, sorted by username
func (t *Tracker) AllUsers() []models.OnlineUser {
	t.mu.Lock()
	out := make([]models.OnlineUser, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, u)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

func (t *Tracker) consume(sub *realtime.Subscription, stop <-chan struct{}) {
	defer t.wg.Done()

	for {
		select {
		case e := <-sub.Events():
			if p, ok := e.(realtime.PresenceUpdated); ok {
				t.apply(p.User)
			}
		case <-sub.Done():
			return
		case <-stop:
			return
		}
	}
}

// apply merges a presence row into the user list keeping the known username
func (t *Tracker) apply(u models.OnlineUser) {
	t.mu.Lock()
	defer t.mu.Unlock()

	known, ok := t.users[u.UserID]
	if ok && u.Username == "" {
		u.Username = known.Username
	}
	t.users[u.UserID] = u
}

func (t *Tracker) heartbeat(stop <-chan struct{}) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !t.limiter.Allow() {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), t.cfg.heartbeat)
			if err := t.write(ctx, true); err != nil {
				t.logger.Warnf("Presence heartbeat failed: %v", err)
			}
			cancel()
		}
	}
}

func (t *Tracker) write(ctx context.Context, online bool) error {
	if err := t.backend.UpsertPresence(ctx, t.user, online, t.cfg.now()); err != nil {
		return err
	}
	if online {
		t.cfg.metrics.Heartbeat()
	}
	return nil
}

func (t *Tracker) timePtr() *time.Time {
	now := t.cfg.now()
	return &now
}
