// Package app assembles the sync daemon from its configuration and runs it
package app

import (
	"chatsync/internal/bridge"
	"chatsync/internal/cache"
	"chatsync/internal/chat"
	"chatsync/internal/config"
	"chatsync/internal/kv"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/netstate"
	"chatsync/internal/pending"
	"chatsync/internal/presence"
	"chatsync/internal/realtime"
	"chatsync/internal/storage"
	"chatsync/internal/storage/memstore"
	"chatsync/internal/unread"
	"context"
	"errors"
	"fmt"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"sync"
	"time"
)

const (
	probeTimeout   = 3 * time.Second
	handlerTimeout = 10 * time.Second
	cleanupTimeout = 5 * time.Second
)

// backend is everything the daemon needs from the remote data service
type backend interface {
	chat.Backend
	presence.Backend
	unread.Backend
	netstate.Prober
}

// App defines fields of one assembled daemon
type App struct {
	logger   *zap.SugaredLogger
	cfg      config.Config
	local    kv.Store
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	cache    *cache.Cache

	backend  backend
	feed     realtime.Feed
	listener *storage.Listener
	closers  []func()

	net      *netstate.Monitor
	client   *chat.Client
	presence *presence.Tracker
	unread   *unread.Tracker
	bridge   *bridge.Server
}

// New opens local state and the backend and wires every component. Nothing runs until Run is called
func New(ctx context.Context, logger *zap.SugaredLogger, cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		logger:   logger,
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
	}
	a.metrics = metrics.New(a.registry)

	if err := a.openLocal(); err != nil {
		return nil, err
	}
	a.cache = cache.New(logger, a.local, a.metrics)

	if err := a.openBackend(ctx); err != nil {
		a.Close()
		return nil, err
	}

	queue, err := a.pendingQueue()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.net = netstate.NewMonitor(logger, true)

	session := chat.Session{UserID: cfg.UserID, Username: cfg.Username}
	a.client = chat.NewClient(logger, session, a.backend, a.feed, a.cache, queue, a.net,
		chat.HistoryLimit(cfg.HistoryLimit),
		chat.SendTimeout(cfg.SendTimeout.Std()),
		chat.RetryCeiling(cfg.RetryCeiling),
		chat.SyncInterval(cfg.SyncInterval.Std()),
		chat.LiveScope(chat.Scope(cfg.LiveScope)),
		chat.WithMetrics(a.metrics),
	)

	deps := bridge.Deps{
		Client:   a.client,
		Network:  a.net,
		Cache:    a.cache,
		Gatherer: a.registry,
	}

	if session.Authenticated() {
		a.presence = presence.NewTracker(logger, cfg.UserID, a.backend, a.feed,
			presence.Heartbeat(cfg.Heartbeat.Std()),
			presence.Debounce(cfg.PresenceDebounce.Std()),
			presence.WithMetrics(a.metrics),
		)
		a.unread = unread.NewTracker(logger, cfg.UserID, a.backend, a.feed, a.client.ActiveChannel)
		deps.Presence = a.presence
		deps.Unread = a.unread
	} else {
		logger.Warn("No user configured, presence and unread counts are disabled")
	}

	if cfg.Bridge.Enabled {
		a.bridge, err = bridge.NewServer(logger, deps,
			bridge.WithConfig(cfg.Bridge.Server()),
			bridge.TimeoutHandler(handlerTimeout, "request timed out"),
		)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *App) openLocal() error {
	if a.cfg.CacheDir == "" {
		a.local = kv.NewMemory()
		return nil
	}

	p, err := kv.OpenPebble(a.logger, a.cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("opening local cache at %s: %w", a.cfg.CacheDir, err)
	}
	a.local = p
	return nil
}

func (a *App) openBackend(ctx context.Context) error {
	switch a.cfg.Backend {
	case config.BackendMemory:
		s := memstore.New(a.logger)
		a.closers = append(a.closers, s.Close)
		a.backend = s
		a.feed = s
		return a.seedMemory(ctx, s)
	default:
		s, err := storage.New(ctx, a.logger, a.cfg.Postgres.Storage(),
			storage.ConnectionTimeout(a.cfg.Postgres.ConnectTimeout.Std()),
			storage.MaxConns(a.cfg.Postgres.MaxConns),
		)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		a.backend = s
		a.listener = s.Listener(a.metrics)
		a.closers = append(a.closers, a.listener.Close)
		a.feed = a.listener
		return nil
	}
}

// seedMemory creates the configured user and a starting channel so an in-memory daemon is usable
func (a *App) seedMemory(ctx context.Context, s *memstore.Store) error {
	if a.cfg.UserID != "" {
		name := a.cfg.Username
		if name == "" {
			name = a.cfg.UserID
		}
		if _, err := s.CreateProfile(ctx, a.cfg.UserID, name); err != nil {
			return err
		}
	}
	_, err := s.CreateChannel(ctx, models.Channel{Name: "general"})
	return err
}

func (a *App) pendingQueue() (chat.PendingQueue, error) {
	if a.cfg.PendingStore == config.PendingLocal {
		return pending.NewQueue(a.logger, a.local), nil
	}

	switch s := a.backend.(type) {
	case *storage.Store:
		return s.PendingQueue(), nil
	case *memstore.Store:
		return s.PendingQueue(), nil
	default:
		return nil, errors.New("backend has no remote pending queue")
	}
}

// Client returns the sync core
func (a *App) Client() *chat.Client {
	return a.client
}

// Cache returns the local message cache
func (a *App) Cache() *cache.Cache {
	return a.cache
}

// Presence returns the presence tracker, nil without a configured user
func (a *App) Presence() *presence.Tracker {
	return a.presence
}

// Unread returns the unread counter, nil without a configured user
func (a *App) Unread() *unread.Tracker {
	return a.unread
}

// Network returns the connectivity monitor
func (a *App) Network() *netstate.Monitor {
	return a.net
}

// Bridge returns the local api server, nil when it is disabled
func (a *App) Bridge() *bridge.Server {
	return a.bridge
}

// Start loads the channel lists, which restores the last active channel, and starts presence and unread tracking.
// Failures are logged so the daemon keeps serving the cached view while the backend is unreachable
func (a *App) Start(ctx context.Context) {
	if channels, err := a.client.LoadChannels(ctx); err != nil {
		a.logger.Warnf("Cannot load channels: %v", err)
	} else {
		a.logger.Infof("Loaded %d channels", len(channels))
	}

	if a.client.Session().Authenticated() {
		if _, err := a.client.LoadDMChannels(ctx); err != nil {
			a.logger.Warnf("Cannot load direct channels: %v", err)
		}
	}

	if a.presence != nil {
		if err := a.presence.Setup(ctx); err != nil {
			a.logger.Warnf("Presence setup failed: %v", err)
		}
	}
	if a.unread != nil {
		if err := a.unread.Load(ctx); err != nil {
			a.logger.Warnf("Cannot load unread counts: %v", err)
		}
		if err := a.unread.Start(ctx); err != nil {
			a.logger.Warnf("Cannot start unread counting: %v", err)
		}
	}
}

// Run starts the daemon and blocks until ctx is done or a component fails
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	if a.listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("change feed: %w", err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.net.Probe(ctx, a.backend, a.cfg.ProbeInterval.Std(), probeTimeout)
	}()

	a.Start(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("message sync: %w", err)
		}
	}()

	if a.bridge != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.bridge.Start(ctx); err != nil {
				errCh <- fmt.Errorf("bridge: %w", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
		a.logger.Errorf("Stopping: %v", err)
	}

	cancel()
	wg.Wait()
	a.stop()

	return err
}

// stop announces the user offline and stops trackers and the client
func (a *App) stop() {
	if a.unread != nil {
		a.unread.Stop()
	}
	if a.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		if err := a.presence.Cleanup(ctx); err != nil {
			a.logger.Warnf("Presence cleanup failed: %v", err)
		}
		cancel()
	}
	if a.client != nil {
		a.client.Close()
	}
}

// Close releases the backend and local state. It is safe to call after a failed New
func (a *App) Close() {
	if a.client != nil {
		a.client.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil

	if a.local != nil {
		if err := a.local.Close(); err != nil {
			a.logger.Errorf("Closing local cache: %v", err)
		}
		a.local = nil
	}
}
