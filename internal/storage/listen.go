package storage

import (
	"chatsync/internal/metrics"
	"chatsync/internal/realtime"
	"context"
	"errors"
	"time"
)

// NotifyChannel is the LISTEN/NOTIFY channel written by the change feed triggers
const NotifyChannel = "chatsync_changes"

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Listener is the realtime.Feed fed by Postgres notifications
type Listener struct {
	store   *Store
	hub     *realtime.Hub
	metrics *metrics.Metrics
}

// Listener returns change feed over s; Run must be called to start receiving notifications
func (s *Store) Listener(m *metrics.Metrics) *Listener {
	return &Listener{
		store:   s,
		hub:     realtime.NewHub(64),
		metrics: m,
	}
}

func (l *Listener) Subscribe(ctx context.Context, f realtime.Filter) (*realtime.Subscription, error) {
	return l.hub.Subscribe(ctx, f)
}

// Run holds one pooled connection in LISTEN mode and dispatches notifications until ctx is done.
// A broken connection is re-acquired with exponential backoff
func (l *Listener) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		err := l.listen(ctx, func() { backoff = minBackoff })
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.store.logger.Warnf("Change feed connection lost, reconnecting in %s: %v", backoff, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (l *Listener) listen(ctx context.Context, connected func()) error {
	conn, err := l.store.db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "listen "+NotifyChannel); err != nil {
		return err
	}
	connected()

	l.store.logger.Infof("Listening on %s", NotifyChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// connection state is unknown after an interrupted wait
				conn.Conn().Close(context.Background())
			}
			return err
		}
		if n.Channel != NotifyChannel {
			continue
		}

		if _, err := l.hub.Dispatch([]byte(n.Payload)); err != nil {
			l.metrics.LiveEvent(metrics.EventMalformed)
			l.store.logger.Warnf("Dropping change feed payload: %v", err)
		}
	}
}

// Close closes every subscription
func (l *Listener) Close() {
	l.hub.Close()
}
