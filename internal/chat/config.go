package chat

import (
	"chatsync/internal/metrics"
	"time"
)

// Scope selects which inserts the live listener receives
type Scope string

const (
	// ScopeChannel subscribes to the active channel only and resubscribes on every switch
	ScopeChannel Scope = "channel"
	// ScopeGlobal keeps one subscription to every channel and routes inactive channels into the cache
	ScopeGlobal Scope = "global"
)

const (
	DefaultHistoryLimit = 50
	DefaultSendTimeout  = 5 * time.Second
	DefaultRetryCeiling = 3
)

type Option interface {
	apply(*config)
}

type optionFunc func(c *config)

func (f optionFunc) apply(c *config) { f(c) }

// config defines fields used for configuring Client instance
type config struct {
	historyLimit int
	sendTimeout  time.Duration
	retryCeiling int
	syncInterval time.Duration
	scope        Scope
	metrics      *metrics.Metrics
	now          func() time.Time
	inboxSize    int
}

func defaultConfig() config {
	return config{
		historyLimit: DefaultHistoryLimit,
		sendTimeout:  DefaultSendTimeout,
		retryCeiling: DefaultRetryCeiling,
		scope:        ScopeChannel,
		now:          time.Now,
		inboxSize:    64,
	}
}

// HistoryLimit sets how many of the most recent messages are fetched on a channel switch
func HistoryLimit(n int) Option {
	return optionFunc(func(c *config) {
		if n > 0 {
			c.historyLimit = n
		}
	})
}

// SendTimeout bounds every remote message write
func SendTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		if d > 0 {
			c.sendTimeout = d
		}
	})
}

// RetryCeiling sets the largest retry count at which a pending message is still attempted
func RetryCeiling(n int) Option {
	return optionFunc(func(c *config) {
		if n >= 0 {
			c.retryCeiling = n
		}
	})
}

// SyncInterval enables periodic pending queue synchronization while online
func SyncInterval(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.syncInterval = d
	})
}

// LiveScope sets the subscription scope of the live listener
func LiveScope(s Scope) Option {
	return optionFunc(func(c *config) {
		if s == ScopeChannel || s == ScopeGlobal {
			c.scope = s
		}
	})
}

// WithMetrics records pipeline counters into m
func WithMetrics(m *metrics.Metrics) Option {
	return optionFunc(func(c *config) {
		c.metrics = m
	})
}

// Clock replaces the time source used for optimistic timestamps and attempt stamps
func Clock(now func() time.Time) Option {
	return optionFunc(func(c *config) {
		if now != nil {
			c.now = now
		}
	})
}
