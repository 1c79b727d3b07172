// Package netstate tracks whether the client can currently reach the backend
package netstate

import (
	"context"
	"go.uber.org/zap"
	"sync"
	"time"
)

// Prober checks backend reachability
type Prober interface {
	Ping(ctx context.Context) error
}

// Monitor holds the connectivity flag and notifies subscribers about transitions
type Monitor struct {
	logger *zap.SugaredLogger

	mu     sync.Mutex
	online bool
	subs   map[int]chan bool
	nextID int
}

func NewMonitor(logger *zap.SugaredLogger, online bool) *Monitor {
	return &Monitor{
		logger: logger,
		online: online,
		subs:   make(map[int]chan bool),
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.online
}

// Set updates the flag; subscribers are notified only when it changes
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return
	}
	m.online = online

	if online {
		m.logger.Info("Network is back online")
	} else {
		m.logger.Warn("Network went offline")
	}

	for _, ch := range m.subs {
		// keep only the latest state for slow subscribers
		select {
		case <-ch:
		default:
		}
		ch <- online
	}
}

// Subscribe returns a channel receiving the new state after each transition and a function releasing it
func (m *Monitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Probe pings p every interval and updates the flag from the result until ctx is done
func (m *Monitor) Probe(ctx context.Context, p Prober, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err := p.Ping(pingCtx)
			cancel()
			if err != nil && ctx.Err() == nil {
				m.logger.Debugf("Backend probe failed: %v", err)
			}
			if ctx.Err() != nil {
				return
			}
			m.Set(err == nil)
		}
	}
}
