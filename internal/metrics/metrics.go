// Package metrics exposes prometheus counters for the sync core
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Live event results
const (
	EventAdmitted  = "admitted"
	EventDuplicate = "duplicate"
	EventAdopted   = "adopted"
	EventRouted    = "routed"
	EventStale     = "stale"
	EventMalformed = "malformed"
)

// Send outcomes
const (
	SendSent    = "sent"
	SendPending = "pending"
	SendFailed  = "failed"
)

// Metrics holds the collectors; a nil *Metrics is valid and records nothing
type Metrics struct {
	sends       *prometheus.CounterVec
	liveEvents  *prometheus.CounterVec
	syncResults *prometheus.CounterVec
	cacheLookup *prometheus.CounterVec
	heartbeats  prometheus.Counter
}

// New creates collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "sends_total",
			Help:      "Outbound messages by final outcome.",
		}, []string{"outcome"}),
		liveEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "live_events_total",
			Help:      "Realtime events by handling result.",
		}, []string{"result"}),
		syncResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "pending_sync_total",
			Help:      "Pending queue delivery attempts by result.",
		}, []string{"result"}),
		cacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "cache_lookups_total",
			Help:      "Local cache lookups by result.",
		}, []string{"result"}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatsync",
			Name:      "presence_heartbeats_total",
			Help:      "Presence upserts sent to the backend.",
		}),
	}

	reg.MustRegister(m.sends, m.liveEvents, m.syncResults, m.cacheLookup, m.heartbeats)

	return m
}

func (m *Metrics) Send(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LiveEvent(result string) {
	if m == nil {
		return
	}
	m.liveEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) SyncAttempt(delivered bool) {
	if m == nil {
		return
	}
	result := "failed"
	if delivered {
		result = "delivered"
	}
	m.syncResults.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookup.WithLabelValues(result).Inc()
}

func (m *Metrics) Heartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}
