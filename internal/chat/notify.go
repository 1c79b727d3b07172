package chat

import (
	"sync"
)

type UpdateKind string

const (
	UpdateMessages       UpdateKind = "messages"
	UpdateChannels       UpdateKind = "channels"
	UpdateDirectChannels UpdateKind = "dm_channels"
)

// Update tells views which state changed
type Update struct {
	Kind      UpdateKind `json:"kind"`
	ChannelID string     `json:"channel_id,omitempty"`
	// ScrollToLatest asks the view to bring the newest message into sight
	ScrollToLatest bool `json:"scroll_to_latest,omitempty"`
}

type notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Update
	nextID int
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan Update)}
}

func (n *notifier) subscribe(size int) (<-chan Update, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan Update, size)
	n.subs[id] = ch

	return ch, func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// publish never blocks; a subscriber with a full buffer misses the update
func (n *notifier) publish(u Update) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
