// Package memstore is an in-process backend with the same behavior as the Postgres store, including the change
// feed. Faults and latency can be injected
package memstore

import (
	"chatsync/internal/models"
	"chatsync/internal/realtime"
	"chatsync/internal/storage"
	"context"
	"errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"sort"
	"sync"
	"time"
)

var ErrInjected = errors.New("injected backend failure")

// Store defines fields of the in-memory backend
type Store struct {
	logger *zap.SugaredLogger
	hub    *realtime.Hub
	now    func() time.Time

	mu        sync.Mutex
	profiles  map[string]models.Profile
	channels  []models.Channel
	messages  map[string][]models.Message
	online    map[string]models.OnlineUser
	reads     map[[2]string]time.Time
	pending   map[string]models.PendingMessage
	lastStamp time.Time

	writeErr   error
	readErr    error
	writeDelay time.Duration
	silent     bool
	inserts    int
}

func New(logger *zap.SugaredLogger) *Store {
	return &Store{
		logger:   logger,
		hub:      realtime.NewHub(64),
		now:      time.Now,
		profiles: make(map[string]models.Profile),
		messages: make(map[string][]models.Message),
		online:   make(map[string]models.OnlineUser),
		reads:    make(map[[2]string]time.Time),
		pending:  make(map[string]models.PendingMessage),
	}
}

// FailWrites makes every message write return err; nil restores normal behavior
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeErr = err
}

// FailReads makes message and channel reads return err; nil restores normal behavior
func (s *Store) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readErr = err
}

// DelayWrites holds every message write for d or until its context is done
func (s *Store) DelayWrites(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeDelay = d
}

// Silence stops change feed notifications for message inserts
func (s *Store) Silence(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.silent = silent
}

// Inserts returns the number of messages accepted so far
func (s *Store) Inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inserts
}

// Subscribe implements realtime.Feed
func (s *Store) Subscribe(ctx context.Context, f realtime.Filter) (*realtime.Subscription, error) {
	return s.hub.Subscribe(ctx, f)
}

// PublishRaw pushes a raw change feed payload to subscribers
func (s *Store) PublishRaw(payload []byte) error {
	_, err := s.hub.Dispatch(payload)
	return err
}

// Subscribers returns the number of open change feed subscriptions
func (s *Store) Subscribers() int {
	return s.hub.Len()
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readErr
}

func (s *Store) Close() {
	s.hub.Close()
}

func (s *Store) CreateProfile(_ context.Context, user, username string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.profiles {
		if p.Username == username {
			return models.Profile{}, storage.ErrProfileExists
		}
	}
	p := models.Profile{UserID: user, Username: username, CreatedAt: s.stamp()}
	s.profiles[user] = p
	return p, nil
}

func (s *Store) Profile(_ context.Context, user string) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[user]
	if !ok {
		return p, storage.ErrProfileNotExist
	}
	return p, nil
}

func (s *Store) Profiles(context.Context) ([]models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) CreateChannel(_ context.Context, c models.Channel) (models.Channel, error) {
	if err := c.Validate(); err != nil {
		return c, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.Kind == "" {
		c.Kind = models.KindPublic
	}
	c.ID = uuid.NewString()
	c.CreatedAt = s.stamp()
	s.channels = append(s.channels, c)
	return c, nil
}

func (s *Store) Channels(context.Context) ([]models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return nil, s.readErr
	}
	return append([]models.Channel(nil), s.channels...), nil
}

func (s *Store) DirectChannels(_ context.Context, user string) ([]models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return nil, s.readErr
	}
	var out []models.Channel
	for _, c := range s.channels {
		if c.Kind == models.KindDirect && c.HasParticipant(user) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetOrCreateDirectChannel(_ context.Context, user1, user2 string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user1 == user2 || user1 == "" || user2 == "" {
		return "", storage.ErrDirectBadUsers
	}
	for _, c := range s.channels {
		if c.Kind == models.KindDirect && c.HasParticipant(user1) && c.HasParticipant(user2) {
			return c.ID, nil
		}
	}

	c := models.Channel{
		ID:           uuid.NewString(),
		Name:         "dm",
		CreatedAt:    s.stamp(),
		Kind:         models.KindDirect,
		Members:      []string{user1, user2},
		Participants: []string{user1, user2},
	}
	s.channels = append(s.channels, c)
	return c.ID, nil
}

func (s *Store) LatestMessages(_ context.Context, channel string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return nil, s.readErr
	}
	all := s.messages[channel]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return s.withNames(all), nil
}

func (s *Store) MessagesBefore(_ context.Context, channel string, before time.Time, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readErr != nil {
		return nil, s.readErr
	}
	var older []models.Message
	for _, m := range s.messages[channel] {
		if m.CreatedAt.Before(before) {
			older = append(older, m)
		}
	}
	if limit > 0 && len(older) > limit {
		older = older[len(older)-limit:]
	}
	return s.withNames(older), nil
}

func (s *Store) InsertMessage(ctx context.Context, m models.NewMessage) (models.Message, error) {
	if err := s.wait(ctx); err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	saved, err := s.insertLocked(m)
	silent := s.silent
	s.mu.Unlock()

	if err != nil {
		return saved, err
	}
	if !silent {
		s.hub.Dispatch(realtime.EncodeMessageInserted(saved))
	}
	return saved, nil
}

// InsertMessages mirrors the transactional batch of the Postgres store: one failing row fails every row
func (s *Store) InsertMessages(ctx context.Context, rows []models.NewMessage) ([]models.InsertResult, error) {
	results := make([]models.InsertResult, len(rows))
	if err := s.wait(ctx); err != nil {
		for i := range results {
			results[i].Err = err
		}
		return results, nil
	}

	s.mu.Lock()
	for _, m := range rows {
		if err := s.checkLocked(m); err != nil {
			s.mu.Unlock()
			for i := range results {
				results[i].Err = err
			}
			return results, nil
		}
	}
	for i, m := range rows {
		results[i].Message, results[i].Err = s.insertLocked(m)
	}
	silent := s.silent
	s.mu.Unlock()

	if !silent {
		for _, r := range results {
			s.hub.Dispatch(realtime.EncodeMessageInserted(r.Message))
		}
	}
	return results, nil
}

// Emit inserts a message written by another client, notifying subscribers
func (s *Store) Emit(ctx context.Context, m models.NewMessage) (models.Message, error) {
	s.mu.Lock()
	saved, err := s.insertLocked(m)
	s.mu.Unlock()

	if err != nil {
		return saved, err
	}
	s.hub.Dispatch(realtime.EncodeMessageInserted(saved))
	return saved, nil
}

// ImportMessages stores messages keeping their timestamps without notifying subscribers
func (s *Store) ImportMessages(_ context.Context, messages []models.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range messages {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.Status = models.StatusSent
		s.messages[m.ChannelID] = append(s.messages[m.ChannelID], m)
	}
	for ch := range s.messages {
		list := s.messages[ch]
		sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	}
	return int64(len(messages)), nil
}

func (s *Store) CountMessagesAfter(_ context.Context, channel string, after time.Time, exclude string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages[channel] {
		if m.CreatedAt.After(after) && m.AuthorID != exclude {
			n++
		}
	}
	return n, nil
}

func (s *Store) ChannelReads(_ context.Context, user string) ([]models.ChannelRead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.ChannelRead
	for k, at := range s.reads {
		if k[0] == user {
			out = append(out, models.ChannelRead{UserID: user, ChannelID: k[1], LastRead: at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (s *Store) UpsertChannelRead(_ context.Context, r models.ChannelRead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads[[2]string{r.UserID, r.ChannelID}] = r.LastRead
	return nil
}

func (s *Store) UpsertPresence(_ context.Context, user string, online bool, at time.Time) error {
	s.mu.Lock()
	if _, ok := s.profiles[user]; !ok {
		s.mu.Unlock()
		return storage.ErrProfileNotExist
	}
	_, existed := s.online[user]
	u := models.OnlineUser{UserID: user, Online: online, LastSeen: &at}
	s.online[user] = u
	s.mu.Unlock()

	op := realtime.OpUpdate
	if !existed {
		op = realtime.OpInsert
	}
	s.hub.Dispatch(realtime.EncodePresenceUpdated(op, u))
	return nil
}

func (s *Store) OnlineUsers(context.Context) ([]models.OnlineUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.OnlineUser, 0, len(s.online))
	for _, u := range s.online {
		u.Username = s.profiles[u.UserID].Username
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) checkLocked(m models.NewMessage) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	if !s.channelExists(m.ChannelID) {
		return storage.ErrMessageBadChannel
	}
	if _, ok := s.profiles[m.AuthorID]; !ok {
		return storage.ErrMessageBadAuthor
	}
	return nil
}

func (s *Store) insertLocked(m models.NewMessage) (models.Message, error) {
	if err := s.checkLocked(m); err != nil {
		return models.Message{}, err
	}

	saved := models.Message{
		ID:        uuid.NewString(),
		Content:   m.Content,
		AuthorID:  m.AuthorID,
		ChannelID: m.ChannelID,
		CreatedAt: s.stamp(),
		Status:    models.StatusSent,
		Username:  s.profiles[m.AuthorID].Username,
	}
	s.messages[m.ChannelID] = append(s.messages[m.ChannelID], saved)
	s.inserts++

	return saved, nil
}

func (s *Store) wait(ctx context.Context) error {
	s.mu.Lock()
	d := s.writeDelay
	s.mu.Unlock()

	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// stamp returns a strictly increasing timestamp like clock_timestamp() on a single server
func (s *Store) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

func (s *Store) channelExists(id string) bool {
	for _, c := range s.channels {
		if c.ID == id {
			return true
		}
	}
	return false
}

func (s *Store) withNames(in []models.Message) []models.Message {
	out := make([]models.Message, len(in))
	for i, m := range in {
		m.Username = s.profiles[m.AuthorID].Username
		out[i] = m
	}
	return out
}
