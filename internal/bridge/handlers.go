package bridge

import (
	"chatsync/internal/chat"
	"chatsync/internal/models"
	"chatsync/internal/presence"
	"chatsync/internal/storage"
	"context"
	"encoding/json"
	"errors"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"
	"io"
	"net/http"
	"time"
)

// Presence is the roster source of the bridge
type Presence interface {
	AllUsers() []models.OnlineUser
}

// Unread is the unread counter source of the bridge
type Unread interface {
	Counts() map[string]int
	MarkRead(ctx context.Context, channel string) error
}

// Network lets the view report connectivity changes it observes
type Network interface {
	Online() bool
	Set(online bool)
}

// CacheClearer empties the local message cache
type CacheClearer interface {
	Clear() error
}

type parsers struct {
	switchPool  fastjson.ParserPool
	sendPool    fastjson.ParserPool
	olderPool   fastjson.ParserPool
	retryPool   fastjson.ParserPool
	dmPool      fastjson.ParserPool
	readPool    fastjson.ParserPool
	networkPool fastjson.ParserPool
}

type handler struct {
	logger   *zap.SugaredLogger
	client   *chat.Client
	presence Presence
	unread   Unread
	network  Network
	cache    CacheClearer
	now      func() time.Time
	parsers  parsers
}

type channelsResponse struct {
	Active     string           `json:"active"`
	Channels   []models.Channel `json:"channels"`
	DMChannels []models.Channel `json:"dm_channels"`
}

type messagesResponse struct {
	Channel  string           `json:"channel"`
	Messages []models.Message `json:"messages"`
}

type olderResponse struct {
	Added    int              `json:"added"`
	Messages []models.Message `json:"messages"`
}

type presenceUser struct {
	models.OnlineUser
	LastSeenText string `json:"last_seen_text"`
}

// channels handles HTTP requests on "/channels/get" endpoint
// {"reload":true} fetches both lists from the backend first
func (h *handler) channels(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	if fastjson.GetBool(body, "reload") {
		if _, err := h.client.LoadChannels(r.Context()); err != nil {
			h.logger.Errorf("Reloading channels: %v", err)
		}
		if _, err := h.client.LoadDMChannels(r.Context()); err != nil {
			h.logger.Errorf("Reloading direct channels: %v", err)
		}
	}

	h.writeJSON(w, http.StatusOK, channelsResponse{
		Active:     h.client.ActiveChannel(),
		Channels:   nonNilChannels(h.client.Channels()),
		DMChannels: nonNilChannels(h.client.DirectChannels()),
	})
}

// switchChannel handles HTTP requests on "/channels/switch" endpoint
func (h *handler) switchChannel(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.switchPool.Get()
	defer h.parsers.switchPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	channel, ok := requiredString(w, v, "channel")
	if !ok {
		return
	}

	err := h.client.SwitchChannel(r.Context(), channel)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrClosed):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	default:
		// cached view stays visible
		h.logger.Warnf("Switching to channel %s: %v", channel, err)
	}

	h.writeJSON(w, http.StatusOK, messagesResponse{
		Channel:  h.client.ActiveChannel(),
		Messages: nonNilMessages(h.client.Messages()),
	})
}

// messages handles HTTP requests on "/messages/get" endpoint
func (h *handler) messages(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, messagesResponse{
		Channel:  h.client.ActiveChannel(),
		Messages: nonNilMessages(h.client.Messages()),
	})
}

// send handles HTTP requests on "/messages/send" endpoint
func (h *handler) send(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.sendPool.Get()
	defer h.parsers.sendPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	content, ok := requiredString(w, v, "content")
	if !ok {
		return
	}

	m := h.client.Send(r.Context(), content)
	if m == nil {
		http.Error(w, "Message can not be sent: blank content, no active channel or no user", http.StatusConflict)
		return
	}

	h.writeJSON(w, http.StatusCreated, m)
}

// older handles HTTP requests on "/messages/older" endpoint
func (h *handler) older(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.olderPool.Get()
	defer h.parsers.olderPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	limit := 0
	if v.Exists("limit") {
		n, err := v.Get("limit").Int()
		if err != nil || n < 1 {
			http.Error(w, "Field \"limit\" must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	added, err := h.client.LoadOlder(r.Context(), limit)
	if err != nil {
		if errors.Is(err, chat.ErrNoChannel) {
			http.Error(w, "No active channel", http.StatusConflict)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	h.writeJSON(w, http.StatusOK, olderResponse{
		Added:    added,
		Messages: nonNilMessages(h.client.Messages()),
	})
}

// retry handles HTTP requests on "/messages/retry" endpoint
func (h *handler) retry(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.retryPool.Get()
	defer h.parsers.retryPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	id, ok := requiredString(w, v, "id")
	if !ok {
		return
	}

	m, err := h.client.Retry(r.Context(), id)
	if err != nil {
		http.Error(w, "Message is not in failed state", http.StatusBadRequest)
		return
	}

	h.writeJSON(w, http.StatusOK, m)
}

// openDirect handles HTTP requests on "/dm/open" endpoint
func (h *handler) openDirect(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.dmPool.Get()
	defer h.parsers.dmPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	user, ok := requiredString(w, v, "user")
	if !ok {
		return
	}

	id, err := h.client.OpenDirect(r.Context(), user)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrUnauthenticated):
			http.Error(w, "No authenticated user", http.StatusUnauthorized)
		case errors.Is(err, storage.ErrDirectBadUsers):
			http.Error(w, "Direct channel needs two different users", http.StatusBadRequest)
		case id != "":
			// channel exists, only the list refresh failed
			h.logger.Warn(err)
			h.writeJSON(w, http.StatusOK, map[string]string{"channel": id})
		default:
			h.logger.Error(err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"channel": id})
}

// roster handles HTTP requests on "/presence/get" endpoint
func (h *handler) roster(w http.ResponseWriter, _ *http.Request) {
	users := []presenceUser{}
	if h.presence != nil {
		now := h.now()
		for _, u := range h.presence.AllUsers() {
			users = append(users, presenceUser{OnlineUser: u, LastSeenText: presence.FormatLastSeen(u.LastSeen, now)})
		}
	}

	h.writeJSON(w, http.StatusOK, map[string][]presenceUser{"users": users})
}

// unreadCounts handles HTTP requests on "/unread/get" endpoint
func (h *handler) unreadCounts(w http.ResponseWriter, _ *http.Request) {
	counts := map[string]int{}
	if h.unread != nil {
		counts = h.unread.Counts()
	}

	h.writeJSON(w, http.StatusOK, map[string]map[string]int{"counts": counts})
}

// markRead handles HTTP requests on "/unread/read" endpoint
func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.readPool.Get()
	defer h.parsers.readPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	channel, ok := requiredString(w, v, "channel")
	if !ok {
		return
	}

	if h.unread == nil {
		http.Error(w, "Unread tracking is disabled", http.StatusServiceUnavailable)
		return
	}

	if err := h.unread.MarkRead(r.Context(), channel); err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// clearCache handles HTTP requests on "/cache/clear" endpoint
func (h *handler) clearCache(w http.ResponseWriter, _ *http.Request) {
	if err := h.cache.Clear(); err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// setNetwork handles HTTP requests on "/network/set" endpoint
func (h *handler) setNetwork(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.networkPool.Get()
	defer h.parsers.networkPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	if !v.Exists("online") {
		http.Error(w, "Missing Field \"online\"", http.StatusBadRequest)
		return
	}

	online, err := v.Get("online").Bool()
	if err != nil {
		http.Error(w, "Field \"online\" must be a boolean", http.StatusBadRequest)
		return
	}

	h.network.Set(online)

	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// requiredString reads a non-empty string field or answers 400 itself
func requiredString(w http.ResponseWriter, v *fastjson.Value, field string) (string, bool) {
	if !v.Exists(field) {
		http.Error(w, "Missing Field \""+field+"\"", http.StatusBadRequest)
		return "", false
	}

	fv := v.Get(field)
	if fv.Type() != fastjson.TypeString {
		http.Error(w, "Field \""+field+"\" must be a string", http.StatusBadRequest)
		return "", false
	}

	s := string(fv.GetStringBytes())
	if len(s) == 0 {
		http.Error(w, "Field \""+field+"\" must have non-zero length", http.StatusBadRequest)
		return "", false
	}

	return s, true
}

func nonNilMessages(in []models.Message) []models.Message {
	if in == nil {
		return []models.Message{}
	}
	return in
}

func nonNilChannels(in []models.Channel) []models.Channel {
	if in == nil {
		return []models.Channel{}
	}
	return in
}
