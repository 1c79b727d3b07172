// Package realtime defines the push events of the backend change feed and the subscriptions delivering them
package realtime

import (
	"chatsync/internal/models"
	"errors"
	"fmt"
	"github.com/valyala/fastjson"
	"time"
)

const (
	TableMessages    = "messages"
	TableOnlineUsers = "online_users"
)

var ErrMalformedEvent = errors.New("malformed realtime event")

// Op is the row operation that produced an event
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Event is one change pushed by the backend. It is either MessageInserted or PresenceUpdated
type Event interface {
	Table() string
	Op() Op
	// Field returns the string value of a record column used for filtering
	Field(column string) (string, bool)
}

type MessageInserted struct {
	Message models.Message
}

func (MessageInserted) Table() string { return TableMessages }
func (MessageInserted) Op() Op { return OpInsert }

func (e MessageInserted) Field(column string) (string, bool) {
	switch column {
	case "id":
		return e.Message.ID, true
	case "channel_id":
		return e.Message.ChannelID, true
	case "user_id":
		return e.Message.AuthorID, true
	}
	return "", false
}

type PresenceUpdated struct {
	Operation Op
	User      models.OnlineUser
}

func (PresenceUpdated) Table() string { return TableOnlineUsers }
func (e PresenceUpdated) Op() Op { return e.Operation }

func (e PresenceUpdated) Field(column string) (string, bool) {
	if column == "user_id" {
		return e.User.UserID, true
	}
	return "", false
}

var parsers fastjson.ParserPool

// Parse validates a change feed payload of the form {"table":"...","type":"...","record":{...}}
// and returns the matching Event. Every failure wraps ErrMalformedEvent
func Parse(payload []byte) (Event, error) {
	p := parsers.Get()
	defer parsers.Put(p)

	v, err := p.ParseBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	table := string(v.GetStringBytes("table"))
	op := Op(v.GetStringBytes("type"))
	record := v.Get("record")
	if record == nil || record.Type() != fastjson.TypeObject {
		return nil, fmt.Errorf("%w: missing field \"record\"", ErrMalformedEvent)
	}

	switch table {
	case TableMessages:
		if op != OpInsert {
			return nil, fmt.Errorf("%w: unsupported operation %q on %s", ErrMalformedEvent, op, table)
		}
		m, err := parseMessage(record)
		if err != nil {
			return nil, err
		}
		return MessageInserted{Message: m}, nil
	case TableOnlineUsers:
		if op != OpInsert && op != OpUpdate {
			return nil, fmt.Errorf("%w: unsupported operation %q on %s", ErrMalformedEvent, op, table)
		}
		u, err := parseOnlineUser(record)
		if err != nil {
			return nil, err
		}
		return PresenceUpdated{Operation: op, User: u}, nil
	default:
		return nil, fmt.Errorf("%w: unknown table %q", ErrMalformedEvent, table)
	}
}

func parseMessage(v *fastjson.Value) (models.Message, error) {
	var m models.Message
	var err error

	if m.ID, err = requiredString(v, "id"); err != nil {
		return m, err
	}
	if m.ChannelID, err = requiredString(v, "channel_id"); err != nil {
		return m, err
	}
	if m.AuthorID, err = requiredString(v, "user_id"); err != nil {
		return m, err
	}

	content := v.Get("content")
	if content == nil || content.Type() != fastjson.TypeString {
		return m, fmt.Errorf("%w: field \"content\" must be a string", ErrMalformedEvent)
	}
	m.Content = string(content.GetStringBytes())

	createdAt, err := requiredString(v, "created_at")
	if err != nil {
		return m, err
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return m, fmt.Errorf("%w: field \"created_at\": %v", ErrMalformedEvent, err)
	}

	// joined author name is optional
	m.Username = string(v.GetStringBytes("username"))
	m.Status = models.StatusSent

	return m, nil
}

func parseOnlineUser(v *fastjson.Value) (models.OnlineUser, error) {
	var u models.OnlineUser
	var err error

	if u.UserID, err = requiredString(v, "user_id"); err != nil {
		return u, err
	}

	online := v.Get("online")
	if online == nil || (online.Type() != fastjson.TypeTrue && online.Type() != fastjson.TypeFalse) {
		return u, fmt.Errorf("%w: field \"online\" must be a boolean", ErrMalformedEvent)
	}
	u.Online = online.Type() == fastjson.TypeTrue

	if ls := v.Get("last_seen"); ls != nil && ls.Type() == fastjson.TypeString {
		t, err := time.Parse(time.RFC3339Nano, string(ls.GetStringBytes()))
		if err != nil {
			return u, fmt.Errorf("%w: field \"last_seen\": %v", ErrMalformedEvent, err)
		}
		u.LastSeen = &t
	}
	u.Username = string(v.GetStringBytes("username"))

	return u, nil
}

func requiredString(v *fastjson.Value, key string) (string, error) {
	f := v.Get(key)
	if f == nil {
		return "", fmt.Errorf("%w: missing field %q", ErrMalformedEvent, key)
	}
	if f.Type() != fastjson.TypeString || len(f.GetStringBytes()) == 0 {
		return "", fmt.Errorf("%w: field %q must be a non-empty string", ErrMalformedEvent, key)
	}
	return string(f.GetStringBytes()), nil
}
