package realtime

import (
	"chatsync/internal/models"
	"encoding/json"
	"time"
)

type envelope struct {
	Table  string      `json:"table"`
	Type   Op          `json:"type"`
	Record interface{} `json:"record"`
}

type messageRecord struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

type onlineUserRecord struct {
	UserID   string  `json:"user_id"`
	Online   bool    `json:"online"`
	LastSeen *string `json:"last_seen"`
}

// EncodeMessageInserted renders m the way the database trigger does
func EncodeMessageInserted(m models.Message) []byte {
	b, _ := json.Marshal(envelope{
		Table: TableMessages,
		Type:  OpInsert,
		Record: messageRecord{
			ID:        m.ID,
			Content:   m.Content,
			ChannelID: m.ChannelID,
			UserID:    m.AuthorID,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	return b
}

// EncodePresenceUpdated renders u the way the database trigger does
func EncodePresenceUpdated(op Op, u models.OnlineUser) []byte {
	r := onlineUserRecord{UserID: u.UserID, Online: u.Online}
	if u.LastSeen != nil {
		ls := u.LastSeen.UTC().Format(time.RFC3339Nano)
		r.LastSeen = &ls
	}
	b, _ := json.Marshal(envelope{Table: TableOnlineUsers, Type: op, Record: r})
	return b
}
