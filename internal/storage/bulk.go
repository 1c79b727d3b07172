package storage

import (
	"chatsync/internal/models"
	"github.com/jackc/pgx/v4"
)

var messageCopyColumns = []string{"content", "channel_id", "user_id", "created_at"}

type messageBulk struct {
	rows []models.Message
	idx  int
}

func copyFromMessages(rows []models.Message) pgx.CopyFromSource {
	return &messageBulk{
		rows: rows,
		idx:  -1,
	}
}

func (mb *messageBulk) Next() bool {
	mb.idx++
	return mb.idx < len(mb.rows)
}

func (mb *messageBulk) Values() ([]interface{}, error) {
	m := mb.rows[mb.idx]
	return []interface{}{m.Content, m.ChannelID, m.AuthorID, m.CreatedAt}, nil
}

func (mb *messageBulk) Err() error {
	return nil
}
