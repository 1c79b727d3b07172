package testing

import (
	"chatsync/internal/models"
	"strconv"
	"time"
)

// Messages returns n sent messages of author in channel, one second apart starting at start
func Messages(channel, author string, n int, start time.Time) []models.Message {
	out := make([]models.Message, n)
	for i := range out {
		out[i] = models.Message{
			ID:        channel + "-" + strconv.Itoa(i),
			Content:   RandString(),
			AuthorID:  author,
			ChannelID: channel,
			CreatedAt: start.Add(time.Duration(i) * time.Second),
			Status:    models.StatusSent,
		}
	}
	return out
}

// ReverseMessages returns a reversed copy of messages
func ReverseMessages(messages []models.Message) []models.Message {
	reversed := make([]models.Message, len(messages))
	copy(reversed, messages)

	for i := len(reversed)/2 - 1; i >= 0; i-- {
		opp := len(reversed) - 1 - i
		reversed[i], reversed[opp] = reversed[opp], reversed[i]
	}

	return reversed
}

// IDs returns ids of messages in order
func IDs(messages []models.Message) []string {
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	return ids
}
