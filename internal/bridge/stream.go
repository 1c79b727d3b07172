package bridge

import (
	"chatsync/internal/chat"
	"context"
	"go.uber.org/zap"
	"net/http"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"time"
)

const writeTimeout = 5 * time.Second

// streamer pushes every chat.Update to a websocket client until either side goes away
type streamer struct {
	logger *zap.SugaredLogger
	client *chat.Client
}

func (s *streamer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warnf("Accepting websocket: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	updates, release := s.client.Subscribe()
	defer release()

	// the view never writes; reading only watches for its close frame
	ctx := conn.CloseRead(r.Context())

	hello := chat.Update{Kind: chat.UpdateMessages, ChannelID: s.client.ActiveChannel()}
	if err := write(ctx, conn, hello); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case u := <-updates:
			if err := write(ctx, conn, u); err != nil {
				s.logger.Debugf("Writing update to websocket: %v", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, u chat.Update) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	return wsjson.Write(ctx, conn, u)
}
