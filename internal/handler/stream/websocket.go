package stream

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/logging"
	streamService "github.com/zhouzirui/agenthub/backend/internal/service/stream"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
	wsWriteWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// wsConn serializes writers; gorilla allows one concurrent writer per connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(messageType, data)
}

// handleResumeWebSocket replays the stream over a WebSocket, one text message per SSE frame payload.
func (h *Handler) handleResumeWebSocket(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	logger := logging.FromContext(r.Context(), "stream").With(zap.String("chat_id", chatID))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	ws := &wsConn{conn: conn}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client only sends control frames; a read error means it went away
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go pingLoop(ctx, ws)

	err = h.resumer.Resume(ctx, chatID, func(frame []byte) error {
		return ws.write(websocket.TextMessage, ssePayload(frame))
	})

	closeCode, reason := websocket.CloseNormalClosure, ""
	switch {
	case errors.Is(err, streamService.ErrNotResumable):
		reason = "nothing to resume"
	case err == nil, errors.Is(err, context.Canceled):
	default:
		logger.Warn("websocket resume interrupted", zap.Error(err))
		closeCode, reason = websocket.CloseInternalServerErr, "stream unavailable"
	}
	_ = ws.write(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, reason))
}

func pingLoop(ctx context.Context, ws *wsConn) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ssePayload strips the "data: " prefix and the blank line of an encoded SSE frame.
func ssePayload(frame []byte) []byte {
	frame = bytes.TrimPrefix(frame, []byte("data: "))
	return bytes.TrimRight(frame, "\n")
}
