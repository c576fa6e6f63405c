package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vercel-labs/dev3000-sub004/pkg/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Local development tool; browsers on other ports need to connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamMessage is one frame pushed to a websocket client.
type streamMessage struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// handleLogsStream upgrades to a websocket and forwards log and lifecycle
// events as they happen. Slow clients drop frames rather than stall the
// bus.
func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	frames := make(chan streamMessage, 256)
	forward := func(event events.Event) {
		msg := streamMessage{
			Type:      string(event.Type),
			Timestamp: event.Timestamp,
			Data:      event.Data,
		}
		select {
		case frames <- msg:
		default:
		}
	}

	for _, eventType := range []events.EventType{
		events.LogLine,
		events.ErrorDetected,
		events.InteractionLogged,
		events.NavigationLogged,
		events.ScreenshotCaptured,
		events.ReplayStarted,
		events.ReplayFinished,
		events.MCPConnected,
		events.MCPDisconnected,
		events.SessionRegistered,
	} {
		s.bus.Subscribe(eventType, forward)
	}

	// Reader goroutine notices client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case msg := <-frames:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
