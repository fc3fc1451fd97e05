package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AkhileshMalthi/taskflow/internal/broadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The REST surface already allows any origin through CORS; the
	// socket surface matches it.
	CheckOrigin: func(*http.Request) bool { return true },
}

// watchTask upgrades the connection and streams a task's lifecycle
// events until the client disconnects.
func (s *Server) watchTask(c *gin.Context) {
	taskID := c.Param("id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade", "task_id", taskID, "error", err)
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe(taskID)
	defer cancel()

	if err := conn.WriteJSON(confirmation(taskID)); err != nil {
		return
	}

	// Reader goroutine: forward pings and notice disconnects. All
	// writes happen on the select loop below since the connection
	// allows one concurrent writer.
	pings := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "ping" {
				select {
				case pings <- struct{}{}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-pings:
			if err := conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

type connectedMessage struct {
	broadcast.Event
	Message string `json:"message"`
}

func confirmation(taskID string) connectedMessage {
	return connectedMessage{
		Event:   broadcast.Connected(taskID),
		Message: "Subscribed to task updates",
	}
}
