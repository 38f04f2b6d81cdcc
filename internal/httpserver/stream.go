package httpserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is one frame on a live stream. Type is "outcome", "closed",
// "pong" or "error".
type StreamMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// streamConn serializes writes from the outcome pump and the read loop.
type streamConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (sc *streamConn) send(msg StreamMessage) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return sc.conn.WriteJSON(msg)
}

func (sc *streamConn) ping() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait))
}

// handleLiveStream pushes every search outcome of a tab, live iterations
// included, to a websocket until the client leaves or the tab closes.
func (s *Server) handleLiveStream(c *gin.Context) {
	tabID := c.Param("id")
	outcomes, release, err := s.deps.Explorer.Subscribe(tabID)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer release()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warnw("httpserver: websocket upgrade failed", "tab", tabID, "error", err)
		return
	}
	sc := &streamConn{conn: conn}

	s.logger.Debugw("httpserver: live stream opened", "tab", tabID, "remote", conn.RemoteAddr().String())

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(streamPongWait))
			return nil
		})
		for {
			var msg StreamMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debugw("httpserver: live stream read error", "tab", tabID, "error", err)
				}
				return
			}
			switch msg.Type {
			case "ping":
				if err := sc.send(StreamMessage{Type: "pong"}); err != nil {
					return
				}
			default:
				if err := sc.send(StreamMessage{Type: "error", Payload: "unknown message type: " + msg.Type}); err != nil {
					return
				}
			}
		}
	}()
	defer func() {
		conn.Close()
		<-readDone
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case out, ok := <-outcomes:
			if !ok {
				sc.send(StreamMessage{Type: "closed", Payload: tabID})
				return
			}
			if err := sc.send(StreamMessage{Type: "outcome", Payload: out}); err != nil {
				return
			}
		case <-ticker.C:
			if err := sc.ping(); err != nil {
				return
			}
		case <-readDone:
			return
		case <-s.ctx.Done():
			return
		}
	}
}
