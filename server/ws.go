package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/chatmux/backend/message"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 4 << 10 // clients only send heartbeat echoes
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin enforcement happens in the CORS layer; overlays are expected
	// to connect from arbitrary local origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsWriter adapts a WebSocket connection to the hub's frame writer. Writes
// are serialized: the session pump and the final disconnect notice may race.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) WriteFrame(f message.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(f)
}

func (w *wsWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}

// HandleWS upgrades a display client onto the hub. The client receives the
// backlog replay followed by live frames; the only frames it may send are
// heartbeat echoes. Anything else is a protocol violation and detaches it.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", slog.Any("err", err))
		return
	}
	conn.SetReadLimit(wsReadLimit)

	sess := h.deps.Hub.Attach(r.Context(), &wsWriter{conn: conn})
	if sess == nil {
		_ = conn.Close()
		return
	}

	// Read loop; runs until the client disconnects or misbehaves. Keeping it
	// in the handler goroutine pins r.Context() for the session's lifetime.
	for {
		var f message.Frame
		if err := conn.ReadJSON(&f); err != nil {
			h.deps.Hub.Detach(sess.ID(), "")
			return
		}
		if f.Type != message.FrameHeartbeat {
			h.deps.Hub.Detach(sess.ID(), "protocol violation: unexpected frame type "+string(f.Type))
			return
		}
		sess.Ack(f.Seq)
	}
}
