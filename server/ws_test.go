package server

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/chatmux/backend/backlog"
	"github.com/onnwee/chatmux/backend/config"
	"github.com/onnwee/chatmux/backend/connector"
	"github.com/onnwee/chatmux/backend/hub"
	"github.com/onnwee/chatmux/backend/message"
	"github.com/onnwee/chatmux/backend/tokens"
)

func wsDeps(t *testing.T, heartbeat, grace time.Duration) Deps {
	t.Helper()
	h := hub.New(hub.Options{
		Backlog:           backlog.New(10),
		QueueCap:          100,
		HeartbeatInterval: heartbeat,
		PongGrace:         grace,
	})
	t.Cleanup(h.Close)
	return Deps{
		Cfg:        &config.Config{},
		Hub:        h,
		Connectors: connector.NewManager(),
		Tokens:     tokens.NewManager(tokens.NewMemoryStore()),
	}
}

func dialWS(t *testing.T, srvURL string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srvURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) message.Frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f message.Frame
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestWSBacklogReplayAndLiveDelivery(t *testing.T) {
	deps := wsDeps(t, time.Hour, time.Hour)
	deps.Hub.Publish(message.NormalizedMessage{
		ID:       message.NewID(),
		Platform: message.PlatformTwitch,
		Author:   "alice",
		Tokens:   []message.ContentToken{message.Text("replayed")},
	})
	srv := newTestServer(t, deps)
	conn := dialWS(t, srv.URL)

	if f := readFrame(t, conn); f.Type != message.FrameBacklogStart || f.Count != 1 {
		t.Fatalf("frame 0 = %+v, want backlog_start count 1", f)
	}
	if f := readFrame(t, conn); f.Type != message.FrameMessage || f.Message.Author != "alice" {
		t.Fatalf("frame 1 = %+v, want replayed message", f)
	}
	if f := readFrame(t, conn); f.Type != message.FrameBacklogEnd {
		t.Fatalf("frame 2 = %+v, want backlog_end", f)
	}

	deps.Hub.Publish(message.NormalizedMessage{
		ID:       message.NewID(),
		Platform: message.PlatformKick,
		Author:   "bob",
		Tokens:   []message.ContentToken{message.Text("live")},
	})
	if f := readFrame(t, conn); f.Type != message.FrameMessage || f.Message.Author != "bob" {
		t.Fatalf("live frame = %+v, want message from bob", f)
	}
}

func TestWSHeartbeatEchoKeepsConnection(t *testing.T) {
	deps := wsDeps(t, 30*time.Millisecond, 20*time.Millisecond)
	srv := newTestServer(t, deps)
	conn := dialWS(t, srv.URL)

	deadline := time.Now().Add(200 * time.Millisecond)
	beats := 0
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(deadline)
		var f message.Frame
		if err := conn.ReadJSON(&f); err != nil {
			break
		}
		if f.Type == message.FrameHeartbeat {
			beats++
			if err := conn.WriteJSON(message.HeartbeatFrame(f.Seq)); err != nil {
				t.Fatalf("echo: %v", err)
			}
		}
	}
	if beats < 2 {
		t.Fatalf("saw %d heartbeats, want at least 2", beats)
	}
	if len(deps.Hub.Sessions()) != 1 {
		t.Errorf("sessions = %d, want 1 still attached", len(deps.Hub.Sessions()))
	}
}

func TestWSMissedHeartbeatDisconnects(t *testing.T) {
	deps := wsDeps(t, 20*time.Millisecond, 10*time.Millisecond)
	srv := newTestServer(t, deps)
	conn := dialWS(t, srv.URL)

	var sawTimeout bool
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f message.Frame
		if err := conn.ReadJSON(&f); err != nil {
			break // server closed the connection
		}
		if f.Type == message.FrameError && f.Text == "heartbeat timeout" {
			sawTimeout = true
		}
	}
	if !sawTimeout {
		t.Error("no heartbeat timeout notice before disconnect")
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(deps.Hub.Sessions()) == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("session still attached after missed heartbeat")
}

func TestWSUnexpectedFrameDisconnects(t *testing.T) {
	deps := wsDeps(t, time.Hour, time.Hour)
	srv := newTestServer(t, deps)
	conn := dialWS(t, srv.URL)

	// Drain the empty replay.
	readFrame(t, conn) // backlog_start
	readFrame(t, conn) // backlog_end

	if err := conn.WriteJSON(message.Frame{Type: message.FrameMessage}); err != nil {
		t.Fatal(err)
	}

	var sawViolation bool
	for {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f message.Frame
		if err := conn.ReadJSON(&f); err != nil {
			break
		}
		if f.Type == message.FrameError && strings.Contains(f.Text, "protocol violation") {
			sawViolation = true
		}
	}
	if !sawViolation {
		t.Error("no protocol violation notice before disconnect")
	}
}
