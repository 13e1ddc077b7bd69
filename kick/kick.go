// Package kick connects to Kick chat over the public Pusher WebSocket feed
// and normalizes incoming messages. Kick chat reads are anonymous: the only
// per-channel state is the chatroom id, resolved once from the channel slug.
package kick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/chatmux/backend/connector"
	"github.com/onnwee/chatmux/backend/message"
	"github.com/onnwee/chatmux/backend/telemetry"
)

const (
	// pusherURL is Kick's public Pusher application endpoint.
	pusherURL  = "wss://ws-us2.pusher.com/app/32cbd69e4b950bf97679?protocol=7&client=js&version=8.4.0-rc2&flash=false"
	channelAPI = "https://kick.com/api/v2/channels/%s"

	evChatMessage  = "App\\Events\\ChatMessageEvent"
	evPing         = "pusher:ping"
	evPong         = "pusher:pong"
	evSubscribe    = "pusher:subscribe"
	evSubscribed   = "pusher_internal:subscription_succeeded"
	evEstablished  = "pusher:connection_established"
	keepAlivePing  = 60 * time.Second
	resolveTimeout = 10 * time.Second
)

// Config wires one Kick chat connection.
type Config struct {
	Slug       string
	ChatroomID int // optional; skips the channel API lookup when set
	Sink       func(message.NormalizedMessage)
	HTTPClient *http.Client // optional; used for chatroom resolution
	WSURL      string       // optional override, used in tests
}

// Driver implements connector.Driver for Kick.
type Driver struct {
	cfg Config

	mu         sync.Mutex
	chatroomID int
}

// New builds a Kick driver.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg, chatroomID: cfg.ChatroomID}
}

func (d *Driver) Platform() message.Platform { return message.PlatformKick }

// Dial resolves the chatroom id (cached across attempts) and opens the
// Pusher WebSocket.
func (d *Driver) Dial(ctx context.Context) (connector.Session, error) {
	if d.cfg.Slug == "" && d.cfg.ChatroomID == 0 {
		return nil, fmt.Errorf("kick channel not configured: %w", connector.ErrConfigInvalid)
	}
	if d.cfg.Sink == nil {
		return nil, fmt.Errorf("kick message sink not configured: %w", connector.ErrConfigInvalid)
	}

	d.mu.Lock()
	id := d.chatroomID
	d.mu.Unlock()
	if id == 0 {
		resolved, err := d.resolveChatroom(ctx)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.chatroomID = resolved
		d.mu.Unlock()
		id = resolved
		slog.Info("kick chatroom resolved", slog.String("slug", d.cfg.Slug), slog.Int("chatroom_id", id))
	}

	wsURL := d.cfg.WSURL
	if wsURL == "" {
		wsURL = pusherURL
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("kick websocket dial: %w", err)
	}
	return &session{cfg: d.cfg, chatroomID: id, conn: conn}, nil
}

// resolveChatroom maps the channel slug to its chatroom id via the public
// channel API. Status codes are reported by name: Kick fronts the API with
// bot protection, and a blocked request must retry as transient rather than
// park the connector as if a credential were rejected.
func (d *Driver) resolveChatroom(ctx context.Context) (int, error) {
	hc := d.cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: resolveTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(channelAPI, d.cfg.Slug), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/143.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", "https://kick.com/")

	resp, err := hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("kick channel api: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, &connector.RateLimitError{RetryAfter: retryAfter(resp)}
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("kick channel %q not found: %w", d.cfg.Slug, connector.ErrConfigInvalid)
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("kick channel api: %s", http.StatusText(resp.StatusCode))
	}

	var info struct {
		ID       int    `json:"id"`
		Slug     string `json:"slug"`
		Chatroom struct {
			ID int `json:"id"`
		} `json:"chatroom"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return 0, fmt.Errorf("kick channel api decode: %w", err)
	}
	if info.Chatroom.ID == 0 {
		return 0, fmt.Errorf("kick channel %q has no chatroom: %w", d.cfg.Slug, connector.ErrConfigInvalid)
	}
	return info.Chatroom.ID, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 30 * time.Second
}

// pusherFrame is one event on the Pusher wire. Data is a JSON string for
// server-sent events and an object for client-sent ones.
type pusherFrame struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
	Channel string          `json:"channel,omitempty"`
}

type session struct {
	cfg        Config
	chatroomID int
	conn       *websocket.Conn
	closeOnce  sync.Once

	// writeMu serializes writes; gorilla permits one concurrent writer.
	writeMu sync.Mutex
}

func (s *session) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

// Authenticate performs the subscription handshake for the chatroom channel.
// There are no credentials; the handshake is complete once Pusher confirms
// the subscription.
func (s *session) Authenticate(ctx context.Context) error {
	sub := map[string]any{
		"event": evSubscribe,
		"data": map[string]string{
			"auth":    "",
			"channel": fmt.Sprintf("chatrooms.%d.v2", s.chatroomID),
		},
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
		_ = s.conn.SetReadDeadline(deadline)
	}
	if err := s.writeJSON(sub); err != nil {
		return fmt.Errorf("kick subscribe: %w", err)
	}
	for {
		var fr pusherFrame
		if err := s.conn.ReadJSON(&fr); err != nil {
			return fmt.Errorf("kick subscribe ack: %w", err)
		}
		switch fr.Event {
		case evSubscribed:
			_ = s.conn.SetWriteDeadline(time.Time{})
			_ = s.conn.SetReadDeadline(time.Time{})
			return nil
		case evEstablished, evPong:
			// connection banner may arrive before the subscription ack
		case "pusher:error":
			return fmt.Errorf("kick subscribe rejected: %s: %w", string(fr.Data), connector.ErrProtocol)
		}
	}
}

// Run pumps chat events until the socket drops or ctx is cancelled. A single
// malformed event is dropped and logged, never fatal to the session.
func (s *session) Run(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			s.shutdown()
		case <-stop:
		}
	}()

	ping := time.NewTicker(keepAlivePing)
	defer ping.Stop()
	go func() {
		for {
			select {
			case <-ping.C:
				_ = s.writeJSON(pusherFrame{Event: evPing})
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var fr pusherFrame
		if err := s.conn.ReadJSON(&fr); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kick read: %w", err)
		}
		switch fr.Event {
		case evPing:
			_ = s.writeJSON(pusherFrame{Event: evPong})
		case evChatMessage:
			msg, err := Normalize(fr.Data, s.cfg.Slug)
			if err != nil {
				slog.Warn("kick event dropped",
					slog.String("class", connector.ClassProtocol.String()),
					slog.Any("err", err))
				continue
			}
			telemetry.CountIngest(string(message.PlatformKick))
			s.cfg.Sink(msg)
		}
	}
}

func (s *session) shutdown() {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if err := s.conn.Close(); err != nil {
			slog.Debug("kick socket close", slog.Any("err", err))
		}
	})
}

func (s *session) Close() error {
	s.shutdown()
	return nil
}
