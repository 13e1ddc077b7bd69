// Package twitch connects to Twitch chat over IRC and normalizes incoming
// messages. Reads can run anonymously; authenticated reads use the token
// manager's current user access token.
package twitch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	irc "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatmux/backend/connector"
	"github.com/onnwee/chatmux/backend/message"
	"github.com/onnwee/chatmux/backend/telemetry"
)

// TokenSource yields a currently valid user access token. The token manager
// supplies one; it returns an auth error when reauthorization is required.
type TokenSource func(ctx context.Context) (string, error)

// Config wires one Twitch chat connection.
type Config struct {
	Channel  string
	Username string      // bot login; empty means anonymous read-only
	Token    TokenSource // nil means anonymous read-only
	Sink     func(message.NormalizedMessage)
}

// Driver implements connector.Driver for Twitch.
type Driver struct {
	cfg Config
}

// New builds a Twitch driver.
func New(cfg Config) *Driver { return &Driver{cfg: cfg} }

func (d *Driver) Platform() message.Platform { return message.PlatformTwitch }

// Dial validates configuration and prepares a session. The actual network
// connection is deferred to Run since the IRC client combines connect and
// login in one call.
func (d *Driver) Dial(_ context.Context) (connector.Session, error) {
	if d.cfg.Channel == "" {
		return nil, fmt.Errorf("twitch channel not configured: %w", connector.ErrConfigInvalid)
	}
	if d.cfg.Sink == nil {
		return nil, fmt.Errorf("twitch message sink not configured: %w", connector.ErrConfigInvalid)
	}
	return &session{cfg: d.cfg}, nil
}

type session struct {
	cfg Config

	mu     sync.Mutex
	client *irc.Client
}

// Authenticate resolves the access token and builds the IRC client. An
// unusable credential surfaces as auth-invalid so the supervisor parks in
// reauth instead of retrying.
func (s *session) Authenticate(ctx context.Context) error {
	var client *irc.Client
	if s.cfg.Token == nil || s.cfg.Username == "" {
		client = irc.NewAnonymousClient()
	} else {
		tok, err := s.cfg.Token(ctx)
		if err != nil {
			return fmt.Errorf("twitch token unavailable: %w: %w", connector.ErrAuthInvalid, err)
		}
		client = irc.NewClient(s.cfg.Username, "oauth:"+tok)
	}

	client.OnPrivateMessage(func(msg irc.PrivateMessage) {
		telemetry.CountIngest(string(message.PlatformTwitch))
		s.cfg.Sink(Normalize(msg))
	})
	client.Join(s.cfg.Channel)

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

// Run connects and pumps chat until the connection drops or ctx is
// cancelled. A login rejection maps to auth-invalid.
func (s *session) Run(ctx context.Context) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return errors.New("twitch session not authenticated")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()

	select {
	case <-ctx.Done():
		_ = client.Disconnect()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, irc.ErrLoginAuthenticationFailed) {
			return fmt.Errorf("twitch login rejected: %w", connector.ErrAuthInvalid)
		}
		if err == nil {
			return errors.New("twitch connection closed")
		}
		return err
	}
}

func (s *session) Close() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	if err := client.Disconnect(); err != nil && !errors.Is(err, irc.ErrConnectionIsNotOpen) {
		return err
	}
	return nil
}

// Normalize maps an IRC privmsg onto the canonical message shape.
func Normalize(msg irc.PrivateMessage) message.NormalizedMessage {
	badges := badgeRefs(msg.User.Badges)
	return message.NormalizedMessage{
		ID:       message.NewID(),
		Platform: message.PlatformTwitch,
		Channel:  msg.Channel,
		Author:   displayName(msg.User),
		AuthorID: msg.User.ID,
		Tokens:   tokenize(msg.Message, msg.Emotes),
		Meta: message.Metadata{
			Moderator:        msg.User.Badges["moderator"] > 0,
			Subscriber:       msg.User.Badges["subscriber"] > 0 || msg.User.Badges["founder"] > 0,
			VIP:              msg.User.Badges["vip"] > 0,
			Broadcaster:      msg.User.Badges["broadcaster"] > 0,
			Badges:           badges,
			Color:            msg.User.Color,
			FirstMessage:     msg.FirstMessage,
			ReturningChatter: msg.Tags["returning-chatter"] == "1",
		},
		ReceivedAt: time.Now().UTC(),
	}
}

func displayName(u irc.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

func badgeRefs(badges map[string]int) []message.BadgeRef {
	if len(badges) == 0 {
		return nil
	}
	out := make([]message.BadgeRef, 0, len(badges))
	for set, version := range badges {
		out = append(out, message.BadgeRef{Set: set, Version: fmt.Sprintf("%d", version)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Set < out[j].Set })
	return out
}
