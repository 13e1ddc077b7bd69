package youtube

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chatmux/backend/connector"
	"github.com/onnwee/chatmux/backend/message"
	"github.com/onnwee/chatmux/backend/telemetry"
)

// minPollInterval floors the API-advertised polling interval.
const minPollInterval = 2 * time.Second

// TokenSource yields a currently valid user access token.
type TokenSource func(ctx context.Context) (string, error)

// Config wires one YouTube live chat poller.
type Config struct {
	Token TokenSource
	Sink  func(message.NormalizedMessage)
	// LiveChatID pins a specific chat; empty means discover the account's
	// active broadcast at session start.
	LiveChatID string
}

// Driver implements connector.Driver for YouTube.
type Driver struct {
	cfg Config
}

// New builds a YouTube driver.
func New(cfg Config) *Driver { return &Driver{cfg: cfg} }

func (d *Driver) Platform() message.Platform { return message.PlatformYouTube }

// Dial validates configuration. The API client is built in Authenticate so
// it binds to the session context.
func (d *Driver) Dial(_ context.Context) (connector.Session, error) {
	if d.cfg.Token == nil {
		return nil, fmt.Errorf("youtube oauth not configured: %w", connector.ErrConfigInvalid)
	}
	if d.cfg.Sink == nil {
		return nil, fmt.Errorf("youtube message sink not configured: %w", connector.ErrConfigInvalid)
	}
	return &session{cfg: d.cfg}, nil
}

type session struct {
	cfg   Config
	token string
}

// Authenticate resolves the access token. A missing or invalidated
// credential surfaces as auth-invalid so the supervisor parks in reauth.
func (s *session) Authenticate(ctx context.Context) error {
	tok, err := s.cfg.Token(ctx)
	if err != nil {
		return fmt.Errorf("youtube token unavailable: %w: %w", connector.ErrAuthInvalid, err)
	}
	s.token = tok
	return nil
}

// Run polls the live chat until ctx is cancelled or the chat ends. The
// API-advertised polling interval is honored between page fetches, so the
// platform's rate limit is respected inside the live session rather than
// through supervisor backoff.
func (s *session) Run(ctx context.Context) error {
	svc, err := yt.NewService(ctx,
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: s.token})))
	if err != nil {
		return fmt.Errorf("youtube service: %w", err)
	}

	chatID := s.cfg.LiveChatID
	if chatID == "" {
		chatID, err = activeLiveChatID(ctx, svc)
		if err != nil {
			return err
		}
	}

	pageToken := ""
	for {
		call := svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return classifyAPIError("youtube chat poll", err)
		}
		if resp.OfflineAt != "" {
			return errors.New("youtube live chat ended")
		}
		for _, item := range resp.Items {
			msg, ok := normalizeItem(item)
			if !ok {
				continue
			}
			telemetry.CountIngest(string(message.PlatformYouTube))
			s.cfg.Sink(msg)
		}
		pageToken = resp.NextPageToken

		wait := time.Duration(resp.PollingIntervalMillis) * time.Millisecond
		if wait < minPollInterval {
			wait = minPollInterval
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *session) Close() error { return nil }

// activeLiveChatID finds the chat attached to the account's active
// broadcast. No active broadcast is a transient condition; the supervisor
// retries under backoff until the stream goes live.
func activeLiveChatID(ctx context.Context, svc *yt.Service) (string, error) {
	resp, err := svc.LiveBroadcasts.List([]string{"snippet"}).
		BroadcastStatus("active").Mine(true).Context(ctx).Do()
	if err != nil {
		return "", classifyAPIError("youtube broadcast lookup", err)
	}
	for _, b := range resp.Items {
		if b.Snippet != nil && b.Snippet.LiveChatId != "" {
			return b.Snippet.LiveChatId, nil
		}
	}
	return "", errors.New("no active youtube broadcast with live chat")
}

// classifyAPIError maps Data API failures onto the retry taxonomy. Quota and
// rate reasons wait; credential rejections park for reauth.
func classifyAPIError(op string, err error) error {
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		switch {
		case ge.Code == 401:
			return fmt.Errorf("%s: %w: %w", op, connector.ErrAuthInvalid, err)
		case ge.Code == 403 && hasReason(ge, "quotaExceeded", "rateLimitExceeded", "userRateLimitExceeded"):
			return fmt.Errorf("%s: %w", op, &connector.RateLimitError{RetryAfter: time.Minute})
		case ge.Code == 403:
			return fmt.Errorf("%s: %w: %w", op, connector.ErrAuthInvalid, err)
		case ge.Code == 429:
			return fmt.Errorf("%s: %w", op, &connector.RateLimitError{RetryAfter: 30 * time.Second})
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "invalid_grant") {
		return fmt.Errorf("%s: %w: %w", op, connector.ErrAuthInvalid, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func hasReason(ge *googleapi.Error, reasons ...string) bool {
	for _, item := range ge.Errors {
		for _, r := range reasons {
			if item.Reason == r {
				return true
			}
		}
	}
	return false
}

// normalizeItem maps one chat message resource onto the canonical shape.
// Non-text events (membership milestones, super chat stickers) are skipped.
func normalizeItem(item *yt.LiveChatMessage) (message.NormalizedMessage, bool) {
	if item == nil || item.Snippet == nil || item.AuthorDetails == nil {
		return message.NormalizedMessage{}, false
	}
	text := item.Snippet.DisplayMessage
	if text == "" {
		return message.NormalizedMessage{}, false
	}
	toks := message.TokenizePlain(text)
	if toks == nil {
		toks = []message.ContentToken{message.Text(text)}
	}
	return message.NormalizedMessage{
		ID:        message.NewID(),
		Platform:  message.PlatformYouTube,
		Author:    item.AuthorDetails.DisplayName,
		AuthorID:  item.AuthorDetails.ChannelId,
		AvatarURL: item.AuthorDetails.ProfileImageUrl,
		Tokens:    toks,
		Meta: message.Metadata{
			Moderator:   item.AuthorDetails.IsChatModerator,
			Subscriber:  item.AuthorDetails.IsChatSponsor,
			Broadcaster: item.AuthorDetails.IsChatOwner,
		},
		ReceivedAt: time.Now().UTC(),
	}, true
}
