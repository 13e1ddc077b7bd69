// Package message defines the canonical chat message shape shared by every
// platform connector and the broadcast hub, plus the typed wire frames sent
// to display clients. Messages are values: once built by a normalizer they
// are never mutated.
package message

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Platform identifies a supported chat platform.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformKick    Platform = "kick"
	PlatformYouTube Platform = "youtube"
)

// Valid reports whether p is one of the known platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTwitch, PlatformKick, PlatformYouTube:
		return true
	}
	return false
}

// TokenType discriminates ContentToken variants.
type TokenType string

const (
	TokenText    TokenType = "text"
	TokenEmote   TokenType = "emote"
	TokenLink    TokenType = "link"
	TokenMention TokenType = "mention"
)

// EmoteRef points at a provider-hosted emote image.
type EmoteRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// LinkRef is a hyperlink found in a message body.
type LinkRef struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// MentionRef is an @-mention of another chatter.
type MentionRef struct {
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name"`
}

// ContentToken is one segment of a tokenized message body. Exactly one of
// the variant fields matching Type is set.
type ContentToken struct {
	Type    TokenType   `json:"type"`
	Text    string      `json:"text,omitempty"`
	Emote   *EmoteRef   `json:"emote,omitempty"`
	Link    *LinkRef    `json:"link,omitempty"`
	Mention *MentionRef `json:"mention,omitempty"`
}

// Text builds a plain text token.
func Text(s string) ContentToken { return ContentToken{Type: TokenText, Text: s} }

// Emote builds an emote token.
func Emote(e EmoteRef) ContentToken { return ContentToken{Type: TokenEmote, Emote: &e} }

// Link builds a hyperlink token.
func Link(url, text string) ContentToken {
	return ContentToken{Type: TokenLink, Link: &LinkRef{URL: url, Text: text}}
}

// Mention builds a mention token.
func Mention(userID, display string) ContentToken {
	return ContentToken{Type: TokenMention, Mention: &MentionRef{UserID: userID, DisplayName: display}}
}

// BadgeRef identifies one author badge (e.g. twitch "subscriber/12").
type BadgeRef struct {
	Set      string `json:"set"`
	Version  string `json:"version,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Metadata carries author-level flags mapped from platform-specific fields.
// Unknown platform flags are dropped during normalization, never errors.
type Metadata struct {
	Moderator        bool       `json:"moderator,omitempty"`
	Subscriber       bool       `json:"subscriber,omitempty"`
	VIP              bool       `json:"vip,omitempty"`
	Broadcaster      bool       `json:"broadcaster,omitempty"`
	Badges           []BadgeRef `json:"badges,omitempty"`
	Color            string     `json:"color,omitempty"`
	FirstMessage     bool       `json:"first_message,omitempty"`
	ReturningChatter bool       `json:"returning_chatter,omitempty"`
}

// NormalizedMessage is the canonical chat event produced by a platform
// normalizer. ID is assigned at ingestion and unique for the process
// lifetime; ReceivedAt is engine time, never the platform-claimed time.
type NormalizedMessage struct {
	ID         string          `json:"id"`
	Platform   Platform        `json:"platform"`
	Channel    string          `json:"channel,omitempty"`
	Author     string          `json:"author"`
	AuthorID   string          `json:"author_id,omitempty"`
	AvatarURL  string          `json:"avatar_url,omitempty"`
	Tokens     []ContentToken  `json:"tokens"`
	Meta       Metadata        `json:"meta"`
	ReceivedAt time.Time       `json:"received_at"`
	Raw        json.RawMessage `json:"-"` // diagnostics only, never sent to clients
}

// NewID returns a fresh opaque message identifier.
func NewID() string { return uuid.New().String() }

// Transcript renders the token sequence as readable text. Emotes degrade to
// their display name, links to their target, mentions to @name, so the
// result reads as a plain transcript even without rendering.
func (m *NormalizedMessage) Transcript() string {
	var b strings.Builder
	for _, t := range m.Tokens {
		switch t.Type {
		case TokenText:
			b.WriteString(t.Text)
		case TokenEmote:
			if t.Emote != nil {
				b.WriteString(t.Emote.Name)
			}
		case TokenLink:
			if t.Link != nil {
				if t.Link.Text != "" {
					b.WriteString(t.Link.Text)
				} else {
					b.WriteString(t.Link.URL)
				}
			}
		case TokenMention:
			if t.Mention != nil {
				b.WriteString("@" + t.Mention.DisplayName)
			}
		}
	}
	return b.String()
}
