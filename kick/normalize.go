package kick

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/chatmux/backend/message"
)

// kickEmoteCDN is the template for Kick-hosted emote images.
const kickEmoteCDN = "https://files.kick.com/emotes/%s/fullsize"

// chatEvent is the payload of a ChatMessageEvent. Pusher double-encodes it:
// the frame's data field is a JSON string containing this object.
type chatEvent struct {
	ID         string    `json:"id"`
	ChatroomID int       `json:"chatroom_id"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
	Sender     struct {
		ID       int    `json:"id"`
		Username string `json:"username"`
		Slug     string `json:"slug"`
		Identity struct {
			Color  string `json:"color"`
			Badges []struct {
				Type  string `json:"type"`
				Text  string `json:"text"`
				Count int    `json:"count,omitempty"`
			} `json:"badges"`
		} `json:"identity"`
	} `json:"sender"`
}

// Normalize parses a raw ChatMessageEvent data field into the canonical
// message shape. Malformed payloads return an error so the caller can drop
// the single event.
func Normalize(data json.RawMessage, channel string) (message.NormalizedMessage, error) {
	var inner string
	if err := json.Unmarshal(data, &inner); err != nil {
		// Some relays deliver the object directly rather than double-encoded.
		inner = string(data)
	}
	var ev chatEvent
	if err := json.Unmarshal([]byte(inner), &ev); err != nil {
		return message.NormalizedMessage{}, fmt.Errorf("chat event decode: %w", err)
	}
	if ev.Sender.Username == "" {
		return message.NormalizedMessage{}, fmt.Errorf("chat event missing sender")
	}

	meta := message.Metadata{Color: ev.Sender.Identity.Color}
	for _, b := range ev.Sender.Identity.Badges {
		switch b.Type {
		case "moderator":
			meta.Moderator = true
		case "subscriber", "founder":
			meta.Subscriber = true
		case "vip":
			meta.VIP = true
		case "broadcaster":
			meta.Broadcaster = true
		}
		ref := message.BadgeRef{Set: b.Type}
		if b.Count > 0 {
			ref.Version = strconv.Itoa(b.Count)
		}
		meta.Badges = append(meta.Badges, ref)
	}

	return message.NormalizedMessage{
		ID:         message.NewID(),
		Platform:   message.PlatformKick,
		Channel:    channel,
		Author:     ev.Sender.Username,
		AuthorID:   strconv.Itoa(ev.Sender.ID),
		Tokens:     tokenizeContent(ev.Content),
		Meta:       meta,
		ReceivedAt: time.Now().UTC(),
		Raw:        json.RawMessage(inner),
	}, nil
}

// tokenizeContent splits Kick's inline markup into tokens. Emotes are
// embedded as [emote:ID:NAME]; everything between them is scanned for links
// and mentions. Unbalanced markup degrades to plain text.
func tokenizeContent(content string) []message.ContentToken {
	var toks []message.ContentToken
	rest := content
	for {
		open := strings.Index(rest, "[emote:")
		if open < 0 {
			break
		}
		closing := strings.Index(rest[open:], "]")
		if closing < 0 {
			break
		}
		closing += open
		id, name, ok := parseEmoteTag(rest[open+1 : closing])
		if !ok {
			// Not real emote markup; emit through the bracket and continue.
			toks = append(toks, message.TokenizePlain(rest[:closing+1])...)
			rest = rest[closing+1:]
			continue
		}
		if open > 0 {
			toks = append(toks, message.TokenizePlain(rest[:open])...)
		}
		toks = append(toks, message.Emote(message.EmoteRef{
			ID:       id,
			Name:     name,
			ImageURL: fmt.Sprintf(kickEmoteCDN, id),
			Provider: "kick",
		}))
		rest = rest[closing+1:]
	}
	if rest != "" {
		toks = append(toks, message.TokenizePlain(rest)...)
	}
	if toks == nil {
		toks = []message.ContentToken{message.Text(content)}
	}
	return toks
}

// parseEmoteTag decodes "emote:ID:NAME" (brackets stripped).
func parseEmoteTag(tag string) (id, name string, ok bool) {
	parts := strings.SplitN(tag, ":", 3)
	if len(parts) != 3 || parts[0] != "emote" || parts[1] == "" {
		return "", "", false
	}
	if _, err := strconv.Atoi(parts[1]); err != nil {
		return "", "", false
	}
	return parts[1], parts[2], true
}
