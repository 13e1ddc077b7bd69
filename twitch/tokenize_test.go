package twitch

import (
	"testing"

	irc "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatmux/backend/message"
)

func emote(id, name string, start, end int) *irc.Emote {
	return &irc.Emote{
		ID:    id,
		Name:  name,
		Count: 1,
		Positions: []irc.EmotePosition{
			{Start: start, End: end},
		},
	}
}

func TestTokenizeEmotePositions(t *testing.T) {
	// "Kappa hi Kappa" with the emote at runes 0-4 and 9-13.
	text := "Kappa hi Kappa"
	e := &irc.Emote{
		ID:   "25",
		Name: "Kappa",
		Positions: []irc.EmotePosition{
			{Start: 0, End: 4},
			{Start: 9, End: 13},
		},
	}
	toks := tokenize(text, []*irc.Emote{e})
	if len(toks) != 3 {
		t.Fatalf("tokens = %+v, want 3", toks)
	}
	if toks[0].Type != message.TokenEmote || toks[0].Emote.Name != "Kappa" {
		t.Errorf("token 0 = %+v, want Kappa emote", toks[0])
	}
	if toks[0].Emote.ImageURL != "https://static-cdn.jtvnw.net/emoticons/v2/25/default/dark/2.0" {
		t.Errorf("image url = %q", toks[0].Emote.ImageURL)
	}
	if toks[1].Type != message.TokenText || toks[1].Text != " hi " {
		t.Errorf("token 1 = %+v, want text ' hi '", toks[1])
	}
	if toks[2].Type != message.TokenEmote {
		t.Errorf("token 2 = %+v, want Kappa emote", toks[2])
	}
}

func TestTokenizeRuneIndexedPositions(t *testing.T) {
	// Multi-byte runes before the emote; positions are rune indices.
	text := "héllo Kappa"
	toks := tokenize(text, []*irc.Emote{emote("25", "Kappa", 6, 10)})
	if len(toks) != 2 {
		t.Fatalf("tokens = %+v, want 2", toks)
	}
	if toks[0].Text != "héllo " {
		t.Errorf("token 0 text = %q, want 'héllo '", toks[0].Text)
	}
	if toks[1].Type != message.TokenEmote || toks[1].Emote.Name != "Kappa" {
		t.Errorf("token 1 = %+v, want Kappa emote", toks[1])
	}
}

func TestTokenizeIgnoresOutOfRangePositions(t *testing.T) {
	toks := tokenize("short", []*irc.Emote{emote("1", "Bad", 2, 50)})
	if len(toks) != 1 || toks[0].Type != message.TokenText || toks[0].Text != "short" {
		t.Errorf("tokens = %+v, want plain text", toks)
	}
}

func TestTokenizeIgnoresOverlappingPositions(t *testing.T) {
	text := "KappaKeepo"
	es := []*irc.Emote{
		emote("25", "Kappa", 0, 4),
		emote("1902", "Keepo", 3, 9), // overlaps the first span
	}
	toks := tokenize(text, es)
	if len(toks) != 2 {
		t.Fatalf("tokens = %+v, want emote + trailing text", toks)
	}
	if toks[0].Emote.Name != "Kappa" || toks[1].Type != message.TokenText || toks[1].Text != "Keepo" {
		t.Errorf("tokens = %+v", toks)
	}
}

func TestTokenizeNoEmotes(t *testing.T) {
	toks := tokenize("hello @alice see https://example.com", nil)
	want := []message.TokenType{message.TokenText, message.TokenMention, message.TokenText, message.TokenLink}
	if len(toks) != len(want) {
		t.Fatalf("tokens = %+v, want %d", toks, len(want))
	}
	for i, tt := range want {
		if toks[i].Type != tt {
			t.Errorf("token %d type = %s, want %s", i, toks[i].Type, tt)
		}
	}
}

func TestNormalize(t *testing.T) {
	msg := irc.PrivateMessage{
		Channel: "somechannel",
		Message: "hello chat",
		User: irc.User{
			ID:          "123",
			Name:        "alice",
			DisplayName: "Alice",
			Color:       "#FF0000",
			Badges:      map[string]int{"moderator": 1, "subscriber": 12},
		},
		FirstMessage: true,
		Tags:         map[string]string{"returning-chatter": "1"},
	}
	got := Normalize(msg)

	if got.Platform != message.PlatformTwitch {
		t.Errorf("platform = %s", got.Platform)
	}
	if got.Author != "Alice" || got.AuthorID != "123" || got.Channel != "somechannel" {
		t.Errorf("identity = %s/%s/%s", got.Author, got.AuthorID, got.Channel)
	}
	if !got.Meta.Moderator || !got.Meta.Subscriber || got.Meta.VIP || got.Meta.Broadcaster {
		t.Errorf("meta flags = %+v", got.Meta)
	}
	if got.Meta.Color != "#FF0000" || !got.Meta.FirstMessage || !got.Meta.ReturningChatter {
		t.Errorf("meta = %+v", got.Meta)
	}
	if len(got.Meta.Badges) != 2 || got.Meta.Badges[0].Set != "moderator" || got.Meta.Badges[1].Version != "12" {
		t.Errorf("badges = %+v", got.Meta.Badges)
	}
	if got.ID == "" || got.ReceivedAt.IsZero() {
		t.Error("ID and ReceivedAt must be assigned at ingestion")
	}
	if got.Transcript() != "hello chat" {
		t.Errorf("transcript = %q", got.Transcript())
	}
}

func TestNormalizeFounderCountsAsSubscriber(t *testing.T) {
	msg := irc.PrivateMessage{
		Message: "hi",
		User:    irc.User{Name: "bob", Badges: map[string]int{"founder": 1}},
	}
	got := Normalize(msg)
	if !got.Meta.Subscriber {
		t.Error("founder badge should map to subscriber")
	}
	if got.Author != "bob" {
		t.Errorf("author = %q, want fallback to login name", got.Author)
	}
}
