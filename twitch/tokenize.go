package twitch

import (
	"fmt"
	"sort"

	irc "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/chatmux/backend/message"
)

// emoteCDN is the template for first-party emote images.
const emoteCDN = "https://static-cdn.jtvnw.net/emoticons/v2/%s/default/dark/2.0"

type emoteSpan struct {
	start, end int // inclusive rune indices, per the IRC emotes tag
	emote      *irc.Emote
}

// tokenize splits the message body into text, emote, link and mention
// tokens. Emote positions come from the IRC tags; overlapping or
// out-of-range positions are ignored rather than rejected.
func tokenize(text string, emotes []*irc.Emote) []message.ContentToken {
	runes := []rune(text)
	spans := make([]emoteSpan, 0, len(emotes))
	for _, e := range emotes {
		for _, p := range e.Positions {
			if p.Start < 0 || p.End >= len(runes) || p.Start > p.End {
				continue
			}
			spans = append(spans, emoteSpan{start: p.Start, end: p.End, emote: e})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var toks []message.ContentToken
	cur := 0
	for _, sp := range spans {
		if sp.start < cur {
			continue
		}
		if sp.start > cur {
			toks = append(toks, message.TokenizePlain(string(runes[cur:sp.start]))...)
		}
		toks = append(toks, message.Emote(message.EmoteRef{
			ID:       sp.emote.ID,
			Name:     sp.emote.Name,
			ImageURL: fmt.Sprintf(emoteCDN, sp.emote.ID),
			Provider: "twitch",
		}))
		cur = sp.end + 1
	}
	if cur < len(runes) {
		toks = append(toks, message.TokenizePlain(string(runes[cur:]))...)
	}
	if toks == nil {
		toks = []message.ContentToken{message.Text(text)}
	}
	return toks
}
