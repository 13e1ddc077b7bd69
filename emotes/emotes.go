// Package emotes maintains a catalog of third-party emotes (BetterTTV, 7TV)
// and upgrades matching words in message text to emote tokens. Platforms only
// tag their first-party emotes; overlays expect the third-party ones too.
package emotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/chatmux/backend/message"
)

const (
	bttvGlobalURL    = "https://api.betterttv.net/3/cached/emotes/global"
	seventvGlobalURL = "https://7tv.io/v3/emote-sets/global"

	// DefaultRefreshInterval is how often the catalog re-fetches its sources.
	DefaultRefreshInterval = 6 * time.Hour
	fetchTimeout           = 15 * time.Second
	maxBody                = 4 << 20
)

// Source fetches one provider's emote list.
type Source struct {
	Provider string
	URL      string
	parse    func([]byte) ([]message.EmoteRef, error)
}

// Catalog is a name-keyed emote index merged from all sources. Lookups are
// hot-path (every published text token); refreshes swap the whole map.
type Catalog struct {
	hc      *http.Client
	sources []Source

	mu     sync.RWMutex
	byName map[string]message.EmoteRef
}

// NewCatalog builds a catalog over the default global sources.
func NewCatalog(hc *http.Client) *Catalog {
	if hc == nil {
		hc = &http.Client{Timeout: fetchTimeout}
	}
	return &Catalog{
		hc: hc,
		sources: []Source{
			{Provider: "bttv", URL: bttvGlobalURL, parse: parseBTTV},
			{Provider: "7tv", URL: seventvGlobalURL, parse: parse7TV},
		},
		byName: make(map[string]message.EmoteRef),
	}
}

// Lookup returns the emote registered under name, if any.
func (c *Catalog) Lookup(name string) (message.EmoteRef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ref, ok := c.byName[name]
	return ref, ok
}

// Len returns the number of cataloged emotes.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName)
}

// Refresh re-fetches every source. A failing source keeps its previous
// entries; the merged index is swapped in atomically.
func (c *Catalog) Refresh(ctx context.Context) error {
	next := make(map[string]message.EmoteRef)
	var firstErr error
	for _, src := range c.sources {
		refs, err := c.fetch(ctx, src)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			slog.Warn("emote source fetch failed",
				slog.String("provider", src.Provider), slog.Any("err", err))
			// Carry forward what we had from this provider.
			c.mu.RLock()
			for name, ref := range c.byName {
				if ref.Provider == src.Provider {
					next[name] = ref
				}
			}
			c.mu.RUnlock()
			continue
		}
		for _, ref := range refs {
			next[ref.Name] = ref
		}
	}
	c.mu.Lock()
	c.byName = next
	c.mu.Unlock()
	slog.Info("emote catalog refreshed", slog.Int("emotes", len(next)))
	return firstErr
}

func (c *Catalog) fetch(ctx context.Context, src Source) ([]message.EmoteRef, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", src.Provider, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, err
	}
	return src.parse(body)
}

// StartRefresher loads the catalog once and keeps it fresh on a jittered
// interval until ctx is cancelled.
func (c *Catalog) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	go func() {
		if err := c.Refresh(ctx); err != nil {
			slog.Warn("initial emote catalog load incomplete", slog.Any("err", err))
		}
		for {
			jitter := time.Duration(rand.Int63n(int64(interval / 10)))
			t := time.NewTimer(interval + jitter)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			if err := c.Refresh(ctx); err != nil {
				slog.Warn("emote catalog refresh incomplete", slog.Any("err", err))
			}
		}
	}()
}

// Stage returns a transform that upgrades cataloged words inside text tokens
// to emote tokens. Non-text tokens pass through untouched.
func (c *Catalog) Stage() StageFunc {
	return StageFunc(func(msg message.NormalizedMessage) (message.NormalizedMessage, bool) {
		if c.Len() == 0 {
			return msg, true
		}
		var out []message.ContentToken
		changed := false
		for _, tok := range msg.Tokens {
			if tok.Type != message.TokenText {
				out = append(out, tok)
				continue
			}
			split := c.splitText(tok.Text)
			if len(split) == 1 && split[0].Type == message.TokenText {
				out = append(out, tok)
				continue
			}
			changed = true
			out = append(out, split...)
		}
		if changed {
			msg.Tokens = out
		}
		return msg, true
	})
}

// StageFunc adapts the catalog to the hub's transform interface without the
// hub importing this package.
type StageFunc func(message.NormalizedMessage) (message.NormalizedMessage, bool)

func (f StageFunc) Name() string { return "emote-catalog" }

func (f StageFunc) Transform(msg message.NormalizedMessage) (message.NormalizedMessage, bool) {
	return f(msg)
}

func (c *Catalog) splitText(text string) []message.ContentToken {
	var toks []message.ContentToken
	var plain strings.Builder
	flush := func() {
		if plain.Len() > 0 {
			toks = append(toks, message.Text(plain.String()))
			plain.Reset()
		}
	}
	rest := text
	for rest != "" {
		word, tail, sep := cutWord(rest)
		if ref, ok := c.Lookup(word); ok {
			flush()
			toks = append(toks, message.Emote(ref))
			plain.WriteString(sep)
		} else {
			plain.WriteString(word)
			plain.WriteString(sep)
		}
		rest = tail
	}
	flush()
	if toks == nil {
		toks = []message.ContentToken{message.Text(text)}
	}
	return toks
}

func cutWord(s string) (word, rest, sep string) {
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, "", ""
	}
	j := i
	for j < len(s) && s[j] == ' ' {
		j++
	}
	return s[:i], s[j:], s[i:j]
}

func parseBTTV(body []byte) ([]message.EmoteRef, error) {
	var list []struct {
		ID   string `json:"id"`
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("bttv decode: %w", err)
	}
	refs := make([]message.EmoteRef, 0, len(list))
	for _, e := range list {
		if e.ID == "" || e.Code == "" {
			continue
		}
		refs = append(refs, message.EmoteRef{
			ID:       e.ID,
			Name:     e.Code,
			ImageURL: "https://cdn.betterttv.net/emote/" + e.ID + "/2x",
			Provider: "bttv",
		})
	}
	return refs, nil
}

func parse7TV(body []byte) ([]message.EmoteRef, error) {
	var set struct {
		Emotes []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"emotes"`
	}
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("7tv decode: %w", err)
	}
	refs := make([]message.EmoteRef, 0, len(set.Emotes))
	for _, e := range set.Emotes {
		if e.ID == "" || e.Name == "" {
			continue
		}
		refs = append(refs, message.EmoteRef{
			ID:       e.ID,
			Name:     e.Name,
			ImageURL: "https://cdn.7tv.app/emote/" + e.ID + "/2x.webp",
			Provider: "7tv",
		})
	}
	return refs, nil
}
