package server

import (
	"log/slog"
	"net/http"

	"github.com/onnwee/chatmux/backend/message"
	"github.com/onnwee/chatmux/backend/twitch"
	"github.com/onnwee/chatmux/backend/youtube"
)

// HandleTwitchOAuthStart redirects the operator to Twitch's consent page.
// The CSRF state is tracked by the token manager; starting a new flow
// supersedes any pending one for the platform.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Cfg
	if cfg.TwitchClientID == "" || cfg.TwitchRedirectURI == "" {
		writeError(w, http.StatusPreconditionFailed, "twitch oauth not configured: set TWITCH_CLIENT_ID and TWITCH_REDIRECT_URI")
		return
	}
	state := h.deps.Tokens.BeginAuth(message.PlatformTwitch)
	url, err := twitch.BuildAuthorizeURL(cfg.TwitchClientID, cfg.TwitchRedirectURI, cfg.TwitchScopes, state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// HandleTwitchOAuthCallback completes the Twitch code grant: validates
// state, exchanges the code, and installs the credential pair atomically. A
// connector parked in awaiting_reauth resumes on its own.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errName := q.Get("error"); errName != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+errName)
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing code or state")
		return
	}
	if !h.deps.Tokens.CompleteAuth(message.PlatformTwitch, state) {
		writeError(w, http.StatusBadRequest, "state mismatch or expired; restart the flow")
		return
	}

	cfg := h.deps.Cfg
	rec, err := twitch.ExchangeAuthCode(r.Context(), cfg.TwitchClientID, cfg.TwitchClientSecret, code, cfg.TwitchRedirectURI)
	if err != nil {
		slog.Error("twitch auth code exchange failed", slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "code exchange failed")
		return
	}
	if err := h.deps.Tokens.SetRecord(r.Context(), message.PlatformTwitch, rec); err != nil {
		writeError(w, http.StatusInternalServerError, "persist credential: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized", "platform": "twitch"})
}

// HandleYouTubeOAuthStart redirects the operator to Google's consent page.
func (h *Handlers) HandleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Cfg
	if !cfg.YouTubeEnabled() || cfg.YTRedirectURI == "" {
		writeError(w, http.StatusPreconditionFailed, "youtube oauth not configured: set YT_CLIENT_ID, YT_CLIENT_SECRET and YT_REDIRECT_URI")
		return
	}
	state := h.deps.Tokens.BeginAuth(message.PlatformYouTube)
	oc := youtube.OAuthConfig(cfg.YTClientID, cfg.YTClientSecret, cfg.YTRedirectURI, cfg.YTScopes)
	http.Redirect(w, r, youtube.AuthCodeURL(oc, state), http.StatusFound)
}

// HandleYouTubeOAuthCallback completes the Google code grant.
func (h *Handlers) HandleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errName := q.Get("error"); errName != "" {
		writeError(w, http.StatusBadRequest, "authorization denied: "+errName)
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "missing code or state")
		return
	}
	if !h.deps.Tokens.CompleteAuth(message.PlatformYouTube, state) {
		writeError(w, http.StatusBadRequest, "state mismatch or expired; restart the flow")
		return
	}

	cfg := h.deps.Cfg
	oc := youtube.OAuthConfig(cfg.YTClientID, cfg.YTClientSecret, cfg.YTRedirectURI, cfg.YTScopes)
	rec, err := youtube.ExchangeAuthCode(r.Context(), oc, code)
	if err != nil {
		slog.Error("youtube auth code exchange failed", slog.Any("err", err))
		writeError(w, http.StatusBadGateway, "code exchange failed")
		return
	}
	if err := h.deps.Tokens.SetRecord(r.Context(), message.PlatformYouTube, rec); err != nil {
		writeError(w, http.StatusInternalServerError, "persist credential: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "authorized", "platform": "youtube"})
}
