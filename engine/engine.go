// Package engine assembles the pipeline: credential store, token manager,
// broadcast hub, emote catalog, platform drivers, and their supervisors. It
// owns startup order and the ordered shutdown sequence.
package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"

	"github.com/onnwee/chatmux/backend/backlog"
	"github.com/onnwee/chatmux/backend/config"
	"github.com/onnwee/chatmux/backend/connector"
	"github.com/onnwee/chatmux/backend/db"
	"github.com/onnwee/chatmux/backend/emotes"
	"github.com/onnwee/chatmux/backend/hub"
	"github.com/onnwee/chatmux/backend/kick"
	"github.com/onnwee/chatmux/backend/message"
	"github.com/onnwee/chatmux/backend/telemetry"
	"github.com/onnwee/chatmux/backend/tokens"
	"github.com/onnwee/chatmux/backend/twitch"
	"github.com/onnwee/chatmux/backend/youtube"
)

// Engine is the assembled chat pipeline.
type Engine struct {
	Cfg        *config.Config
	DB         *sql.DB
	Hub        *hub.Hub
	Tokens     *tokens.Manager
	Connectors *connector.Manager
	Emotes     *emotes.Catalog

	mu   sync.Mutex
	live map[message.Platform]bool
}

// New wires the engine from configuration. A nil database falls back to the
// in-memory credential store, losing tokens across restarts.
func New(cfg *config.Config, dbx *sql.DB) *Engine {
	var store tokens.Store
	if dbx != nil {
		store = db.NewCredentialStore(dbx)
	} else {
		slog.Warn("no database configured, oauth tokens will not survive restarts")
		store = tokens.NewMemoryStore()
	}
	tm := tokens.NewManager(store)
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		tm.Register(message.PlatformTwitch, twitch.Exchanger(cfg.TwitchClientID, cfg.TwitchClientSecret))
	}
	if cfg.YouTubeEnabled() {
		oc := youtube.OAuthConfig(cfg.YTClientID, cfg.YTClientSecret, cfg.YTRedirectURI, cfg.YTScopes)
		tm.Register(message.PlatformYouTube, youtube.Exchanger(oc))
	}

	h := hub.New(hub.Options{
		Backlog:           backlog.New(cfg.BacklogSize),
		QueueCap:          cfg.QueueCap,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PongGrace:         cfg.PongGrace,
	})
	cat := emotes.NewCatalog(nil)
	h.Use(cat.Stage())

	e := &Engine{
		Cfg:        cfg,
		DB:         dbx,
		Hub:        h,
		Tokens:     tm,
		Connectors: connector.NewManager(),
		Emotes:     cat,
		live:       make(map[message.Platform]bool),
	}
	e.addConnectors()
	return e
}

func (e *Engine) addConnectors() {
	cfg := e.Cfg
	sink := e.Hub.Publish

	if cfg.TwitchEnabled() {
		drv := twitch.New(twitch.Config{
			Channel:  cfg.TwitchChannel,
			Username: cfg.TwitchBotUsername,
			Token:    e.twitchTokenSource(),
			Sink:     sink,
		})
		e.Connectors.Add(connector.NewSupervisor(connector.SupervisorConfig{
			Driver:      drv,
			Events:      e.onEvent,
			Credentials: e.Tokens,
		}))
	}
	if cfg.KickEnabled() {
		drv := kick.New(kick.Config{
			Slug:       cfg.KickChannel,
			ChatroomID: cfg.KickChatroomID,
			Sink:       sink,
		})
		e.Connectors.Add(connector.NewSupervisor(connector.SupervisorConfig{
			Driver: drv,
			Events: e.onEvent,
		}))
	}
	if cfg.YouTubeEnabled() {
		drv := youtube.New(youtube.Config{
			Token: func(ctx context.Context) (string, error) {
				return e.Tokens.Token(ctx, message.PlatformYouTube)
			},
			Sink:       sink,
			LiveChatID: cfg.YTLiveChatID,
		})
		e.Connectors.Add(connector.NewSupervisor(connector.SupervisorConfig{
			Driver:      drv,
			Events:      e.onEvent,
			Credentials: e.Tokens,
		}))
	}
}

// twitchTokenSource returns nil when app credentials are absent so the
// driver falls back to anonymous read-only chat.
func (e *Engine) twitchTokenSource() twitch.TokenSource {
	if e.Cfg.TwitchClientID == "" || e.Cfg.TwitchBotUsername == "" {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		return e.Tokens.Token(ctx, message.PlatformTwitch)
	}
}

// onEvent fans connector transitions into metrics, logs, and client-facing
// error frames for the states that need operator attention.
func (e *Engine) onEvent(ev connector.Event) {
	telemetry.CountTransition(string(ev.Platform), string(ev.State))

	e.mu.Lock()
	e.live[ev.Platform] = ev.State == connector.StateLive
	n := 0
	for _, l := range e.live {
		if l {
			n++
		}
	}
	e.mu.Unlock()
	telemetry.SetConnectorsLive(n)

	switch ev.State {
	case connector.StateAwaitingReauth:
		e.Hub.Broadcast(message.ErrorFrame("auth_invalid",
			"credentials rejected, reauthorization required", ev.Platform))
	case connector.StateIdle:
		if ev.Class == connector.ClassConfig && ev.Err != nil {
			e.Hub.Broadcast(message.ErrorFrame("config_invalid", ev.Err.Error(), ev.Platform))
		}
	}
	if ev.Err != nil {
		slog.Info("connector transition",
			slog.String("platform", string(ev.Platform)),
			slog.String("state", string(ev.State)),
			slog.String("class", ev.Class.String()),
			slog.Any("err", ev.Err))
	} else {
		slog.Info("connector transition",
			slog.String("platform", string(ev.Platform)),
			slog.String("state", string(ev.State)))
	}
}

// Start launches the token refresh loops, the emote catalog refresher, and
// every connector supervisor.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Tokens.Start(ctx); err != nil {
		return err
	}
	e.restoreConnectorStates(ctx)
	e.Emotes.StartRefresher(ctx, 0)
	e.Connectors.Start(ctx)
	return nil
}

// restoreConnectorStates re-applies operator enable/disable choices persisted
// by the admin endpoints.
func (e *Engine) restoreConnectorStates(ctx context.Context) {
	if e.DB == nil {
		return
	}
	for _, st := range e.Connectors.Statuses() {
		disabled, err := db.ConnectorDisabled(ctx, e.DB, st.Platform)
		if err != nil {
			slog.Warn("connector state load",
				slog.String("platform", string(st.Platform)), slog.Any("err", err))
			continue
		}
		if disabled {
			if sup, ok := e.Connectors.Get(st.Platform); ok {
				sup.Disable()
				slog.Info("connector disabled by stored operator setting",
					slog.String("platform", string(st.Platform)))
			}
		}
	}
}

// Shutdown is the ordered drain: connectors have already been stopped by
// cancelling the Start context; wait for them, then release clients with a
// close notice.
func (e *Engine) Shutdown() {
	e.Connectors.Wait()
	e.Hub.Close()
}
