// Package server exposes the HTTP API: the /ws client endpoint, health and
// status surfaces, metrics, OAuth flows, and admin lifecycle controls. It
// includes permissive CORS for development and injects correlation IDs into
// request contexts for consistent logging.
package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/onnwee/chatmux/backend/config"
	"github.com/onnwee/chatmux/backend/connector"
	"github.com/onnwee/chatmux/backend/emotes"
	"github.com/onnwee/chatmux/backend/hub"
	"github.com/onnwee/chatmux/backend/tokens"
)

// Deps carries the engine components the HTTP layer talks to.
type Deps struct {
	Cfg        *config.Config
	DB         *sql.DB // nil in credential-less dev setups
	Hub        *hub.Hub
	Connectors *connector.Manager
	Tokens     *tokens.Manager
	Emotes     *emotes.Catalog
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	deps Deps
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
