package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/chatmux/backend/db"
	"github.com/onnwee/chatmux/backend/message"
)

// HandleConnectorAdmin dispatches POST /admin/connectors/{platform}/{action}
// where action is enable, disable, reconnect or refresh-token. Controls act
// on one connector; the others are untouched.
func (h *Handlers) HandleConnectorAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/admin/connectors/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "expected /admin/connectors/{platform}/{action}")
		return
	}
	platform := message.Platform(parts[0])
	if !platform.Valid() {
		writeError(w, http.StatusNotFound, "unknown platform: "+parts[0])
		return
	}
	sup, ok := h.deps.Connectors.Get(platform)
	if !ok {
		writeError(w, http.StatusNotFound, "no connector configured for "+parts[0])
		return
	}

	switch parts[1] {
	case "enable":
		sup.Enable()
		h.persistConnectorState(r.Context(), platform, false)
	case "disable":
		sup.Disable()
		h.persistConnectorState(r.Context(), platform, true)
	case "reconnect":
		sup.ForceReconnect()
	case "refresh-token":
		if err := h.deps.Tokens.ForceRefresh(r.Context(), platform); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	default:
		writeError(w, http.StatusNotFound, "unknown action: "+parts[1])
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"platform": string(platform),
		"action":   parts[1],
		"state":    string(sup.Status().State),
	})
}

// persistConnectorState records the operator's choice so it is re-applied on
// the next startup. Skipped in credential-less setups without a database.
func (h *Handlers) persistConnectorState(ctx context.Context, p message.Platform, disabled bool) {
	if h.deps.DB == nil {
		return
	}
	if err := db.SetConnectorDisabled(ctx, h.deps.DB, p, disabled); err != nil {
		slog.Warn("persist connector state",
			slog.String("platform", string(p)), slog.Any("err", err))
	}
}
