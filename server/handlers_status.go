package server

import (
	"net/http"
	"time"

	"github.com/onnwee/chatmux/backend/connector"
	"github.com/onnwee/chatmux/backend/hub"
)

var startTime = time.Now().UTC()

// statusResponse is the aggregated status surface: connector lifecycle,
// client backpressure counters, and catalog occupancy in one place.
type statusResponse struct {
	Uptime     string              `json:"uptime"`
	Connectors []connector.Status  `json:"connectors"`
	Clients    []hub.SessionStatus `json:"clients"`
	Emotes     int                 `json:"emote_catalog_size"`
}

// HandleStatus reports connector states, consecutive failure counts, next
// retry times, and per-client queue depth and drop counters.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := statusResponse{
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Connectors: h.deps.Connectors.Statuses(),
		Clients:    h.deps.Hub.Sessions(),
	}
	if h.deps.Emotes != nil {
		resp.Emotes = h.deps.Emotes.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}
