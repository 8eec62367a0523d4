package relay

import (
	"net/http"

	"github.com/papersync/papersync/internal/api"
)

// KindStatus reports one relay capability.
type KindStatus struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// StatusResponse is the proxy-status inspection surface.
type StatusResponse struct {
	LLM    KindStatus `json:"llm"`
	WebDAV KindStatus `json:"webdav"`
}

// CurrentStatus reads the administrative flags.
func (h *Handler) CurrentStatus() StatusResponse {
	resp := StatusResponse{}

	if h.cfg.LLMRelayEnabled() {
		resp.LLM = KindStatus{Enabled: true, Message: "LLM relay is enabled"}
	} else {
		resp.LLM = KindStatus{Enabled: false, Message: "LLM relay is disabled by the administrator"}
	}

	if h.cfg.WebDAVRelayEnabled() {
		resp.WebDAV = KindStatus{Enabled: true, Message: "WebDAV relay is enabled"}
	} else {
		resp.WebDAV = KindStatus{Enabled: false, Message: "WebDAV relay is disabled by the administrator"}
	}

	return resp
}

// HandleStatus serves the proxy-status read endpoint.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.CurrentStatus())
}
