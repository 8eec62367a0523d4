package relay

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/papersync/papersync/internal/api"
)

// HandleLLM forwards an analysis request body to the configured upstream
// and returns its JSON response unchanged. Refused when the
// administrative flag is off.
func (h *Handler) HandleLLM(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.LLMRelayEnabled() {
		api.WriteForbidden(w, api.ReasonRelayDisabled, "LLM relay is disabled by the administrator")
		return
	}

	if h.cfg.LLMUpstreamURL == "" {
		api.WriteError(w, http.StatusNotImplemented, api.ReasonNotImplemented, "no LLM upstream is configured")
		return
	}

	maxBody := h.cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil || int64(len(body)) > maxBody {
		api.WriteBadRequest(w, api.ReasonBadRequest, "could not read request body")
		return
	}

	outReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, h.cfg.LLMUpstreamURL, bytes.NewReader(body))
	if err != nil {
		api.WriteInternalError(w, "could not build upstream request")
		return
	}
	outReq.Header.Set("Content-Type", "application/json")
	if h.cfg.LLMAPIKey != "" {
		outReq.Header.Set("Authorization", "Bearer "+h.cfg.LLMAPIKey)
	}

	resp, err := h.httpc.Do(outReq)
	if err != nil {
		h.logger.Warn("llm relay upstream call failed", "error", err)
		api.WriteError(w, http.StatusBadGateway, api.ReasonNetworkError, fmt.Sprintf("could not reach the analysis upstream: %v", err))
		return
	}
	defer resp.Body.Close()

	respBody, err := h.httpc.ReadBody(resp)
	if err != nil {
		api.WriteError(w, http.StatusBadGateway, api.ReasonRemoteError, "could not read the upstream response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)
}
