// Package relay implements the server-side request relay: it performs
// authenticated WebDAV calls and LLM analysis calls on behalf of
// clients that cannot reach those origins directly.
package relay

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/papersync/papersync/internal/api"
	"github.com/papersync/papersync/internal/config"
	"github.com/papersync/papersync/internal/httpclient"
	"github.com/papersync/papersync/internal/logutil"
)

// allowedMethods is the WebDAV verb whitelist the relay will forward.
var allowedMethods = map[string]bool{
	http.MethodOptions: true,
	http.MethodHead:    true,
	http.MethodGet:     true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	"PROPFIND":         true,
	"MKCOL":            true,
}

// strippedHeaders are never copied from a descriptor to the outbound
// request; the relay controls these itself.
var strippedHeaders = map[string]bool{
	"Authorization": true,
	"Host":          true,
	"Cookie":        true,
	"Connection":    true,
}

// Descriptor is one WebDAV operation forwarded by a client.
type Descriptor struct {
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	URL     string            `json:"url"`
	Data    string            `json:"data"`
	Config  Credentials       `json:"config"`
}

// Credentials carries the WebDAV basic-auth material inside the body,
// never as a browser-visible header.
type Credentials struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

// Envelope is the normalized outcome returned for a forwarded call.
// Origin 2xx and 207 count as success.
type Envelope struct {
	Success    bool              `json:"success"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Data       string            `json:"data"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Handler serves the relay endpoints.
type Handler struct {
	cfg    *config.RelayConfig
	httpc  *httpclient.Client
	logger *slog.Logger
}

// NewHandler builds the relay handler.
func NewHandler(cfg *config.RelayConfig, httpc *httpclient.Client, logger *slog.Logger) (*Handler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("relay config is required")
	}
	if httpc == nil {
		return nil, fmt.Errorf("http client is required")
	}
	return &Handler{
		cfg:    cfg,
		httpc:  httpc,
		logger: logutil.NoopIfNil(logger),
	}, nil
}

// HandleWebDAV forwards one descriptor to the WebDAV origin.
// Refused entirely when the administrative flag is off.
func (h *Handler) HandleWebDAV(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.WebDAVRelayEnabled() {
		api.WriteForbidden(w, api.ReasonRelayDisabled, "WebDAV relay is disabled by the administrator")
		return
	}

	maxBody := h.cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "could not read request body")
		return
	}
	if int64(len(body)) > maxBody {
		api.WriteBadRequest(w, api.ReasonBadRequest, "request body too large")
		return
	}

	var desc Descriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "request body is not a valid operation descriptor")
		return
	}

	if reason, msg := validateDescriptor(&desc); reason != "" {
		api.WriteBadRequest(w, reason, msg)
		return
	}

	outReq, err := http.NewRequestWithContext(r.Context(), desc.Method, desc.URL, strings.NewReader(desc.Data))
	if err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, fmt.Sprintf("could not build outbound request: %v", err))
		return
	}

	for name, value := range desc.Headers {
		if strippedHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		outReq.Header.Set(name, value)
	}

	cred := desc.Config.Username + ":" + desc.Config.Secret
	outReq.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cred)))

	resp, err := h.httpc.Do(outReq)
	if err != nil {
		h.logger.Warn("relay outbound call failed", "method", desc.Method, "error", err)
		if httpclient.IsSSRFError(err) {
			api.WriteError(w, http.StatusBadGateway, api.ReasonTargetBlocked, "target address is not allowed")
			return
		}
		api.WriteError(w, http.StatusBadGateway, api.ReasonNetworkError, fmt.Sprintf("could not reach the WebDAV server: %v", err))
		return
	}
	defer resp.Body.Close()

	respBody, err := h.httpc.ReadBody(resp)
	if err != nil {
		api.WriteError(w, http.StatusBadGateway, api.ReasonRemoteError, fmt.Sprintf("could not read the WebDAV response: %v", err))
		return
	}

	envelope := Envelope{
		Success:    isOriginSuccess(resp.StatusCode),
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Data:       string(respBody),
		Headers:    flattenHeaders(resp.Header),
	}

	h.logger.Debug("relay forwarded", "method", desc.Method, "status", resp.StatusCode)
	api.WriteJSON(w, http.StatusOK, envelope)
}

// validateDescriptor checks the method whitelist, target scheme, and
// credential presence. Returns a reason code and message on failure.
func validateDescriptor(desc *Descriptor) (string, string) {
	method := strings.ToUpper(strings.TrimSpace(desc.Method))
	if method == "" {
		return api.ReasonMissingField, "method is required"
	}
	if !allowedMethods[method] {
		return api.ReasonInvalidField, fmt.Sprintf("method %s is not allowed", method)
	}
	desc.Method = method

	target, err := url.Parse(desc.URL)
	if err != nil || target.Host == "" {
		return api.ReasonInvalidField, "url must be absolute"
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return api.ReasonInvalidField, "url scheme must be http or https"
	}

	if desc.Config.Username == "" {
		return api.ReasonMissingField, "config.username is required"
	}

	return "", ""
}

// isOriginSuccess mirrors the WebDAV convention: 2xx and 207 succeed.
func isOriginSuccess(status int) bool {
	return (status >= 200 && status < 300) || status == http.StatusMultiStatus
}

// flattenHeaders keeps the first value of each response header.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[name] = values[0]
		}
	}
	return out
}
