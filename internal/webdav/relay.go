package webdav

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/papersync/papersync/internal/httpclient"
)

// relayDescriptor is the operation forwarded to the server-side relay.
// Credentials travel in the body; the relay attaches Basic auth itself.
type relayDescriptor struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Data    string            `json:"data,omitempty"`
	Config  relayCredentials  `json:"config"`
}

type relayCredentials struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
}

// relayEnvelope is the normalized response the relay returns.
// 2xx and 207 from the origin count as success.
type relayEnvelope struct {
	Success    bool              `json:"success"`
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Data       string            `json:"data"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// relayRefusal is the relay's own structured error body, returned when
// the administrative flag is off or the descriptor is rejected.
type relayRefusal struct {
	Error struct {
		ReasonCode string `json:"reason_code"`
		Message    string `json:"message"`
	} `json:"error"`
}

// relayTransport forwards operation descriptors through the relay endpoint.
type relayTransport struct {
	cfg      *ConnectivityConfig
	httpc    *httpclient.Client
	appDir   string
	relayURL string
	logger   *slog.Logger
}

func newRelayTransport(cfg *ConnectivityConfig, opts Options) (*relayTransport, error) {
	if err := validateTransportOptions(cfg, opts); err != nil {
		return nil, err
	}
	if opts.RelayURL == "" {
		return nil, fmt.Errorf("relay URL is required for proxy mode")
	}
	return &relayTransport{
		cfg:      cfg,
		httpc:    opts.HTTPClient,
		appDir:   opts.AppDir,
		relayURL: opts.RelayURL,
		logger:   transportLogger(opts),
	}, nil
}

func (t *relayTransport) Kind() Mode {
	return ModeProxy
}

// forward posts one descriptor to the relay and decodes the envelope.
// The second return is a structured failure for relay-level refusals.
func (t *relayTransport) forward(ctx context.Context, op string, desc relayDescriptor) (*relayEnvelope, *OperationResult) {
	desc.Config = relayCredentials{Username: t.cfg.Username, Secret: t.cfg.Secret}

	body, err := json.Marshal(desc)
	if err != nil {
		res := OperationResult{Success: false, Message: fmt.Sprintf("%s failed", op), Details: err.Error()}
		return nil, &res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.relayURL, bytes.NewReader(body))
	if err != nil {
		res := OperationResult{Success: false, Message: fmt.Sprintf("%s failed", op), Details: err.Error()}
		return nil, &res
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpc.Do(req)
	if err != nil {
		res := classifyTransportError(op, err)
		return nil, &res
	}
	defer resp.Body.Close()

	respBody, err := t.httpc.ReadBody(resp)
	if err != nil {
		res := classifyTransportError(op, err)
		return nil, &res
	}

	if resp.StatusCode == http.StatusForbidden {
		// The relay refused the operation itself. Surface its message
		// verbatim instead of reinterpreting it as a connectivity failure.
		var refusal relayRefusal
		msg := "The server-side relay is disabled"
		if json.Unmarshal(respBody, &refusal) == nil && refusal.Error.Message != "" {
			msg = refusal.Error.Message
		}
		res := OperationResult{
			Success: false,
			Message: msg,
			Details: "Ask the administrator to enable the WebDAV relay, or switch to direct mode.",
		}
		return nil, &res
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		res := statusFailure(op, resp.StatusCode, resp.Status)
		res.Message = fmt.Sprintf("Relay request failed: %s", res.Message)
		return nil, &res
	}

	var envelope relayEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		res := OperationResult{
			Success: false,
			Message: fmt.Sprintf("%s failed", op),
			Details: fmt.Sprintf("Relay returned an unreadable response: %v", err),
		}
		return nil, &res
	}

	return &envelope, nil
}

// originResult maps the origin's status carried in the envelope.
func originResult(op string, env *relayEnvelope) *OperationResult {
	if env.Success || isSuccessStatus(env.Status) {
		return nil
	}
	res := statusFailure(op, env.Status, env.StatusText)
	return &res
}

// ensureAppDir mirrors the direct transport's probe-then-create sequence
// through the relay.
func (t *relayTransport) ensureAppDir(ctx context.Context) *OperationResult {
	dirURL := appDirURL(t.cfg, t.appDir)

	env, failure := t.forward(ctx, "Directory check", relayDescriptor{
		Method:  "PROPFIND",
		URL:     dirURL,
		Headers: map[string]string{"Depth": "0"},
	})
	if failure != nil {
		return failure
	}

	if env.Success || isSuccessStatus(env.Status) {
		return nil
	}

	if env.Status != http.StatusNotFound {
		return originResult("Directory check", env)
	}

	mkEnv, failure := t.forward(ctx, "Directory creation", relayDescriptor{
		Method: "MKCOL",
		URL:    dirURL,
	})
	if failure != nil {
		return failure
	}

	if mkEnv.Success || isSuccessStatus(mkEnv.Status) || mkEnv.Status == http.StatusMethodNotAllowed {
		return nil
	}

	res := statusFailure("Directory creation", mkEnv.Status, mkEnv.StatusText)
	res.Message = "Could not prepare the application directory"
	return &res
}

func (t *relayTransport) Upload(ctx context.Context, name, content string) OperationResult {
	if dirErr := t.ensureAppDir(ctx); dirErr != nil {
		return *dirErr
	}

	env, failure := t.forward(ctx, "Upload", relayDescriptor{
		Method:  http.MethodPut,
		URL:     resourceURL(t.cfg, t.appDir, name),
		Headers: map[string]string{"Content-Type": "application/json; charset=utf-8"},
		Data:    content,
	})
	if failure != nil {
		return *failure
	}
	if res := originResult("Upload", env); res != nil {
		return *res
	}

	t.logger.Debug("relay upload ok", "name", sanitizeName(name), "status", env.Status)
	return OperationResult{
		Success: true,
		Message: fmt.Sprintf("Uploaded %s (%d bytes)", sanitizeName(name), len(content)),
	}
}

func (t *relayTransport) Download(ctx context.Context, name string) OperationResult {
	env, failure := t.forward(ctx, "Download", relayDescriptor{
		Method: http.MethodGet,
		URL:    resourceURL(t.cfg, t.appDir, name),
	})
	if failure != nil {
		return *failure
	}
	if res := originResult("Download", env); res != nil {
		return *res
	}

	return OperationResult{
		Success: true,
		Message: fmt.Sprintf("Downloaded %s", sanitizeName(name)),
		Content: env.Data,
	}
}

func (t *relayTransport) List(ctx context.Context) OperationResult {
	if dirErr := t.ensureAppDir(ctx); dirErr != nil {
		return *dirErr
	}

	dirURL := appDirURL(t.cfg, t.appDir)
	env, failure := t.forward(ctx, "Listing", relayDescriptor{
		Method:  "PROPFIND",
		URL:     dirURL,
		Headers: map[string]string{"Depth": "1"},
	})
	if failure != nil {
		return *failure
	}
	if res := originResult("Listing", env); res != nil {
		return *res
	}

	files, err := ParseMultiStatus([]byte(env.Data), hrefPath(dirURL))
	if err != nil {
		return OperationResult{
			Success: false,
			Message: "Listing response could not be parsed",
			Details: err.Error(),
		}
	}

	return OperationResult{
		Success: true,
		Message: fmt.Sprintf("Found %d files", len(files)),
		Files:   files,
	}
}

func (t *relayTransport) Delete(ctx context.Context, name string) OperationResult {
	env, failure := t.forward(ctx, "Delete", relayDescriptor{
		Method: http.MethodDelete,
		URL:    resourceURL(t.cfg, t.appDir, name),
	})
	if failure != nil {
		return *failure
	}
	if res := originResult("Delete", env); res != nil {
		return *res
	}

	return OperationResult{
		Success: true,
		Message: fmt.Sprintf("Deleted %s", sanitizeName(name)),
	}
}

func (t *relayTransport) TestConnection(ctx context.Context) OperationResult {
	base := normalizeServerURL(t.cfg.ServerURL)

	env, failure := t.forward(ctx, "Connection test", relayDescriptor{
		Method: http.MethodOptions,
		URL:    base,
	})
	if failure == nil && (env.Success || isSuccessStatus(env.Status)) {
		allow := env.Headers["Allow"]
		dav := env.Headers["Dav"]
		if dav == "" {
			dav = env.Headers["DAV"]
		}
		if containsFold(allow, "PROPFIND") || dav != "" {
			return OperationResult{
				Success: true,
				Message: "Connection successful",
				Details: "Server advertises WebDAV support.",
			}
		}
	}

	pfEnv, pfFailure := t.forward(ctx, "Connection test", relayDescriptor{
		Method:  "PROPFIND",
		URL:     base,
		Headers: map[string]string{"Depth": "0"},
	})
	if pfFailure != nil {
		return *pfFailure
	}

	if pfEnv.Success || isSuccessStatus(pfEnv.Status) {
		return OperationResult{
			Success: true,
			Message: "Connection successful",
			Details: "Server responded to a WebDAV probe.",
		}
	}

	return statusFailure("Connection test", pfEnv.Status, pfEnv.StatusText)
}
