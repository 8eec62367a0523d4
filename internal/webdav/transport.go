package webdav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/papersync/papersync/internal/httpclient"
	"github.com/papersync/papersync/internal/logutil"
)

// Transport is the single WebDAV operation contract both modes implement.
// Implementations never return errors for expected negative outcomes;
// those are reported inside the OperationResult.
type Transport interface {
	Upload(ctx context.Context, name, content string) OperationResult
	Download(ctx context.Context, name string) OperationResult
	List(ctx context.Context) OperationResult
	Delete(ctx context.Context, name string) OperationResult
	TestConnection(ctx context.Context) OperationResult

	// Kind reports which mode this transport implements.
	Kind() Mode
}

// Options carries the collaborators a transport needs.
type Options struct {
	// HTTPClient performs outbound requests. Required.
	HTTPClient *httpclient.Client

	// AppDir is the application subdirectory under the WebDAV root.
	// All reads and writes are confined beneath it.
	AppDir string

	// RelayURL is the relay endpoint the proxied transport posts
	// operation descriptors to. Required for ModeProxy.
	RelayURL string

	Logger *slog.Logger
}

// NewTransport builds the transport selected by cfg.UseRelay.
// nil or true selects the proxied transport, false the direct one.
func NewTransport(cfg *ConnectivityConfig, opts Options) (Transport, error) {
	if cfg.RelayEnabled() {
		return newRelayTransport(cfg, opts)
	}
	return newDirectTransport(cfg, opts)
}

// NewTransportForMode builds a specific transport regardless of cfg.UseRelay.
// Mode detection uses this to probe both modes from one config.
func NewTransportForMode(mode Mode, cfg *ConnectivityConfig, opts Options) (Transport, error) {
	switch mode {
	case ModeDirect:
		return newDirectTransport(cfg, opts)
	case ModeProxy:
		return newRelayTransport(cfg, opts)
	default:
		return nil, fmt.Errorf("unknown transport mode: %s", mode)
	}
}

func validateTransportOptions(cfg *ConnectivityConfig, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("connectivity config is required")
	}
	if opts.HTTPClient == nil {
		return fmt.Errorf("http client is required")
	}
	if opts.AppDir == "" {
		return fmt.Errorf("app dir is required")
	}
	return nil
}

// normalizeServerURL ensures the base URL ends with exactly one slash.
func normalizeServerURL(serverURL string) string {
	return strings.TrimRight(strings.TrimSpace(serverURL), "/") + "/"
}

// sanitizeName strips leading slashes so names cannot escape the app dir.
func sanitizeName(name string) string {
	return strings.TrimLeft(name, "/")
}

// normalizeAppDir ensures the subdirectory is a relative segment ending in /.
func normalizeAppDir(appDir string) string {
	return strings.TrimLeft(strings.TrimRight(appDir, "/")+"/", "/")
}

// appDirURL returns the absolute URL of the application subdirectory.
func appDirURL(cfg *ConnectivityConfig, appDir string) string {
	return normalizeServerURL(cfg.ServerURL) + normalizeAppDir(appDir)
}

// resourceURL returns the absolute URL for a named file in the app dir.
func resourceURL(cfg *ConnectivityConfig, appDir, name string) string {
	return appDirURL(cfg, appDir) + sanitizeName(name)
}

// isSuccessStatus reports whether a WebDAV response status counts as
// success. 207 Multi-Status is the WebDAV batch-success convention.
func isSuccessStatus(status int) bool {
	return (status >= 200 && status < 300) || status == http.StatusMultiStatus
}

// statusFailure maps an HTTP failure status to the documented distinct
// message categories. op names the operation for the message text.
func statusFailure(op string, status int, statusText string) OperationResult {
	switch status {
	case http.StatusUnauthorized:
		return OperationResult{
			Success: false,
			Message: "Authentication failed",
			Details: fmt.Sprintf("%s was rejected with status 401. Check the username and app password.", op),
		}
	case http.StatusForbidden:
		return OperationResult{
			Success: false,
			Message: "Permission denied",
			Details: fmt.Sprintf("%s was rejected with status 403. The account lacks permission for this path.", op),
		}
	case http.StatusNotFound:
		return OperationResult{
			Success: false,
			Message: "Not found",
			Details: fmt.Sprintf("%s target does not exist (status 404).", op),
		}
	default:
		if statusText == "" {
			statusText = http.StatusText(status)
		}
		return OperationResult{
			Success: false,
			Message: fmt.Sprintf("%s failed", op),
			Details: fmt.Sprintf("Server returned status %d %s.", status, statusText),
		}
	}
}

// classifyTransportError converts a network-level error into a result.
// Cross-origin rejections are warnings with a relay-mode recommendation,
// since many providers reject direct browser-style access by policy.
func classifyTransportError(op string, err error) OperationResult {
	msg := err.Error()
	if strings.Contains(msg, "CORS") || strings.Contains(msg, "cross-origin") {
		return OperationResult{
			Success:   false,
			IsWarning: true,
			Message:   "Cross-origin request blocked",
			Details:   fmt.Sprintf("%s was blocked by a cross-origin policy. Enable relay mode to route the request through the server.", op),
		}
	}
	if httpclient.IsSSRFError(err) {
		return OperationResult{
			Success: false,
			Message: "Target address blocked",
			Details: fmt.Sprintf("%s was blocked by outbound address policy: %v", op, err),
		}
	}
	return OperationResult{
		Success: false,
		Message: "Connection failed",
		Details: fmt.Sprintf("%s could not reach the server: %v", op, err),
	}
}

// containsFold reports whether s contains substr, case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToUpper(s), strings.ToUpper(substr))
}

func transportLogger(opts Options) *slog.Logger {
	return logutil.NoopIfNil(opts.Logger)
}
