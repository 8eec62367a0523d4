package webdav

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/papersync/papersync/internal/httpclient"
)

// directTransport issues authenticated WebDAV verbs straight at the origin.
type directTransport struct {
	cfg    *ConnectivityConfig
	httpc  *httpclient.Client
	appDir string
	logger *slog.Logger
}

func newDirectTransport(cfg *ConnectivityConfig, opts Options) (*directTransport, error) {
	if err := validateTransportOptions(cfg, opts); err != nil {
		return nil, err
	}
	return &directTransport{
		cfg:    cfg,
		httpc:  opts.HTTPClient,
		appDir: opts.AppDir,
		logger: transportLogger(opts),
	}, nil
}

func (t *directTransport) Kind() Mode {
	return ModeDirect
}

// basicAuth builds the Authorization header value from the config.
func (t *directTransport) basicAuth() string {
	cred := t.cfg.Username + ":" + t.cfg.Secret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(cred))
}

// do issues one WebDAV request and returns the response.
func (t *directTransport) do(ctx context.Context, method, url string, body string, headers map[string]string) (*http.Response, error) {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", t.basicAuth())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return t.httpc.Do(req)
}

// ensureAppDir verifies the app subdirectory exists, creating it if the
// zero-depth probe reports not found. MKCOL racing an existing collection
// answers 405, which is treated as success.
func (t *directTransport) ensureAppDir(ctx context.Context) *OperationResult {
	dirURL := appDirURL(t.cfg, t.appDir)

	resp, err := t.do(ctx, "PROPFIND", dirURL, "", map[string]string{"Depth": "0"})
	if err != nil {
		res := classifyTransportError("Directory check", err)
		return &res
	}
	resp.Body.Close()

	if isSuccessStatus(resp.StatusCode) {
		return nil
	}

	if resp.StatusCode != http.StatusNotFound {
		res := statusFailure("Directory check", resp.StatusCode, resp.Status)
		return &res
	}

	mkResp, err := t.do(ctx, "MKCOL", dirURL, "", nil)
	if err != nil {
		res := classifyTransportError("Directory creation", err)
		return &res
	}
	mkResp.Body.Close()

	if isSuccessStatus(mkResp.StatusCode) || mkResp.StatusCode == http.StatusMethodNotAllowed {
		return nil
	}

	res := statusFailure("Directory creation", mkResp.StatusCode, mkResp.Status)
	res.Message = "Could not prepare the application directory"
	return &res
}

func (t *directTransport) Upload(ctx context.Context, name, content string) OperationResult {
	if dirErr := t.ensureAppDir(ctx); dirErr != nil {
		return *dirErr
	}

	target := resourceURL(t.cfg, t.appDir, name)
	resp, err := t.do(ctx, http.MethodPut, target, content, map[string]string{
		"Content-Type": "application/json; charset=utf-8",
	})
	if err != nil {
		return classifyTransportError("Upload", err)
	}
	defer resp.Body.Close()

	if !isSuccessStatus(resp.StatusCode) {
		return statusFailure("Upload", resp.StatusCode, resp.Status)
	}

	t.logger.Debug("webdav upload ok", "name", sanitizeName(name), "status", resp.StatusCode)
	return OperationResult{
		Success: true,
		Message: fmt.Sprintf("Uploaded %s (%d bytes)", sanitizeName(name), len(content)),
	}
}

func (t *directTransport) Download(ctx context.Context, name string) OperationResult {
	target := resourceURL(t.cfg, t.appDir, name)
	resp, err := t.do(ctx, http.MethodGet, target, "", nil)
	if err != nil {
		return classifyTransportError("Download", err)
	}
	defer resp.Body.Close()

	if !isSuccessStatus(resp.StatusCode) {
		return statusFailure("Download", resp.StatusCode, resp.Status)
	}

	body, err := t.httpc.ReadBody(resp)
	if err != nil {
		return classifyTransportError("Download", err)
	}

	return OperationResult{
		Success: true,
		Message: fmt.Sprintf("Downloaded %s", sanitizeName(name)),
		Content: string(body),
	}
}

func (t *directTransport) List(ctx context.Context) OperationResult {
	if dirErr := t.ensureAppDir(ctx); dirErr != nil {
		return *dirErr
	}

	dirURL := appDirURL(t.cfg, t.appDir)
	resp, err := t.do(ctx, "PROPFIND", dirURL, "", map[string]string{"Depth": "1"})
	if err != nil {
		return classifyTransportError("Listing", err)
	}
	defer resp.Body.Close()

	if !isSuccessStatus(resp.StatusCode) {
		return statusFailure("Listing", resp.StatusCode, resp.Status)
	}

	body, err := t.httpc.ReadBody(resp)
	if err != nil {
		return classifyTransportError("Listing", err)
	}

	files, err := ParseMultiStatus(body, hrefPath(dirURL))
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

func (t *directTransport) Delete(ctx context.Context, name string) OperationResult {
	target := resourceURL(t.cfg, t.appDir, name)
	resp, err := t.do(ctx, http.MethodDelete, target, "", nil)
	if err != nil {
		return classifyTransportError("Delete", err)
	}
	defer resp.Body.Close()

	if !isSuccessStatus(resp.StatusCode) {
		return statusFailure("Delete", resp.StatusCode, resp.Status)
	}

	return OperationResult{
		Success: true,
		Message: fmt.Sprintf("Deleted %s", sanitizeName(name)),
	}
}

// TestConnection probes with OPTIONS first, falling back to a zero-depth
// PROPFIND when OPTIONS is inconclusive.
func (t *directTransport) TestConnection(ctx context.Context) OperationResult {
	base := normalizeServerURL(t.cfg.ServerURL)

	resp, err := t.do(ctx, http.MethodOptions, base, "", nil)
	if err == nil {
		allow := resp.Header.Get("Allow")
		dav := resp.Header.Get("DAV")
		resp.Body.Close()

		if isSuccessStatus(resp.StatusCode) && (strings.Contains(strings.ToUpper(allow), "PROPFIND") || dav != "") {
			return OperationResult{
				Success: true,
				Message: "Connection successful",
				Details: "Server advertises WebDAV support.",
			}
		}
	}

	pfResp, pfErr := t.do(ctx, "PROPFIND", base, "", map[string]string{"Depth": "0"})
	if pfErr != nil {
		return classifyTransportError("Connection test", pfErr)
	}
	defer pfResp.Body.Close()

	if isSuccessStatus(pfResp.StatusCode) {
		return OperationResult{
			Success: true,
			Message: "Connection successful",
			Details: "Server responded to a WebDAV probe.",
		}
	}

	return statusFailure("Connection test", pfResp.StatusCode, pfResp.Status)
}
