package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/net/webdav"

	"github.com/papersync/papersync/internal/config"
	"github.com/papersync/papersync/internal/store"
	davclient "github.com/papersync/papersync/internal/webdav"
	"github.com/papersync/papersync/tests/integration/harness"
)

// newDavOrigin starts an in-memory WebDAV server to act as the remote
// storage provider.
func newDavOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	handler := &webdav.Handler{
		FileSystem: webdav.NewMemFS(),
		LockSystem: webdav.NewMemLS(),
	}
	origin := httptest.NewServer(handler)
	t.Cleanup(origin.Close)
	return origin
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func putJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build PUT %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", url, err)
	}
	return resp
}

func getResp(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

func decodeResult(t *testing.T, resp *http.Response) davclient.OperationResult {
	t.Helper()
	defer resp.Body.Close()
	var result davclient.OperationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode operation result: %v", err)
	}
	return result
}

func configureConnectivity(t *testing.T, ts *harness.TestServer, originURL string, useRelay bool) {
	t.Helper()
	resp := putJSON(t, ts.BaseURL+"/api/settings/connectivity", store.ConnectivitySettings{
		ServerURL: originURL,
		Username:  "alice",
		Secret:    "app-password",
		UseRelay:  &useRelay,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("configure connectivity: status %d", resp.StatusCode)
	}
}

// TestBackupRestoreThroughOwnRelay drives the full loop: the proxied
// transport posts operation descriptors to this instance's own relay
// endpoint, which forwards them to the WebDAV origin.
func TestBackupRestoreThroughOwnRelay(t *testing.T) {
	ts := harness.StartTestServer(t)
	defer ts.Stop(t)
	origin := newDavOrigin(t)

	configureConnectivity(t, ts, origin.URL, true)

	prefs := store.Preferences{Interests: []string{"operator algebras"}, Language: "en", MaxPapers: 10}
	resp := putJSON(t, ts.BaseURL+"/api/settings/preferences", prefs)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seed preferences: status %d", resp.StatusCode)
	}

	result := decodeResult(t, postJSON(t, ts.BaseURL+"/api/sync/backup", nil))
	if !result.Success {
		t.Fatalf("backup failed: %+v", result)
	}

	result = decodeResult(t, getResp(t, ts.BaseURL+"/api/sync/backups"))
	if !result.Success || len(result.Files) != 1 {
		t.Fatalf("expected one backup, got %+v", result)
	}
	if !strings.HasPrefix(result.Files[0].Name, "paper-config-") {
		t.Fatalf("unexpected backup name %q", result.Files[0].Name)
	}

	// Wipe local state, reconfigure connectivity, restore from remote.
	resp = postJSON(t, ts.BaseURL+"/api/sync/reset", nil)
	resp.Body.Close()
	configureConnectivity(t, ts, origin.URL, true)

	result = decodeResult(t, postJSON(t, ts.BaseURL+"/api/sync/restore", nil))
	if !result.Success {
		t.Fatalf("restore failed: %+v", result)
	}

	var got store.Preferences
	prefResp := getResp(t, ts.BaseURL+"/api/settings/preferences")
	defer prefResp.Body.Close()
	if err := json.NewDecoder(prefResp.Body).Decode(&got); err != nil {
		t.Fatalf("decode preferences: %v", err)
	}
	if !reflect.DeepEqual(got.Interests, prefs.Interests) {
		t.Fatalf("restored preferences mismatch: %+v", got)
	}
}

// TestBackupDirectMode exercises the direct transport against the
// origin without going through the relay.
func TestBackupDirectMode(t *testing.T) {
	ts := harness.StartTestServer(t)
	defer ts.Stop(t)
	origin := newDavOrigin(t)

	configureConnectivity(t, ts, origin.URL, false)

	result := decodeResult(t, postJSON(t, ts.BaseURL+"/api/sync/backup", nil))
	if !result.Success {
		t.Fatalf("direct backup failed: %+v", result)
	}
}

func TestDetectRecommendsDirectWhenBothWork(t *testing.T) {
	ts := harness.StartTestServer(t)
	defer ts.Stop(t)
	origin := newDavOrigin(t)

	configureConnectivity(t, ts, origin.URL, true)

	resp := postJSON(t, ts.BaseURL+"/api/sync/detect", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("detect status = %d", resp.StatusCode)
	}
	var detection davclient.DetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&detection); err != nil {
		t.Fatalf("decode detection: %v", err)
	}
	if !detection.Success {
		t.Fatalf("expected detection success, got %+v", detection)
	}
	if detection.RecommendedMode != davclient.ModeDirect {
		t.Fatalf("recommended mode = %q, want direct", detection.RecommendedMode)
	}
}

// TestSyncRefusedWhenRelayDisabled starts an instance with the WebDAV
// relay administratively disabled; proxied sync operations are refused
// before any traffic reaches the origin.
func TestSyncRefusedWhenRelayDisabled(t *testing.T) {
	disabled := false
	ts := harness.StartTestServer(t, func(cfg *config.Config) {
		cfg.Relay.WebDAVEnabled = &disabled
	})
	defer ts.Stop(t)
	origin := newDavOrigin(t)

	configureConnectivity(t, ts, origin.URL, true)

	result := decodeResult(t, postJSON(t, ts.BaseURL+"/api/sync/backup", nil))
	if result.Success {
		t.Fatal("expected proxied backup to be refused")
	}
	if !strings.Contains(strings.ToLower(result.Message), "disabled") {
		t.Fatalf("unexpected refusal message %q", result.Message)
	}
}
