package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/papersync/papersync/internal/analyze"
	"github.com/papersync/papersync/internal/arxiv"
	"github.com/papersync/papersync/internal/config"
	"github.com/papersync/papersync/internal/gate"
	"github.com/papersync/papersync/internal/httpclient"
	"github.com/papersync/papersync/internal/identity"
	"github.com/papersync/papersync/internal/logutil"
	"github.com/papersync/papersync/internal/relay"
	"github.com/papersync/papersync/internal/store"
	_ "github.com/papersync/papersync/internal/store/json"
	"github.com/papersync/papersync/internal/syncpack"
	"github.com/papersync/papersync/internal/webdav"
)

type stubSearcher struct {
	papers []arxiv.PaperSummary
	err    error
	gotQ   string
}

func (s *stubSearcher) Search(_ context.Context, params arxiv.SearchParams) ([]arxiv.PaperSummary, error) {
	s.gotQ = params.Query
	return s.papers, s.err
}

type stubAnalyzer struct {
	result *analyze.AnalysisResult
	err    error
}

func (a *stubAnalyzer) Analyze(context.Context, arxiv.PaperSummary, store.Preferences) (*analyze.AnalysisResult, error) {
	return a.result, a.err
}

type stubSyncClient struct{}

func (stubSyncClient) Upload(_ context.Context, name, _ string) webdav.OperationResult {
	return webdav.OperationResult{Success: true, Message: "Uploaded " + name}
}

func (stubSyncClient) Download(context.Context, string) webdav.OperationResult {
	return webdav.OperationResult{Success: false, Message: "File not found"}
}

func (stubSyncClient) List(context.Context) webdav.OperationResult {
	return webdav.OperationResult{Success: true, Files: []webdav.FileEntry{}}
}

type serverFixture struct {
	srv      *Server
	store    *store.Store
	searcher *stubSearcher
	analyzer *stubAnalyzer
	fetches  *int
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Store.Driver = "json"
	cfg.Admin.Username = "admin"
	cfg.Admin.Password = "sesame"

	driver, err := store.New(&store.DriverConfig{Driver: "json", DataDir: cfg.DataDir})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := driver.Init(context.Background()); err != nil {
		t.Fatalf("driver.Init: %v", err)
	}
	t.Cleanup(func() { driver.Close() })
	st := store.NewStore(driver)

	httpc := httpclient.New(&cfg.OutboundHTTP)

	relayHandler, err := relay.NewHandler(&cfg.Relay, httpc, logutil.Noop())
	if err != nil {
		t.Fatalf("relay.NewHandler: %v", err)
	}

	fetches := 0
	g, err := gate.New(func(context.Context) (gate.Status, error) {
		fetches++
		return gate.Status{LLMEnabled: true, WebDAVEnabled: true}, nil
	}, gate.Options{})
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	manager, err := syncpack.NewManager(st, func(*webdav.ConnectivityConfig) (syncpack.Client, error) {
		return stubSyncClient{}, nil
	}, syncpack.Options{BackupPrefix: cfg.Sync.BackupPrefix})
	if err != nil {
		t.Fatalf("syncpack.NewManager: %v", err)
	}

	searcher := &stubSearcher{}
	analyzer := &stubAnalyzer{result: &analyze.AnalysisResult{IsRelevant: true, Score: 80}}

	srv, err := New(cfg, Deps{
		Store:       st,
		HTTPClient:  httpc,
		Relay:       relayHandler,
		Gate:        g,
		Searcher:    searcher,
		Analyzer:    analyzer,
		SyncManager: manager,
		AdminAuth:   identity.NewAdminAuth(cfg.Admin.Username, cfg.Admin.Password),
	}, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	return &serverFixture{srv: srv, store: st, searcher: searcher, analyzer: analyzer, fetches: &fetches}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), target); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestNewRejectsMissingDeps(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := New(cfg, Deps{}, nil); !errors.Is(err, ErrMissingDep) {
		t.Fatalf("expected ErrMissingDep, got %v", err)
	}
	if _, err := New(nil, Deps{}, nil); !errors.Is(err, ErrNilConfig) {
		t.Fatalf("expected ErrNilConfig, got %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newTestServer(t)
	rec := f.do(t, http.MethodGet, "/api/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestProxyStatusEndpoint(t *testing.T) {
	f := newTestServer(t)
	rec := f.do(t, http.MethodGet, "/api/proxy-status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var status relay.StatusResponse
	decodeJSON(t, rec, &status)
	if !status.WebDAV.Enabled || !status.LLM.Enabled {
		t.Fatalf("expected both relays enabled by default, got %+v", status)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/settings/preferences", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("initial GET status = %d, want 200", rec.Code)
	}

	prefs := store.Preferences{Interests: []string{"category theory"}, Language: "en", MaxPapers: 25}
	rec = f.do(t, http.MethodPut, "/api/settings/preferences", prefs)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/settings/preferences", nil)
	var got store.Preferences
	decodeJSON(t, rec, &got)
	if !reflect.DeepEqual(got.Interests, prefs.Interests) || got.MaxPapers != prefs.MaxPapers {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestConnectivitySecretRedactedAndPreserved(t *testing.T) {
	f := newTestServer(t)

	settings := store.ConnectivitySettings{
		ServerURL: "https://dav.example.org/remote.php/webdav",
		Username:  "alice",
		Secret:    "app-password",
	}
	rec := f.do(t, http.MethodPut, "/api/settings/connectivity", settings)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "app-password") {
		t.Fatal("PUT response leaked the secret")
	}

	rec = f.do(t, http.MethodGet, "/api/settings/connectivity", nil)
	if strings.Contains(rec.Body.String(), "app-password") {
		t.Fatal("GET response leaked the secret")
	}

	// Updating with a blank secret keeps the stored one.
	settings.Secret = ""
	settings.Username = "alice2"
	rec = f.do(t, http.MethodPut, "/api/settings/connectivity", settings)
	if rec.Code != http.StatusOK {
		t.Fatalf("second PUT status = %d", rec.Code)
	}

	stored, err := f.store.GetConnectivity(context.Background())
	if err != nil {
		t.Fatalf("GetConnectivity: %v", err)
	}
	if stored.Secret != "app-password" {
		t.Fatalf("secret not preserved, got %q", stored.Secret)
	}
	if stored.Username != "alice2" {
		t.Fatalf("username not updated, got %q", stored.Username)
	}
}

func TestConnectivityRejectsBadURL(t *testing.T) {
	f := newTestServer(t)
	rec := f.do(t, http.MethodPut, "/api/settings/connectivity", store.ConnectivitySettings{
		ServerURL: "ftp://example.org/",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestFavoritesRoundTrip(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodGet, "/api/favorites/categories", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("empty GET = %d %q, want 200 []", rec.Code, rec.Body.String())
	}

	cats := []store.FavoriteCategory{{ID: "c1", Name: "Algebra", Color: "#ff0000"}}
	rec = f.do(t, http.MethodPut, "/api/favorites/categories", cats)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT categories status = %d", rec.Code)
	}

	papers := []store.FavoritePaper{{ID: "2401.00001", Title: "A Result", CategoryIDs: []string{"c1"}}}
	rec = f.do(t, http.MethodPut, "/api/favorites/papers", papers)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT papers status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/favorites/papers", nil)
	var got []store.FavoritePaper
	decodeJSON(t, rec, &got)
	if len(got) != 1 || got[0].Title != "A Result" {
		t.Fatalf("papers round trip mismatch: %+v", got)
	}
}

func TestPaperSearch(t *testing.T) {
	f := newTestServer(t)
	f.searcher.papers = []arxiv.PaperSummary{{ID: "2401.00001", Title: "Sheaves"}}

	rec := f.do(t, http.MethodGet, "/api/papers/search?query=sheaves&categories=math.CT,math.AG", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got []arxiv.PaperSummary
	decodeJSON(t, rec, &got)
	if len(got) != 1 || got[0].ID != "2401.00001" {
		t.Fatalf("unexpected results: %+v", got)
	}
	if f.searcher.gotQ != "sheaves" {
		t.Fatalf("query not forwarded, got %q", f.searcher.gotQ)
	}
}

func TestPaperSearchRequiresQuery(t *testing.T) {
	f := newTestServer(t)
	rec := f.do(t, http.MethodGet, "/api/papers/search", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPaperSearchUpstreamFailure(t *testing.T) {
	f := newTestServer(t)
	f.searcher.err = errors.New("arxiv is down")
	rec := f.do(t, http.MethodGet, "/api/papers/search?query=x", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestPaperAnalyze(t *testing.T) {
	f := newTestServer(t)
	rec := f.do(t, http.MethodPost, "/api/papers/analyze", arxiv.PaperSummary{
		ID:    "2401.00001",
		Title: "Sheaves on Sites",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got analyze.AnalysisResult
	decodeJSON(t, rec, &got)
	if !got.IsRelevant || got.Score != 80 {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestPaperAnalyzeRelayDisabled(t *testing.T) {
	f := newTestServer(t)
	f.analyzer.result = nil
	f.analyzer.err = analyze.ErrRelayDisabled

	rec := f.do(t, http.MethodPost, "/api/papers/analyze", arxiv.PaperSummary{Title: "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "relay_disabled") {
		t.Fatalf("expected relay_disabled reason, got %s", rec.Body.String())
	}
}

func TestSyncRequiresConfiguration(t *testing.T) {
	f := newTestServer(t)
	rec := f.do(t, http.MethodPost, "/api/sync/backup", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result webdav.OperationResult
	decodeJSON(t, rec, &result)
	if result.Success {
		t.Fatal("expected failure result without connectivity settings")
	}
	if !strings.Contains(result.Message, "not configured") {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestSyncBackupWithStubClient(t *testing.T) {
	f := newTestServer(t)
	if err := f.store.SetConnectivity(context.Background(), &store.ConnectivitySettings{
		ServerURL: "https://dav.example.org/",
		Username:  "alice",
		Secret:    "pw",
	}); err != nil {
		t.Fatalf("SetConnectivity: %v", err)
	}

	rec := f.do(t, http.MethodPost, "/api/sync/backup", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var result webdav.OperationResult
	decodeJSON(t, rec, &result)
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
}

func TestSyncImportExportReset(t *testing.T) {
	f := newTestServer(t)

	prefs := store.Preferences{Interests: []string{"topology"}}
	if rec := f.do(t, http.MethodPut, "/api/settings/preferences", prefs); rec.Code != http.StatusOK {
		t.Fatalf("seed preferences: %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/sync/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "paper-config-") {
		t.Fatalf("unexpected Content-Disposition %q", cd)
	}
	exported := rec.Body.Bytes()

	if rec := f.do(t, http.MethodPost, "/api/sync/reset", nil); rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}
	if _, err := f.store.GetPreferences(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected preferences cleared, got %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sync/import", bytes.NewReader(exported))
	importRec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(importRec, req)
	if importRec.Code != http.StatusOK {
		t.Fatalf("import status = %d: %s", importRec.Code, importRec.Body.String())
	}

	got, err := f.store.GetPreferences(context.Background())
	if err != nil {
		t.Fatalf("GetPreferences after import: %v", err)
	}
	if len(got.Interests) != 1 || got.Interests[0] != "topology" {
		t.Fatalf("import did not restore preferences: %+v", got)
	}
}

func TestSyncImportRejectsGarbage(t *testing.T) {
	f := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sync/import", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "format_error") {
		t.Fatalf("expected format_error reason, got %s", rec.Body.String())
	}
}

func TestSyncImportRejectsEmptyDocument(t *testing.T) {
	f := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sync/import", strings.NewReader(`{"unrelated":true}`))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "empty_document") {
		t.Fatalf("expected empty_document reason, got %s", rec.Body.String())
	}
}

func TestPaperSearchRateLimited(t *testing.T) {
	f := newTestServer(t)
	f.searcher.papers = []arxiv.PaperSummary{}

	limited := false
	for i := 0; i < 100; i++ {
		rec := f.do(t, http.MethodGet, "/api/papers/search?query=x", nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			if rec.Header().Get("Retry-After") == "" {
				t.Fatal("429 response missing Retry-After")
			}
			break
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	if !limited {
		t.Fatal("expected rate limiting to kick in within 100 requests")
	}
}

func TestAdminProxyRefreshRequiresAuth(t *testing.T) {
	f := newTestServer(t)

	rec := f.do(t, http.MethodPost, "/api/admin/proxy-refresh", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/proxy-refresh", nil)
	req.SetBasicAuth("admin", "wrong")
	bad := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(bad, req)
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("bad credentials status = %d, want 401", bad.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/admin/proxy-refresh", nil)
	req.SetBasicAuth("admin", "sesame")
	good := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(good, req)
	if good.Code != http.StatusOK {
		t.Fatalf("admin status = %d: %s", good.Code, good.Body.String())
	}
}

func TestAdminProxyRefreshInvalidatesGate(t *testing.T) {
	f := newTestServer(t)

	// Warm the gate so the next check would normally hit the cache.
	f.srv.deps.Gate.Current(context.Background())
	before := *f.fetches

	req := httptest.NewRequest(http.MethodPost, "/api/admin/proxy-refresh", nil)
	req.SetBasicAuth("admin", "sesame")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if *f.fetches <= before {
		t.Fatalf("expected a fresh fetch after refresh, fetches %d -> %d", before, *f.fetches)
	}
}
