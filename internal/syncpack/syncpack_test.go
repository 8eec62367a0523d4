package syncpack_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/papersync/papersync/internal/store"
	_ "github.com/papersync/papersync/internal/store/json"
	"github.com/papersync/papersync/internal/syncpack"
	"github.com/papersync/papersync/internal/webdav"
)

// stubClient records uploads and serves canned listings and downloads.
type stubClient struct {
	uploads   map[string]string
	files     []webdav.FileEntry
	downloads map[string]string
	listFail  *webdav.OperationResult
}

func newStubClient() *stubClient {
	return &stubClient{
		uploads:   make(map[string]string),
		downloads: make(map[string]string),
	}
}

func (s *stubClient) Upload(ctx context.Context, name, content string) webdav.OperationResult {
	s.uploads[name] = content
	return webdav.OperationResult{Success: true, Message: "Uploaded " + name}
}

func (s *stubClient) Download(ctx context.Context, name string) webdav.OperationResult {
	content, ok := s.downloads[name]
	if !ok {
		return webdav.OperationResult{Success: false, Message: "Not found"}
	}
	return webdav.OperationResult{Success: true, Message: "Downloaded " + name, Content: content}
}

func (s *stubClient) List(ctx context.Context) webdav.OperationResult {
	if s.listFail != nil {
		return *s.listFail
	}
	return webdav.OperationResult{Success: true, Message: "ok", Files: s.files}
}

func newTestManager(t *testing.T, client *stubClient) (*syncpack.Manager, *store.Store) {
	t.Helper()
	ctx := context.Background()

	driver, err := store.New(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := driver.Init(ctx); err != nil {
		t.Fatalf("driver.Init: %v", err)
	}
	st := store.NewStore(driver)
	t.Cleanup(func() { st.Close() })

	mgr, err := syncpack.NewManager(st, func(cfg *webdav.ConnectivityConfig) (syncpack.Client, error) {
		return client, nil
	}, syncpack.Options{
		BackupPrefix: "paper-config",
		Now:          func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr, st
}

func validConnectivity() *webdav.ConnectivityConfig {
	return &webdav.ConnectivityConfig{
		ServerURL: "https://dav.example.com/webdav",
		Username:  "alice",
		Secret:    "pw",
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, st := newTestManager(t, newStubClient())

	if err := st.SetPreferences(ctx, &store.Preferences{
		Interests:  []string{"spectral graph theory"},
		Categories: []string{"math.CO"},
		Language:   "en",
		MaxPapers:  10,
	}); err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}
	if err := st.SetFavoriteCategories(ctx, []store.FavoriteCategory{
		{ID: "c1", Name: "To read", CreatedAt: 1700000000},
	}); err != nil {
		t.Fatalf("SetFavoriteCategories: %v", err)
	}

	doc, err := mgr.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if doc.SchemaVersion != syncpack.SchemaVersion {
		t.Errorf("SchemaVersion = %q", doc.SchemaVersion)
	}
	if doc.UserID == "" {
		t.Error("Export must generate a user id")
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// Wipe and re-import
	if err := st.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	res := mgr.Import(ctx, raw)
	if !res.Success {
		t.Fatalf("Import failed: %+v", res)
	}

	doc2, err := mgr.Export(ctx)
	if err != nil {
		t.Fatalf("re-Export: %v", err)
	}
	if doc2.Preferences == nil || doc2.Preferences.MaxPapers != 10 {
		t.Errorf("Preferences did not round-trip: %+v", doc2.Preferences)
	}
	if doc2.FavoriteCategories == nil || len(*doc2.FavoriteCategories) != 1 {
		t.Errorf("FavoriteCategories did not round-trip: %+v", doc2.FavoriteCategories)
	}
}

func TestImportAdoptsDocumentUserID(t *testing.T) {
	ctx := context.Background()
	mgr, st := newTestManager(t, newStubClient())

	res := mgr.Import(ctx, []byte(`{"userId":"device-a-uuid","preferences":{"interests":["topology"]}}`))
	if !res.Success {
		t.Fatalf("Import failed: %+v", res)
	}
	if len(res.Applied) != 1 || res.Applied[0] != "preferences" {
		t.Errorf("Applied = %v, want [preferences]", res.Applied)
	}

	userID, err := st.GetUserID(ctx)
	if err != nil {
		t.Fatalf("GetUserID: %v", err)
	}
	if userID != "device-a-uuid" {
		t.Errorf("userID = %q, want device-a-uuid", userID)
	}

	// A later export carries the imported identity, not a fresh one.
	doc, err := mgr.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if doc.UserID != "device-a-uuid" {
		t.Errorf("export after import has userId %q, want device-a-uuid", doc.UserID)
	}
}

func TestImportWithoutUserIDKeepsLocalIdentity(t *testing.T) {
	ctx := context.Background()
	mgr, st := newTestManager(t, newStubClient())

	doc, err := mgr.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	localID := doc.UserID

	res := mgr.Import(ctx, []byte(`{"preferences":{"maxPapers":5}}`))
	if !res.Success {
		t.Fatalf("Import failed: %+v", res)
	}

	userID, err := st.GetUserID(ctx)
	if err != nil {
		t.Fatalf("GetUserID: %v", err)
	}
	if userID != localID {
		t.Errorf("userID = %q, want unchanged %q", userID, localID)
	}
}

func TestImportPartialDocument(t *testing.T) {
	ctx := context.Background()
	mgr, st := newTestManager(t, newStubClient())

	if err := st.SetFavoriteCategories(ctx, []store.FavoriteCategory{{ID: "keep", Name: "Keep"}}); err != nil {
		t.Fatalf("SetFavoriteCategories: %v", err)
	}
	if err := st.SetConnectivity(ctx, &store.ConnectivitySettings{
		ServerURL: "https://dav.example.com/webdav",
		Username:  "alice",
		Secret:    "pw",
	}); err != nil {
		t.Fatalf("SetConnectivity: %v", err)
	}

	res := mgr.Import(ctx, []byte(`{"preferences":{"interests":["topology"],"maxPapers":5}}`))
	if !res.Success {
		t.Fatalf("Import failed: %+v", res)
	}
	if len(res.Applied) != 1 || res.Applied[0] != "preferences" {
		t.Errorf("Applied = %v, want [preferences]", res.Applied)
	}

	// Untouched slots survive
	cats, err := st.GetFavoriteCategories(ctx)
	if err != nil || len(cats) != 1 || cats[0].ID != "keep" {
		t.Errorf("categories were disturbed: %v, %v", cats, err)
	}
	if _, err := st.GetConnectivity(ctx); err != nil {
		t.Errorf("connectivity was disturbed: %v", err)
	}
}

func TestImportRejectsMalformedAndEmpty(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, newStubClient())

	res := mgr.Import(ctx, []byte(`{not json`))
	if res.Success {
		t.Error("malformed JSON must fail")
	}
	if res.Empty {
		t.Error("malformed JSON is a parse failure, not an empty document")
	}

	res = mgr.Import(ctx, []byte(`{"unrelated":true}`))
	if res.Success {
		t.Error("document with no recognized section must fail")
	}
	if !res.Empty {
		t.Error("document with no recognized section must be marked empty")
	}
	if len(res.Applied) != 0 {
		t.Errorf("Applied = %v, want empty", res.Applied)
	}
}

func TestSyncToRemoteFilenameAndValidation(t *testing.T) {
	ctx := context.Background()
	client := newStubClient()
	mgr, _ := newTestManager(t, client)

	// Missing credentials: immediate failure, no upload
	res := mgr.SyncToRemote(ctx, &webdav.ConnectivityConfig{ServerURL: "https://dav.example.com"})
	if res.Success {
		t.Error("expected failure for incomplete connectivity config")
	}
	if len(client.uploads) != 0 {
		t.Error("no upload must happen before validation passes")
	}

	res = mgr.SyncToRemote(ctx, validConnectivity())
	if !res.Success {
		t.Fatalf("SyncToRemote failed: %+v", res)
	}

	content, ok := client.uploads["paper-config-2024-03-15.json"]
	if !ok {
		t.Fatalf("expected date-stamped upload, got %v", keys(client.uploads))
	}

	var doc syncpack.Document
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		t.Fatalf("uploaded content is not valid JSON: %v", err)
	}
	if doc.SchemaVersion != syncpack.SchemaVersion {
		t.Errorf("uploaded SchemaVersion = %q", doc.SchemaVersion)
	}
}

func TestRestoreSelectsMostRecentBackup(t *testing.T) {
	ctx := context.Background()
	client := newStubClient()
	client.files = []webdav.FileEntry{
		{Name: "paper-config-2024-01-01.json", LastModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Name: "unrelated.json", LastModified: time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)},
		{Name: "paper-config-2024-03-15.json", LastModified: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	client.downloads["paper-config-2024-03-15.json"] = `{"preferences":{"interests":["restored"]}}`
	client.downloads["paper-config-2024-01-01.json"] = `{"preferences":{"interests":["stale"]}}`

	mgr, st := newTestManager(t, client)

	res := mgr.RestoreFromRemote(ctx, validConnectivity())
	if !res.Success {
		t.Fatalf("RestoreFromRemote failed: %+v", res)
	}

	prefs, err := st.GetPreferences(ctx)
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if len(prefs.Interests) != 1 || prefs.Interests[0] != "restored" {
		t.Errorf("restored preferences = %+v, want the 2024-03-15 backup", prefs)
	}
}

func TestRestoreNoBackupFound(t *testing.T) {
	ctx := context.Background()
	client := newStubClient()
	client.files = []webdav.FileEntry{{Name: "unrelated.json"}}

	mgr, _ := newTestManager(t, client)
	res := mgr.RestoreFromRemote(ctx, validConnectivity())
	if res.Success {
		t.Fatal("expected failure when no backup matches")
	}
	if res.Message != "No backup found" {
		t.Errorf("Message = %q, want No backup found", res.Message)
	}
}

func TestRestoreDownloadedButNotImportable(t *testing.T) {
	ctx := context.Background()
	client := newStubClient()
	client.files = []webdav.FileEntry{
		{Name: "paper-config-2024-03-15.json", LastModified: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
	}
	client.downloads["paper-config-2024-03-15.json"] = `{"unrelated":true}`

	mgr, _ := newTestManager(t, client)
	res := mgr.RestoreFromRemote(ctx, validConnectivity())
	if res.Success {
		t.Fatal("expected failure for unimportable backup")
	}
	if res.Message != "Backup downloaded but not importable" {
		t.Errorf("Message = %q", res.Message)
	}
	if res.Details == "" {
		t.Error("the import failure message must be surfaced in Details")
	}
}

func TestListRemoteBackupsSorted(t *testing.T) {
	ctx := context.Background()
	client := newStubClient()
	client.files = []webdav.FileEntry{
		{Name: "paper-config-2024-01-01.json", LastModified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{Name: "paper-config-2024-03-15.json", LastModified: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{Name: "notes.txt"},
	}

	mgr, _ := newTestManager(t, client)
	res := mgr.ListRemoteBackups(ctx, validConnectivity())
	if !res.Success {
		t.Fatalf("ListRemoteBackups failed: %+v", res)
	}
	if len(res.Files) != 2 {
		t.Fatalf("got %d backups, want 2: %+v", len(res.Files), res.Files)
	}
	if res.Files[0].Name != "paper-config-2024-03-15.json" {
		t.Errorf("Files[0] = %q, want most recent first", res.Files[0].Name)
	}
}

func TestResetAllRegeneratesUserID(t *testing.T) {
	ctx := context.Background()
	mgr, st := newTestManager(t, newStubClient())

	doc, err := mgr.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	oldID := doc.UserID

	if err := mgr.ResetAll(ctx); err != nil {
		t.Fatalf("ResetAll: %v", err)
	}

	newID, err := st.GetUserID(ctx)
	if err != nil {
		t.Fatalf("GetUserID: %v", err)
	}
	if newID == oldID {
		t.Error("ResetAll must regenerate the user id")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	mgr, st := newTestManager(t, newStubClient())

	stats, err := mgr.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.HasPreferences || stats.HasConnectivity || stats.CategoryCount != 0 {
		t.Errorf("empty stats = %+v", stats)
	}

	if err := st.SetPreferences(ctx, &store.Preferences{MaxPapers: 3}); err != nil {
		t.Fatalf("SetPreferences: %v", err)
	}
	if err := st.SetFavoritePapers(ctx, []store.FavoritePaper{{ID: "p1"}, {ID: "p2"}}); err != nil {
		t.Fatalf("SetFavoritePapers: %v", err)
	}

	stats, err = mgr.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !stats.HasPreferences {
		t.Error("HasPreferences = false")
	}
	if stats.PaperCount != 2 {
		t.Errorf("PaperCount = %d, want 2", stats.PaperCount)
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
