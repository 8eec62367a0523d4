// Package syncpack composes the full application configuration into one
// portable document and drives its backup lifecycle against a remote
// WebDAV store.
package syncpack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papersync/papersync/internal/logutil"
	"github.com/papersync/papersync/internal/store"
	"github.com/papersync/papersync/internal/webdav"
)

// SchemaVersion is stamped into every exported document.
const SchemaVersion = "1.0"

// Document is the portable unit for backup and restore. Every section is
// optional on import: a nil field leaves the corresponding local state
// untouched.
type Document struct {
	Preferences        *store.Preferences          `json:"preferences,omitempty"`
	Connectivity       *store.ConnectivitySettings `json:"connectivity,omitempty"`
	FavoriteCategories *[]store.FavoriteCategory   `json:"favoriteCategories,omitempty"`
	FavoritePapers     *[]store.FavoritePaper      `json:"favoritePapers,omitempty"`
	UserID             string                      `json:"userId,omitempty"`
	ExportedAt         time.Time                   `json:"exportedAt"`
	SchemaVersion      string                      `json:"schemaVersion"`
}

// ImportResult reports which sections of a document were applied.
type ImportResult struct {
	Success bool     `json:"success"`
	Message string   `json:"message"`
	Applied []string `json:"applied,omitempty"`

	// Empty marks a well-formed document with no recognized section,
	// as opposed to one that failed to parse.
	Empty bool `json:"-"`
}

// Stats answers "is X configured" without exposing secrets.
type Stats struct {
	HasPreferences  bool `json:"has_preferences"`
	HasConnectivity bool `json:"has_connectivity"`
	HasUserID       bool `json:"has_user_id"`
	CategoryCount   int  `json:"category_count"`
	PaperCount      int  `json:"paper_count"`
}

// Client is the subset of the WebDAV smart client the aggregator drives.
type Client interface {
	Upload(ctx context.Context, name, content string) webdav.OperationResult
	Download(ctx context.Context, name string) webdav.OperationResult
	List(ctx context.Context) webdav.OperationResult
}

// ClientFactory builds a WebDAV client for the given connectivity config.
// Injected so tests can substitute stub clients.
type ClientFactory func(cfg *webdav.ConnectivityConfig) (Client, error)

// Manager is the config aggregator.
type Manager struct {
	store   *store.Store
	clients ClientFactory
	prefix  string
	now     func() time.Time
	logger  *slog.Logger
}

// Options configures a Manager.
type Options struct {
	// BackupPrefix names the remote backup files: <prefix>-YYYY-MM-DD.json.
	BackupPrefix string

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// NewManager builds a config aggregator over the local store.
func NewManager(st *store.Store, clients ClientFactory, opts Options) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if clients == nil {
		return nil, fmt.Errorf("client factory is required")
	}
	if opts.BackupPrefix == "" {
		return nil, fmt.Errorf("backup prefix is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:   st,
		clients: clients,
		prefix:  opts.BackupPrefix,
		now:     now,
		logger:  logutil.NoopIfNil(opts.Logger),
	}, nil
}

// Export composes the current local state into a portable document.
// Missing slots are simply absent from the document. The user identifier
// is generated and persisted on first export.
func (m *Manager) Export(ctx context.Context) (*Document, error) {
	doc := &Document{
		ExportedAt:    m.now().UTC(),
		SchemaVersion: SchemaVersion,
	}

	prefs, err := m.store.GetPreferences(ctx)
	if err == nil {
		doc.Preferences = prefs
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	conn, err := m.store.GetConnectivity(ctx)
	if err == nil {
		doc.Connectivity = conn
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	cats, err := m.store.GetFavoriteCategories(ctx)
	if err == nil {
		doc.FavoriteCategories = &cats
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	papers, err := m.store.GetFavoritePapers(ctx)
	if err == nil {
		doc.FavoritePapers = &papers
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	userID, err := m.ensureUserID(ctx)
	if err != nil {
		return nil, err
	}
	doc.UserID = userID

	return doc, nil
}

// ensureUserID returns the stable user identifier, creating one if absent.
func (m *Manager) ensureUserID(ctx context.Context) (string, error) {
	userID, err := m.store.GetUserID(ctx)
	if err == nil {
		return userID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	userID = uuid.NewString()
	if err := m.store.SetUserID(ctx, userID); err != nil {
		return "", err
	}
	return userID, nil
}

// Import applies each recognized section of a document, replacing the
// corresponding local slot entirely. Malformed input is a format error;
// a document with no usable section is an empty-document failure. Both
// are reported, never returned as errors.
func (m *Manager) Import(ctx context.Context, raw []byte) ImportResult {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ImportResult{
			Success: false,
			Message: fmt.Sprintf("The document is not valid JSON: %v", err),
		}
	}
	return m.ImportDocument(ctx, &doc)
}

// ImportDocument applies an already-parsed document.
func (m *Manager) ImportDocument(ctx context.Context, doc *Document) ImportResult {
	var applied []string

	if doc.Preferences != nil {
		if err := m.store.SetPreferences(ctx, doc.Preferences); err != nil {
			return importWriteFailure("preferences", err, applied)
		}
		applied = append(applied, "preferences")
	}

	if doc.Connectivity != nil {
		if err := m.store.SetConnectivity(ctx, doc.Connectivity); err != nil {
			return importWriteFailure("connectivity", err, applied)
		}
		applied = append(applied, "connectivity")
	}

	if doc.FavoriteCategories != nil {
		if err := m.store.SetFavoriteCategories(ctx, *doc.FavoriteCategories); err != nil {
			return importWriteFailure("favoriteCategories", err, applied)
		}
		applied = append(applied, "favoriteCategories")
	}

	if doc.FavoritePapers != nil {
		if err := m.store.SetFavoritePapers(ctx, *doc.FavoritePapers); err != nil {
			return importWriteFailure("favoritePapers", err, applied)
		}
		applied = append(applied, "favoritePapers")
	}

	if len(applied) == 0 {
		return ImportResult{
			Success: false,
			Message: "The document contained no recognized configuration sections.",
			Empty:   true,
		}
	}

	// Adopt the document's identity so a later export round-trips to the
	// same userId. Does not count as an applied section on its own.
	if doc.UserID != "" {
		if err := m.store.SetUserID(ctx, doc.UserID); err != nil {
			return importWriteFailure("userId", err, applied)
		}
	}

	m.logger.Info("config import applied", "sections", applied)
	return ImportResult{
		Success: true,
		Message: fmt.Sprintf("Imported %s.", strings.Join(applied, ", ")),
		Applied: applied,
	}
}

// importWriteFailure reports a slot write error without hiding what was
// already applied before it.
func importWriteFailure(section string, err error, applied []string) ImportResult {
	msg := fmt.Sprintf("Failed to apply %s: %v.", section, err)
	if len(applied) > 0 {
		msg += fmt.Sprintf(" Already applied: %s.", strings.Join(applied, ", "))
	}
	return ImportResult{Success: false, Message: msg, Applied: applied}
}

// ResetAll clears every owned slot and regenerates the user identifier.
func (m *Manager) ResetAll(ctx context.Context) error {
	if err := m.store.Reset(ctx); err != nil {
		return err
	}
	return m.store.SetUserID(ctx, uuid.NewString())
}

// backupName derives the date-stamped remote filename. Repeated syncs on
// the same day overwrite the previous backup; last write wins.
func (m *Manager) backupName() string {
	return fmt.Sprintf("%s-%s.json", m.prefix, m.now().UTC().Format("2006-01-02"))
}

// backupPattern matches remote files produced by backupName.
func (m *Manager) backupPattern() *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(m.prefix) + `-\d{4}-\d{2}-\d{2}\.json$`)
}

// requireConnectivity rejects remote operations before any network call
// when the connectivity config is incomplete.
func requireConnectivity(cfg *webdav.ConnectivityConfig) *webdav.OperationResult {
	if cfg == nil || cfg.ServerURL == "" || cfg.Username == "" || cfg.Secret == "" {
		return &webdav.OperationResult{
			Success: false,
			Message: "Sync is not configured",
			Details: "Server URL, username, and app password are all required before syncing.",
		}
	}
	return nil
}

// SyncToRemote exports the current state and uploads it under the
// date-stamped backup name.
func (m *Manager) SyncToRemote(ctx context.Context, cfg *webdav.ConnectivityConfig) webdav.OperationResult {
	if failure := requireConnectivity(cfg); failure != nil {
		return *failure
	}

	doc, err := m.Export(ctx)
	if err != nil {
		return webdav.OperationResult{
			Success: false,
			Message: "Could not read local configuration",
			Details: err.Error(),
		}
	}

	// Pretty-printed so the remote file stays human-inspectable
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return webdav.OperationResult{
			Success: false,
			Message: "Could not serialize configuration",
			Details: err.Error(),
		}
	}

	client, err := m.clients(cfg)
	if err != nil {
		return webdav.OperationResult{
			Success: false,
			Message: "Could not prepare the sync client",
			Details: err.Error(),
		}
	}

	name := m.backupName()
	result := client.Upload(ctx, name, string(content))
	if result.Success {
		result.Message = "Backup uploaded"
		result.Details = fmt.Sprintf("Wrote %s (%d bytes) at %s.", name, len(content), m.now().UTC().Format(time.RFC3339))
	}
	return result
}

// ListRemoteBackups lists backup files, most recent first.
func (m *Manager) ListRemoteBackups(ctx context.Context, cfg *webdav.ConnectivityConfig) webdav.OperationResult {
	if failure := requireConnectivity(cfg); failure != nil {
		return *failure
	}

	client, err := m.clients(cfg)
	if err != nil {
		return webdav.OperationResult{
			Success: false,
			Message: "Could not prepare the sync client",
			Details: err.Error(),
		}
	}

	listing := client.List(ctx)
	if !listing.Success {
		return listing
	}

	backups := m.selectBackups(listing.Files)
	return webdav.OperationResult{
		Success: true,
		Message: fmt.Sprintf("Found %d backups", len(backups)),
		Files:   backups,
	}
}

// selectBackups filters to the backup naming convention and sorts
// descending by last-modified.
func (m *Manager) selectBackups(files []webdav.FileEntry) []webdav.FileEntry {
	pattern := m.backupPattern()
	backups := make([]webdav.FileEntry, 0, len(files))
	for _, f := range files {
		if pattern.MatchString(f.Name) {
			backups = append(backups, f)
		}
	}
	sort.SliceStable(backups, func(i, j int) bool {
		return backups[i].LastModified.After(backups[j].LastModified)
	})
	return backups
}

// RestoreFromRemote downloads the most recent backup and imports it.
// "No backup found" and "downloaded but not importable" are reported as
// distinct failures from connectivity problems.
func (m *Manager) RestoreFromRemote(ctx context.Context, cfg *webdav.ConnectivityConfig) webdav.OperationResult {
	if failure := requireConnectivity(cfg); failure != nil {
		return *failure
	}

	client, err := m.clients(cfg)
	if err != nil {
		return webdav.OperationResult{
			Success: false,
			Message: "Could not prepare the sync client",
			Details: err.Error(),
		}
	}

	listing := client.List(ctx)
	if !listing.Success {
		return listing
	}

	backups := m.selectBackups(listing.Files)
	if len(backups) == 0 {
		return webdav.OperationResult{
			Success: false,
			Message: "No backup found",
			Details: fmt.Sprintf("No remote file matches %s-YYYY-MM-DD.json.", m.prefix),
		}
	}

	latest := backups[0]
	download := client.Download(ctx, latest.Name)
	if !download.Success {
		return download
	}

	imported := m.Import(ctx, []byte(download.Content))
	if !imported.Success {
		return webdav.OperationResult{
			Success: false,
			Message: "Backup downloaded but not importable",
			Details: imported.Message,
		}
	}

	return webdav.OperationResult{
		Success: true,
		Message: fmt.Sprintf("Restored from %s", latest.Name),
		Details: imported.Message,
	}
}

// Stats reads local state for configuration-completeness display.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	if _, err := m.store.GetPreferences(ctx); err == nil {
		stats.HasPreferences = true
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if conn, err := m.store.GetConnectivity(ctx); err == nil {
		stats.HasConnectivity = conn.ServerURL != "" && conn.Username != "" && conn.Secret != ""
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if _, err := m.store.GetUserID(ctx); err == nil {
		stats.HasUserID = true
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if cats, err := m.store.GetFavoriteCategories(ctx); err == nil {
		stats.CategoryCount = len(cats)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if papers, err := m.store.GetFavoritePapers(ctx); err == nil {
		stats.PaperCount = len(papers)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	return stats, nil
}
