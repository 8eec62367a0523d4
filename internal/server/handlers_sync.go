package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/papersync/papersync/internal/api"
	"github.com/papersync/papersync/internal/store"
	"github.com/papersync/papersync/internal/webdav"
)

// connectivityConfig loads the stored connectivity settings and maps them
// to a WebDAV client config. Returns nil when nothing is configured yet.
func (s *Server) connectivityConfig(ctx context.Context) (*webdav.ConnectivityConfig, error) {
	settings, err := s.deps.Store.GetConnectivity(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &webdav.ConnectivityConfig{
		ServerURL: settings.ServerURL,
		Username:  settings.Username,
		Secret:    settings.Secret,
		UseRelay:  settings.UseRelay,
	}, nil
}

// requireSyncConfig resolves the WebDAV config for a sync operation and
// writes a failure result when it is absent or when the configured mode
// is proxied but the relay is administratively disabled. The gate check
// runs before any proxied traffic is attempted.
func (s *Server) requireSyncConfig(w http.ResponseWriter, r *http.Request) (*webdav.ConnectivityConfig, bool) {
	cfg, err := s.connectivityConfig(r.Context())
	if err != nil {
		s.logger.Error("failed to load connectivity settings", "error", err)
		api.WriteInternalError(w, "failed to load connectivity settings")
		return nil, false
	}
	if cfg == nil || cfg.ServerURL == "" {
		api.WriteJSON(w, http.StatusOK, webdav.OperationResult{
			Success: false,
			Message: "WebDAV sync is not configured",
		})
		return nil, false
	}

	if cfg.RelayEnabled() {
		status := s.deps.Gate.Current(r.Context())
		if !status.WebDAVEnabled {
			msg := status.Message
			if msg == "" {
				msg = "WebDAV relay is disabled by the administrator"
			}
			api.WriteJSON(w, http.StatusOK, webdav.OperationResult{
				Success: false,
				Message: msg,
				Details: "Switch to direct mode or contact your administrator.",
			})
			return nil, false
		}
	}

	return cfg, true
}

func (s *Server) webdavClient(cfg *webdav.ConnectivityConfig) (*webdav.Client, error) {
	return webdav.NewClient(cfg, webdav.Options{
		HTTPClient: s.deps.HTTPClient,
		AppDir:     s.cfg.Sync.AppDir,
		RelayURL:   s.relayURL(),
		Logger:     s.logger,
	})
}

func (s *Server) handleSyncBackup(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.requireSyncConfig(w, r)
	if !ok {
		return
	}
	result := s.deps.SyncManager.SyncToRemote(r.Context(), cfg)
	api.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncRestore(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.requireSyncConfig(w, r)
	if !ok {
		return
	}
	result := s.deps.SyncManager.RestoreFromRemote(r.Context(), cfg)
	api.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncBackups(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.requireSyncConfig(w, r)
	if !ok {
		return
	}
	result := s.deps.SyncManager.ListRemoteBackups(r.Context(), cfg)
	api.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncTest(w http.ResponseWriter, r *http.Request) {
	cfg, ok := s.requireSyncConfig(w, r)
	if !ok {
		return
	}
	client, err := s.webdavClient(cfg)
	if err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, client.TestConnection(r.Context()))
}

// handleSyncDetect probes both transports and reports the recommended
// mode without changing the stored binding. The relay endpoint refuses
// proxied probes on its own when disabled, so no gate pre-check is
// needed here.
func (s *Server) handleSyncDetect(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.connectivityConfig(r.Context())
	if err != nil {
		s.logger.Error("failed to load connectivity settings", "error", err)
		api.WriteInternalError(w, "failed to load connectivity settings")
		return
	}
	if cfg == nil || cfg.ServerURL == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "WebDAV sync is not configured")
		return
	}
	client, err := s.webdavClient(cfg)
	if err != nil {
		api.WriteBadRequest(w, api.ReasonInvalidField, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, client.DetectBestMode(r.Context()))
}

func (s *Server) handleSyncStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.SyncManager.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to compute sync stats", "error", err)
		api.WriteInternalError(w, "failed to compute sync stats")
		return
	}
	api.WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSyncExport(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.SyncManager.Export(r.Context())
	if err != nil {
		s.logger.Error("failed to export configuration", "error", err)
		api.WriteInternalError(w, "failed to export configuration")
		return
	}
	filename := fmt.Sprintf("%s-%s.json", s.cfg.Sync.BackupPrefix, time.Now().UTC().Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	api.WriteJSON(w, http.StatusOK, doc)
}

func (s *Server) handleSyncImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		api.WriteBadRequest(w, api.ReasonBadRequest, "failed to read request body")
		return
	}
	result := s.deps.SyncManager.Import(r.Context(), body)
	if !result.Success && len(result.Applied) == 0 {
		reason := api.ReasonFormatError
		if result.Empty {
			reason = api.ReasonEmptyDocument
		}
		api.WriteBadRequest(w, reason, result.Message)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleSyncReset(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.SyncManager.ResetAll(r.Context()); err != nil {
		s.logger.Error("failed to reset configuration", "error", err)
		api.WriteInternalError(w, "failed to reset configuration")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
