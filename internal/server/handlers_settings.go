package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/papersync/papersync/internal/api"
	"github.com/papersync/papersync/internal/store"
)

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.deps.Store.GetPreferences(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.WriteJSON(w, http.StatusOK, &store.Preferences{})
			return
		}
		s.logger.Error("failed to load preferences", "error", err)
		api.WriteInternalError(w, "failed to load preferences")
		return
	}
	api.WriteJSON(w, http.StatusOK, prefs)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs store.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		api.WriteBadRequest(w, api.ReasonFormatError, "invalid preferences document")
		return
	}
	if err := s.deps.Store.SetPreferences(r.Context(), &prefs); err != nil {
		s.logger.Error("failed to save preferences", "error", err)
		api.WriteInternalError(w, "failed to save preferences")
		return
	}
	api.WriteJSON(w, http.StatusOK, &prefs)
}

// handleGetConnectivity returns the stored connectivity settings with the
// secret redacted.
func (s *Server) handleGetConnectivity(w http.ResponseWriter, r *http.Request) {
	settings, err := s.deps.Store.GetConnectivity(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			api.WriteJSON(w, http.StatusOK, &store.ConnectivitySettings{})
			return
		}
		s.logger.Error("failed to load connectivity settings", "error", err)
		api.WriteInternalError(w, "failed to load connectivity settings")
		return
	}
	redacted := *settings
	redacted.Secret = ""
	api.WriteJSON(w, http.StatusOK, &redacted)
}

func (s *Server) handlePutConnectivity(w http.ResponseWriter, r *http.Request) {
	var settings store.ConnectivitySettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		api.WriteBadRequest(w, api.ReasonFormatError, "invalid connectivity document")
		return
	}
	if settings.ServerURL != "" && !strings.HasPrefix(settings.ServerURL, "http://") && !strings.HasPrefix(settings.ServerURL, "https://") {
		api.WriteBadRequest(w, api.ReasonInvalidField, "serverUrl must be an absolute http or https URL")
		return
	}

	// An empty secret on update means "keep the existing one"; the GET
	// response never includes it, so round-tripped settings arrive blank.
	if settings.Secret == "" {
		if existing, err := s.deps.Store.GetConnectivity(r.Context()); err == nil {
			settings.Secret = existing.Secret
		}
	}

	if err := s.deps.Store.SetConnectivity(r.Context(), &settings); err != nil {
		s.logger.Error("failed to save connectivity settings", "error", err)
		api.WriteInternalError(w, "failed to save connectivity settings")
		return
	}
	redacted := settings
	redacted.Secret = ""
	api.WriteJSON(w, http.StatusOK, &redacted)
}

func (s *Server) handleGetFavoriteCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.deps.Store.GetFavoriteCategories(r.Context())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to load favorite categories", "error", err)
		api.WriteInternalError(w, "failed to load favorite categories")
		return
	}
	if cats == nil {
		cats = []store.FavoriteCategory{}
	}
	api.WriteJSON(w, http.StatusOK, cats)
}

func (s *Server) handlePutFavoriteCategories(w http.ResponseWriter, r *http.Request) {
	var cats []store.FavoriteCategory
	if err := json.NewDecoder(r.Body).Decode(&cats); err != nil {
		api.WriteBadRequest(w, api.ReasonFormatError, "invalid categories document")
		return
	}
	if err := s.deps.Store.SetFavoriteCategories(r.Context(), cats); err != nil {
		s.logger.Error("failed to save favorite categories", "error", err)
		api.WriteInternalError(w, "failed to save favorite categories")
		return
	}
	api.WriteJSON(w, http.StatusOK, cats)
}

func (s *Server) handleGetFavoritePapers(w http.ResponseWriter, r *http.Request) {
	papers, err := s.deps.Store.GetFavoritePapers(r.Context())
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.Error("failed to load favorite papers", "error", err)
		api.WriteInternalError(w, "failed to load favorite papers")
		return
	}
	if papers == nil {
		papers = []store.FavoritePaper{}
	}
	api.WriteJSON(w, http.StatusOK, papers)
}

func (s *Server) handlePutFavoritePapers(w http.ResponseWriter, r *http.Request) {
	var papers []store.FavoritePaper
	if err := json.NewDecoder(r.Body).Decode(&papers); err != nil {
		api.WriteBadRequest(w, api.ReasonFormatError, "invalid papers document")
		return
	}
	if err := s.deps.Store.SetFavoritePapers(r.Context(), papers); err != nil {
		s.logger.Error("failed to save favorite papers", "error", err)
		api.WriteInternalError(w, "failed to save favorite papers")
		return
	}
	api.WriteJSON(w, http.StatusOK, papers)
}
