package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/papersync/papersync/internal/analyze"
	"github.com/papersync/papersync/internal/api"
	"github.com/papersync/papersync/internal/arxiv"
	"github.com/papersync/papersync/internal/httpclient"
	"github.com/papersync/papersync/internal/store"
)

func (s *Server) handlePaperSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := arxiv.SearchParams{Query: strings.TrimSpace(q.Get("query"))}
	if params.Query == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "query is required")
		return
	}
	if cats := strings.TrimSpace(q.Get("categories")); cats != "" {
		for _, c := range strings.Split(cats, ",") {
			if c = strings.TrimSpace(c); c != "" {
				params.Categories = append(params.Categories, c)
			}
		}
	}
	if raw := q.Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			api.WriteBadRequest(w, api.ReasonInvalidField, "max must be a positive integer")
			return
		}
		params.MaxResults = n
	}
	if raw := q.Get("start"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			api.WriteBadRequest(w, api.ReasonInvalidField, "start must be a non-negative integer")
			return
		}
		params.Start = n
	}

	papers, err := s.deps.Searcher.Search(r.Context(), params)
	if err != nil {
		s.logger.Error("paper search failed", "query", params.Query, "error", err)
		api.WriteError(w, http.StatusBadGateway, api.ReasonRemoteError, "paper search failed")
		return
	}
	api.WriteJSON(w, http.StatusOK, papers)
}

func (s *Server) handlePaperAnalyze(w http.ResponseWriter, r *http.Request) {
	var paper arxiv.PaperSummary
	if err := json.NewDecoder(r.Body).Decode(&paper); err != nil {
		api.WriteBadRequest(w, api.ReasonFormatError, "invalid paper document")
		return
	}
	if paper.Title == "" && paper.Summary == "" {
		api.WriteBadRequest(w, api.ReasonMissingField, "paper title or summary is required")
		return
	}

	prefs, err := s.deps.Store.GetPreferences(r.Context())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("failed to load preferences", "error", err)
			api.WriteInternalError(w, "failed to load preferences")
			return
		}
		prefs = &store.Preferences{}
	}

	result, err := s.deps.Analyzer.Analyze(r.Context(), paper, *prefs)
	if err != nil {
		switch {
		case errors.Is(err, analyze.ErrRelayDisabled):
			api.WriteForbidden(w, api.ReasonRelayDisabled, "LLM relay is disabled by the administrator")
		case httpclient.IsSSRFError(err):
			api.WriteError(w, http.StatusBadGateway, api.ReasonTargetBlocked, "analysis endpoint is not reachable")
		default:
			s.logger.Error("paper analysis failed", "paper_id", paper.ID, "error", err)
			api.WriteError(w, http.StatusBadGateway, api.ReasonRemoteError, "paper analysis failed")
		}
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

// handleProxyRefresh drops the cached availability flags so the next
// check re-fetches them, then returns the fresh status.
func (s *Server) handleProxyRefresh(w http.ResponseWriter, r *http.Request) {
	s.deps.Gate.Invalidate()
	status := s.deps.Gate.Current(r.Context())
	s.logger.Info("proxy availability refreshed",
		"llm_enabled", status.LLMEnabled,
		"webdav_enabled", status.WebDAVEnabled)
	api.WriteJSON(w, http.StatusOK, status)
}
