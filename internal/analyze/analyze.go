// Package analyze defines the paper relevance-analysis contract and a
// relay-backed implementation.
package analyze

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/papersync/papersync/internal/arxiv"
	"github.com/papersync/papersync/internal/gate"
	"github.com/papersync/papersync/internal/httpclient"
	"github.com/papersync/papersync/internal/logutil"
	"github.com/papersync/papersync/internal/store"
)

// ErrRelayDisabled is returned when the LLM relay gate reports disabled.
var ErrRelayDisabled = errors.New("llm relay is disabled")

// AnalysisResult scores one paper against the user's preferences.
type AnalysisResult struct {
	IsRelevant         bool   `json:"isRelevant"`
	Reason             string `json:"reason"`
	Score              int    `json:"score"`
	TitleTranslation   string `json:"titleTranslation,omitempty"`
	SummaryTranslation string `json:"summaryTranslation,omitempty"`
}

// Analyzer is the analysis capability consumers depend on.
type Analyzer interface {
	Analyze(ctx context.Context, paper arxiv.PaperSummary, prefs store.Preferences) (*AnalysisResult, error)
}

// RelayAnalyzer sends analysis requests through the server-side relay,
// consulting the availability gate before each call.
type RelayAnalyzer struct {
	endpoint string
	httpc    *httpclient.Client
	gate     *gate.Gate
	logger   *slog.Logger
}

// NewRelayAnalyzer builds a relay-backed analyzer. The gate is optional;
// without one, availability is not pre-checked.
func NewRelayAnalyzer(endpoint string, httpc *httpclient.Client, g *gate.Gate, logger *slog.Logger) (*RelayAnalyzer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("analysis endpoint is required")
	}
	if httpc == nil {
		return nil, fmt.Errorf("http client is required")
	}
	return &RelayAnalyzer{
		endpoint: endpoint,
		httpc:    httpc,
		gate:     g,
		logger:   logutil.NoopIfNil(logger),
	}, nil
}

// Analyze posts the paper and preferences to the relay and decodes the
// result. The score is clamped to 0..100.
func (a *RelayAnalyzer) Analyze(ctx context.Context, paper arxiv.PaperSummary, prefs store.Preferences) (*AnalysisResult, error) {
	if a.gate != nil && !a.gate.EnabledFor(ctx, gate.KindLLM) {
		return nil, ErrRelayDisabled
	}

	payload := struct {
		Paper       arxiv.PaperSummary `json:"paper"`
		Preferences store.Preferences  `json:"preferences"`
	}{Paper: paper, Preferences: prefs}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("could not encode analysis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analysis call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := a.httpc.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("could not read analysis response: %w", err)
	}

	if resp.StatusCode == http.StatusForbidden {
		return nil, ErrRelayDisabled
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("analysis call failed: http %d", resp.StatusCode)
	}

	var result AnalysisResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("could not decode analysis result: %w", err)
	}

	if result.Score < 0 {
		result.Score = 0
	}
	if result.Score > 100 {
		result.Score = 100
	}

	a.logger.Debug("analysis completed", "paper", paper.ID, "score", result.Score, "relevant", result.IsRelevant)
	return &result, nil
}
