package analyze_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/papersync/papersync/internal/analyze"
	"github.com/papersync/papersync/internal/arxiv"
	"github.com/papersync/papersync/internal/config"
	"github.com/papersync/papersync/internal/gate"
	"github.com/papersync/papersync/internal/httpclient"
	"github.com/papersync/papersync/internal/store"
)

func testHTTPClient() *httpclient.Client {
	return httpclient.New(&config.OutboundHTTPConfig{
		SSRFMode:         "off",
		TimeoutMS:        5000,
		ConnectTimeoutMS: 2000,
		MaxRedirects:     1,
		MaxResponseBytes: 1 << 20,
	})
}

func testPaper() arxiv.PaperSummary {
	return arxiv.PaperSummary{ID: "2403.00001", Title: "Spectral Methods"}
}

func TestAnalyzeDecodesAndClampsScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"isRelevant":true,"reason":"matches interests","score":250}`))
	}))
	defer srv.Close()

	a, err := analyze.NewRelayAnalyzer(srv.URL, testHTTPClient(), nil, nil)
	if err != nil {
		t.Fatalf("NewRelayAnalyzer: %v", err)
	}

	res, err := a.Analyze(context.Background(), testPaper(), store.Preferences{Interests: []string{"graphs"}})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !res.IsRelevant {
		t.Error("IsRelevant = false")
	}
	if res.Score != 100 {
		t.Errorf("Score = %d, want clamped to 100", res.Score)
	}
}

func TestAnalyzeConsultsGate(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	g, err := gate.New(func(ctx context.Context) (gate.Status, error) {
		return gate.Status{LLMEnabled: false, WebDAVEnabled: true}, nil
	}, gate.Options{})
	if err != nil {
		t.Fatalf("gate.New: %v", err)
	}

	a, err := analyze.NewRelayAnalyzer(srv.URL, testHTTPClient(), g, nil)
	if err != nil {
		t.Fatalf("NewRelayAnalyzer: %v", err)
	}

	_, err = a.Analyze(context.Background(), testPaper(), store.Preferences{})
	if !errors.Is(err, analyze.ErrRelayDisabled) {
		t.Errorf("err = %v, want ErrRelayDisabled", err)
	}
	if called {
		t.Error("no network call may happen when the gate reports disabled")
	}
}

func TestAnalyzeRelayRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"reason_code":"relay_disabled"}}`))
	}))
	defer srv.Close()

	a, err := analyze.NewRelayAnalyzer(srv.URL, testHTTPClient(), nil, nil)
	if err != nil {
		t.Fatalf("NewRelayAnalyzer: %v", err)
	}

	_, err = a.Analyze(context.Background(), testPaper(), store.Preferences{})
	if !errors.Is(err, analyze.ErrRelayDisabled) {
		t.Errorf("err = %v, want ErrRelayDisabled", err)
	}
}
