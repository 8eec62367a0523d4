package webdav

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDecideTable(t *testing.T) {
	ok := OperationResult{Success: true, Message: "Connection successful"}
	fail := OperationResult{Success: false, Message: "Connection failed"}

	tests := []struct {
		name        string
		direct      OperationResult
		proxy       OperationResult
		wantMode    Mode
		wantSuccess bool
	}{
		{"both_work", ok, ok, ModeDirect, true},
		{"direct_only", ok, fail, ModeDirect, true},
		{"proxy_only", fail, ok, ModeProxy, true},
		{"neither", fail, fail, ModeProxy, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := decide(tt.direct, tt.proxy)
			if res.RecommendedMode != tt.wantMode {
				t.Errorf("RecommendedMode = %v, want %v", res.RecommendedMode, tt.wantMode)
			}
			if res.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", res.Success, tt.wantSuccess)
			}
			if res.Recommendation == "" {
				t.Error("Recommendation is empty")
			}
			if res.Direct == nil || res.Proxy == nil {
				t.Error("raw sub-results must both be carried")
			}
		})
	}
}

func TestDetectBestModeDoesNotRebind(t *testing.T) {
	// Origin accepts WebDAV probes; relay refuses everything.
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("DAV", "1, 2")
		w.Header().Set("Allow", "OPTIONS, PROPFIND")
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"reason_code":"relay_disabled","message":"WebDAV relay is disabled"}}`))
	}))
	defer relay.Close()

	opts := testOptions(t)
	opts.RelayURL = relay.URL

	cfg := &ConnectivityConfig{ServerURL: origin.URL, Username: "u", Secret: "s"}
	client, err := NewClient(cfg, opts)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	// Default binding is proxy
	if client.ConnectionType() != ModeProxy {
		t.Fatalf("ConnectionType = %v, want proxy", client.ConnectionType())
	}

	res := client.DetectBestMode(context.Background())
	if !res.Success {
		t.Fatalf("DetectBestMode failed: %+v", res)
	}
	if res.RecommendedMode != ModeDirect {
		t.Errorf("RecommendedMode = %v, want direct", res.RecommendedMode)
	}
	if res.Direct == nil || !res.Direct.Success {
		t.Errorf("Direct sub-result = %+v, want success", res.Direct)
	}
	if res.Proxy == nil || res.Proxy.Success {
		t.Errorf("Proxy sub-result = %+v, want failure", res.Proxy)
	}

	// Detection must not change the bound transport
	if client.ConnectionType() != ModeProxy {
		t.Errorf("ConnectionType after detection = %v, want proxy", client.ConnectionType())
	}
}

func TestTestConnectionAnnotation(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("DAV", "1, 2")
		w.Header().Set("Allow", "OPTIONS, PROPFIND")
		w.WriteHeader(http.StatusOK)
	}))
	defer origin.Close()

	off := false
	cfg := &ConnectivityConfig{ServerURL: origin.URL, Username: "u", Secret: "s", UseRelay: &off}
	client, err := NewClient(cfg, testOptions(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	res := client.TestConnection(context.Background())
	if !res.Success {
		t.Fatalf("TestConnection failed: %+v", res)
	}
	if res.Details == "" {
		t.Error("expected mode-specific advisory text in Details")
	}
}
