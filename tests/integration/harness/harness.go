// Package harness provides test utilities for integration tests.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"testing"
	"time"

	"github.com/papersync/papersync/internal/analyze"
	"github.com/papersync/papersync/internal/arxiv"
	"github.com/papersync/papersync/internal/cache/memory"
	"github.com/papersync/papersync/internal/config"
	"github.com/papersync/papersync/internal/gate"
	"github.com/papersync/papersync/internal/httpclient"
	"github.com/papersync/papersync/internal/identity"
	"github.com/papersync/papersync/internal/relay"
	"github.com/papersync/papersync/internal/server"
	"github.com/papersync/papersync/internal/store"
	"github.com/papersync/papersync/internal/syncpack"
	"github.com/papersync/papersync/internal/webdav"

	// Register store drivers
	_ "github.com/papersync/papersync/internal/store/json"
	_ "github.com/papersync/papersync/internal/store/sqlite"
)

// TestServer wraps a running papersync instance for testing.
type TestServer struct {
	Server  *server.Server
	Config  *config.Config
	Store   *store.Store
	BaseURL string
	TempDir string

	driver store.Driver
}

// StartTestServer creates and starts a test server with dynamic port
// allocation. Callers may mutate the config through opts before the
// server is built.
func StartTestServer(t *testing.T, opts ...func(*config.Config)) *TestServer {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "papersync-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to find free port: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.DataDir = tempDir
	cfg.ListenAddr = fmt.Sprintf(":%d", port)
	cfg.ExternalOrigin = fmt.Sprintf("http://localhost:%d", port)
	// Allow localhost connections in tests
	cfg.OutboundHTTP.SSRFMode = "off"
	cfg.OutboundHTTP.TimeoutMS = 5000
	cfg.Admin.Username = "admin"
	cfg.Admin.Password = "admin"
	for _, opt := range opts {
		opt(cfg)
	}

	// Only log warnings and errors during tests
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	driver, err := store.New(&store.DriverConfig{Driver: cfg.Store.Driver, DataDir: cfg.DataDir})
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create store: %v", err)
	}
	if err := driver.Init(context.Background()); err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to initialize store: %v", err)
	}
	st := store.NewStore(driver)

	httpClient := httpclient.New(&cfg.OutboundHTTP)

	relayHandler, err := relay.NewHandler(&cfg.Relay, httpClient, logger)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create relay handler: %v", err)
	}

	availabilityGate, err := gate.New(func(context.Context) (gate.Status, error) {
		status := relayHandler.CurrentStatus()
		return gate.Status{
			LLMEnabled:    status.LLM.Enabled,
			WebDAVEnabled: status.WebDAV.Enabled,
			Message:       status.WebDAV.Message,
		}, nil
	}, gate.Options{Logger: logger})
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create gate: %v", err)
	}

	relayURL := cfg.ExternalOrigin + "/api/relay/webdav"

	searchCache := memory.New(time.Minute, time.Minute)
	searcher, err := arxiv.NewClient(httpClient, arxiv.Options{
		BaseURL: cfg.ArXiv.BaseURL,
		Cache:   searchCache,
		Logger:  logger,
	})
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create arxiv client: %v", err)
	}

	analyzer, err := analyze.NewRelayAnalyzer(cfg.ExternalOrigin+"/api/relay/llm", httpClient, availabilityGate, logger)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create analyzer: %v", err)
	}

	syncManager, err := syncpack.NewManager(st, func(davCfg *webdav.ConnectivityConfig) (syncpack.Client, error) {
		return webdav.NewClient(davCfg, webdav.Options{
			HTTPClient: httpClient,
			AppDir:     cfg.Sync.AppDir,
			RelayURL:   relayURL,
			Logger:     logger,
		})
	}, syncpack.Options{BackupPrefix: cfg.Sync.BackupPrefix, Logger: logger})
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create sync manager: %v", err)
	}

	srv, err := server.New(cfg, server.Deps{
		Store:       st,
		HTTPClient:  httpClient,
		Relay:       relayHandler,
		Gate:        availabilityGate,
		Searcher:    searcher,
		Analyzer:    analyzer,
		SyncManager: syncManager,
		AdminAuth:   identity.NewAdminAuth(cfg.Admin.Username, cfg.Admin.Password),
	}, logger)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("failed to create server: %v", err)
	}

	go func() {
		// Server error is expected on shutdown
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://localhost:%d", port)
	if err := waitForServer(baseURL, 5*time.Second); err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("server failed to start: %v", err)
	}

	return &TestServer{
		Server:  srv,
		Config:  cfg,
		Store:   st,
		BaseURL: baseURL,
		TempDir: tempDir,
		driver:  driver,
	}
}

// Stop stops the test server and cleans up resources.
func (ts *TestServer) Stop(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ts.Server.Shutdown(ctx); err != nil {
		t.Logf("warning: shutdown error: %v", err)
	}

	if err := ts.driver.Close(); err != nil {
		t.Logf("warning: store close error: %v", err)
	}

	if err := os.RemoveAll(ts.TempDir); err != nil {
		t.Logf("warning: failed to remove temp dir: %v", err)
	}
}

// getFreePort finds an available TCP port.
func getFreePort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to accept connections.
func waitForServer(baseURL string, timeout time.Duration) error {
	addr := baseURL[len("http://"):]
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("server not ready after %v", timeout)
}
