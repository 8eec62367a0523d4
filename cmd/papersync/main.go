// Package main is the entrypoint for the papersync server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
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

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	externalOrigin := flag.String("external-origin", "", "External origin (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: json or sqlite (overrides config)")
	tlsMode := flag.String("tls-mode", "", "TLS mode: off, static, or selfsigned (overrides config)")
	ssrfMode := flag.String("ssrf-mode", "", "SSRF protection mode: strict or off (overrides config)")
	relayWebDAV := flag.String("relay-webdav", "", "Enable WebDAV relay: true or false (overrides config)")
	relayLLM := flag.String("relay-llm", "", "Enable LLM relay: true or false (overrides config)")
	adminUsername := flag.String("admin-username", "", "Admin username (overrides config)")
	adminPassword := flag.String("admin-password", "", "Admin password (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:     listenAddr,
			ExternalOrigin: externalOrigin,
			DataDir:        dataDir,
			StoreDriver:    storeDriver,
			TLSMode:        tlsMode,
			SSRFMode:       ssrfMode,
			RelayWebDAV:    relayWebDAV,
			RelayLLM:       relayLLM,
			AdminUsername:  adminUsername,
			AdminPassword:  adminPassword,
			LoggingLevel:   loggingLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("effective configuration", "config", cfg.Redacted())

	// Open the local store
	driver, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.DataDir,
		Options: cfg.Store.Drivers[cfg.Store.Driver],
	})
	if err != nil {
		logger.Error("failed to create store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	if err := driver.Init(context.Background()); err != nil {
		logger.Error("failed to initialize store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer driver.Close()
	st := store.NewStore(driver)
	logger.Info("store initialized", "driver", driver.Name(), "data_dir", cfg.DataDir)

	// Outbound HTTP client with SSRF protection
	httpClient := httpclient.New(&cfg.OutboundHTTP)

	// Relay endpoints and the availability gate over them. The gate
	// fetch is in-process: this instance is its own relay.
	relayHandler, err := relay.NewHandler(&cfg.Relay, httpClient, logger)
	if err != nil {
		logger.Error("failed to create relay handler", "error", err)
		os.Exit(1)
	}
	availabilityGate, err := gate.New(func(ctx context.Context) (gate.Status, error) {
		status := relayHandler.CurrentStatus()
		msg := status.WebDAV.Message
		if msg == "" {
			msg = status.LLM.Message
		}
		return gate.Status{
			LLMEnabled:    status.LLM.Enabled,
			WebDAVEnabled: status.WebDAV.Enabled,
			Message:       msg,
		}, nil
	}, gate.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to create availability gate", "error", err)
		os.Exit(1)
	}

	relayURL := cfg.Sync.RelayURL
	if relayURL == "" {
		relayURL = cfg.ExternalOrigin + "/api/relay/webdav"
	}

	// ArXiv search with an in-memory result cache
	searchCache := memory.New(time.Duration(cfg.ArXiv.CacheTTLSeconds)*time.Second, time.Minute)
	defer searchCache.Close()
	searcher, err := arxiv.NewClient(httpClient, arxiv.Options{
		BaseURL:    cfg.ArXiv.BaseURL,
		MaxResults: cfg.ArXiv.MaxResults,
		CacheTTL:   time.Duration(cfg.ArXiv.CacheTTLSeconds) * time.Second,
		Cache:      searchCache,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create arxiv client", "error", err)
		os.Exit(1)
	}

	// Paper analysis through the LLM relay
	analyzer, err := analyze.NewRelayAnalyzer(cfg.ExternalOrigin+"/api/relay/llm", httpClient, availabilityGate, logger)
	if err != nil {
		logger.Error("failed to create analyzer", "error", err)
		os.Exit(1)
	}

	// Config aggregator over the store; WebDAV clients are built per
	// operation from the stored connectivity settings.
	syncManager, err := syncpack.NewManager(st, func(davCfg *webdav.ConnectivityConfig) (syncpack.Client, error) {
		return webdav.NewClient(davCfg, webdav.Options{
			HTTPClient: httpClient,
			AppDir:     cfg.Sync.AppDir,
			RelayURL:   relayURL,
			Logger:     logger,
		})
	}, syncpack.Options{BackupPrefix: cfg.Sync.BackupPrefix, Logger: logger})
	if err != nil {
		logger.Error("failed to create sync manager", "error", err)
		os.Exit(1)
	}

	deps := server.Deps{
		Store:       st,
		HTTPClient:  httpClient,
		Relay:       relayHandler,
		Gate:        availabilityGate,
		Searcher:    searcher,
		Analyzer:    analyzer,
		SyncManager: syncManager,
		AdminAuth:   identity.NewAdminAuth(cfg.Admin.Username, cfg.Admin.Password),
	}

	srv, err := server.New(cfg, deps, logger)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("server started, press Ctrl+C to stop")

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
