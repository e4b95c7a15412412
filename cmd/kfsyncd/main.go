// Package main is the entrypoint for the kfsyncd gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/open-wecom/kfsync/internal/accounts"
	"github.com/open-wecom/kfsync/internal/api"
	"github.com/open-wecom/kfsync/internal/cursor"
	"github.com/open-wecom/kfsync/internal/dedup"
	"github.com/open-wecom/kfsync/internal/dispatch"
	"github.com/open-wecom/kfsync/internal/platform/config"
	"github.com/open-wecom/kfsync/internal/platform/http/client"
	"github.com/open-wecom/kfsync/internal/platform/logutil"
	"github.com/open-wecom/kfsync/internal/platform/server"
	"github.com/open-wecom/kfsync/internal/poller"
	"github.com/open-wecom/kfsync/internal/store"
	"github.com/open-wecom/kfsync/internal/syncengine"
	"github.com/open-wecom/kfsync/internal/webhook"
	"github.com/open-wecom/kfsync/internal/wecom"
	wecomcrypto "github.com/open-wecom/kfsync/internal/wecom/crypto"
	"github.com/open-wecom/kfsync/internal/wecom/token"

	// Register account store drivers
	_ "github.com/open-wecom/kfsync/internal/store/json"
	_ "github.com/open-wecom/kfsync/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: prod or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory (overrides config)")
	tlsMode := flag.String("tls-mode", "", "TLS mode: off, static, selfsigned, or acme (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	adminUsername := flag.String("admin-username", "", "Management API username (overrides config)")
	adminPassword := flag.String("admin-password", "", "Management API password (overrides config)")
	corpID := flag.String("corp-id", "", "Enterprise id (overrides config)")
	secret := flag.String("secret", "", "Customer-service app secret (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:    listenAddr,
			DataDir:       dataDir,
			TLSMode:       tlsMode,
			LoggingLevel:  loggingLevel,
			AdminUsername: adminUsername,
			AdminPassword: adminPassword,
			CorpID:        corpID,
			Secret:        secret,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logutil.ParseLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	// Log effective config with secrets redacted
	logger.Info("effective configuration", "config", cfg.Redacted())

	if cfg.WeCom.CorpID == "" || cfg.WeCom.Secret == "" ||
		cfg.WeCom.CallbackToken == "" || cfg.WeCom.EncodingAESKey == "" {
		logger.Error("wecom credentials incomplete: corp_id, secret, callback_token, and encoding_aes_key are all required")
		os.Exit(1)
	}

	codec, err := wecomcrypto.NewCodec(cfg.WeCom.CallbackToken, cfg.WeCom.EncodingAESKey, cfg.WeCom.CorpID)
	if err != nil {
		logger.Error("failed to initialize callback codec", "error", err)
		os.Exit(1)
	}

	// Outbound plumbing: bounded HTTP client, cached token source, API client.
	httpc := client.New(&cfg.OutboundHTTP)
	tokenCache := token.NewCache(token.DefaultMargin, logger)
	tokenSource := token.NewSource(tokenCache, cfg.WeCom.CorpID, cfg.WeCom.Secret,
		func(ctx context.Context) (string, time.Duration, error) {
			return wecom.GetAccessToken(ctx, httpc, cfg.WeCom.APIBase, cfg.WeCom.CorpID, cfg.WeCom.Secret)
		})
	platform := wecom.NewClient(httpc, cfg.WeCom.APIBase, tokenSource, logger)

	// Persistent state: account store and per-account cursors.
	accountStore, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.DataDir,
		Options: cfg.Store.Drivers[cfg.Store.Driver],
	})
	if err != nil {
		logger.Error("failed to create account store", "error", err)
		os.Exit(1)
	}
	if err := accountStore.Init(context.Background()); err != nil {
		logger.Error("failed to initialize account store", "error", err)
		os.Exit(1)
	}

	registry := accounts.NewRegistry(accountStore, logger)
	if err := registry.Load(context.Background()); err != nil {
		logger.Error("failed to load account registry", "error", err)
		os.Exit(1)
	}

	cursors, err := cursor.NewStore(filepath.Join(cfg.DataDir, "cursors"), logger)
	if err != nil {
		logger.Error("failed to create cursor store", "error", err)
		os.Exit(1)
	}

	engine := syncengine.New(
		platform,
		cursors,
		dedup.NewWindow(cfg.Sync.DedupCapacity),
		dispatch.NewLogDispatcher(logger),
		registry,
		syncengine.Options{
			PageSize:      cfg.Sync.PageSize,
			MaxMessageAge: time.Duration(cfg.Sync.MaxMessageAgeSeconds) * time.Second,
			MaxDrainPages: cfg.Sync.MaxDrainPages,
		},
		logger,
	)

	// appCtx scopes async work spawned by handlers; cancelled after the
	// listener stops accepting requests.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	webhookHandler := webhook.NewHandler(appCtx, codec, registry, engine, logger)

	var apiHandler *api.Handler
	if cfg.Admin.Password != "" {
		auth, err := api.NewBasicAuth(cfg.Admin.Username, cfg.Admin.Password)
		if err != nil {
			logger.Error("failed to initialize management auth", "error", err)
			os.Exit(1)
		}
		apiHandler = api.NewHandler(appCtx, registry, engine, auth, logger)
	} else {
		logger.Info("management API disabled: no admin password configured")
	}

	srv := server.New(cfg, logger, func(r chi.Router) {
		webhookHandler.Routes(r)
		if apiHandler != nil {
			apiHandler.Routes(r)
		}
		r.Get("/healthz", api.Healthz)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := poller.New(engine, registry, time.Duration(cfg.Sync.PollIntervalSeconds)*time.Second, logger)
	go p.Run(ctx)

	// Start returns http.ErrServerClosed on a clean Shutdown; only other
	// errors are fatal, and teardown below must still run for them.
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.Start()
	}()

	logger.Info("gateway started", "addr", cfg.ListenAddr)

	var serverErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serverErr = <-serverErrCh:
		if serverErr != nil && !errors.Is(serverErr, http.ErrServerClosed) {
			logger.Error("server error", "error", serverErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Let in-flight callback-triggered syncs finish before tearing down state.
	webhookHandler.Wait()
	appCancel()

	if err := accountStore.Close(); err != nil {
		logger.Error("store close error", "error", err)
	}

	logger.Info("gateway stopped")

	if serverErr != nil && !errors.Is(serverErr, http.ErrServerClosed) {
		os.Exit(1)
	}
}
