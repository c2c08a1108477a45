// Command backend is the main entrypoint for the audiocast bot and background workers.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the persistent Telegram session listener (when configured), the stale
//     upload recovery job, and the OAuth credential refresher.
//   - Exposes the HTTP server: Bot API webhook, session auth endpoints, the Google
//     OAuth callback, /healthz, /readyz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/audiocast/backend/config"
	"github.com/onnwee/audiocast/backend/conversation"
	"github.com/onnwee/audiocast/backend/db"
	"github.com/onnwee/audiocast/backend/media"
	"github.com/onnwee/audiocast/backend/oauth"
	"github.com/onnwee/audiocast/backend/pipeline"
	"github.com/onnwee/audiocast/backend/server"
	"github.com/onnwee/audiocast/backend/session"
	"github.com/onnwee/audiocast/backend/telegram"
	"github.com/onnwee/audiocast/backend/telemetry"
	"github.com/onnwee/audiocast/backend/youtubeapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.BotToken == "" {
		slog.Error("TELEGRAM_BOT_TOKEN is required")
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("audiocast", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations: versioned migrations first, embedded SQL as a
	// fallback for deployments predating the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to legacy embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("legacy embedded SQL migration completed",
			slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed successfully",
			slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bot API transport
	bot, err := telegram.NewBot(cfg)
	if err != nil {
		slog.Error("failed to create telegram bot", slog.Any("err", err))
		os.Exit(1)
	}

	// Core collaborators
	convStore := &db.ConversationStoreAdapter{DB: database}
	acctStore := &db.AccountStoreAdapter{DB: database}
	convos := conversation.NewManager(convStore, acctStore)
	ytsvc := youtubeapi.New(cfg)
	processor := media.NewFFmpegProcessor(cfg.DataDir)
	orch := pipeline.NewOrchestrator(convStore, acctStore, convos, processor, ytsvc, bot, cfg.Allowed, media.Release)
	handshake := session.NewHandshake(bot)

	// Persistent session listener, via the MTProto bridge sidecar. Optional: the
	// webhook transport works without it.
	if bridgeURL := os.Getenv("SESSION_BRIDGE_URL"); bridgeURL != "" {
		if err := cfg.ValidateSessionReady(); err != nil {
			slog.Warn("session listener disabled", slog.Any("err", err), slog.String("component", "session"))
		} else {
			bridge := telegram.NewBridge(bridgeURL)
			client := session.NewClient(cfg.SessionPhone, cfg.Allowed, bridge, bridge, handshake, convos, orch)
			go func() {
				if err := client.Start(ctx); err != nil && ctx.Err() == nil {
					slog.Error("session client exited", slog.Any("err", err), slog.String("component", "session"))
				}
			}()
		}
	} else {
		slog.Info("session listener disabled (SESSION_BRIDGE_URL not set)", slog.String("component", "session"))
	}

	// Recover conversations stuck in processing (crash mid-upload)
	go pipeline.StartRecoveryJob(ctx, database, orch)

	// Background credential refresher keeps per-account Google tokens fresh
	oauth.StartRefresher(ctx, database, 10*time.Minute, 20*time.Minute, ytsvc.Refresh)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (webhook/auth/oauth/health/metrics)
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handlers := server.NewHandlers(database, cfg, bot, convos, handshake, orch, ytsvc)
	go func() {
		if err := server.Start(ctx, handlers, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
