// Command backend is the chatmux entrypoint. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres (token persistence) and runs idempotent migrations.
//   - Assembles the engine: token manager, broadcast hub, emote catalog, and
//     one supervised connector per configured platform.
//   - Exposes the HTTP surface: /ws, /status, /healthz, /readyz, /metrics,
//     OAuth start/callback, and the /admin connector controls.
//
// Shutdown is graceful on SIGINT/SIGTERM: connectors stop first, then
// clients are released with a close notice.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/onnwee/chatmux/backend/config"
	"github.com/onnwee/chatmux/backend/db"
	"github.com/onnwee/chatmux/backend/engine"
	"github.com/onnwee/chatmux/backend/server"
	"github.com/onnwee/chatmux/backend/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdownTracing, err := telemetry.InitTracing("chatmux", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	// Token persistence is optional: without a reachable database the engine
	// keeps tokens in memory and operators re-authorize after a restart.
	database, err := db.Connect()
	if err != nil {
		slog.Warn("database unavailable, continuing without token persistence", slog.Any("err", err))
		database = nil
	} else {
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := engine.New(cfg, database)
	if err := eng.Start(ctx); err != nil {
		slog.Error("engine start failed", slog.Any("err", err))
		os.Exit(1)
	}

	go func() {
		deps := server.Deps{
			Cfg:        cfg,
			DB:         database,
			Hub:        eng.Hub,
			Connectors: eng.Connectors,
			Tokens:     eng.Tokens,
			Emotes:     eng.Emotes,
		}
		if err := server.Start(ctx, deps, cfg.Addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	eng.Shutdown()
}

// setupLogging configures the default slog handler from LOG_LEVEL and
// LOG_FORMAT (text | json).
func setupLogging() {
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
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))
}
