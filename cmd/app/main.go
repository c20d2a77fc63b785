package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"esa_go/internal/api"
	"esa_go/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	_ "net/http/pprof" // For pprof profiling
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env file not found, using environment variables")
	}

	configPath := os.Getenv("ESA_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Shutdown()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Offline replay of a recorded connection
	if replay := os.Getenv("ESA_REPLAY"); replay != "" {
		runReplay(ctx, bootstrap, replay)
		return
	}

	// 4. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 5. Snapshot API and metrics endpoint
	if addr := bootstrap.Config.HTTP.Addr; addr != "" {
		gin.SetMode(gin.ReleaseMode)
		apiServer := api.NewServer(bootstrap.Service, bootstrap.Client, bootstrap.Metrics.Handler())
		srv := &http.Server{Addr: addr, Handler: apiServer.Router(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			slog.Info("📈 HTTP server started", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("HTTP server failed", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// 6. Stream client and subscriptions
	if err := bootstrap.Start(ctx); err != nil {
		slog.Error("❌ Failed to start stream", slog.Any("error", err))
		return
	}

	go func() {
		readyCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := bootstrap.Client.WaitReady(readyCtx); err != nil {
			slog.Warn("Stream not ready yet", slog.Any("error", err))
			return
		}
		slog.InfoContext(ctx, "✅ Stream authenticated and subscribed", slog.String("status", bootstrap.Client.Status().String()))
	}()

	slog.InfoContext(ctx, "✨ ESA stream client running. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")
}

func runReplay(ctx context.Context, bootstrap *app.Bootstrap, arg string) {
	var connection uint64
	if arg != "latest" {
		n, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			slog.Error("❌ ESA_REPLAY must be a connection number or 'latest'", slog.String("value", arg))
			return
		}
		connection = n
	}

	bootstrap.AttachSinks(ctx)
	stats, err := bootstrap.Replay(ctx, connection)
	if err != nil {
		slog.Error("❌ Replay failed", slog.Any("error", err))
		return
	}
	slog.Info("✨ Replay complete",
		slog.Int("frames", stats.Frames),
		slog.Int("skipped", stats.Skipped),
		slog.Int("malformed", stats.Malformed),
		slog.Int("markets", bootstrap.Service.Markets().Count()))
}
