package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stuckorders/stuckorders/server/internal/alerts"
	"github.com/stuckorders/stuckorders/server/internal/api"
	"github.com/stuckorders/stuckorders/server/internal/auth"
	"github.com/stuckorders/stuckorders/server/internal/config"
	"github.com/stuckorders/stuckorders/server/internal/store"
	"github.com/stuckorders/stuckorders/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "server.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with secrets")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("stuckorders-server starting", "config", *configPath)

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		slog.Error("failed to load env file", "path", *envFile, "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"session_ttl", sc.Session.TTL,
		"default_churn_threshold", sc.Analysis.DefaultChurnThreshold,
		"alert_rules", len(sc.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New(sc.Session.TTL)

	alertEngine := alerts.New(sc.Alerts)

	handler := api.New(st, alertEngine, api.Options{
		MaxUploadBytes:        sc.MaxUploadBytes,
		DefaultChurnThreshold: sc.Analysis.DefaultChurnThreshold,
	})

	hub := ws.New(handler, sc.BroadcastInterval)
	handler.SetNotifier(hub)
	go hub.Run(ctx)

	st.OnEvict(func(id string) {
		slog.Info("session expired", "id", id)
		handler.Forget(id)
		hub.SessionClosed(id)
	})
	go st.Run(ctx)

	requireAuth := auth.Middleware(sc.Auth.Mode, sc.Auth.EffectiveHeader(), sc.Auth.Key(), sc.Auth.Secret())

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/v1/health", handler) // probes stay unauthenticated
	httpMux.Handle("/api/", requireAuth(handler))
	httpMux.Handle("/metrics", requireAuth(handler))
	httpMux.Handle(ws.PathPrefix, requireAuth(hub))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", sc.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("stuckorders-server shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
