package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/brunobiangulo/nexus"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	cfg, err := nexus.LoadConfig(*configPath)
	if err != nil {
		zap.NewExample().Fatal("loading config", zap.Error(err))
	}

	logger, err := nexus.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		zap.NewExample().Fatal("creating logger", zap.Error(err))
	}
	defer logger.Sync()

	apiKey := os.Getenv("NEXUS_API_KEY")
	corsOrigins := os.Getenv("NEXUS_CORS_ORIGINS")

	engine, err := nexus.New(cfg, nexus.WithLogger(logger))
	if err != nil {
		logger.Fatal("creating engine", zap.Error(err))
	}
	defer engine.Close()

	h := newHandler(engine, logger)
	mux := h.routes()

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(logger, handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(logger, handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // ingest can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-done
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}
