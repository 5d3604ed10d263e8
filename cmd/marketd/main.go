package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/AxsolTools/bonk1st-sub009/config"
	"github.com/AxsolTools/bonk1st-sub009/internal/collector"
	"github.com/AxsolTools/bonk1st-sub009/internal/metrics"
	"github.com/AxsolTools/bonk1st-sub009/logger"
	"github.com/AxsolTools/bonk1st-sub009/pkg/storage/postgres"
)

func main() {
	// Optional .env for local development; ignored when absent.
	_ = godotenv.Load()

	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres sink: derived state only, so a missing database degrades to
	// in-memory operation instead of refusing to start.
	var sink collector.Sink
	if cfg.Postgres.Host != "" {
		client, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true)
		if err != nil {
			log.Warn("postgres sink unavailable, continuing without persistence", zap.Error(err))
		} else {
			sink = client
			defer client.Close()
		}
	}

	svc := collector.New(cfg, sink, log)
	svc.Start(ctx)
	log.Info("market data service started",
		zap.String("stream_url", cfg.Stream.URL),
		zap.Int("rpc_pool_size", svc.GetRpcStatus().PoolSize))

	// Metrics and health endpoints (observability only, no data surface).
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","stream":"` + svc.StreamState().String() + `"}`))
	})

	server := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	_ = server.Close()
}
