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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lzyats/airship-go/pkg/airship"
	"github.com/lzyats/airship-go/pkg/metrics"
	"github.com/lzyats/airship-go/pkg/runner"
)

func main() {
	var cfgPaths string
	flag.StringVar(&cfgPaths, "c", os.Getenv("AIRSHIP_CONFIG"), "config file path (supports: a.yml,b.yml)")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	st, err := airship.Load(cfgPaths)
	if err != nil {
		log.Fatal("load config failed", zap.Error(err))
	}

	metrics.Register()
	go serveMetrics(st.Metrics.Addr, log)

	w, err := runner.NewWorker(st, log)
	if err != nil {
		log.Fatal("collector init failed", zap.Error(err))
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("collector stopped", zap.Error(err))
		return
	}
	log.Info("collector stopped")
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}
	log.Info("metrics listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("metrics server error", zap.Error(err))
	}
}
