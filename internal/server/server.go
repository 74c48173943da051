package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbmigrate/internal/config"
	"github.com/arwahdevops/dbmigrate/internal/metrics"
)

// Pinger reports whether the migration target is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHandler builds the mux for metrics, health checks and pprof. target may
// be nil when the run needs no database.
func NewHandler(cfg *config.Config, metricsStore *metrics.Store, target Pinger, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(metricsStore.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if target == nil {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "Ready (offline run)")
			return
		}
		pingCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := target.Ping(pingCtx); err != nil {
			log.Warn("Readiness check failed", zap.NamedError("target_ping_error", err))
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "Not Ready: target_db_status=Error (%v)\n", err)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "Ready")
	})

	if cfg.EnablePprof {
		log.Info("Enabling pprof endpoints on /debug/pprof/")
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// RunHTTPServer serves NewHandler on cfg.MetricsPort until ctx is cancelled.
func RunHTTPServer(ctx context.Context, cfg *config.Config, metricsStore *metrics.Store, target Pinger, logger *zap.Logger) {
	log := logger.Named("http-server")

	addr := fmt.Sprintf(":%d", cfg.MetricsPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(cfg, metricsStore, target, log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server ListenAndServe error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}
}
