package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadyFunc reports whether the daemon can serve traffic. A nil error means ready.
type ReadyFunc func(ctx context.Context) error

// MetricsServer serves Prometheus metrics and liveness/readiness probes
// on a listener separate from the workspace API.
type MetricsServer struct {
	addr   string
	logger *zap.Logger
	ready  ReadyFunc
	server *http.Server
	bound  chan string
}

// NewMetricsServer creates a new metrics server. ready may be nil.
func NewMetricsServer(addr string, ready ReadyFunc, logger *zap.Logger) *MetricsServer {
	ms := &MetricsServer{
		addr:   addr,
		logger: logger,
		ready:  ready,
		bound:  make(chan string, 1),
	}
	ms.server = &http.Server{
		Addr:              addr,
		Handler:           ms.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ms
}

// Handler returns the router serving /metrics, /health and /ready.
func (ms *MetricsServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ready", ms.readyHandler)
	return r
}

func (ms *MetricsServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if ms.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ms.ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprintf(w, "NOT READY: %v", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}

// Start binds the listener and serves in the background.
func (ms *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", ms.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ms.addr, err)
	}
	ms.bound <- ln.Addr().String()

	ms.logger.Info("Starting metrics server",
		zap.String("address", ln.Addr().String()),
	)

	go func() {
		if err := ms.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ms.logger.Error("Metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address once Start succeeded, or the configured one.
func (ms *MetricsServer) Addr() string {
	select {
	case addr := <-ms.bound:
		ms.bound <- addr
		return addr
	default:
		return ms.addr
	}
}

// Stop stops the metrics server gracefully
func (ms *MetricsServer) Stop(ctx context.Context) error {
	ms.logger.Info("Stopping metrics server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := ms.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}
	return nil
}
