package workers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"vsnbridge/config"
	"vsnbridge/metrics"
	"vsnbridge/workers/handlers"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter mounts the REST API of the service node.
func NewRouter(h *handlers.Handlers, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(allowCORS)

	r.Get("/health/live", h.Live)
	r.Get("/health/nodes", h.NodesHealth)

	r.Post("/transfer", h.Transfer)
	r.Get("/transfer/{task_id}/status", h.TransferStatus)
	r.Get("/bids", h.Bids)

	r.Get("/balance/{blockchain}", h.Balance)

	r.Method(http.MethodGet, "/metrics", m.Handler())
	return r
}

// ServeHTTP runs the API server until ctx is done.
func ServeHTTP(ctx context.Context, cfg *config.Configuration, handler http.Handler, logger *logrus.Entry) error {
	logger.Infof("Starting HTTP service")

	addr := fmt.Sprintf("%s:%d", cfg.Application.Host, cfg.Application.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	useSSL := cfg.Application.UseSSL
	if useSSL {
		cert, err := tls.LoadX509KeyPair(cfg.Application.CertFile, cfg.Application.KeyFile)
		if err != nil {
			return fmt.Errorf("cannot load TLS key pair: %w", err)
		}
		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	errs := make(chan error, 1)
	go func() {
		var err error
		if useSSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errs <- fmt.Errorf("error listening to %s: %w", addr, err)
		}
		close(errs)
	}()
	logger.Infof("HTTP service started on %s", addr)

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	logger.Info("HTTP service stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP service shutdown error: %w", err)
	}
	logger.Info("HTTP service shutdown normal")
	return nil
}

// allowCORS opens every route to any origin and answers preflight requests
// without reaching the router.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
