package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Status is the /status document.
type Status struct {
	ClientID  string `json:"client_id"`
	Broker    string `json:"broker"`
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
	Pending   int    `json:"pending"`
	Timeouts  uint32 `json:"timeouts"`
	Dropped   uint64 `json:"dropped"`
	Outputs   []bool `json:"outputs"`
}

// StatusFunc must be safe to call from any goroutine.
type StatusFunc func() Status

func Router(e *Engine, status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{}))
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			log.WithError(err).Debug("Error writing status")
		}
	})
	return r
}

// Serve runs the status server on address until ctx is done.
func Serve(ctx context.Context, address string, h http.Handler) error {
	srv := http.Server{
		Addr:              address,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	log.WithField("address", address).Info("Serving status and metrics")

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
