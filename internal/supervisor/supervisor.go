// Package supervisor runs the long-lived parts of the server under a suture
// tree so a crashed service is restarted instead of taking the process down.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/yishak-cs/cartrecs/internal/logger"
)

// New builds the root supervisor. Supervisor events are logged through log.
func New(name string, shutdownTimeout time.Duration, log *logger.Logger) *suture.Supervisor {
	log = log.With("component", "Supervisor")
	return suture.New(name, suture.Spec{
		EventHook: func(e suture.Event) {
			switch e.Type() {
			case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate:
				log.Error("Supervised service failed", "event", e.String())
			default:
				log.Warn("Supervisor event", "event", e.String())
			}
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          shutdownTimeout,
	})
}

// HTTPService serves an http.Server until its context is cancelled, then
// shuts it down gracefully.
type HTTPService struct {
	server          *http.Server
	shutdownTimeout time.Duration
	log             *logger.Logger
}

// NewHTTPService wraps server.
func NewHTTPService(server *http.Server, shutdownTimeout time.Duration, log *logger.Logger) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		log:             log.With("component", "HTTPServer"),
	}
}

// Serve implements suture.Service.
func (h *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		h.log.Info("Server starting", "addr", h.server.Addr)
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		h.log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPService) String() string { return "http-server" }
