package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/cartrecs/internal/logger"
)

func TestHTTPServiceStopsOnCancel(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	svc := NewHTTPService(srv, time.Second, logger.Nop())
	assert.Equal(t, "http-server", svc.String())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("http service did not stop")
	}
}

func TestHTTPServiceReportsListenError(t *testing.T) {
	srv := &http.Server{Addr: "256.0.0.1:bad", Handler: http.NotFoundHandler()}
	err := NewHTTPService(srv, 0, logger.Nop()).Serve(context.Background())
	assert.Error(t, err)
}

type flakyService struct {
	runs atomic.Int32
}

func (f *flakyService) Serve(ctx context.Context) error {
	if f.runs.Add(1) == 1 {
		return errors.New("first run fails")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestSupervisorRestartsFailedService(t *testing.T) {
	sup := New("test", time.Second, logger.Nop())
	svc := &flakyService{}
	sup.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := sup.ServeBackground(ctx)

	require.Eventually(t, func() bool { return svc.runs.Load() >= 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-errCh
}
