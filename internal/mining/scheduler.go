package mining

import (
	"context"
	"time"

	"github.com/yishak-cs/cartrecs/internal/logger"
)

// Scheduler re-runs the refresher on a fixed interval. It implements
// suture.Service so the server's supervisor restarts it if it ever panics.
type Scheduler struct {
	refresher *Refresher
	interval  time.Duration
	onStart   bool
	log       *logger.Logger
}

// NewScheduler creates a scheduler. If runOnStart is set the first refresh
// happens immediately instead of after one interval.
func NewScheduler(r *Refresher, interval time.Duration, runOnStart bool, log *logger.Logger) *Scheduler {
	return &Scheduler{
		refresher: r,
		interval:  interval,
		onStart:   runOnStart,
		log:       log.With("component", "RefreshScheduler"),
	}
}

// Serve blocks until ctx is done.
func (s *Scheduler) Serve(ctx context.Context) error {
	if s.onStart {
		s.runOnce(ctx)
	}
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.refresher.Refresh(ctx); err != nil {
		// The refresher already logged the details; the previous snapshot stays live.
		s.log.Warn("Scheduled refresh failed", "error", err)
	}
}

func (s *Scheduler) String() string { return "rule-refresh-scheduler" }
