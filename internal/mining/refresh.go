package mining

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yishak-cs/cartrecs/internal/apperr"
	"github.com/yishak-cs/cartrecs/internal/logger"
	"github.com/yishak-cs/cartrecs/internal/metrics"
	"github.com/yishak-cs/cartrecs/internal/models"
	"github.com/yishak-cs/cartrecs/internal/store"
)

// Ledger supplies (order, item) rows of completed orders.
type Ledger interface {
	CompletedOrderLines(ctx context.Context) ([]models.OrderLine, error)
}

// EdgeSink persists a complete edge set. Implementations must replace the
// previous set atomically: readers see either the old or the new set.
//
// The sink assigns the version inside its own transaction: at least
// minVersion and above anything it already holds. The assigned version is
// returned.
type EdgeSink interface {
	ReplaceEdges(ctx context.Context, minVersion int64, edges []models.RecommendationEdge) (int64, error)
}

// EdgeLoader reads back the last persisted edge set.
type EdgeLoader interface {
	LoadEdges(ctx context.Context) (version int64, edges []models.RecommendationEdge, err error)
}

const topRecommendationsInReport = 5

// Refresher runs the offline mining job and publishes its result.
// Runs are serialized: at most one refresh touches the store at a time.
type Refresher struct {
	ledger     Ledger
	store      *store.Store
	sinks      []EdgeSink
	thresholds Thresholds
	log        *logger.Logger

	mu  sync.Mutex
	rep atomic.Pointer[models.RefreshReport]
	now func() time.Time
}

// NewRefresher creates a refresher. sinks are written, in order, before the
// in-memory store is swapped.
func NewRefresher(ledger Ledger, st *store.Store, th Thresholds, log *logger.Logger, sinks ...EdgeSink) *Refresher {
	return &Refresher{
		ledger:     ledger,
		store:      st,
		sinks:      sinks,
		thresholds: th,
		log:        log.With("component", "RuleRefresher"),
		now:        time.Now,
	}
}

// Thresholds returns the thresholds used by every run.
func (r *Refresher) Thresholds() Thresholds {
	return r.thresholds
}

// LastReport returns the report of the most recent completed run, or nil.
func (r *Refresher) LastReport() *models.RefreshReport {
	return r.rep.Load()
}

// Refresh mines the ledger and publishes the new edge set.
//
// A ledger failure returns a DataError and leaves the store untouched. An
// empty rule set is reported with OutcomeNoQualifyingRules and also leaves the
// store untouched. A sink failure aborts before the in-memory swap.
func (r *Refresher) Refresh(ctx context.Context) (*models.RefreshReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := r.now()
	runID := uuid.NewString()
	log := r.log.With("run_id", runID)
	log.Info("Starting rule refresh",
		"min_support", r.thresholds.MinSupport,
		"min_confidence", r.thresholds.MinConfidence)

	report, err := r.run(ctx, log, runID, started)
	metrics.RefreshDuration.Observe(r.now().Sub(started).Seconds())
	if err != nil {
		metrics.RefreshRuns.WithLabelValues("error").Inc()
		log.Error("Rule refresh failed", "error", err)
		return nil, err
	}

	metrics.RefreshRuns.WithLabelValues(string(report.Outcome)).Inc()
	r.rep.Store(report)
	log.Info("Rule refresh completed",
		"outcome", report.Outcome,
		"edges", report.RecommendationsUpdated,
		"version", report.Version,
		"total_orders", report.Analysis.TotalOrders,
		"duration", report.Duration)
	return report, nil
}

func (r *Refresher) run(ctx context.Context, log *logger.Logger, runID string, started time.Time) (*models.RefreshReport, error) {
	lines, err := r.ledger.CompletedOrderLines(ctx)
	if err != nil {
		var de *apperr.DataError
		if !errors.As(err, &de) {
			err = &apperr.DataError{Op: "read completed orders", Err: err}
		}
		return nil, err
	}
	log.Debug("Loaded order lines", "lines", len(lines))

	counts, err := CountItemsets(ctx, lines, func(ce *apperr.ComputeError) {
		metrics.SkippedRecords.Inc()
		log.Warn("Skipping malformed ledger record", "error", ce)
	})
	if err != nil {
		return nil, fmt.Errorf("count itemsets: %w", err)
	}

	edges := GenerateRules(counts, r.thresholds)
	report := &models.RefreshReport{
		RunID:     runID,
		StartedAt: started,
		Analysis: models.RefreshAnalysis{
			TotalOrders:        counts.TotalOrders,
			UniqueItems:        len(counts.Items),
			ItemPairs:          len(counts.Pairs),
			SkippedRecords:     counts.SkippedRecords,
			MinSupport:         r.thresholds.MinSupport,
			MinConfidence:      r.thresholds.MinConfidence,
			TopRecommendations: TopByLift(edges, topRecommendationsInReport),
		},
	}

	current := r.store.Current()
	if len(edges) == 0 {
		report.Outcome = models.OutcomeNoQualifyingRules
		report.Version = current.Version
		report.Duration = r.now().Sub(started)
		log.Info("No qualifying rules, keeping active snapshot", "version", current.Version, "edges", current.Len())
		return report, nil
	}

	version := current.Version + 1
	for _, sink := range r.sinks {
		assigned, err := sink.ReplaceEdges(ctx, version, edges)
		if err != nil {
			return nil, fmt.Errorf("persist edge set v%d: %w", version, err)
		}
		if assigned > version {
			log.Info("Sink advanced rule set version", "from", version, "to", assigned)
			version = assigned
		}
	}

	snap, err := r.store.Publish(version, edges)
	if err != nil {
		return nil, fmt.Errorf("publish edge set v%d: %w", version, err)
	}
	metrics.PublishedEdges.Set(float64(snap.Len()))
	metrics.PublishedVersion.Set(float64(snap.Version))

	report.Outcome = models.OutcomePublished
	report.RecommendationsUpdated = snap.Len()
	report.Version = snap.Version
	report.Duration = r.now().Sub(started)
	return report, nil
}

// Warm loads the last persisted edge set into the in-memory store so a
// restarted process serves rules before its first refresh.
func (r *Refresher) Warm(ctx context.Context, loader EdgeLoader) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	version, edges, err := loader.LoadEdges(ctx)
	if err != nil {
		return &apperr.DataError{Op: "load persisted edges", Err: err}
	}
	if len(edges) == 0 {
		r.log.Info("No persisted edges to warm from")
		return nil
	}
	snap, err := r.store.Publish(version, edges)
	if err != nil {
		return err
	}
	metrics.PublishedEdges.Set(float64(snap.Len()))
	metrics.PublishedVersion.Set(float64(snap.Version))
	r.log.Info("Warmed recommendation store", "version", version, "edges", snap.Len())
	return nil
}
