package personalize

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/yishak-cs/cartrecs/internal/logger"
	"github.com/yishak-cs/cartrecs/internal/models"
	"github.com/yishak-cs/cartrecs/internal/store"
)

// StatsSource reads the per-user purchase aggregates. limit <= 0 means all rows.
type StatsSource interface {
	UserItemStats(ctx context.Context, userID string, limit int) ([]models.UserItemStat, error)
}

// Config tunes the scorer.
type Config struct {
	TopK          int           `koanf:"top_k" validate:"gte=1"`
	RecencyWindow time.Duration `koanf:"recency_window" validate:"gt=0"`
	RecencyFloor  float64       `koanf:"recency_floor" validate:"gt=0,lte=1"`
	Limit         int           `koanf:"limit" validate:"gte=1"`
}

// DefaultConfig returns K=3, a 30 day window, a 0.1 floor and 3 results.
func DefaultConfig() Config {
	return Config{
		TopK:          3,
		RecencyWindow: 30 * 24 * time.Hour,
		RecencyFloor:  0.1,
		Limit:         3,
	}
}

// Scorer ranks recommendation edges for a specific user.
type Scorer struct {
	stats StatsSource
	edges store.Reader
	cfg   Config
	log   *logger.Logger
	now   func() time.Time
}

// NewScorer creates a scorer. stats may be nil, in which case every user is
// served global popularity.
func NewScorer(stats StatsSource, edges store.Reader, cfg Config, log *logger.Logger) *Scorer {
	def := DefaultConfig()
	if cfg.TopK < 1 {
		cfg.TopK = def.TopK
	}
	if cfg.RecencyWindow <= 0 {
		cfg.RecencyWindow = def.RecencyWindow
	}
	if cfg.Limit < 1 {
		cfg.Limit = def.Limit
	}
	if cfg.RecencyFloor <= 0 || cfg.RecencyFloor > 1 {
		cfg.RecencyFloor = def.RecencyFloor
	}
	return &Scorer{
		stats: stats,
		edges: edges,
		cfg:   cfg,
		log:   log.With("component", "PersonalizationScorer"),
		now:   time.Now,
	}
}

// RecencyWeight decays linearly from 1 to floor over window, measured in whole
// days since last. A zero last time carries full weight.
func RecencyWeight(last, now time.Time, window time.Duration, floor float64) float64 {
	if last.IsZero() {
		return 1
	}
	days := math.Floor(now.Sub(last).Hours() / 24)
	if days < 0 {
		days = 0
	}
	windowDays := window.Hours() / 24
	return math.Max(floor, 1-days/windowDays)
}

// Score returns up to Limit suggestions for userID. Users without history,
// or whose history cannot be read, get global popularity.
func (s *Scorer) Score(ctx context.Context, userID string) ([]models.Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.edges.Current()
	if userID == "" || s.stats == nil {
		return s.popular(snap, nil, s.cfg.Limit), nil
	}

	stats, err := s.stats.UserItemStats(ctx, userID, s.cfg.TopK)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn("Failed to read user item stats, using popularity", "user_id", userID, "error", err)
		return s.popular(snap, nil, s.cfg.Limit), nil
	}
	top := TopItems(stats, s.cfg.TopK)
	if len(top) == 0 {
		return s.popular(snap, nil, s.cfg.Limit), nil
	}

	now := s.now()
	best := make(map[string]models.Suggestion)
	for _, stat := range top {
		weight := RecencyWeight(stat.LastPurchasedAt, now, s.cfg.RecencyWindow, s.cfg.RecencyFloor)
		for _, e := range snap.Outgoing(stat.ItemID) {
			score := e.Confidence * weight
			if cur, ok := best[e.RecommendedItemID]; ok && cur.Score >= score {
				continue
			}
			best[e.RecommendedItemID] = models.Suggestion{
				ID:        e.RecommendedItemID,
				Score:     score,
				Source:    models.SourcePersonalized,
				Rationale: "Goes well with items you order often",
			}
		}
	}

	ranked := make([]models.Suggestion, 0, len(best))
	for _, sug := range best {
		ranked = append(ranked, sug)
	}
	sortByScore(ranked)
	if len(ranked) > s.cfg.Limit {
		ranked = ranked[:s.cfg.Limit]
	}

	if len(ranked) < s.cfg.Limit {
		selected := make(map[string]struct{}, len(ranked))
		for _, sug := range ranked {
			selected[sug.ID] = struct{}{}
		}
		backfill := s.popular(snap, selected, s.cfg.Limit-len(ranked))
		sortByScore(backfill)
		ranked = append(ranked, backfill...)
	}
	return ranked, nil
}

// Popular returns up to n popularity suggestions not in exclude.
func (s *Scorer) Popular(exclude map[string]struct{}, n int) []models.Suggestion {
	return s.popular(s.edges.Current(), exclude, n)
}

// popular walks edges by support then lift, one suggestion per recommended
// item, scored support x lift.
func (s *Scorer) popular(snap *store.Snapshot, exclude map[string]struct{}, n int) []models.Suggestion {
	if n <= 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []models.Suggestion
	for _, e := range snap.Popular() {
		if _, skip := exclude[e.RecommendedItemID]; skip {
			continue
		}
		if _, dup := seen[e.RecommendedItemID]; dup {
			continue
		}
		seen[e.RecommendedItemID] = struct{}{}
		out = append(out, models.Suggestion{
			ID:        e.RecommendedItemID,
			Score:     e.Support * e.Lift,
			Source:    models.SourcePopular,
			Rationale: "Popular pairing with other customers",
		})
		if len(out) == n {
			break
		}
	}
	return out
}

// TopItems orders stats by purchases, then most recent purchase, and keeps k.
func TopItems(stats []models.UserItemStat, k int) []models.UserItemStat {
	sorted := make([]models.UserItemStat, len(stats))
	copy(sorted, stats)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Purchases != sorted[j].Purchases {
			return sorted[i].Purchases > sorted[j].Purchases
		}
		return sorted[i].LastPurchasedAt.After(sorted[j].LastPurchasedAt)
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}

func sortByScore(s []models.Suggestion) {
	sort.SliceStable(s, func(i, j int) bool {
		if s[i].Score != s[j].Score {
			return s[i].Score > s[j].Score
		}
		return s[i].ID < s[j].ID
	})
}
