package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/yishak-cs/cartrecs/internal/aisuggest"
	"github.com/yishak-cs/cartrecs/internal/apperr"
	"github.com/yishak-cs/cartrecs/internal/logger"
	"github.com/yishak-cs/cartrecs/internal/metrics"
	"github.com/yishak-cs/cartrecs/internal/models"
	"github.com/yishak-cs/cartrecs/internal/session"
	"github.com/yishak-cs/cartrecs/internal/store"
)

// AISuggester is the generative suggestion boundary.
type AISuggester interface {
	Suggest(ctx context.Context, cart []string, userID string) aisuggest.Result
}

// PersonalScorer ranks edges for a user and serves global popularity.
type PersonalScorer interface {
	Score(ctx context.Context, userID string) ([]models.Suggestion, error)
	Popular(exclude map[string]struct{}, n int) []models.Suggestion
}

// Config holds the online tunables.
type Config struct {
	DetailLimit    int           `koanf:"detail_limit" validate:"gte=1"`
	CartLimit      int           `koanf:"cart_limit" validate:"gte=1"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

// DefaultConfig caps the detail view at 3, the cart view at 6 and bounds a
// request at 5s.
func DefaultConfig() Config {
	return Config{
		DetailLimit:    3,
		CartLimit:      6,
		RequestTimeout: 5 * time.Second,
	}
}

// RecommendationService handles all recommendation logic
type RecommendationService struct {
	ai       AISuggester
	edges    store.Reader
	scorer   PersonalScorer
	sessions *session.Coordinator
	cfg      Config
	flight   singleflight.Group
	log      *logger.Logger
}

// NewRecommendationService creates a new recommendation service
func NewRecommendationService(ai AISuggester, edges store.Reader, scorer PersonalScorer, sessions *session.Coordinator, cfg Config, log *logger.Logger) *RecommendationService {
	def := DefaultConfig()
	if cfg.DetailLimit < 1 {
		cfg.DetailLimit = def.DetailLimit
	}
	if cfg.CartLimit < 1 {
		cfg.CartLimit = def.CartLimit
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if sessions == nil {
		sessions = session.NewCoordinator(nil, 0, log)
	}
	return &RecommendationService{
		ai:       ai,
		edges:    edges,
		scorer:   scorer,
		sessions: sessions,
		cfg:      cfg,
		log:      log.With("service", "RecommendationService"),
	}
}

// Limit returns the result cap for view.
func (s *RecommendationService) Limit(view models.View) (int, error) {
	switch view {
	case models.ViewDetail:
		return s.cfg.DetailLimit, nil
	case models.ViewCart, "":
		return s.cfg.CartLimit, nil
	default:
		return 0, fmt.Errorf("%w: unknown view %q", apperr.ErrInvalidArgument, view)
	}
}

// execution is the shared result of one coalesced request.
type execution struct {
	suggestions []models.Suggestion
	fallback    bool
	state       models.RequestState
	ticket      session.Ticket
	superseded  bool
}

// Suggest answers a cart suggestion request. Identical in-flight requests
// share one execution; every caller gets its own notice decision. Sub-call
// failures never surface as errors.
func (s *RecommendationService) Suggest(ctx context.Context, req models.SuggestionRequest) (*models.SuggestionResponse, error) {
	limit, err := s.Limit(req.View)
	if err != nil {
		return nil, err
	}
	view := req.View
	if view == "" {
		view = models.ViewCart
	}
	cart := session.NormalizeCart(req.CartItemIDs)
	fp := session.Fingerprint(cart)
	userID := strings.TrimSpace(req.UserID)

	key := strings.Join([]string{req.SessionID, string(view), fp, userID, strconv.Itoa(limit)}, "\x00")
	ch := s.flight.DoChan(key, func() (interface{}, error) {
		// Detached so one caller disconnecting does not fail the others.
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RequestTimeout)
		defer cancel()
		return s.execute(runCtx, req.SessionID, view, cart, fp, userID, limit), nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	exec := res.Val.(*execution)

	resp := &models.SuggestionResponse{
		Suggestions:  append([]models.Suggestion(nil), exec.suggestions...),
		UsedFallback: exec.fallback,
		Fingerprint:  fp,
		State:        exec.state,
		Superseded:   exec.superseded,
	}
	if resp.Suggestions == nil {
		resp.Suggestions = []models.Suggestion{}
	}
	if resp.UsedFallback && !resp.Superseded {
		resp.ShowFallbackNotice = s.sessions.ClaimNotice(ctx, exec.ticket)
		if resp.ShowFallbackNotice {
			metrics.FallbackNotices.Inc()
		}
	}
	metrics.SuggestionRequests.WithLabelValues(string(resp.State), strconv.FormatBool(res.Shared)).Inc()
	return resp, nil
}

func (s *RecommendationService) execute(ctx context.Context, sessionID string, view models.View, cart []string, fp, userID string, limit int) *execution {
	ticket := s.sessions.Begin(sessionID, view, fp)

	var (
		aiRes    aisuggest.Result
		aiCalled = len(cart) > 0 && s.ai != nil
		rules    []models.RecommendationEdge
		personal []models.Suggestion
	)

	var g errgroup.Group
	if aiCalled {
		g.Go(func() error {
			defer observe("ai", time.Now())
			aiRes = s.ai.Suggest(ctx, cart, userID)
			metrics.AIResults.WithLabelValues(aiRes.Outcome()).Inc()
			return nil
		})
	}
	if len(cart) > 0 {
		g.Go(func() error {
			defer observe("rule", time.Now())
			rules = s.edges.Current().ForItems(cart)
			return nil
		})
	}
	g.Go(func() error {
		defer observe("personalized", time.Now())
		var err error
		personal, err = s.scorer.Score(ctx, userID)
		if err != nil {
			s.log.Warn("Failed to get personalized recommendations", "user_id", userID, "error", err)
			personal = nil
		}
		return nil
	})
	_ = g.Wait()

	if !aiCalled {
		aiRes = aisuggest.OK(nil, "")
	}
	degraded := !aiRes.Available()
	if degraded {
		s.log.Warn("Failed to get AI recommendations, using fallback", "fingerprint", fp, "outcome", aiRes.Outcome())
	}

	exec := &execution{
		suggestions: MergeSuggestions(cart, aiRes, rules, personal, limit),
		fallback:    degraded,
		ticket:      ticket,
	}
	state, current := s.sessions.Finish(ticket, degraded)
	exec.state = state
	exec.superseded = !current
	if exec.superseded {
		s.log.Debug("Discarding superseded suggestion result", "session_id", sessionID, "fingerprint", fp)
	}
	return exec
}

func observe(subcall string, start time.Time) {
	metrics.SubcallDuration.WithLabelValues(subcall).Observe(time.Since(start).Seconds())
}

// MergeSuggestions ranks candidates by source priority ai > rule >
// personalized/popular. Cart items and ids already taken by a higher
// priority source are skipped, and the result is capped at limit.
func MergeSuggestions(cart []string, ai aisuggest.Result, rules []models.RecommendationEdge, personal []models.Suggestion, limit int) []models.Suggestion {
	taken := make(map[string]struct{}, len(cart)+limit)
	for _, id := range cart {
		taken[id] = struct{}{}
	}
	out := make([]models.Suggestion, 0, limit)
	add := func(sug models.Suggestion) bool {
		if len(out) >= limit {
			return false
		}
		if _, dup := taken[sug.ID]; dup || sug.ID == "" {
			return true
		}
		taken[sug.ID] = struct{}{}
		out = append(out, sug)
		return len(out) < limit
	}

	if ai.Available() {
		for _, id := range ai.ItemIDs {
			if !add(models.Suggestion{ID: id, Score: 1.0, Source: models.SourceAI, Rationale: ai.Rationale}) {
				return out
			}
		}
	}
	for _, e := range rules {
		sug := models.Suggestion{
			ID:        e.RecommendedItemID,
			Score:     e.Confidence,
			Source:    models.SourceRule,
			Rationale: fmt.Sprintf("Customers who order %s also order this", e.ItemID),
		}
		if !add(sug) {
			return out
		}
	}
	for _, sug := range personal {
		if !add(sug) {
			return out
		}
	}
	return out
}

// ItemSuggestions serves the single item detail view.
func (s *RecommendationService) ItemSuggestions(ctx context.Context, itemID, userID, sessionID string) (*models.SuggestionResponse, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, fmt.Errorf("%w: item id is required", apperr.ErrInvalidArgument)
	}
	return s.Suggest(ctx, models.SuggestionRequest{
		CartItemIDs: []string{itemID},
		UserID:      userID,
		SessionID:   sessionID,
		View:        models.ViewDetail,
	})
}

// Personalized returns the personalization scorer's ranking for userID.
func (s *RecommendationService) Personalized(ctx context.Context, userID string) ([]models.Suggestion, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", apperr.ErrInvalidArgument)
	}
	out, err := s.scorer.Score(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get personalized recommendations: %w", err)
	}
	return out, nil
}

// Popular returns up to n globally popular pairings.
func (s *RecommendationService) Popular(n int) []models.Suggestion {
	if n < 1 {
		n = s.cfg.DetailLimit
	}
	return s.scorer.Popular(nil, n)
}

// SessionState exposes the coordinator state for one view of sessionID.
func (s *RecommendationService) SessionState(sessionID string, view models.View) (current, last models.RequestState, err error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", "", fmt.Errorf("%w: session id is required", apperr.ErrInvalidArgument)
	}
	if _, err := s.Limit(view); err != nil {
		return "", "", err
	}
	if view == "" {
		view = models.ViewCart
	}
	current, last = s.sessions.State(sessionID, view)
	return current, last, nil
}
