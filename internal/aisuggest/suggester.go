package aisuggest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/yishak-cs/cartrecs/internal/apperr"
	"github.com/yishak-cs/cartrecs/internal/logger"
	"github.com/yishak-cs/cartrecs/internal/models"
	"github.com/yishak-cs/cartrecs/internal/store"
)

// DefaultRationale is used when the provider omits one.
const DefaultRationale = "AI-powered recommendations based on your preferences"

// PreferenceStats reads a user's purchase aggregates for the preference summary.
type PreferenceStats interface {
	UserItemStats(ctx context.Context, userID string, limit int) ([]models.UserItemStat, error)
}

// Config tunes the adapter.
type Config struct {
	Enabled         bool          `koanf:"enabled"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	MenuSampleSize  int           `koanf:"menu_sample_size" validate:"gte=1"`
	RuleSampleSize  int           `koanf:"rule_sample_size" validate:"gte=0"`
	MaxSuggestions  int           `koanf:"max_suggestions" validate:"gte=1"`
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"gte=1"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"gt=0"`
	OpenAI          OpenAIConfig  `koanf:"openai"`
}

// DefaultConfig returns a 4s timeout, 10 menu items, 6 rules and a breaker
// that opens after 5 consecutive failures for 30s.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Timeout:         4 * time.Second,
		MenuSampleSize:  10,
		RuleSampleSize:  6,
		MaxSuggestions:  3,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
		OpenAI:          DefaultOpenAIConfig(),
	}
}

type parsedSuggestion struct {
	ItemIDs   []string
	Rationale string
}

// Suggester wraps an untrusted generative provider. Every failure is turned
// into an Unavailable result; it never returns an error or panics upward.
type Suggester struct {
	provider Provider
	catalog  Catalog
	edges    store.Reader
	stats    PreferenceStats
	cfg      Config
	breaker  *gobreaker.CircuitBreaker[parsedSuggestion]
	log      *logger.Logger
}

// New creates the adapter. provider may be nil when AI is disabled. stats may
// be nil, in which case no preference summary is sent.
func New(provider Provider, catalog Catalog, edges store.Reader, stats PreferenceStats, cfg Config, log *logger.Logger) *Suggester {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MenuSampleSize < 1 {
		cfg.MenuSampleSize = def.MenuSampleSize
	}
	if cfg.MaxSuggestions < 1 {
		cfg.MaxSuggestions = def.MaxSuggestions
	}
	if cfg.BreakerFailures < 1 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}

	log = log.With("component", "AISuggester")
	settings := gobreaker.Settings{
		Name:    "ai-suggester",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("AI circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &Suggester{
		provider: provider,
		catalog:  catalog,
		edges:    edges,
		stats:    stats,
		cfg:      cfg,
		breaker:  gobreaker.NewCircuitBreaker[parsedSuggestion](settings),
		log:      log,
	}
}

// Suggest asks the provider for complementary items for cart.
func (s *Suggester) Suggest(ctx context.Context, cart []string, userID string) Result {
	if s == nil || s.provider == nil || !s.cfg.Enabled {
		return Unavailable(apperr.ErrNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	menu, err := s.catalog.ActiveMenu(ctx)
	if err != nil {
		return s.unavailable(ctx, apperr.NewAIError(apperr.AIKindCatalog, fmt.Errorf("load active menu: %w", err)))
	}
	active := make(map[string]models.MenuItem, len(menu))
	for _, m := range menu {
		if m.Active {
			active[m.ID] = m
		}
	}

	summary := s.buildContext(ctx, cart, userID, menu, active)
	system, user, err := buildPrompts(summary, s.cfg.MaxSuggestions)
	if err != nil {
		return s.unavailable(ctx, apperr.NewAIError(apperr.AIKindMalformed, err))
	}

	parsed, err := s.breaker.Execute(func() (parsedSuggestion, error) {
		content, err := s.provider.Complete(ctx, system, user)
		if err != nil {
			return parsedSuggestion{}, err
		}
		ids, rationale, err := ParseSuggestion(content)
		if err != nil {
			return parsedSuggestion{}, apperr.NewAIError(apperr.AIKindMalformed, err)
		}
		return parsedSuggestion{ItemIDs: ids, Rationale: rationale}, nil
	})
	if err != nil {
		return s.unavailable(ctx, err)
	}

	valid := FilterCatalog(parsed.ItemIDs, active)
	if dropped := len(parsed.ItemIDs) - len(valid); dropped > 0 {
		s.log.Debug("Dropped AI item ids not in active catalog", "dropped", dropped, "returned", len(parsed.ItemIDs))
	}
	return OK(valid, parsed.Rationale)
}

func (s *Suggester) unavailable(ctx context.Context, err error) Result {
	var pe *apperr.AIProviderError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		err = apperr.NewAIError(apperr.AIKindBreakerOpen, err)
	case errors.As(err, &pe):
		if pe.Kind != apperr.AIKindTimeout && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = apperr.NewAIError(apperr.AIKindTimeout, err)
		}
	case errors.Is(err, context.DeadlineExceeded):
		err = apperr.NewAIError(apperr.AIKindTimeout, err)
	default:
		err = apperr.NewAIError(apperr.AIKindTransport, err)
	}
	s.log.Warn("AI suggester unavailable, falling back", "error", err)
	return Unavailable(err)
}

func (s *Suggester) buildContext(ctx context.Context, cart []string, userID string, menu []models.MenuItem, active map[string]models.MenuItem) ContextSummary {
	summary := ContextSummary{
		MenuItems: sampleMenu(menu, s.cfg.MenuSampleSize),
		CartItems: len(cart),
	}
	if s.edges != nil && s.cfg.RuleSampleSize > 0 {
		summary.RuleEdges = sampleRules(s.edges.Current().ForItems(cart), active, s.cfg.RuleSampleSize)
	}
	if userID != "" && s.stats != nil {
		stats, err := s.stats.UserItemStats(ctx, userID, 0)
		if err != nil {
			s.log.Debug("Skipping preference summary", "user_id", userID, "error", err)
		} else {
			summary.UserPreferences = summarizePreferences(stats, active)
		}
	}
	return summary
}

func buildPrompts(summary ContextSummary, max int) (string, string, error) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return "", "", fmt.Errorf("encode context: %w", err)
	}
	system := fmt.Sprintf(`You recommend restaurant menu items. Given the cart, association rules mined from past orders and the customer's history, return up to %d menu item ids to add.

- Prefer complementary items (drinks with meals, desserts with mains).
- Never suggest items already in the cart.
- Stay inside the customer's usual price band when one is given.
- Treat the association rules as the primary signal.
- Only use ids from the context.

Answer with JSON only: {"item_ids": ["<id>", ...], "rationale": "<one short sentence>"}

Context: %s`, max, raw)
	user := fmt.Sprintf("The cart has %d items. Suggest complementary items.", summary.CartItems)
	return system, user, nil
}

type rawSuggestion struct {
	ItemIDs   *[]string `json:"item_ids"`
	Rationale *string   `json:"rationale"`
}

// ParseSuggestion strictly decodes provider output into ids and rationale.
// The payload must be a JSON object with an item_ids string array; a missing
// rationale is replaced with DefaultRationale.
func ParseSuggestion(content string) ([]string, string, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, "", errors.New("empty provider content")
	}

	var raw rawSuggestion
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, "", fmt.Errorf("decode suggestion: %w", err)
	}
	if raw.ItemIDs == nil {
		return nil, "", errors.New("suggestion is missing item_ids")
	}

	rationale := DefaultRationale
	if raw.Rationale != nil && strings.TrimSpace(*raw.Rationale) != "" {
		rationale = strings.TrimSpace(*raw.Rationale)
	}
	return *raw.ItemIDs, rationale, nil
}

// FilterCatalog keeps ids present in active, in order, without duplicates.
func FilterCatalog(ids []string, active map[string]models.MenuItem) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if _, ok := active[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
