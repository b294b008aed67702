package models

import "time"

// OrderStatusCompleted is the only terminal status whose orders feed rule mining
const OrderStatusCompleted = "completed"

// OrderLine is a single (order, item) row from a completed order
type OrderLine struct {
	OrderID string `json:"order_id"`
	ItemID  string `json:"item_id"`
}

// MenuItem represents a menu item
type MenuItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
	Active   bool    `json:"active"`
}

// UserItemStat is the per-user purchase aggregate maintained by order fulfillment
type UserItemStat struct {
	UserID          string    `json:"user_id"`
	ItemID          string    `json:"item_id"`
	Purchases       int       `json:"purchases"`
	LastPurchasedAt time.Time `json:"last_purchased_at"`
}

// RecommendationEdge is a directed "customers who bought X also bought Y" rule
type RecommendationEdge struct {
	ItemID            string  `json:"item_id"`
	RecommendedItemID string  `json:"recommended_item_id"`
	Support           float64 `json:"support"`
	Confidence        float64 `json:"confidence"`
	Lift              float64 `json:"lift"`
}

// Source identifies where a suggestion came from
type Source string

const (
	SourceAI           Source = "ai"
	SourceRule         Source = "rule"
	SourcePersonalized Source = "personalized"
	SourcePopular      Source = "popular"
)

// Suggestion represents a recommended item with its score and explanation
type Suggestion struct {
	ID        string  `json:"id"`
	Score     float64 `json:"score"`
	Source    Source  `json:"source"`
	Rationale string  `json:"rationale,omitempty"`
}

// View selects the result cap for a suggestion request
type View string

const (
	ViewDetail View = "detail"
	ViewCart   View = "cart"
)

// SuggestionRequest is the online request for cart suggestions
type SuggestionRequest struct {
	CartItemIDs []string `json:"cart_item_ids"`
	UserID      string   `json:"user_id,omitempty"`
	SessionID   string   `json:"-"`
	View        View     `json:"-"`
}

// RequestState is the terminal state of a single suggestion request
type RequestState string

const (
	StateIdle     RequestState = "idle"
	StateFetching RequestState = "fetching"
	StateMerged   RequestState = "merged"
	StateDegraded RequestState = "degraded"
)

// SuggestionResponse is the merged, ranked answer for a suggestion request
type SuggestionResponse struct {
	Suggestions        []Suggestion `json:"suggestions"`
	UsedFallback       bool         `json:"used_fallback"`
	ShowFallbackNotice bool         `json:"show_fallback_notice"`
	Fingerprint        string       `json:"fingerprint"`
	State              RequestState `json:"state"`
	Superseded         bool         `json:"superseded,omitempty"`
}

// RefreshOutcome describes how a mining run ended
type RefreshOutcome string

const (
	OutcomePublished         RefreshOutcome = "published"
	OutcomeNoQualifyingRules RefreshOutcome = "no_qualifying_rules"
)

// RefreshAnalysis carries the statistics of a mining run
type RefreshAnalysis struct {
	TotalOrders        int                  `json:"total_orders"`
	UniqueItems        int                  `json:"unique_items"`
	ItemPairs          int                  `json:"item_pairs"`
	SkippedRecords     int                  `json:"skipped_records"`
	MinSupport         float64              `json:"min_support"`
	MinConfidence      float64              `json:"min_confidence"`
	TopRecommendations []RecommendationEdge `json:"top_recommendations,omitempty"`
}

// RefreshReport is returned by every rule refresh
type RefreshReport struct {
	RunID                  string          `json:"run_id"`
	Outcome                RefreshOutcome  `json:"outcome"`
	RecommendationsUpdated int             `json:"recommendations_updated"`
	Version                int64           `json:"version"`
	StartedAt              time.Time       `json:"started_at"`
	Duration               time.Duration   `json:"duration"`
	Analysis               RefreshAnalysis `json:"analysis"`
}
