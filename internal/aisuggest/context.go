package aisuggest

import (
	"context"
	"math"
	"sort"

	"github.com/yishak-cs/cartrecs/internal/models"
)

// Catalog lists the menu items currently on sale.
type Catalog interface {
	ActiveMenu(ctx context.Context) ([]models.MenuItem, error)
}

// ContextSummary is the bounded JSON context sent to the provider.
type ContextSummary struct {
	MenuItems       []MenuSample       `json:"menu_items"`
	RuleEdges       []RuleSample       `json:"mba_recommendations"`
	UserPreferences *PreferenceSummary `json:"user_preferences,omitempty"`
	CartItems       int                `json:"cart_items"`
}

// MenuSample is one catalog entry in the provider context.
type MenuSample struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	Price    float64 `json:"price"`
}

// RuleSample is one association rule touching the cart.
type RuleSample struct {
	BaseItem        string  `json:"base_item"`
	RecommendedItem string  `json:"recommended_item"`
	RecommendedID   string  `json:"recommended_id"`
	Confidence      float64 `json:"confidence"`
}

// PriceBand is the min and max price of items a user bought.
type PriceBand struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PreferenceSummary condenses a user's purchase history.
type PreferenceSummary struct {
	TopCategories []string  `json:"top_categories"`
	PriceBand     PriceBand `json:"avg_price_band"`
	OrderCount    int       `json:"total_orders"`
}

const topCategories = 3

// summarizePreferences builds a PreferenceSummary from a user's stats. Stats
// for items missing from the catalog are ignored. It returns nil for users
// without usable history.
func summarizePreferences(stats []models.UserItemStat, menu map[string]models.MenuItem) *PreferenceSummary {
	if len(stats) == 0 {
		return nil
	}

	categoryCount := make(map[string]int)
	band := PriceBand{Min: math.Inf(1), Max: math.Inf(-1)}
	orders := 0
	known := 0
	for _, st := range stats {
		orders += st.Purchases
		item, ok := menu[st.ItemID]
		if !ok {
			continue
		}
		known++
		if item.Category != "" {
			categoryCount[item.Category]++
		}
		band.Min = math.Min(band.Min, item.Price)
		band.Max = math.Max(band.Max, item.Price)
	}
	if known == 0 {
		band = PriceBand{}
	}

	cats := make([]string, 0, len(categoryCount))
	for c := range categoryCount {
		cats = append(cats, c)
	}
	sort.Slice(cats, func(i, j int) bool {
		if categoryCount[cats[i]] != categoryCount[cats[j]] {
			return categoryCount[cats[i]] > categoryCount[cats[j]]
		}
		return cats[i] < cats[j]
	})
	if len(cats) > topCategories {
		cats = cats[:topCategories]
	}

	return &PreferenceSummary{
		TopCategories: cats,
		PriceBand:     band,
		OrderCount:    orders,
	}
}

// sampleMenu picks up to n active items ordered by name.
func sampleMenu(menu []models.MenuItem, n int) []MenuSample {
	sorted := make([]models.MenuItem, 0, len(menu))
	for _, m := range menu {
		if m.Active {
			sorted = append(sorted, m)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Name != sorted[j].Name {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	out := make([]MenuSample, 0, len(sorted))
	for _, m := range sorted {
		out = append(out, MenuSample{ID: m.ID, Name: m.Name, Category: m.Category, Price: m.Price})
	}
	return out
}

// sampleRules converts the highest-confidence edges into provider context.
func sampleRules(edges []models.RecommendationEdge, menu map[string]models.MenuItem, n int) []RuleSample {
	if len(edges) > n {
		edges = edges[:n]
	}
	out := make([]RuleSample, 0, len(edges))
	for _, e := range edges {
		out = append(out, RuleSample{
			BaseItem:        nameOf(menu, e.ItemID),
			RecommendedItem: nameOf(menu, e.RecommendedItemID),
			RecommendedID:   e.RecommendedItemID,
			Confidence:      e.Confidence,
		})
	}
	return out
}

func nameOf(menu map[string]models.MenuItem, id string) string {
	if m, ok := menu[id]; ok && m.Name != "" {
		return m.Name
	}
	return "Unknown"
}
