package aisuggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yishak-cs/cartrecs/internal/models"
)

func TestSummarizePreferences(t *testing.T) {
	menu := map[string]models.MenuItem{
		"1": {ID: "1", Category: "mains", Price: 9.5},
		"2": {ID: "2", Category: "sides", Price: 3},
		"3": {ID: "3", Category: "mains", Price: 12},
	}
	stats := []models.UserItemStat{
		{ItemID: "1", Purchases: 4},
		{ItemID: "2", Purchases: 2},
		{ItemID: "3", Purchases: 1},
		{ItemID: "gone", Purchases: 7},
	}

	summary := summarizePreferences(stats, menu)
	require.NotNil(t, summary)
	assert.Equal(t, []string{"mains", "sides"}, summary.TopCategories)
	assert.Equal(t, PriceBand{Min: 3, Max: 12}, summary.PriceBand)
	assert.Equal(t, 14, summary.OrderCount)

	assert.Nil(t, summarizePreferences(nil, menu))
}

func TestSampleRulesUsesNames(t *testing.T) {
	menu := map[string]models.MenuItem{"1": {ID: "1", Name: "Burger"}, "2": {ID: "2", Name: "Fries"}}
	edges := []models.RecommendationEdge{
		{ItemID: "1", RecommendedItemID: "2", Confidence: 0.7},
		{ItemID: "1", RecommendedItemID: "9", Confidence: 0.5},
	}

	got := sampleRules(edges, menu, 5)
	require.Len(t, got, 2)
	assert.Equal(t, RuleSample{BaseItem: "Burger", RecommendedItem: "Fries", RecommendedID: "2", Confidence: 0.7}, got[0])
	assert.Equal(t, "Unknown", got[1].RecommendedItem)

	assert.Len(t, sampleRules(edges, menu, 1), 1)
}
