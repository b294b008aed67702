package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yishak-cs/cartrecs/internal/models"
)

const orderStatusCompleted = models.OrderStatusCompleted

// Neo4jLedger reads orders, purchase history and the menu from the graph.
//
// Graph model:
//
//	(:User)-[:HAS_MADE]->(:Order {status, created_at})-[:HAS_ITEM {quantity}]->(:Item)
//	(:User)-[:HAS_ORDERED {times, last_ordered_at}]->(:Item)
//
// Orders without a status are treated as completed.
type Neo4jLedger struct {
	client *Neo4jClient
}

// NewNeo4jLedger creates a ledger over client.
func NewNeo4jLedger(client *Neo4jClient) *Neo4jLedger {
	return &Neo4jLedger{client: client}
}

// CompletedOrderLines returns one row per (order, item) of every completed order.
func (l *Neo4jLedger) CompletedOrderLines(ctx context.Context) ([]models.OrderLine, error) {
	query := `
		MATCH (o:Order)-[:HAS_ITEM]->(i:Item)
		WHERE coalesce(o.status, $completed) = $completed
		RETURN toString(o.db_id) AS order_id, toString(i.db_id) AS item_id
	`

	results, err := l.client.ExecuteRead(ctx, query, map[string]interface{}{"completed": orderStatusCompleted})
	if err != nil {
		return nil, fmt.Errorf("failed to read completed order lines: %w", err)
	}

	lines := make([]models.OrderLine, 0, len(results))
	for _, result := range results {
		lines = append(lines, models.OrderLine{
			OrderID: asString(result["order_id"]),
			ItemID:  asString(result["item_id"]),
		})
	}
	return lines, nil
}

// UserItemStats answers: "What does a user order most, and when did they last order it?"
// Rows come back by purchases descending, most recent first on ties.
func (l *Neo4jLedger) UserItemStats(ctx context.Context, userID string, limit int) ([]models.UserItemStat, error) {
	// Graph user ids are integers; anything else has no history.
	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return nil, nil
	}

	query := `
		MATCH (u:User {db_id: $userId})-[ho:HAS_ORDERED]->(i:Item)
		OPTIONAL MATCH (u)-[:HAS_MADE]->(o:Order)-[:HAS_ITEM]->(i)
		WHERE coalesce(o.status, $completed) = $completed
		WITH i, ho, max(o.created_at) AS last_order
		RETURN toString(i.db_id) AS item_id,
			   ho.times AS times,
			   coalesce(ho.last_ordered_at, last_order) AS last_ordered_at
		ORDER BY times DESC, last_ordered_at DESC
	`
	params := map[string]interface{}{
		"userId":    uid,
		"completed": orderStatusCompleted,
	}
	if limit > 0 {
		query += " LIMIT $limit"
		params["limit"] = limit
	}

	results, err := l.client.ExecuteRead(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get user item stats: %w", err)
	}

	stats := make([]models.UserItemStat, 0, len(results))
	for _, result := range results {
		stats = append(stats, models.UserItemStat{
			UserID:          userID,
			ItemID:          asString(result["item_id"]),
			Purchases:       asInt(result["times"]),
			LastPurchasedAt: asTime(result["last_ordered_at"]),
		})
	}
	return stats, nil
}

// ActiveMenu returns every item not explicitly marked inactive.
func (l *Neo4jLedger) ActiveMenu(ctx context.Context) ([]models.MenuItem, error) {
	query := `
		MATCH (i:Item)
		WHERE coalesce(i.active, true)
		RETURN toString(i.db_id) AS item_id,
			   i.name AS name,
			   i.price AS price,
			   i.category AS category
		ORDER BY name
	`

	results, err := l.client.ExecuteRead(ctx, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get active menu: %w", err)
	}

	menu := make([]models.MenuItem, 0, len(results))
	for _, result := range results {
		menu = append(menu, models.MenuItem{
			ID:       asString(result["item_id"]),
			Name:     asString(result["name"]),
			Category: asString(result["category"]),
			Price:    asFloat(result["price"]),
			Active:   true,
		})
	}
	return menu, nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v interface{}) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	default:
		return 0
	}
}

// asTime accepts DATETIME, LOCAL DATETIME and DATE values.
func asTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case neo4j.LocalDateTime:
		return t.Time()
	case neo4j.Date:
		return t.Time()
	default:
		return time.Time{}
	}
}
