package database

import (
	"context"
	"fmt"
)

// schemaStatements are idempotent; each runs in its own auto-commit query
// because Neo4j refuses schema and data changes in one transaction.
var schemaStatements = []struct {
	name  string
	query string
}{
	{"item_db_id", `CREATE CONSTRAINT item_db_id IF NOT EXISTS FOR (i:Item) REQUIRE i.db_id IS UNIQUE`},
	{"user_db_id", `CREATE CONSTRAINT user_db_id IF NOT EXISTS FOR (u:User) REQUIRE u.db_id IS UNIQUE`},
	{"order_db_id", `CREATE CONSTRAINT order_db_id IF NOT EXISTS FOR (o:Order) REQUIRE o.db_id IS UNIQUE`},
	{"rule_set_name", `CREATE CONSTRAINT rule_set_name IF NOT EXISTS FOR (r:RuleSet) REQUIRE r.name IS UNIQUE`},
	{"order_status", `CREATE INDEX order_status IF NOT EXISTS FOR (o:Order) ON (o.status)`},
	{"recommends_version", `CREATE INDEX recommends_version IF NOT EXISTS FOR ()-[r:RECOMMENDS]-() ON (r.version)`},
}

// EnsureSchema creates the constraints and indexes the ledger and edge sink
// rely on.
func (c *Neo4jClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if err := c.ExecuteWrite(ctx, stmt.query, nil); err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
		c.log.Debug("Schema statement applied", "name", stmt.name)
	}
	c.log.Info("Neo4j schema ready", "statements", len(schemaStatements))
	return nil
}

// Status returns node and relationship counts for the recommendation graph.
func (c *Neo4jClient) Status(ctx context.Context) (map[string]int, error) {
	query := `
		CALL { MATCH (i:Item) RETURN count(i) AS items }
		CALL { MATCH (o:Order) WHERE coalesce(o.status, $completed) = $completed RETURN count(o) AS completed_orders }
		CALL { MATCH (:User)-[ho:HAS_ORDERED]->(:Item) RETURN count(ho) AS has_ordered }
		CALL { MATCH ()-[r:RECOMMENDS]->() RETURN count(r) AS recommends }
		RETURN items, completed_orders, has_ordered, recommends
	`

	results, err := c.ExecuteRead(ctx, query, map[string]interface{}{"completed": orderStatusCompleted})
	if err != nil {
		return nil, err
	}

	status := map[string]int{
		"items":            0,
		"completed_orders": 0,
		"has_ordered":      0,
		"recommends":       0,
	}
	if len(results) == 0 {
		return status, nil
	}
	for key := range status {
		status[key] = asInt(results[0][key])
	}
	return status, nil
}
