package database

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yishak-cs/cartrecs/internal/apperr"
	"github.com/yishak-cs/cartrecs/internal/models"
)

// Neo4jEdgeSink persists the rule graph as versioned RECOMMENDS relationships.
// The (:RuleSet {name:'active'}) pointer is locked, the new version is
// written, the pointer is moved and older versions are removed inside one
// transaction, so graph readers never see an empty or mixed edge set.
type Neo4jEdgeSink struct {
	client *Neo4jClient
}

// NewNeo4jEdgeSink creates a sink over client.
func NewNeo4jEdgeSink(client *Neo4jClient) *Neo4jEdgeSink {
	return &Neo4jEdgeSink{client: client}
}

// ReplaceEdges atomically replaces the persisted rule graph with edges and
// returns the version it was stored under.
func (s *Neo4jEdgeSink) ReplaceEdges(ctx context.Context, minVersion int64, edges []models.RecommendationEdge) (int64, error) {
	if len(edges) == 0 {
		return 0, apperr.ErrEmptyEdgeSet
	}

	rows := make([]map[string]interface{}, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, map[string]interface{}{
			"item_id":             e.ItemID,
			"recommended_item_id": e.RecommendedItemID,
			"support":             e.Support,
			"confidence":          e.Confidence,
			"lift":                e.Lift,
		})
	}

	lock := `
		MERGE (r:RuleSet {name: 'active'})
		SET r.locked_at = datetime()
		RETURN coalesce(r.version, 0) AS version
	`
	clearVersion := `
		MATCH ()-[stale:RECOMMENDS {version: $version}]->()
		DELETE stale
	`
	insert := `
		UNWIND $edges AS e
		MATCH (a:Item {db_id: toInteger(e.item_id)})
		MATCH (b:Item {db_id: toInteger(e.recommended_item_id)})
		CREATE (a)-[:RECOMMENDS {
			version: $version,
			support: e.support,
			confidence: e.confidence,
			lift: e.lift
		}]->(b)
	`
	activate := `
		MERGE (r:RuleSet {name: 'active'})
		SET r.version = $version, r.published_at = datetime(), r.edges = $count
	`
	prune := `
		MATCH ()-[old:RECOMMENDS]->()
		WHERE old.version <> $version
		DELETE old
	`

	var version int64
	err := s.client.ExecuteWriteTransaction(ctx, func(tx neo4j.ManagedTransaction) error {
		res, err := tx.Run(ctx, lock, nil)
		if err != nil {
			return fmt.Errorf("lock rule set: %w", err)
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return fmt.Errorf("lock rule set: %w", err)
		}
		current, _ := rec.Get("version")
		version = max(int64(asInt(current))+1, minVersion)

		if _, err := tx.Run(ctx, clearVersion, map[string]interface{}{"version": version}); err != nil {
			return fmt.Errorf("clear version: %w", err)
		}
		if _, err := tx.Run(ctx, insert, map[string]interface{}{"edges": rows, "version": version}); err != nil {
			return fmt.Errorf("insert edges: %w", err)
		}
		if _, err := tx.Run(ctx, activate, map[string]interface{}{"version": version, "count": len(rows)}); err != nil {
			return fmt.Errorf("activate rule set: %w", err)
		}
		if _, err := tx.Run(ctx, prune, map[string]interface{}{"version": version}); err != nil {
			return fmt.Errorf("prune old edges: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to replace recommendation edges: %w", err)
	}

	s.client.log.Info("Persisted recommendation edges", "version", version, "edges", len(rows))
	return version, nil
}

// LoadEdges returns the active persisted version and its edges. A graph that
// has never been published returns version 0 and no edges.
func (s *Neo4jEdgeSink) LoadEdges(ctx context.Context) (int64, []models.RecommendationEdge, error) {
	query := `
		MATCH (r:RuleSet {name: 'active'})
		MATCH (a:Item)-[e:RECOMMENDS]->(b:Item)
		WHERE e.version = r.version
		RETURN r.version AS version,
			   toString(a.db_id) AS item_id,
			   toString(b.db_id) AS recommended_item_id,
			   e.support AS support,
			   e.confidence AS confidence,
			   e.lift AS lift
	`

	results, err := s.client.ExecuteRead(ctx, query, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to load recommendation edges: %w", err)
	}

	var version int64
	edges := make([]models.RecommendationEdge, 0, len(results))
	for _, result := range results {
		version = int64(asInt(result["version"]))
		edges = append(edges, models.RecommendationEdge{
			ItemID:            asString(result["item_id"]),
			RecommendedItemID: asString(result["recommended_item_id"]),
			Support:           asFloat(result["support"]),
			Confidence:        asFloat(result["confidence"]),
			Lift:              asFloat(result["lift"]),
		})
	}
	return version, edges, nil
}
