// Package sqlstore is the relational ledger and edge sink, backed by gorm on
// Postgres or SQLite.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/yishak-cs/cartrecs/internal/apperr"
	"github.com/yishak-cs/cartrecs/internal/logger"
	"github.com/yishak-cs/cartrecs/internal/models"
)

// Config selects the SQL driver.
type Config struct {
	Driver string `koanf:"driver" validate:"omitempty,oneof=postgres sqlite"`
	DSN    string `koanf:"dsn"`
}

const insertBatch = 500

// Store implements the mining ledger, the personalization stats source, the
// AI catalog and a persistent edge sink over one database.
type Store struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open connects with cfg.Driver (postgres by default).
func Open(cfg Config, log *logger.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("missing SQL dsn")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported SQL driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLogger.Default.LogMode(gormLogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	return New(db, log), nil
}

// New wraps an existing connection.
func New(db *gorm.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log.With("service", "SQLStore")}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB { return s.db }

// AutoMigrate creates or updates every table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&MenuItemRow{},
		&OrderRow{},
		&OrderItemRow{},
		&UserItemStatRow{},
		&RecommendationRow{},
		&RuleSetRow{},
	)
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CompletedOrderLines returns one row per order line of every completed order.
func (s *Store) CompletedOrderLines(ctx context.Context) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := s.db.WithContext(ctx).
		Table("order_items").
		Select("order_items.order_id AS order_id, order_items.item_id AS item_id").
		Joins("JOIN orders ON orders.id = order_items.order_id").
		Where("orders.status = ?", models.OrderStatusCompleted).
		Scan(&lines).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read completed order lines: %w", err)
	}
	return lines, nil
}

// UserItemStats returns userID's aggregates by purchases, then recency.
func (s *Store) UserItemStats(ctx context.Context, userID string, limit int) ([]models.UserItemStat, error) {
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("purchases DESC").
		Order("last_purchased_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []UserItemStatRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get user item stats: %w", err)
	}

	stats := make([]models.UserItemStat, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, models.UserItemStat{
			UserID:          r.UserID,
			ItemID:          r.ItemID,
			Purchases:       r.Purchases,
			LastPurchasedAt: r.LastPurchasedAt,
		})
	}
	return stats, nil
}

// ActiveMenu returns every active menu item ordered by name.
func (s *Store) ActiveMenu(ctx context.Context) ([]models.MenuItem, error) {
	var rows []MenuItemRow
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get active menu: %w", err)
	}

	menu := make([]models.MenuItem, 0, len(rows))
	for _, r := range rows {
		menu = append(menu, models.MenuItem{
			ID:       r.ID,
			Name:     r.Name,
			Category: r.Category,
			Price:    r.Price,
			Active:   r.Active,
		})
	}
	return menu, nil
}

// ReplaceEdges writes a new version, moves the active pointer and drops
// older versions in one transaction. The version is taken under a lock on
// the active rule_sets row, so writers sharing the database never land in
// the same version.
func (s *Store) ReplaceEdges(ctx context.Context, minVersion int64, edges []models.RecommendationEdge) (int64, error) {
	if len(edges) == 0 {
		return 0, apperr.ErrEmptyEdgeSet
	}

	var version int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		placeholder := RuleSetRow{Name: activeRuleSet, PublishedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&placeholder).Error; err != nil {
			return fmt.Errorf("claim rule set: %w", err)
		}
		var active RuleSetRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("name = ?", activeRuleSet).Take(&active).Error; err != nil {
			return fmt.Errorf("lock rule set: %w", err)
		}
		version = max(active.Version+1, minVersion)

		rows := make([]RecommendationRow, 0, len(edges))
		for _, e := range edges {
			rows = append(rows, RecommendationRow{
				Version:           version,
				ItemID:            e.ItemID,
				RecommendedItemID: e.RecommendedItemID,
				Support:           e.Support,
				Confidence:        e.Confidence,
				Lift:              e.Lift,
			})
		}
		if err := tx.Where("version = ?", version).Delete(&RecommendationRow{}).Error; err != nil {
			return fmt.Errorf("clear version: %w", err)
		}
		if err := tx.CreateInBatches(rows, insertBatch).Error; err != nil {
			return fmt.Errorf("insert edges: %w", err)
		}
		err := tx.Model(&RuleSetRow{}).Where("name = ?", activeRuleSet).Updates(map[string]interface{}{
			"version":      version,
			"edges":        len(rows),
			"published_at": time.Now().UTC(),
		}).Error
		if err != nil {
			return fmt.Errorf("activate rule set: %w", err)
		}
		if err := tx.Where("version <> ?", version).Delete(&RecommendationRow{}).Error; err != nil {
			return fmt.Errorf("prune old edges: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to replace recommendation edges: %w", err)
	}

	s.log.Info("Persisted recommendation edges", "version", version, "edges", len(edges))
	return version, nil
}

// LoadEdges returns the active version and its edges, or version 0 when
// nothing was ever published.
func (s *Store) LoadEdges(ctx context.Context) (int64, []models.RecommendationEdge, error) {
	var active RuleSetRow
	err := s.db.WithContext(ctx).Where("name = ?", activeRuleSet).Take(&active).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read active rule set: %w", err)
	}

	var rows []RecommendationRow
	if err := s.db.WithContext(ctx).Where("version = ?", active.Version).Order("id").Find(&rows).Error; err != nil {
		return 0, nil, fmt.Errorf("failed to load recommendation edges: %w", err)
	}

	edges := make([]models.RecommendationEdge, 0, len(rows))
	for _, r := range rows {
		edges = append(edges, models.RecommendationEdge{
			ItemID:            r.ItemID,
			RecommendedItemID: r.RecommendedItemID,
			Support:           r.Support,
			Confidence:        r.Confidence,
			Lift:              r.Lift,
		})
	}
	return active.Version, edges, nil
}

// Status returns row counts for the recommendation tables.
func (s *Store) Status(ctx context.Context) (map[string]int, error) {
	counts := map[string]int{}
	tables := []struct {
		key   string
		model interface{}
		where []interface{}
	}{
		{"items", &MenuItemRow{}, nil},
		{"completed_orders", &OrderRow{}, []interface{}{"status = ?", models.OrderStatusCompleted}},
		{"user_item_stats", &UserItemStatRow{}, nil},
		{"recommendations", &RecommendationRow{}, nil},
	}
	for _, t := range tables {
		var n int64
		q := s.db.WithContext(ctx).Model(t.model)
		if len(t.where) > 0 {
			q = q.Where(t.where[0], t.where[1:]...)
		}
		if err := q.Count(&n).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", t.key, err)
		}
		counts[t.key] = int(n)
	}
	return counts, nil
}
