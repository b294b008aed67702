package sqlstore

import "time"

// MenuItemRow is the catalog table.
type MenuItemRow struct {
	ID       string  `gorm:"primaryKey;size:64"`
	Name     string  `gorm:"size:255;not null"`
	Category string  `gorm:"size:128;index"`
	Price    float64 `gorm:"not null;default:0"`
	Active   bool    `gorm:"not null;index"`
}

func (MenuItemRow) TableName() string { return "menu_items" }

// OrderRow is one customer order.
type OrderRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	UserID    string    `gorm:"size:64;index"`
	Status    string    `gorm:"size:32;not null;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (OrderRow) TableName() string { return "orders" }

// OrderItemRow is one line of an order.
type OrderItemRow struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	OrderID  string `gorm:"size:64;not null;index"`
	ItemID   string `gorm:"size:64;not null;index"`
	Quantity int    `gorm:"not null;default:1"`
}

func (OrderItemRow) TableName() string { return "order_items" }

// UserItemStatRow is the per-user purchase aggregate written by fulfillment.
type UserItemStatRow struct {
	UserID          string    `gorm:"primaryKey;size:64"`
	ItemID          string    `gorm:"primaryKey;size:64"`
	Purchases       int       `gorm:"not null;default:0"`
	LastPurchasedAt time.Time `gorm:"index"`
}

func (UserItemStatRow) TableName() string { return "user_item_stats" }

// RecommendationRow is one published edge. Rows of every version but the
// active one are removed when a new version is activated.
type RecommendationRow struct {
	ID                uint    `gorm:"primaryKey;autoIncrement"`
	Version           int64   `gorm:"not null;index"`
	ItemID            string  `gorm:"size:64;not null;index"`
	RecommendedItemID string  `gorm:"size:64;not null"`
	Support           float64 `gorm:"not null"`
	Confidence        float64 `gorm:"not null"`
	Lift              float64 `gorm:"not null"`
}

func (RecommendationRow) TableName() string { return "recommendations" }

// RuleSetRow points at the active recommendation version.
type RuleSetRow struct {
	Name        string    `gorm:"primaryKey;size:32"`
	Version     int64     `gorm:"not null"`
	Edges       int       `gorm:"not null"`
	PublishedAt time.Time `gorm:"not null"`
}

func (RuleSetRow) TableName() string { return "rule_sets" }

const activeRuleSet = "active"
