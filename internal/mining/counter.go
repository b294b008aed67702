package mining

import (
	"context"
	"sort"
	"strings"

	"github.com/yishak-cs/cartrecs/internal/apperr"
	"github.com/yishak-cs/cartrecs/internal/models"
)

// Pair is an unordered item pair stored in canonical order (A < B).
type Pair struct {
	A string
	B string
}

// NewPair returns the canonical pair for x and y.
func NewPair(x, y string) Pair {
	if x > y {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// Counts holds presence-based itemset frequencies across completed orders.
type Counts struct {
	TotalOrders    int
	Items          map[string]int
	Pairs          map[Pair]int
	SkippedRecords int
}

// PairIncrements returns the total number of pair increments recorded.
func (c Counts) PairIncrements() int {
	total := 0
	for _, n := range c.Pairs {
		total += n
	}
	return total
}

// Counter groups order lines into per-order item sets. It is not safe for
// concurrent use; a mining run owns its counter.
type Counter struct {
	orders  map[string]map[string]struct{}
	skipped []*apperr.ComputeError
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{orders: make(map[string]map[string]struct{})}
}

// Add records one order line. Malformed lines are skipped and reported as a
// ComputeError; the counter stays usable.
func (c *Counter) Add(line models.OrderLine) error {
	orderID := strings.TrimSpace(line.OrderID)
	itemID := strings.TrimSpace(line.ItemID)
	if orderID == "" || itemID == "" {
		reason := "missing item id"
		if orderID == "" {
			reason = "missing order id"
		}
		ce := &apperr.ComputeError{OrderID: line.OrderID, ItemID: line.ItemID, Reason: reason}
		c.skipped = append(c.skipped, ce)
		return ce
	}

	items, ok := c.orders[orderID]
	if !ok {
		items = make(map[string]struct{})
		c.orders[orderID] = items
	}
	items[itemID] = struct{}{}
	return nil
}

// Skipped returns the records rejected so far.
func (c *Counter) Skipped() []*apperr.ComputeError {
	return c.skipped
}

// Counts aggregates singleton and pair frequencies. An order with k distinct
// items contributes exactly k item increments and C(k,2) pair increments.
func (c *Counter) Counts(ctx context.Context) (Counts, error) {
	counts := Counts{
		TotalOrders:    len(c.orders),
		Items:          make(map[string]int),
		Pairs:          make(map[Pair]int),
		SkippedRecords: len(c.skipped),
	}

	for _, set := range c.orders {
		if err := ctx.Err(); err != nil {
			return Counts{}, err
		}

		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
			counts.Items[id]++
		}
		sort.Strings(ids)

		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				counts.Pairs[Pair{A: ids[i], B: ids[j]}]++
			}
		}
	}

	return counts, nil
}

// CountItemsets runs a Counter over lines. onSkip, if set, sees every skipped record.
func CountItemsets(ctx context.Context, lines []models.OrderLine, onSkip func(*apperr.ComputeError)) (Counts, error) {
	c := NewCounter()
	for _, line := range lines {
		if err := c.Add(line); err != nil && onSkip != nil {
			if ce, ok := err.(*apperr.ComputeError); ok {
				onSkip(ce)
			}
		}
	}
	return c.Counts(ctx)
}
