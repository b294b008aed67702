// Package store holds the serving copy of the recommendation graph.
//
// Each mining run builds a brand new Snapshot and swaps the active pointer in
// one atomic store. A Snapshot is never mutated after publication, so readers
// holding one keep a consistent view while a newer one goes live, and readers
// never block the writer.
package store

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/yishak-cs/cartrecs/internal/apperr"
	"github.com/yishak-cs/cartrecs/internal/models"
)

// Reader is the read side consumed by the online path.
type Reader interface {
	Current() *Snapshot
}

// Snapshot is an immutable, fully indexed edge set.
type Snapshot struct {
	Version     int64
	PublishedAt time.Time

	edges    []models.RecommendationEdge
	bySource map[string][]models.RecommendationEdge
	popular  []models.RecommendationEdge
}

func newSnapshot(version int64, publishedAt time.Time, edges []models.RecommendationEdge) *Snapshot {
	owned := make([]models.RecommendationEdge, len(edges))
	copy(owned, edges)

	bySource := make(map[string][]models.RecommendationEdge)
	for _, e := range owned {
		bySource[e.ItemID] = append(bySource[e.ItemID], e)
	}
	for _, out := range bySource {
		sortByConfidence(out)
	}

	popular := make([]models.RecommendationEdge, len(owned))
	copy(popular, owned)
	sort.SliceStable(popular, func(i, j int) bool {
		if popular[i].Support != popular[j].Support {
			return popular[i].Support > popular[j].Support
		}
		if popular[i].Lift != popular[j].Lift {
			return popular[i].Lift > popular[j].Lift
		}
		return popular[i].RecommendedItemID < popular[j].RecommendedItemID
	})

	return &Snapshot{
		Version:     version,
		PublishedAt: publishedAt,
		edges:       owned,
		bySource:    bySource,
		popular:     popular,
	}
}

func sortByConfidence(edges []models.RecommendationEdge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].Confidence != edges[j].Confidence {
			return edges[i].Confidence > edges[j].Confidence
		}
		return edges[i].RecommendedItemID < edges[j].RecommendedItemID
	})
}

// Len returns the number of edges in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.edges)
}

// Edges returns a copy of every edge.
func (s *Snapshot) Edges() []models.RecommendationEdge {
	if s == nil {
		return nil
	}
	out := make([]models.RecommendationEdge, len(s.edges))
	copy(out, s.edges)
	return out
}

// Outgoing returns the edges leaving itemID, highest confidence first.
func (s *Snapshot) Outgoing(itemID string) []models.RecommendationEdge {
	if s == nil {
		return nil
	}
	src := s.bySource[itemID]
	out := make([]models.RecommendationEdge, len(src))
	copy(out, src)
	return out
}

// ForItems returns the union of outgoing edges of every id, highest
// confidence first.
func (s *Snapshot) ForItems(itemIDs []string) []models.RecommendationEdge {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(itemIDs))
	var out []models.RecommendationEdge
	for _, id := range itemIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, s.bySource[id]...)
	}
	sortByConfidence(out)
	return out
}

// Popular returns every edge ordered by support then lift, both descending.
func (s *Snapshot) Popular() []models.RecommendationEdge {
	if s == nil {
		return nil
	}
	out := make([]models.RecommendationEdge, len(s.popular))
	copy(out, s.popular)
	return out
}

// Store holds the active snapshot.
type Store struct {
	active atomic.Pointer[Snapshot]
	now    func() time.Time
}

// New creates a store serving an empty version-0 snapshot.
func New() *Store {
	s := &Store{now: time.Now}
	s.active.Store(newSnapshot(0, time.Time{}, nil))
	return s
}

// Current returns the active snapshot. It never returns nil.
func (s *Store) Current() *Snapshot {
	return s.active.Load()
}

// Publish builds a snapshot for edges and makes it active in one swap.
// Publishing an empty set is refused so a good graph is never wiped.
func (s *Store) Publish(version int64, edges []models.RecommendationEdge) (*Snapshot, error) {
	if len(edges) == 0 {
		return nil, apperr.ErrEmptyEdgeSet
	}
	snap := newSnapshot(version, s.now(), edges)
	s.active.Store(snap)
	return snap, nil
}
