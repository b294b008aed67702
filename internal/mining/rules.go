package mining

import (
	"sort"

	"github.com/yishak-cs/cartrecs/internal/models"
)

// Thresholds are the business tuning parameters of rule generation.
type Thresholds struct {
	MinSupport    float64 `koanf:"min_support" json:"min_support" validate:"gte=0,lte=1"`
	MinConfidence float64 `koanf:"min_confidence" json:"min_confidence" validate:"gte=0,lte=1"`
}

// DefaultThresholds returns minSupport 0.01 and minConfidence 0.10.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSupport:    0.01,
		MinConfidence: 0.10,
	}
}

// GenerateRules derives directed association rules from counts.
//
// For a pair (A,B):
//
//	supportAB    = countAB / totalOrders
//	confidenceAB = supportAB / supportA
//	liftAB       = confidenceAB / supportB
//
// A->B is kept iff supportAB >= MinSupport, confidenceAB >= MinConfidence and
// liftAB > 1. B->A is evaluated independently. Lift is symmetric, so the
// lift test is decided once on integer counts (countAB*total > countA*countB)
// and the float is only the reported value. The result is sorted by
// (item, recommended item) so identical counts give identical output.
func GenerateRules(counts Counts, th Thresholds) []models.RecommendationEdge {
	if counts.TotalOrders == 0 || len(counts.Pairs) == 0 {
		return nil
	}
	total := float64(counts.TotalOrders)

	edges := make([]models.RecommendationEdge, 0, len(counts.Pairs))
	for pair, countAB := range counts.Pairs {
		countA := counts.Items[pair.A]
		countB := counts.Items[pair.B]
		if countA == 0 || countB == 0 || countAB == 0 {
			continue
		}

		supportA := float64(countA) / total
		supportB := float64(countB) / total
		supportAB := float64(countAB) / total
		if supportAB < th.MinSupport {
			continue
		}

		confidenceAB := supportAB / supportA
		confidenceBA := supportAB / supportB
		liftAB := confidenceAB / supportB
		liftBA := confidenceBA / supportA
		if int64(countAB)*int64(counts.TotalOrders) <= int64(countA)*int64(countB) {
			continue
		}

		if confidenceAB >= th.MinConfidence {
			edges = append(edges, models.RecommendationEdge{
				ItemID:            pair.A,
				RecommendedItemID: pair.B,
				Support:           supportAB,
				Confidence:        confidenceAB,
				Lift:              liftAB,
			})
		}
		if confidenceBA >= th.MinConfidence {
			edges = append(edges, models.RecommendationEdge{
				ItemID:            pair.B,
				RecommendedItemID: pair.A,
				Support:           supportAB,
				Confidence:        confidenceBA,
				Lift:              liftBA,
			})
		}
	}

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].ItemID != edges[j].ItemID {
			return edges[i].ItemID < edges[j].ItemID
		}
		return edges[i].RecommendedItemID < edges[j].RecommendedItemID
	})
	return edges
}

// TopByLift returns up to n edges with the highest lift.
func TopByLift(edges []models.RecommendationEdge, n int) []models.RecommendationEdge {
	sorted := make([]models.RecommendationEdge, len(edges))
	copy(sorted, edges)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Lift > sorted[j].Lift
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
