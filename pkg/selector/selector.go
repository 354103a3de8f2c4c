// Package selector ranks and truncates detected region candidates.
//
// Every function returns a new slice; the detector output passed in is never
// reordered or modified.
package selector

import (
	"slices"
	"strings"

	"github.com/menta2k/image-detailer/pkg/types"
)

// Order is a ranking criterion for candidates
type Order string

const (
	OrderSize  Order = "size"
	OrderScore Order = "score"
	OrderLeft  Order = "left"
	OrderRight Order = "right"
)

// ParseOrder maps a configured name onto an Order; unknown or empty names rank by size
func ParseOrder(name string) Order {
	switch Order(strings.ToLower(strings.TrimSpace(name))) {
	case OrderScore:
		return OrderScore
	case OrderLeft:
		return OrderLeft
	case OrderRight:
		return OrderRight
	default:
		return OrderSize
	}
}

// Select ranks candidates by descending area and keeps the first limit of them.
// Equal areas keep detector order. A limit of 0 keeps all candidates.
func Select(candidates []types.RegionCandidate, limit int) []types.RegionCandidate {
	return SelectBy(candidates, OrderSize, limit)
}

// SelectBy ranks candidates by order and keeps the first limit of them
func SelectBy(candidates []types.RegionCandidate, order Order, limit int) []types.RegionCandidate {
	ranked := slices.Clone(candidates)
	if len(ranked) == 0 {
		return ranked
	}

	slices.SortStableFunc(ranked, compareFunc(order))

	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit:limit]
	}
	return ranked
}

// FilterScore drops candidates scoring below minScore
func FilterScore(candidates []types.RegionCandidate, minScore float64) []types.RegionCandidate {
	kept := make([]types.RegionCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= minScore {
			kept = append(kept, c)
		}
	}
	return kept
}

func compareFunc(order Order) func(a, b types.RegionCandidate) int {
	switch order {
	case OrderScore:
		return func(a, b types.RegionCandidate) int {
			switch {
			case a.Score > b.Score:
				return -1
			case a.Score < b.Score:
				return 1
			}
			return 0
		}
	case OrderLeft:
		return func(a, b types.RegionCandidate) int { return a.Rect.Min.X - b.Rect.Min.X }
	case OrderRight:
		return func(a, b types.RegionCandidate) int { return b.Rect.Max.X - a.Rect.Max.X }
	default:
		return func(a, b types.RegionCandidate) int { return b.Area() - a.Area() }
	}
}
