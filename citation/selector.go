// Package citation selects and records file citations for chat messages.
//
// Information Hiding:
// - Diversity selection policy hidden behind Select
// - Storage metadata precedence rules hidden in the recorder
package citation

import (
	"math"
	"sort"

	"github.com/selasie/charon/model"
)

// relevanceEpsilon treats floating-point near-duplicates as identical
// when deduplicating (file, page, relevance) triples.
const relevanceEpsilon = 1e-4

// Select picks at most maxResults units to present as citations.
//
// Every distinct file with at least one hit gets its single
// highest-relevance unit ("representative") before any file gets a
// second slot. Remaining slots are filled from the full hit list in
// relevance order, skipping units already present as an equivalent
// (file, page, relevance) triple.
func Select(units []model.SearchResultUnit, maxResults int) []model.SearchResultUnit {
	if maxResults <= 0 || len(units) == 0 {
		return nil
	}

	// Representative per file, keeping first-encounter order for ties.
	repIndex := make(map[string]int)
	var fileOrder []string
	for i, unit := range units {
		best, seen := repIndex[unit.FileID]
		if !seen {
			repIndex[unit.FileID] = i
			fileOrder = append(fileOrder, unit.FileID)
			continue
		}
		if unit.Relevance > units[best].Relevance {
			repIndex[unit.FileID] = i
		}
	}

	representatives := make([]model.SearchResultUnit, 0, len(fileOrder))
	for _, fileID := range fileOrder {
		representatives = append(representatives, units[repIndex[fileID]])
	}
	sort.SliceStable(representatives, func(i, j int) bool {
		return representatives[i].Relevance > representatives[j].Relevance
	})

	selected := representatives
	if len(selected) > maxResults {
		selected = selected[:maxResults]
	}
	selected = append([]model.SearchResultUnit(nil), selected...)

	if len(selected) == maxResults {
		return selected
	}

	// Fill remaining slots from the full list, relevance descending with
	// encounter order breaking ties.
	ordered := append([]model.SearchResultUnit(nil), units...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Relevance > ordered[j].Relevance
	})

	for _, unit := range ordered {
		if len(selected) >= maxResults {
			break
		}
		if containsEquivalent(selected, unit) {
			continue
		}
		selected = append(selected, unit)
	}

	return selected
}

// containsEquivalent reports whether an equivalent (file, page,
// relevance) triple is already selected.
func containsEquivalent(selected []model.SearchResultUnit, unit model.SearchResultUnit) bool {
	for _, s := range selected {
		if s.FileID != unit.FileID {
			continue
		}
		if s.HasPage != unit.HasPage || s.Page != unit.Page {
			continue
		}
		if math.Abs(s.Relevance-unit.Relevance) < relevanceEpsilon {
			return true
		}
	}
	return false
}
