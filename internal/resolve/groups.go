// Package resolve derives the ordered set of analysis subjects from a
// normalized table.
package resolve

import (
	"slices"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// aggregateKeys are group names that stand for the whole cohort, in the
// order they sort among themselves.
var aggregateKeys = []string{"Grade", "年级", "Overall", "全体", "score_rate"}

// redundantKeys are auto-computed aggregate columns dropped when a
// canonical aggregate is present.
var redundantKeys = map[string]bool{"score_rate": true, "average_score": true}

func aggregateRank(g string) int {
	return slices.Index(aggregateKeys, g)
}

// IsAggregate reports whether g names the whole cohort.
func IsAggregate(g string) bool {
	return aggregateRank(g) >= 0
}

// SortGroups returns groups in dispatch and display order: aggregate keys
// first, then natural numeric-aware order ("Class2" before "Class10").
// The input slice is not modified.
func SortGroups(groups []string) []string {
	out := slices.Clone(groups)
	c := collate.New(language.Und, collate.Numeric)
	slices.SortStableFunc(out, func(a, b string) int {
		ra, rb := aggregateRank(a), aggregateRank(b)
		switch {
		case ra >= 0 && rb >= 0:
			return ra - rb
		case ra >= 0:
			return -1
		case rb >= 0:
			return 1
		}
		if n := c.CompareString(a, b); n != 0 {
			return n
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	})
	return out
}

// Dedup drops redundant score_rate/average_score groups when a canonical
// aggregate such as "Grade" is present, so the cohort is not counted twice.
// Order is preserved.
func Dedup(groups []string) []string {
	canonical := false
	for _, g := range groups {
		if IsAggregate(g) && !redundantKeys[g] {
			canonical = true
			break
		}
	}

	out := make([]string, 0, len(groups))
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if seen[g] || (canonical && redundantKeys[g]) {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}
