package establishment

import (
	"sort"
	"strings"

	"github.com/meghashyamc/placefinder/provider"
)

type rankKey struct {
	boosted  bool
	prefix   bool
	contains bool
	label    string
}

func newRankKey(candidate provider.Candidate, query string, keywords []string) rankKey {
	label := strings.ToLower(candidate.Label())
	key := rankKey{
		prefix:   query != "" && strings.HasPrefix(label, query),
		contains: query != "" && strings.Contains(label, query),
		label:    label,
	}
	for _, keyword := range keywords {
		if keyword != "" && strings.Contains(label, strings.ToLower(keyword)) {
			key.boosted = true
			break
		}
	}
	return key
}

func (a rankKey) less(b rankKey) bool {
	if a.boosted != b.boosted {
		return a.boosted
	}
	if a.prefix != b.prefix {
		return a.prefix
	}
	if a.contains != b.contains {
		return a.contains
	}
	return a.label < b.label
}

// Rank orders candidates by domain keyword in the label, then label prefix match,
// then label substring match, then label. It returns a new slice.
func Rank(candidates []provider.Candidate, query string, keywords []string) []provider.Candidate {
	query = strings.ToLower(strings.TrimSpace(query))

	keys := make([]rankKey, len(candidates))
	order := make([]int, len(candidates))
	for i, candidate := range candidates {
		keys[i] = newRankKey(candidate, query, keywords)
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return keys[order[i]].less(keys[order[j]])
	})

	ranked := make([]provider.Candidate, len(candidates))
	for i, index := range order {
		ranked[i] = candidates[index]
	}
	return ranked
}
