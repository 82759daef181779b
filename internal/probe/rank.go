package probe

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Candidate pairs a model name with the tier the ranking heuristic derived
// from it. Higher tiers are preferred fallbacks.
type Candidate struct {
	Name string
	Tier int
}

// paramCount matches parameter-count fragments like "7b", "13b", "1.5b".
var paramCount = regexp.MustCompile(`(\d+(?:\.\d+)?)b`)

// smallNames mark models that are fast but low-quality; they rank behind
// everything else as last-resort fallbacks.
var smallNames = []string{"phi", "mini", "tiny", "small"}

// RankModels orders fallback candidates: bigger parameter counts first
// (better quality), unrecognized names in the middle, known small/fast
// models last. The order within a tier preserves the input order. The
// heuristic reads naming conventions and nothing else, which is why the
// Tester lets callers swap it out.
func RankModels(names []string) []string {
	candidates := make([]Candidate, len(names))
	for i, name := range names {
		candidates[i] = Candidate{Name: name, Tier: sizeTier(name)}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Tier > candidates[j].Tier
	})

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Name
	}
	return out
}

// sizeTier scores a model name. Parameter counts map to 100 + billions*10;
// unknown names sit at 50; known small-model names at 10.
func sizeTier(name string) int {
	lower := strings.ToLower(name)

	if m := paramCount.FindStringSubmatch(lower); m != nil {
		if billions, err := strconv.ParseFloat(m[1], 64); err == nil {
			return 100 + int(billions*10)
		}
	}
	for _, s := range smallNames {
		if strings.Contains(lower, s) {
			return 10
		}
	}
	return 50
}
