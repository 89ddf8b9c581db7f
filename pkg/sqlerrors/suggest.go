package sqlerrors

import (
	"sort"
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Suggestion pairs a candidate identifier with its edit distance from the
// missing one.
type Suggestion struct {
	Name     string `json:"name"`
	Distance int    `json:"distance"`
}

// SuggestIdentifiers returns up to max known identifiers closest to the
// missing one by Levenshtein distance. Candidates further than
// max(2, len/3) edits away are dropped; a hallucinated column usually is a
// near-miss of a real one, and distant matches just add noise to the fix
// prompt.
func SuggestIdentifiers(missing string, candidates []string, max int) []Suggestion {
	if missing == "" || len(candidates) == 0 || max <= 0 {
		return nil
	}

	// Compare the bare identifier: strip any table qualifier.
	if idx := strings.LastIndex(missing, "."); idx != -1 {
		missing = missing[idx+1:]
	}
	missingLower := strings.ToLower(missing)

	threshold := len(missing) / 3
	if threshold < 2 {
		threshold = 2
	}

	var out []Suggestion
	seen := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		if cand == "" || seen[cand] {
			continue
		}
		seen[cand] = true

		d := levenshtein.DistanceForStrings(
			[]rune(missingLower), []rune(strings.ToLower(cand)),
			levenshtein.DefaultOptions)
		if d == 0 {
			// Identical name: the problem is elsewhere (wrong table,
			// missing quoting), so a suggestion would mislead.
			continue
		}
		if d <= threshold {
			out = append(out, Suggestion{Name: cand, Distance: d})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Name < out[j].Name
	})

	if len(out) > max {
		out = out[:max]
	}
	return out
}
