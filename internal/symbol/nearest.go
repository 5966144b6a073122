package symbol

import "github.com/agext/levenshtein"

// Nearest returns the candidate closest to name, for "did you mean"
// suggestions in configuration errors. It returns "" when nothing is within
// editing distance 3.
func Nearest(name string, candidates []string) string {
	best := ""
	bestDist := 4
	for _, c := range candidates {
		if d := levenshtein.Distance(name, c, nil); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
