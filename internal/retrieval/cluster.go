package retrieval

import "strings"

// titleSimilarity returns the Dice coefficient over rune bigrams of
// two titles, in [0,1]. Bulletin boards repost the same notice with a
// "(정정)" or "(연장)" suffix; those pairs score well above 0.9 while
// genuinely different notices stay far below.
func titleSimilarity(a, b string) float64 {
	a = normalizeTitle(a)
	b = normalizeTitle(b)
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}

	ba := runeBigrams(a)
	bb := runeBigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}

	overlap := 0
	totalA := 0
	totalB := 0
	for g, n := range ba {
		totalA += n
		if m := bb[g]; m > 0 {
			if m < n {
				overlap += m
			} else {
				overlap += n
			}
		}
	}
	for _, n := range bb {
		totalB += n
	}

	return 2 * float64(overlap) / float64(totalA+totalB)
}

// sameCluster reports whether two titles refer to the same notice for
// diversity purposes.
func sameCluster(a, b string, threshold float64) bool {
	if a == b {
		return true
	}
	return titleSimilarity(a, b) >= threshold
}

func normalizeTitle(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func runeBigrams(s string) map[string]int {
	runes := []rune(s)
	if len(runes) < 2 {
		return nil
	}
	grams := make(map[string]int, len(runes)-1)
	for i := 0; i+1 < len(runes); i++ {
		grams[string(runes[i:i+2])]++
	}
	return grams
}
