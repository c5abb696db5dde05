package fuzzy

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)

// corporate noise that carries no identity
var stopTokens = map[string]bool{
	"plc": true, "inc": true, "ltd": true, "limited": true, "corp": true,
	"corporation": true, "co": true, "sa": true, "ag": true, "nv": true,
	"the": true, "group": true, "holdings": true, "ord": true, "shs": true,
}

// normalize lower-cases s, strips punctuation and drops corporate noise
// tokens. A string made only of noise tokens is kept as-is.
func normalize(s string) string {
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	tokens := strings.Fields(s)
	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if !stopTokens[tok] {
			kept = append(kept, tok)
		}
	}
	if len(kept) == 0 {
		return strings.Join(tokens, " ")
	}
	return strings.Join(kept, " ")
}

// similarity scores two normalized strings in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	scores := []float64{
		levenshteinSimilarity(a, b),
		jaroWinkler(a, b),
		ngramSimilarity(a, b, 3),
		tokenSimilarity(a, b),
	}
	return weightedAverage(scores)
}

func levenshteinSimilarity(a, b string) float64 {
	distance := levenshtein.ComputeDistance(a, b)
	maxLen := math.Max(float64(len(a)), float64(len(b)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(distance)/maxLen
}

func jaroWinkler(s1, s2 string) float64 {
	len1, len2 := len(s1), len(s2)
	matchWindow := max(len1, len2)/2 - 1
	if matchWindow < 0 {
		matchWindow = 0
	}

	s1Matches := make([]bool, len1)
	s2Matches := make([]bool, len2)
	matches := 0
	for i := 0; i < len1; i++ {
		start := max(0, i-matchWindow)
		end := min(len2, i+matchWindow+1)
		for j := start; j < end; j++ {
			if s2Matches[j] || s1[i] != s2[j] {
				continue
			}
			s1Matches[i] = true
			s2Matches[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len1; i++ {
		if !s1Matches[i] {
			continue
		}
		for !s2Matches[k] {
			k++
		}
		if s1[i] != s2[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	jaro := (m/float64(len1) + m/float64(len2) + (m-float64(transpositions)/2)/m) / 3.0

	prefix := 0
	for i := 0; i < min(len1, len2, 4); i++ {
		if s1[i] != s2[i] {
			break
		}
		prefix++
	}
	return jaro + 0.1*float64(prefix)*(1.0-jaro)
}

func ngrams(s string, n int) map[string]bool {
	out := make(map[string]bool)
	if len(s) < n {
		out[s] = true
		return out
	}
	for i := 0; i <= len(s)-n; i++ {
		out[s[i:i+n]] = true
	}
	return out
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	inter := 0
	for k := range a {
		if b[k] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

func ngramSimilarity(a, b string, n int) float64 {
	return jaccard(ngrams(a, n), ngrams(b, n))
}

func tokenSimilarity(a, b string) float64 {
	set := func(s string) map[string]bool {
		m := make(map[string]bool)
		for _, t := range strings.Fields(s) {
			m[t] = true
		}
		return m
	}
	return jaccard(set(a), set(b))
}

// weightedAverage favours the strongest signals: scores are sorted
// descending and weighted 1, 1/2, 1/3, ...
func weightedAverage(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.0
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	weightSum, weighted := 0.0, 0.0
	for i, s := range scores {
		w := 1.0 / float64(i+1)
		weighted += s * w
		weightSum += w
	}
	return weighted / weightSum
}
