// Package fuzzy keeps a process-wide approximate-match index over the full
// instrument universe. The live index is immutable; refreshes build a new
// one and swap it in atomically.
package fuzzy

import (
	"sort"
	"strings"
	"time"

	"github.com/tidwall/btree"

	"github.com/Aidin1998/padcheck/internal/instrument"
)

const (
	// gramLen is the length of the character grams used to pick
	// candidates before scoring.
	gramLen = 3
	// maxCandidates caps how many entries a single search scores.
	maxCandidates = 256
)

// Match is one approximate hit.
type Match struct {
	Instrument instrument.Instrument `json:"instrument"`
	Score      float64               `json:"score"`
}

type entry struct {
	inst instrument.Instrument
	keys []string
}

// Index is an immutable approximate-match index. grams maps each
// trigram of a padded key token to the ids of the entries containing it.
type Index struct {
	entries []entry
	grams   btree.Map[string, []int]
	builtAt time.Time
}

// NewIndex builds an index over items. Duplicate symbols keep the first
// occurrence; deleted instruments are skipped.
func NewIndex(items []instrument.Instrument) *Index {
	ix := &Index{builtAt: time.Now()}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.Deleted || it.Key() == "" || seen[it.Key()] {
			continue
		}
		seen[it.Key()] = true

		var keys []string
		for _, k := range []string{it.Symbol, it.Ticker, it.ExchangeSymbol, it.Description} {
			if n := normalize(k); n != "" && !contains(keys, n) {
				keys = append(keys, n)
			}
		}
		id := len(ix.entries)
		ix.entries = append(ix.entries, entry{inst: it, keys: keys})

		for _, k := range keys {
			for _, g := range grams(k) {
				ids, _ := ix.grams.Get(g)
				if len(ids) == 0 || ids[len(ids)-1] != id {
					ix.grams.Set(g, append(ids, id))
				}
			}
		}
	}
	return ix
}

// grams returns the distinct trigrams of each space-padded token of s.
func grams(s string) []string {
	var out []string
	for _, tok := range strings.Fields(s) {
		r := []rune(" " + tok + " ")
		for i := 0; i+gramLen <= len(r); i++ {
			if g := string(r[i : i+gramLen]); !contains(out, g) {
				out = append(out, g)
			}
		}
	}
	return out
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// Len returns the number of indexed instruments.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// BuiltAt returns when the index was built, zero for a nil index.
func (ix *Index) BuiltAt() time.Time {
	if ix == nil {
		return time.Time{}
	}
	return ix.builtAt
}

// candidates returns the ids of at most maxCandidates entries sharing a
// trigram with the query, most shared grams first. Entries sharing none
// are never scored.
func (ix *Index) candidates(query string) []int {
	counts := make([]uint16, len(ix.entries))
	var touched []int
	for _, g := range grams(query) {
		ids, ok := ix.grams.Get(g)
		if !ok {
			continue
		}
		for _, id := range ids {
			if counts[id] == 0 {
				touched = append(touched, id)
			}
			counts[id]++
		}
	}
	sort.Slice(touched, func(i, j int) bool {
		a, b := touched[i], touched[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return a < b
	})
	if len(touched) > maxCandidates {
		touched = touched[:maxCandidates]
	}
	return touched
}

// Search returns up to n matches scoring at or above floor, best first.
// Ties are broken by symbol so results are deterministic.
func (ix *Index) Search(term string, n int, floor float64) []Match {
	if ix == nil || n <= 0 {
		return nil
	}
	query := normalize(term)
	if query == "" {
		return nil
	}

	var matches []Match
	for _, id := range ix.candidates(query) {
		e := ix.entries[id]
		best := 0.0
		for _, k := range e.keys {
			if s := similarity(query, k); s > best {
				best = s
			}
		}
		if best >= floor {
			matches = append(matches, Match{Instrument: e.inst, Score: best})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Instrument.Key() < matches[j].Instrument.Key()
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches
}
