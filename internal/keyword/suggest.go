package keyword

import (
	"sort"
	"strings"
	"sync"
)

// Suggester proposes a corrected query when a search finds nothing, using indexed terms
// within a small edit distance of each unknown query term.
type Suggester struct {
	dictionary  TermDictionary
	maxDistance int
	minFreq     int

	mu    sync.RWMutex
	terms map[string]int
	valid bool
}

// SuggesterOption configures a Suggester.
type SuggesterOption func(*Suggester)

// WithMaxDistance sets the maximum edit distance for suggestions.
func WithMaxDistance(d int) SuggesterOption {
	return func(s *Suggester) {
		if d > 0 {
			s.maxDistance = d
		}
	}
}

// WithMinFrequency ignores terms found in fewer than f messages.
func WithMinFrequency(f int) SuggesterOption {
	return func(s *Suggester) {
		if f >= 0 {
			s.minFreq = f
		}
	}
}

// NewSuggester creates a Suggester over dict.
func NewSuggester(dict TermDictionary, opts ...SuggesterOption) *Suggester {
	s := &Suggester{dictionary: dict, maxDistance: 2, minFreq: 1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Invalidate drops the cached term list; the next Suggest reloads it.
func (s *Suggester) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.mu.Unlock()
}

func (s *Suggester) load() (map[string]int, error) {
	s.mu.RLock()
	if s.valid {
		terms := s.terms
		s.mu.RUnlock()
		return terms, nil
	}
	s.mu.RUnlock()

	terms, err := s.dictionary.Terms()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.terms = terms
	s.valid = true
	s.mu.Unlock()
	return terms, nil
}

// Suggest returns the query with each unknown term replaced by its closest frequent neighbor.
// ok is false when no term could be corrected.
func (s *Suggester) Suggest(query string) (string, bool) {
	terms, err := s.load()
	if err != nil || len(terms) == 0 {
		return "", false
	}
	words := tokenizeQuery(query)
	changed := false
	for i, w := range words {
		if _, known := terms[w]; known {
			continue
		}
		if best, ok := s.closest(w, terms); ok {
			words[i] = best
			changed = true
		}
	}
	if !changed {
		return "", false
	}
	return strings.Join(words, " "), true
}

func (s *Suggester) closest(word string, terms map[string]int) (string, bool) {
	type candidate struct {
		term     string
		distance int
		freq     int
	}
	var cands []candidate
	wl := len([]rune(word))
	for term, freq := range terms {
		if freq < s.minFreq {
			continue
		}
		if d := len([]rune(term)) - wl; d > s.maxDistance || -d > s.maxDistance {
			continue
		}
		if dist := LevenshteinDistance(word, term); dist <= s.maxDistance {
			cands = append(cands, candidate{term: term, distance: dist, freq: freq})
		}
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].distance != cands[j].distance {
			return cands[i].distance < cands[j].distance
		}
		if cands[i].freq != cands[j].freq {
			return cands[i].freq > cands[j].freq
		}
		return cands[i].term < cands[j].term
	})
	return cands[0].term, true
}

// LevenshteinDistance returns the number of single-rune insertions, deletions, or
// substitutions needed to turn a into b.
func LevenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
