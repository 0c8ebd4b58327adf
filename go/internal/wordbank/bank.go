package wordbank

import (
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
)

// Bank is an immutable mapping from category name to its word list.
type Bank struct {
	categories map[string][]string
	names      []string

	mu  sync.Mutex // guards rnd
	rnd *rand.Rand
}

// Option configures a Bank.
type Option func(*Bank)

// WithRand makes draws use r instead of a randomly seeded source.
func WithRand(r *rand.Rand) Option {
	return func(b *Bank) {
		b.rnd = r
	}
}

// New copies the given category mapping into a Bank. Blank words and
// duplicates within a category are dropped, categories without any word are
// skipped.
func New(categories map[string][]string, opts ...Option) *Bank {
	b := &Bank{
		categories: make(map[string][]string, len(categories)),
		rnd:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(b)
	}

	for name, words := range categories {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		seen := make(map[string]struct{}, len(words))
		list := make([]string, 0, len(words))
		for _, w := range words {
			w = strings.TrimSpace(w)
			if w == "" {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			list = append(list, w)
		}
		if len(list) == 0 {
			continue
		}
		b.categories[name] = append(b.categories[name], list...)
	}

	b.names = make([]string, 0, len(b.categories))
	for name := range b.categories {
		b.names = append(b.names, name)
	}
	sort.Strings(b.names)
	return b
}

// Categories returns the category names in sorted order.
func (b *Bank) Categories() []string {
	return append([]string(nil), b.names...)
}

// Has reports whether category exists.
func (b *Bank) Has(category string) bool {
	_, ok := b.categories[category]
	return ok
}

// Size is the total number of words in category.
func (b *Bank) Size(category string) int {
	return len(b.categories[category])
}

// Words returns a copy of the words of category in file order.
func (b *Bank) Words(category string) []string {
	return append([]string(nil), b.categories[category]...)
}

// Remaining counts the words of category not present in excluding.
func (b *Bank) Remaining(category string, excluding map[string]struct{}) int {
	n := 0
	for _, w := range b.categories[category] {
		if _, used := excluding[w]; !used {
			n++
		}
	}
	return n
}

// Draw picks a word uniformly at random among the words of category that are
// not in excluding. It returns false when no such word exists, which covers
// an unknown category as well. The caller records the drawn word; Draw never
// mutates the bank or excluding.
func (b *Bank) Draw(category string, excluding map[string]struct{}) (string, bool) {
	words := b.categories[category]
	candidates := make([]string, 0, len(words))
	for _, w := range words {
		if _, used := excluding[w]; !used {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	b.mu.Lock()
	i := b.rnd.IntN(len(candidates))
	b.mu.Unlock()
	return candidates[i], true
}
