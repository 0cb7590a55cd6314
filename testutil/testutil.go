package testutil

import (
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/hupe1980/mvccindex/model"
)

// Vocabulary is the word list random document text is drawn from.
var Vocabulary = []string{
	"postgres", "index", "segment", "snapshot", "vacuum", "heap", "tuple",
	"visible", "commit", "abort", "merge", "worker", "parallel", "query",
	"search", "token", "column", "page", "block", "cache",
}

// Colors are the keyword values random documents are grouped by.
var Colors = []string{"red", "green", "blue", "yellow", "black"}

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewSource(r.seed))
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// Zipf returns a Zipfian-distributed value in [0, n).
// P(k) ∝ 1/k^s where s is the skew parameter.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}
	return n - 1
}

// Sentence returns n words from Vocabulary with a Zipfian skew, so a few
// terms are common and most are rare.
func (r *RNG) Sentence(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	words := make([]string, n)
	for i := range words {
		words[i] = Vocabulary[r.zipfLocked(len(Vocabulary), 1.2)]
	}
	return strings.Join(words, " ")
}

// Document returns a random document with a "body" text field, a "color"
// keyword and an integral "price" so sums stay exact.
func (r *RNG) Document() model.Document {
	body := r.Sentence(3 + r.Intn(6))

	r.mu.Lock()
	defer r.mu.Unlock()
	return model.Document{
		Text:    map[string]string{"body": body},
		Keyword: map[string]string{"color": Colors[r.rand.Intn(len(Colors))]},
		Numeric: map[string]float64{"price": float64(r.rand.Intn(1000))},
	}
}

// Documents returns n random documents.
func (r *RNG) Documents(n int) []model.Document {
	docs := make([]model.Document, n)
	for i := range docs {
		docs[i] = r.Document()
	}
	return docs
}

// SparseMetadata returns a mask where each position is true with
// probability 1 - missingRate.
func (r *RNG) SparseMetadata(n int, missingRate float64) []bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	mask := make([]bool, n)
	for i := range mask {
		mask[i] = r.rand.Float64() >= missingRate
	}
	return mask
}
