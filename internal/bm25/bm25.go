// Package bm25 implements BM25-Okapi keyword search over the decision
// corpus, complementing vector-store semantic search. No Go BM25 library
// appears anywhere in the retrieved example pack, so this is a deliberate
// hand-rolled port of the BM25-Okapi scoring formula the original system
// used via rank_bm25.
package bm25

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ashita-ai/cstpd/internal/model"
)

const (
	k1 = 1.5
	b  = 0.75
)

var tokenPattern = regexp.MustCompile(`\w+`)

// Tokenize lowercases and splits text into word tokens, matching the
// original's `\w+` word-boundary tokenizer so technical terms like "OAuth"
// or "CSRF" survive as single tokens.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// BuildSearchableText concatenates the decision fields the original
// indexer considers: summary, decision, context, category, tags, and each
// reason's text and type.
func BuildSearchableText(d model.Decision) string {
	var parts []string
	if d.Summary != "" {
		parts = append(parts, d.Summary)
	}
	if d.Decision != "" {
		parts = append(parts, d.Decision)
	}
	if d.Context != "" {
		parts = append(parts, d.Context)
	}
	if d.Category != "" {
		parts = append(parts, string(d.Category))
	}
	parts = append(parts, d.Tags...)
	for _, r := range d.Reasons {
		if r.Text != "" {
			parts = append(parts, r.Text)
		}
		if r.Type != "" {
			parts = append(parts, string(r.Type))
		}
	}
	return strings.Join(parts, " ")
}

// Result is one scored document.
type Result struct {
	DocID string
	Score float64
}

// Index is a BM25-Okapi index over a fixed corpus snapshot.
type Index struct {
	docIDs  []string
	corpus  [][]string
	docLens []int
	avgLen  float64
	df      map[string]int // document frequency per term
}

// FromDecisions builds an index over decisions, skipping any with an empty
// id. Safe to call with an empty slice.
func FromDecisions(decisions []model.Decision) *Index {
	idx := &Index{df: make(map[string]int)}

	for _, d := range decisions {
		if d.ID == "" {
			continue
		}
		tokens := Tokenize(BuildSearchableText(d))
		idx.docIDs = append(idx.docIDs, d.ID)
		idx.corpus = append(idx.corpus, tokens)
		idx.docLens = append(idx.docLens, len(tokens))

		seen := make(map[string]struct{}, len(tokens))
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			idx.df[tok]++
		}
	}

	if len(idx.docLens) > 0 {
		var total int
		for _, n := range idx.docLens {
			total += n
		}
		idx.avgLen = float64(total) / float64(len(idx.docLens))
	}

	return idx
}

// idf computes the BM25-Okapi inverse document frequency for term, using
// the same +0.5 smoothing rank_bm25 applies.
func (idx *Index) idf(term string) float64 {
	n := float64(len(idx.docIDs))
	df := float64(idx.df[term])
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

// Search ranks the corpus against query, returning up to topK positive-score
// results, highest first.
func (idx *Index) Search(query string, topK int) []Result {
	if len(idx.docIDs) == 0 {
		return nil
	}
	qTokens := Tokenize(query)
	if len(qTokens) == 0 {
		return nil
	}

	scores := make([]float64, len(idx.docIDs))
	for i, doc := range idx.corpus {
		tf := make(map[string]int, len(doc))
		for _, tok := range doc {
			tf[tok]++
		}
		dl := float64(idx.docLens[i])
		var score float64
		for _, term := range qTokens {
			freq, ok := tf[term]
			if !ok {
				continue
			}
			f := float64(freq)
			num := f * (k1 + 1)
			den := f + k1*(1-b+b*dl/idx.avgLen)
			score += idx.idf(term) * (num / den)
		}
		scores[i] = score
	}

	type scored struct {
		i     int
		score float64
	}
	ranked := make([]scored, len(scores))
	for i, s := range scores {
		ranked[i] = scored{i, s}
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	if topK > 0 && topK < len(ranked) {
		ranked = ranked[:topK]
	}

	var out []Result
	for _, r := range ranked {
		if r.score > 0 {
			out = append(out, Result{DocID: idx.docIDs[r.i], Score: r.score})
		}
	}
	return out
}

// NormalizeScores min-max normalizes results to the [0,1] range. An empty
// input returns an empty map; a zero-range input (all scores equal) maps
// every doc to 1.0.
func NormalizeScores(results []Result) map[string]float64 {
	out := make(map[string]float64, len(results))
	if len(results) == 0 {
		return out
	}

	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}

	rng := max - min
	for _, r := range results {
		if rng == 0 {
			out[r.DocID] = 1.0
			continue
		}
		out[r.DocID] = (r.Score - min) / rng
	}
	return out
}

const cacheTTL = 5 * time.Minute

// Cache rebuilds a BM25 index at most once every cacheTTL, and immediately
// whenever the corpus size changes between calls — a cheap staleness
// signal that avoids tracking per-decision dirty state.
type Cache struct {
	mu        sync.Mutex
	index     *Index
	builtAt   time.Time
	lastCount int
}

// NewCache returns an empty cache; the first Get call builds the index.
func NewCache() *Cache { return &Cache{} }

// Get returns the cached index if it is within cacheTTL and the decision
// count is unchanged, otherwise rebuilds from decisions.
func (c *Cache) Get(decisions []model.Decision) *Index {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.index != nil && time.Since(c.builtAt) < cacheTTL && c.lastCount == len(decisions) {
		return c.index
	}

	c.index = FromDecisions(decisions)
	c.builtAt = time.Now()
	c.lastCount = len(decisions)
	return c.index
}

// Invalidate forces the next Get to rebuild regardless of TTL or count.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index = nil
}
