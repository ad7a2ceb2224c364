package retrieval

import (
	"math"
	"sort"
)

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// Index is an Okapi BM25 index over a fixed set of units.
type Index struct {
	tf    []map[string]int
	lens  []int
	df    map[string]int
	avgdl float64
}

// NewIndex builds an index over the tokenized units.
func NewIndex(units []Unit) *Index {
	ix := &Index{
		tf:   make([]map[string]int, len(units)),
		lens: make([]int, len(units)),
		df:   make(map[string]int),
	}
	total := 0
	for i, u := range units {
		tokens := Tokenize(u.Text)
		counts := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			counts[tok]++
		}
		for tok := range counts {
			ix.df[tok]++
		}
		ix.tf[i] = counts
		ix.lens[i] = len(tokens)
		total += len(tokens)
	}
	if len(units) > 0 {
		ix.avgdl = float64(total) / float64(len(units))
	}
	return ix
}

// Len returns the number of indexed units.
func (ix *Index) Len() int {
	return len(ix.tf)
}

// idf uses the Lucene form, which stays positive for terms present in more
// than half of the units.
func (ix *Index) idf(term string) float64 {
	df := float64(ix.df[term])
	docs := float64(len(ix.tf))
	return math.Log(1 + (docs-df+0.5)/(df+0.5))
}

// Scores returns the BM25 score of every unit for the query tokens.
func (ix *Index) Scores(query []string) []float64 {
	scores := make([]float64, len(ix.tf))
	if ix.avgdl == 0 {
		return scores
	}
	for _, term := range query {
		if ix.df[term] == 0 {
			continue
		}
		idf := ix.idf(term)
		for i, counts := range ix.tf {
			f := float64(counts[term])
			if f == 0 {
				continue
			}
			norm := 1 - bm25B + bm25B*float64(ix.lens[i])/ix.avgdl
			scores[i] += idf * f * (bm25K1 + 1) / (f + bm25K1*norm)
		}
	}
	return scores
}

// Top returns the indexes of the n best scoring units, best first. Units
// with a zero score are never returned; equal scores keep document order.
func (ix *Index) Top(query []string, n int) []int {
	scores := ix.Scores(query)
	var idx []int
	for i, s := range scores {
		if s > 0 {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	if n > 0 && len(idx) > n {
		idx = idx[:n]
	}
	return idx
}
