package search

import (
	"sort"

	"github.com/knovalab/knova/internal/store"
)

// fuseRRF combines vector and keyword result lists with alpha-weighted
// reciprocal rank fusion:
//
//	score(d) = alpha/(k + r_v) + (1-alpha)/(k + r_k)
//
// Ranks are 1-based. A document absent from one source takes the
// sentinel rank candidateN+absentRankOffset for that source, so
// single-source documents are penalized but never dropped. Ties break
// by smaller vector rank, then smaller keyword rank, then id, which
// keeps alpha=1 output in pure vector order and alpha=0 in pure
// keyword order.
//
// Text and metadata come from the vector hit when the document
// appeared there, otherwise from the keyword hit.
func fuseRRF(vec, kw []*store.SearchResult, alpha float64, candidateN int) []*Result {
	if len(vec) == 0 && len(kw) == 0 {
		return []*Result{}
	}

	merged := make(map[string]*Result, len(vec)+len(kw))
	get := func(id string) *Result {
		if r, ok := merged[id]; ok {
			return r
		}
		r := &Result{ID: id}
		merged[id] = r
		return r
	}

	for i, hit := range vec {
		r := get(hit.ID)
		r.VectorRank = i + 1
		r.VectorScore = hit.Score
		r.Text = hit.Text
		r.Metadata = hit.Metadata
	}
	for i, hit := range kw {
		r := get(hit.ID)
		r.KeywordRank = i + 1
		r.KeywordScore = hit.Score
		if r.VectorRank == 0 {
			r.Text = hit.Text
			r.Metadata = hit.Metadata
		}
	}

	sentinel := candidateN + absentRankOffset
	for _, r := range merged {
		vRank := r.VectorRank
		if vRank == 0 {
			vRank = sentinel
		}
		kRank := r.KeywordRank
		if kRank == 0 {
			kRank = sentinel
		}
		r.Score = alpha/float64(rrfConstant+vRank) + (1-alpha)/float64(rrfConstant+kRank)
	}

	results := make([]*Result, 0, len(merged))
	for _, r := range merged {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool {
		return fusedLess(results[i], results[j], sentinel)
	})
	return results
}

// fusedLess reports whether a ranks before b.
func fusedLess(a, b *Result, sentinel int) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	av, bv := rankOrSentinel(a.VectorRank, sentinel), rankOrSentinel(b.VectorRank, sentinel)
	if av != bv {
		return av < bv
	}
	ak, bk := rankOrSentinel(a.KeywordRank, sentinel), rankOrSentinel(b.KeywordRank, sentinel)
	if ak != bk {
		return ak < bk
	}
	return a.ID < b.ID
}

func rankOrSentinel(rank, sentinel int) int {
	if rank == 0 {
		return sentinel
	}
	return rank
}
