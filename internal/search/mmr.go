package search

import "math"

// mmrRerank orders candidates by maximal marginal relevance:
//
//	MMR(d) = lambda*sim(d, q) - (1-lambda)*max_{s in S} sim(d, s)
//
// The first pick is the candidate most similar to the query; each
// following pick maximizes relevance minus redundancy against the
// already selected set. Candidates without a stored embedding keep
// their fused order at the tail. Selection is greedy and returns at
// most topK results.
func mmrRerank(candidates []*Result, queryEmbedding []float32, embeddings map[string][]float32, lambda float64, topK int) []*Result {
	if len(candidates) <= 1 || topK <= 0 {
		if len(candidates) > topK {
			return candidates[:topK]
		}
		return candidates
	}

	var pool, tail []*Result
	for _, c := range candidates {
		if _, ok := embeddings[c.ID]; ok {
			pool = append(pool, c)
		} else {
			tail = append(tail, c)
		}
	}

	querySim := make(map[string]float64, len(pool))
	for _, c := range pool {
		querySim[c.ID] = cosine(queryEmbedding, embeddings[c.ID])
	}

	selected := make([]*Result, 0, topK)
	remaining := pool
	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := 0
		bestScore := math.Inf(-1)
		for i, c := range remaining {
			score := lambda * querySim[c.ID]
			if len(selected) > 0 {
				maxRedundancy := math.Inf(-1)
				for _, s := range selected {
					if sim := cosine(embeddings[c.ID], embeddings[s.ID]); sim > maxRedundancy {
						maxRedundancy = sim
					}
				}
				score -= (1 - lambda) * maxRedundancy
			}
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	for _, c := range tail {
		if len(selected) == topK {
			break
		}
		selected = append(selected, c)
	}
	return selected
}

// cosine is the cosine similarity of two vectors, zero when either has
// no magnitude or the lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
