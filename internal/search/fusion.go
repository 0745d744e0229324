package search

import (
	"math"
	"sort"

	"docqa/internal/domain"
)

// RRFK is the reciprocal-rank-fusion constant.
const RRFK = 60.0

const (
	blendDenseWeight  = 0.6
	blendSparseWeight = 0.4
	// blendSparseScale normalizes a raw BM25 score into [0, 1]. The cap
	// keeps an unbounded keyword score from dominating the cosine-normalized
	// dense score.
	blendSparseScale = 20.0
)

// WeightedBlend computes the combined score for chunks accumulated across
// multiple expanded-query passes and returns them sorted descending.
func WeightedBlend(chunks []domain.ScoredChunk) []domain.ScoredChunk {
	for i := range chunks {
		sparse := math.Min(chunks[i].SparseScore/blendSparseScale, 1.0)
		chunks[i].CombinedScore = blendDenseWeight*chunks[i].DenseScore + blendSparseWeight*sparse
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].CombinedScore > chunks[j].CombinedScore
	})
	return chunks
}

// ReciprocalRankFusion merges two independently ranked lists without score
// calibration: an item at 0-based rank r in a list accrues 1/(k + r + 1),
// summing contributions when it appears in both lists. Dense items key on
// their vector id and sparse items on (document_id, chunk_index); the two
// keyings coincide because vector ids are minted from the same pair.
func ReciprocalRankFusion(dense, sparse []domain.ScoredChunk, topK int, k float64) []domain.ScoredChunk {
	scores := make(map[string]float64)
	items := make(map[string]domain.ScoredChunk)

	for rank, item := range dense {
		key := item.Key()
		scores[key] += 1.0 / (k + float64(rank) + 1.0)
		if _, seen := items[key]; !seen {
			items[key] = item
		}
	}

	for rank, item := range sparse {
		key := item.Key()
		scores[key] += 1.0 / (k + float64(rank) + 1.0)
		if existing, seen := items[key]; seen {
			// Keep the dense entry but carry over what only the sparse
			// channel knows: the full chunk text and the raw BM25 score.
			if existing.Content == "" {
				existing.Content = item.Content
			}
			existing.SparseScore = item.SparseScore
			items[key] = existing
		} else {
			items[key] = item
		}
	}

	fused := make([]domain.ScoredChunk, 0, len(items))
	for key, item := range items {
		item.CombinedScore = scores[key]
		fused = append(fused, item)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].CombinedScore != fused[j].CombinedScore {
			return fused[i].CombinedScore > fused[j].CombinedScore
		}
		return fused[i].Key() < fused[j].Key()
	})

	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}
