package search_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"docqa/internal/domain"
	"docqa/internal/search"
)

func scored(docID uuid.UUID, chunkIndex int, dense, sparse float64) domain.ScoredChunk {
	return domain.ScoredChunk{
		DocumentID:  docID,
		ChunkIndex:  chunkIndex,
		DenseScore:  dense,
		SparseScore: sparse,
	}
}

func TestWeightedBlend_OrderingAndBounds(t *testing.T) {
	docID := uuid.New()
	chunks := []domain.ScoredChunk{
		scored(docID, 0, 0.2, 1.0),
		scored(docID, 1, 0.9, 0.0),
		scored(docID, 2, 0.5, 10.0),
	}

	blended := search.WeightedBlend(chunks)

	for i := 1; i < len(blended); i++ {
		assert.GreaterOrEqual(t, blended[i-1].CombinedScore, blended[i].CombinedScore)
	}
	for _, c := range blended {
		assert.GreaterOrEqual(t, c.CombinedScore, 0.0)
		// dense in [0,1] and sparse capped at 1 bounds the blend at 1.
		assert.LessOrEqual(t, c.CombinedScore, 1.0)
	}
	assert.Equal(t, 1, blended[0].ChunkIndex, "strong dense signal should win")
}

func TestWeightedBlend_SparseScoreCapped(t *testing.T) {
	docID := uuid.New()
	moderate := search.WeightedBlend([]domain.ScoredChunk{scored(docID, 0, 0.0, 20.0)})
	huge := search.WeightedBlend([]domain.ScoredChunk{scored(docID, 0, 0.0, 2000.0)})

	// Past the normalization cap, more raw BM25 score buys nothing.
	assert.Equal(t, moderate[0].CombinedScore, huge[0].CombinedScore)
	assert.InDelta(t, 0.4, huge[0].CombinedScore, 1e-9)
}

func TestReciprocalRankFusion_BothListsOutrankSingle(t *testing.T) {
	docID := uuid.New()
	both := scored(docID, 0, 0.9, 8.0)
	denseOnly := scored(docID, 1, 0.95, 0)
	sparseOnly := scored(docID, 2, 0, 12.0)

	fused := search.ReciprocalRankFusion(
		[]domain.ScoredChunk{denseOnly, both},
		[]domain.ScoredChunk{sparseOnly, both},
		10, search.RRFK,
	)

	assert.Len(t, fused, 3)
	assert.Equal(t, both.Key(), fused[0].Key(),
		"a chunk present in both rankings must outrank any single-list chunk")
}

func TestReciprocalRankFusion_MergesSparseDetailIntoDenseEntry(t *testing.T) {
	docID := uuid.New()
	dense := scored(docID, 0, 0.8, 0)
	sparse := scored(docID, 0, 0, 6.5)
	sparse.Content = "full chunk text"

	fused := search.ReciprocalRankFusion(
		[]domain.ScoredChunk{dense},
		[]domain.ScoredChunk{sparse},
		10, search.RRFK,
	)

	assert.Len(t, fused, 1)
	assert.Equal(t, "full chunk text", fused[0].Content)
	assert.Equal(t, 6.5, fused[0].SparseScore)
	assert.Equal(t, 0.8, fused[0].DenseScore)
}

func TestReciprocalRankFusion_EmptyLists(t *testing.T) {
	assert.Empty(t, search.ReciprocalRankFusion(nil, nil, 10, search.RRFK))
}

func TestReciprocalRankFusion_TopKTruncation(t *testing.T) {
	docID := uuid.New()
	var dense []domain.ScoredChunk
	for i := 0; i < 20; i++ {
		dense = append(dense, scored(docID, i, 1.0-float64(i)*0.01, 0))
	}

	fused := search.ReciprocalRankFusion(dense, nil, 5, search.RRFK)

	assert.Len(t, fused, 5)
	assert.Equal(t, 0, fused[0].ChunkIndex)
}

func TestReciprocalRankFusion_ScoreFormula(t *testing.T) {
	docID := uuid.New()
	only := scored(docID, 0, 0.5, 0)

	fused := search.ReciprocalRankFusion([]domain.ScoredChunk{only}, nil, 10, search.RRFK)

	assert.InDelta(t, 1.0/(search.RRFK+1.0), fused[0].CombinedScore, 1e-12)
}
