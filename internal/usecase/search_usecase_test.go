package usecase_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/search"
	"docqa/internal/usecase"
)

type searchFixture struct {
	usecase  usecase.SearchUsecase
	docRepo  *MockDocumentRepository
	tenantID uuid.UUID
	docID    uuid.UUID
}

// newSearchFixture indexes two chunks for one tenant. Dense search runs
// unconfigured, so the fused ranking comes from the sparse channel.
func newSearchFixture(t *testing.T) *searchFixture {
	t.Helper()
	log := testLogger()
	tenantID := uuid.New()
	docID := uuid.New()

	sparse := search.NewSparseIndex(log)
	sparse.Build(tenantID, []search.SparseChunk{
		{DocumentID: docID, ChunkIndex: 0, Content: "The warranty period lasts twenty four months from delivery."},
		{DocumentID: docID, ChunkIndex: 1, Content: "Warranty claims require the original receipt."},
	})
	dense := search.NewDenseSearcher(nil, nil, log)
	hybrid := search.NewHybridSearcher(sparse, dense, log)

	docRepo := new(MockDocumentRepository)
	return &searchFixture{
		usecase:  usecase.NewSearchUsecase(hybrid, docRepo, log),
		docRepo:  docRepo,
		tenantID: tenantID,
		docID:    docID,
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	fx := newSearchFixture(t)

	_, err := fx.usecase.Search(context.Background(), fx.tenantID, "   ", 0, 0, nil)
	assert.Error(t, err)
}

func TestSearch_ReturnsFusedResultsWithDocumentNames(t *testing.T) {
	fx := newSearchFixture(t)
	fx.docRepo.On("GetByID", mock.Anything, fx.docID).
		Return(&domain.Document{ID: fx.docID, TenantID: fx.tenantID, OriginalFilename: "contract.pdf"}, nil).Once()

	results, err := fx.usecase.Search(context.Background(), fx.tenantID, "warranty period", 0, 0, nil)

	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, fx.docID, r.DocumentID)
		assert.Equal(t, "contract.pdf", r.DocumentName)
		assert.NotEmpty(t, r.ChunkID)
		assert.NotEmpty(t, r.Content)
		assert.Greater(t, r.Score, 0.0)
	}
	// Document names resolve once per document, not once per chunk.
	fx.docRepo.AssertNumberOfCalls(t, "GetByID", 1)
}

func TestSearch_ThresholdFiltersLowScores(t *testing.T) {
	fx := newSearchFixture(t)

	results, err := fx.usecase.Search(context.Background(), fx.tenantID, "warranty period", 0, 1.0, nil)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_UnknownTenantYieldsNoResults(t *testing.T) {
	fx := newSearchFixture(t)

	results, err := fx.usecase.Search(context.Background(), uuid.New(), "warranty period", 0, 0, nil)

	require.NoError(t, err)
	assert.Empty(t, results)
}
