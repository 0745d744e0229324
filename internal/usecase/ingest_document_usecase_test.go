package usecase_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
	"docqa/internal/search"
	"docqa/internal/usecase"
)

// --- Mocks shared across the usecase tests ---

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	return m.Called(ctx, doc).Error(0)
}

func (m *MockDocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) FindByContentHash(ctx context.Context, tenantID uuid.UUID, hash string) (*domain.Document, error) {
	args := m.Called(ctx, tenantID, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]domain.Document, error) {
	args := m.Called(ctx, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) ListCompleted(ctx context.Context) ([]domain.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) AcquireNextEmbedPending(ctx context.Context) (*domain.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.DocumentStatus, errorMessage string) error {
	return m.Called(ctx, id, status, errorMessage).Error(0)
}

func (m *MockDocumentRepository) SetVectorsIndexed(ctx context.Context, id uuid.UUID, indexed bool) error {
	return m.Called(ctx, id, indexed).Error(0)
}

func (m *MockDocumentRepository) SetExtractionResult(ctx context.Context, id uuid.UUID, pageCount, chunkCount int) error {
	return m.Called(ctx, id, pageCount, chunkCount).Error(0)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

type MockChunkRepository struct {
	mock.Mock
}

func (m *MockChunkRepository) BulkInsert(ctx context.Context, chunks []domain.DocumentChunk) error {
	return m.Called(ctx, chunks).Error(0)
}

func (m *MockChunkRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentChunk, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DocumentChunk), args.Error(1)
}

func (m *MockChunkRepository) GetContent(ctx context.Context, documentID uuid.UUID, chunkIndex int) (string, error) {
	args := m.Called(ctx, documentID, chunkIndex)
	return args.String(0), args.Error(1)
}

func (m *MockChunkRepository) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	return m.Called(ctx, documentID).Error(0)
}

// passthroughTxManager runs the callback without a real transaction.
type passthroughTxManager struct{}

func (passthroughTxManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type MockVectorIndex struct {
	mock.Mock
}

func (m *MockVectorIndex) Upsert(ctx context.Context, tenantID uuid.UUID, records []domain.VectorRecord) error {
	return m.Called(ctx, tenantID, records).Error(0)
}

func (m *MockVectorIndex) Query(ctx context.Context, tenantID uuid.UUID, vector []float32, topK int, documentIDs []uuid.UUID) ([]domain.VectorMatch, error) {
	args := m.Called(ctx, tenantID, vector, topK, documentIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VectorMatch), args.Error(1)
}

func (m *MockVectorIndex) DeleteDocument(ctx context.Context, tenantID uuid.UUID, documentID uuid.UUID) error {
	return m.Called(ctx, tenantID, documentID).Error(0)
}

type stubExtractor struct {
	err error
}

func (s *stubExtractor) Extract(content []byte, filename string) (*domain.Extraction, error) {
	if s.err != nil {
		return nil, s.err
	}
	text := string(content)
	return &domain.Extraction{
		Text:      text,
		Pages:     []domain.ExtractedPage{{PageNumber: 1, Content: text}},
		PageCount: 1,
	}, nil
}

type stubEncoder struct {
	err error
}

func (s *stubEncoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (s *stubEncoder) Version() string { return "stub" }

// --- Fixture ---

type ingestFixture struct {
	usecase   usecase.IngestDocumentUsecase
	docRepo   *MockDocumentRepository
	chunkRepo *MockChunkRepository
	vectors   *MockVectorIndex
	sparse    *search.SparseIndex
	tenantID  uuid.UUID
}

func newIngestFixture(t *testing.T, extractor domain.TextExtractor, encoder domain.VectorEncoder) *ingestFixture {
	t.Helper()
	docRepo := new(MockDocumentRepository)
	chunkRepo := new(MockChunkRepository)
	vectors := new(MockVectorIndex)
	sparse := search.NewSparseIndex(testLogger())

	uc := usecase.NewIngestDocumentUsecase(
		docRepo, chunkRepo, passthroughTxManager{},
		domain.NewContentHashPolicy(),
		extractor,
		domain.NewChunker(),
		encoder, vectors, sparse, testLogger(),
	)
	return &ingestFixture{
		usecase:   uc,
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		vectors:   vectors,
		sparse:    sparse,
		tenantID:  uuid.New(),
	}
}

// --- Tests ---

func TestIngest_UnsupportedFormat(t *testing.T) {
	fx := newIngestFixture(t, &stubExtractor{}, nil)

	_, err := fx.usecase.Ingest(context.Background(), fx.tenantID, "virus.exe", []byte("bytes"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestIngest_DeduplicatesIdenticalContent(t *testing.T) {
	fx := newIngestFixture(t, &stubExtractor{}, nil)
	existing := &domain.Document{ID: uuid.New(), TenantID: fx.tenantID, Status: domain.DocumentStatusCompleted}

	fx.docRepo.On("FindByContentHash", mock.Anything, fx.tenantID, mock.AnythingOfType("string")).
		Return(existing, nil)

	doc, err := fx.usecase.Ingest(context.Background(), fx.tenantID, "report.txt", []byte("same bytes"))

	require.NoError(t, err)
	assert.Equal(t, existing.ID, doc.ID)
	fx.docRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestIngest_HappyPath(t *testing.T) {
	fx := newIngestFixture(t, &stubExtractor{}, &stubEncoder{})
	ctx := context.Background()

	fx.docRepo.On("FindByContentHash", mock.Anything, fx.tenantID, mock.AnythingOfType("string")).
		Return(nil, nil)
	fx.docRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.Document")).Return(nil)
	fx.docRepo.On("UpdateStatus", mock.Anything, mock.Anything, domain.DocumentStatusProcessing, "").Return(nil)
	fx.chunkRepo.On("BulkInsert", mock.Anything, mock.AnythingOfType("[]domain.DocumentChunk")).Return(nil)
	fx.docRepo.On("SetExtractionResult", mock.Anything, mock.Anything, 1, 1).Return(nil)
	fx.docRepo.On("UpdateStatus", mock.Anything, mock.Anything, domain.DocumentStatusCompleted, "").Return(nil)
	fx.vectors.On("Upsert", mock.Anything, fx.tenantID, mock.AnythingOfType("[]domain.VectorRecord")).Return(nil)
	fx.docRepo.On("SetVectorsIndexed", mock.Anything, mock.Anything, true).Return(nil)
	fx.docRepo.On("GetByID", mock.Anything, mock.Anything).
		Return(&domain.Document{Status: domain.DocumentStatusCompleted, VectorsIndexed: true}, nil)

	doc, err := fx.usecase.Ingest(ctx, fx.tenantID, "contract.txt", []byte("Payment is due within thirty days of invoice."))

	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusCompleted, doc.Status)
	assert.True(t, doc.VectorsIndexed)
	assert.Equal(t, 1, fx.sparse.TenantChunkCount(fx.tenantID), "document should be sparse-searchable immediately")
	fx.docRepo.AssertExpectations(t)
	fx.vectors.AssertExpectations(t)
}

func TestIngest_DegradesWhenEmbeddingUnavailable(t *testing.T) {
	// Encoder failure must not fail ingestion: the document completes
	// sparse-searchable with vectors_indexed false for the backfill worker.
	fx := newIngestFixture(t, &stubExtractor{}, &stubEncoder{err: errors.New("embed backend down")})
	ctx := context.Background()

	fx.docRepo.On("FindByContentHash", mock.Anything, fx.tenantID, mock.Anything).Return(nil, nil)
	fx.docRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	fx.docRepo.On("UpdateStatus", mock.Anything, mock.Anything, domain.DocumentStatusProcessing, "").Return(nil)
	fx.chunkRepo.On("BulkInsert", mock.Anything, mock.Anything).Return(nil)
	fx.docRepo.On("SetExtractionResult", mock.Anything, mock.Anything, 1, 1).Return(nil)
	fx.docRepo.On("UpdateStatus", mock.Anything, mock.Anything, domain.DocumentStatusCompleted, "").Return(nil)
	fx.docRepo.On("SetVectorsIndexed", mock.Anything, mock.Anything, false).Return(nil)
	fx.docRepo.On("GetByID", mock.Anything, mock.Anything).
		Return(&domain.Document{Status: domain.DocumentStatusCompleted, VectorsIndexed: false}, nil)

	doc, err := fx.usecase.Ingest(ctx, fx.tenantID, "contract.txt", []byte("Some contract text here."))

	require.NoError(t, err)
	assert.Equal(t, domain.DocumentStatusCompleted, doc.Status)
	assert.False(t, doc.VectorsIndexed)
	fx.vectors.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngest_ExtractionFailureMarksDocumentFailed(t *testing.T) {
	fx := newIngestFixture(t, &stubExtractor{err: errors.New("corrupt file")}, nil)
	ctx := context.Background()

	fx.docRepo.On("FindByContentHash", mock.Anything, fx.tenantID, mock.Anything).Return(nil, nil)
	fx.docRepo.On("Create", mock.Anything, mock.Anything).Return(nil)
	fx.docRepo.On("UpdateStatus", mock.Anything, mock.Anything, domain.DocumentStatusProcessing, "").Return(nil)
	fx.docRepo.On("UpdateStatus", mock.Anything, mock.Anything, domain.DocumentStatusFailed, mock.AnythingOfType("string")).Return(nil)

	doc, err := fx.usecase.Ingest(ctx, fx.tenantID, "broken.txt", []byte("whatever"))

	require.Error(t, err)
	require.NotNil(t, doc, "the failed document record is still returned")
	assert.Equal(t, domain.DocumentStatusFailed, doc.Status)
	assert.NotEmpty(t, doc.ErrorMessage)
	fx.docRepo.AssertExpectations(t)
}

func TestGetDocument_TenantMismatch(t *testing.T) {
	fx := newIngestFixture(t, &stubExtractor{}, nil)
	docID := uuid.New()
	fx.docRepo.On("GetByID", mock.Anything, docID).
		Return(&domain.Document{ID: docID, TenantID: uuid.New()}, nil)

	_, err := fx.usecase.GetDocument(context.Background(), fx.tenantID, docID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemove_TenantMismatch(t *testing.T) {
	fx := newIngestFixture(t, &stubExtractor{}, nil)
	docID := uuid.New()
	fx.docRepo.On("GetByID", mock.Anything, docID).
		Return(&domain.Document{ID: docID, TenantID: uuid.New()}, nil)

	err := fx.usecase.Remove(context.Background(), fx.tenantID, docID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	fx.docRepo.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestRemove_EvictsFromIndexes(t *testing.T) {
	fx := newIngestFixture(t, &stubExtractor{}, nil)
	docID := uuid.New()

	fx.sparse.Build(fx.tenantID, []search.SparseChunk{
		{DocumentID: docID, ChunkIndex: 0, Content: "searchable content about contracts"},
	})

	fx.docRepo.On("GetByID", mock.Anything, docID).
		Return(&domain.Document{ID: docID, TenantID: fx.tenantID}, nil)
	fx.chunkRepo.On("DeleteByDocument", mock.Anything, docID).Return(nil)
	fx.docRepo.On("Delete", mock.Anything, docID).Return(nil)
	fx.vectors.On("DeleteDocument", mock.Anything, fx.tenantID, docID).
		Return(domain.ErrVectorIndexNotConfigured)

	err := fx.usecase.Remove(context.Background(), fx.tenantID, docID)

	require.NoError(t, err)
	assert.Equal(t, 0, fx.sparse.TenantChunkCount(fx.tenantID))
	fx.docRepo.AssertExpectations(t)
	fx.chunkRepo.AssertExpectations(t)
}

func TestEmbedChunks(t *testing.T) {
	docID := uuid.New()
	chunks := []domain.DocumentChunk{
		{DocumentID: docID, ChunkIndex: 0, Content: "first chunk", VectorID: docID.String() + "_0"},
		{DocumentID: docID, ChunkIndex: 1, Content: "second chunk", VectorID: docID.String() + "_1"},
	}

	t.Run("Nil encoder reports unconfigured", func(t *testing.T) {
		_, err := usecase.EmbedChunks(context.Background(), nil, chunks)
		assert.ErrorIs(t, err, domain.ErrVectorIndexNotConfigured)
	})

	t.Run("Pairs embeddings with metadata", func(t *testing.T) {
		records, err := usecase.EmbedChunks(context.Background(), &stubEncoder{}, chunks)

		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, docID.String()+"_0", records[0].ID)
		assert.Equal(t, docID, records[0].Metadata.DocumentID)
		assert.Equal(t, 1, records[1].Metadata.ChunkIndex)
		assert.Equal(t, "second chunk", records[1].Metadata.ContentPreview)
		assert.NotEmpty(t, records[0].Embedding)
	})

	t.Run("Encoder failure propagates", func(t *testing.T) {
		_, err := usecase.EmbedChunks(context.Background(), &stubEncoder{err: errors.New("backend down")}, chunks)
		assert.Error(t, err)
	})
}
