package worker

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"docqa/internal/domain"
)

type mockDocRepo struct {
	mock.Mock
	domain.DocumentRepository
}

func (m *mockDocRepo) AcquireNextEmbedPending(ctx context.Context) (*domain.Document, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *mockDocRepo) SetVectorsIndexed(ctx context.Context, id uuid.UUID, indexed bool) error {
	return m.Called(ctx, id, indexed).Error(0)
}

type mockChunkRepo struct {
	mock.Mock
	domain.ChunkRepository
}

func (m *mockChunkRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]domain.DocumentChunk, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.DocumentChunk), args.Error(1)
}

type mockVectorIndex struct {
	mock.Mock
	domain.VectorIndex
}

func (m *mockVectorIndex) Upsert(ctx context.Context, tenantID uuid.UUID, records []domain.VectorRecord) error {
	return m.Called(ctx, tenantID, records).Error(0)
}

type passthroughTx struct{}

func (passthroughTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
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
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func (s *stubEncoder) Version() string { return "stub" }

func newTestWorker(docRepo *mockDocRepo, chunkRepo *mockChunkRepo, encoder domain.VectorEncoder, vectors *mockVectorIndex) *EmbedBackfillWorker {
	return NewEmbedBackfillWorker(
		docRepo, chunkRepo, passthroughTx{},
		encoder, vectors,
		slog.New(slog.DiscardHandler),
	)
}

func TestProcessNext_NothingPending(t *testing.T) {
	docRepo := new(mockDocRepo)
	docRepo.On("AcquireNextEmbedPending", mock.Anything).Return(nil, nil)

	w := newTestWorker(docRepo, new(mockChunkRepo), &stubEncoder{}, new(mockVectorIndex))
	w.processNext()

	assert.Equal(t, time.Duration(0), w.backoff)
	docRepo.AssertExpectations(t)
}

func TestProcessNext_EmbedsPendingDocument(t *testing.T) {
	tenantID := uuid.New()
	doc := &domain.Document{ID: uuid.New(), TenantID: tenantID}
	chunks := []domain.DocumentChunk{
		{DocumentID: doc.ID, ChunkIndex: 0, Content: "chunk text", VectorID: doc.ID.String() + "_0"},
	}

	docRepo := new(mockDocRepo)
	docRepo.On("AcquireNextEmbedPending", mock.Anything).Return(doc, nil)
	docRepo.On("SetVectorsIndexed", mock.Anything, doc.ID, true).Return(nil)

	chunkRepo := new(mockChunkRepo)
	chunkRepo.On("ListByDocument", mock.Anything, doc.ID).Return(chunks, nil)

	vectors := new(mockVectorIndex)
	vectors.On("Upsert", mock.Anything, tenantID, mock.AnythingOfType("[]domain.VectorRecord")).Return(nil)

	w := newTestWorker(docRepo, chunkRepo, &stubEncoder{}, vectors)
	w.processNext()

	assert.Equal(t, time.Duration(0), w.backoff)
	docRepo.AssertExpectations(t)
	chunkRepo.AssertExpectations(t)
	vectors.AssertExpectations(t)
}

func TestProcessNext_ChunklessDocumentMarkedIndexed(t *testing.T) {
	doc := &domain.Document{ID: uuid.New(), TenantID: uuid.New()}

	docRepo := new(mockDocRepo)
	docRepo.On("AcquireNextEmbedPending", mock.Anything).Return(doc, nil)
	docRepo.On("SetVectorsIndexed", mock.Anything, doc.ID, true).Return(nil)

	chunkRepo := new(mockChunkRepo)
	chunkRepo.On("ListByDocument", mock.Anything, doc.ID).Return([]domain.DocumentChunk{}, nil)

	vectors := new(mockVectorIndex)

	w := newTestWorker(docRepo, chunkRepo, &stubEncoder{}, vectors)
	w.processNext()

	docRepo.AssertExpectations(t)
	vectors.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessNext_BackoffGrowsOnFailure(t *testing.T) {
	doc := &domain.Document{ID: uuid.New(), TenantID: uuid.New()}

	docRepo := new(mockDocRepo)
	docRepo.On("AcquireNextEmbedPending", mock.Anything).Return(doc, nil)

	chunkRepo := new(mockChunkRepo)
	chunkRepo.On("ListByDocument", mock.Anything, doc.ID).
		Return(nil, errors.New("database unavailable"))

	w := newTestWorker(docRepo, chunkRepo, &stubEncoder{}, new(mockVectorIndex))

	w.processNext()
	assert.Equal(t, initialBackoff, w.backoff)

	w.processNext()
	assert.Equal(t, 2*initialBackoff, w.backoff)
}

func TestProcessNext_UnconfiguredEncoderBacksOffQuietly(t *testing.T) {
	doc := &domain.Document{ID: uuid.New(), TenantID: uuid.New()}
	chunks := []domain.DocumentChunk{{DocumentID: doc.ID, ChunkIndex: 0, Content: "text"}}

	docRepo := new(mockDocRepo)
	docRepo.On("AcquireNextEmbedPending", mock.Anything).Return(doc, nil)

	chunkRepo := new(mockChunkRepo)
	chunkRepo.On("ListByDocument", mock.Anything, doc.ID).Return(chunks, nil)

	w := newTestWorker(docRepo, chunkRepo, nil, new(mockVectorIndex))
	w.processNext()

	assert.Equal(t, initialBackoff, w.backoff)
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	w := newTestWorker(new(mockDocRepo), new(mockChunkRepo), &stubEncoder{}, new(mockVectorIndex))

	assert.Equal(t, initialBackoff, w.nextBackoff(0))
	assert.Equal(t, 20*time.Second, w.nextBackoff(initialBackoff))
	assert.Equal(t, maxBackoff, w.nextBackoff(maxBackoff))
	assert.Equal(t, maxBackoff, w.nextBackoff(4*time.Minute))
}

func TestStartStop(t *testing.T) {
	docRepo := new(mockDocRepo)
	docRepo.On("AcquireNextEmbedPending", mock.Anything).Return(nil, nil).Maybe()

	w := newTestWorker(docRepo, new(mockChunkRepo), &stubEncoder{}, new(mockVectorIndex))
	w.Start()
	w.Stop()
}
