package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"docqa/internal/domain"
	"docqa/internal/search"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// topKPerQuery is the per-channel result budget for each expanded query.
	topKPerQuery = 5
	// keepAfterFusion is how many fused chunks feed the synthesis stage.
	keepAfterFusion = 10
)

// RetrieveStage expands the query, picks the retrieval strategy, fans out
// dense and sparse search across all expanded queries, fuses the results and
// resolves their full content from storage.
type RetrieveStage struct {
	sparse    *search.SparseIndex
	dense     *search.DenseSearcher
	hybrid    *search.HybridSearcher
	llm       domain.LLMClient
	docRepo   domain.DocumentRepository
	chunkRepo domain.ChunkRepository
	logger    *slog.Logger
}

// NewRetrieveStage wires the retrieval stage.
func NewRetrieveStage(
	sparse *search.SparseIndex,
	dense *search.DenseSearcher,
	llm domain.LLMClient,
	docRepo domain.DocumentRepository,
	chunkRepo domain.ChunkRepository,
	logger *slog.Logger,
) *RetrieveStage {
	return &RetrieveStage{
		sparse:    sparse,
		dense:     dense,
		hybrid:    search.NewHybridSearcher(sparse, dense, logger),
		llm:       llm,
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		logger:    logger,
	}
}

func (s *RetrieveStage) Name() string { return "Retrieve" }

// Run executes retrieval and populates pc.RetrievedChunks.
func (s *RetrieveStage) Run(ctx context.Context, pc *Context) error {
	pc.Log(s.Name(), "Starting retrieval")

	expansions := ExpandQuery(ctx, s.llm, pc.Query, s.logger)
	pc.SearchQueries = append([]string{pc.Query}, expansions...)
	pc.Log(s.Name(), fmt.Sprintf("Expanded to %d queries", len(pc.SearchQueries)))

	pc.Strategy = SelectStrategy(pc.Query)
	pc.Log(s.Name(), fmt.Sprintf("Strategy: %s", pc.Strategy))

	acc := newChunkAccumulator()

	// The expanded queries have no ordering dependency between them; only
	// the aggregation has one ("max score per key wins"), which the
	// accumulator enforces under its lock.
	g, gctx := errgroup.WithContext(ctx)
	for _, query := range pc.SearchQueries {
		g.Go(func() error {
			if pc.Strategy == domain.StrategyHybrid || pc.Strategy == domain.StrategyDense {
				results, err := s.dense.Search(gctx, pc.TenantID, query, topKPerQuery, pc.DocumentScope)
				switch {
				case errors.Is(err, domain.ErrVectorIndexNotConfigured):
					acc.markDenseUnavailable()
				case err != nil:
					return fmt.Errorf("dense search failed: %w", err)
				default:
					acc.addDense(results)
				}
			}

			if pc.Strategy == domain.StrategyHybrid || pc.Strategy == domain.StrategySparse {
				acc.addSparse(s.sparse.Search(pc.TenantID, query, topKPerQuery, pc.DocumentScope))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if acc.denseUnavailable() {
		s.logger.Warn("dense_search_unavailable",
			slog.String("tenant_id", pc.TenantID.String()))
		pc.Log(s.Name(), "Dense search not configured, continuing sparse-only")
	}

	fused := search.WeightedBlend(acc.chunks())
	if len(fused) > keepAfterFusion {
		fused = fused[:keepAfterFusion]
	}

	if err := s.resolveChunkDetails(ctx, fused); err != nil {
		return err
	}

	pc.RetrievedChunks = fused
	pc.Log(s.Name(), fmt.Sprintf("Retrieved %d unique chunks", len(fused)))
	return nil
}

// RunSinglePass retrieves for the original query only: one dense pass and
// one sparse pass, merged with reciprocal-rank fusion. The streaming path
// uses this; expansion and score blending belong to the multi-query Run.
func (s *RetrieveStage) RunSinglePass(ctx context.Context, pc *Context) error {
	pc.Log(s.Name(), "Starting single-pass retrieval")

	pc.SearchQueries = []string{pc.Query}
	pc.Strategy = domain.StrategyHybrid

	fused, err := s.hybrid.Search(ctx, pc.TenantID, pc.Query, keepAfterFusion, pc.DocumentScope)
	if err != nil {
		return err
	}

	if err := s.resolveChunkDetails(ctx, fused); err != nil {
		return err
	}

	pc.RetrievedChunks = fused
	pc.Log(s.Name(), fmt.Sprintf("Retrieved %d unique chunks", len(fused)))
	return nil
}

// resolveChunkDetails replaces vector-index previews with full chunk content
// and attaches document names. Missing rows keep the preview; storage errors
// are fatal to the request.
func (s *RetrieveStage) resolveChunkDetails(ctx context.Context, chunks []domain.ScoredChunk) error {
	names := make(map[uuid.UUID]string)

	for i := range chunks {
		content, err := s.chunkRepo.GetContent(ctx, chunks[i].DocumentID, chunks[i].ChunkIndex)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to resolve chunk content: %w", err)
		}
		if content != "" {
			chunks[i].Content = content
		}

		name, ok := names[chunks[i].DocumentID]
		if !ok {
			doc, err := s.docRepo.GetByID(ctx, chunks[i].DocumentID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("failed to resolve document: %w", err)
			}
			if doc != nil {
				name = doc.OriginalFilename
			}
			names[chunks[i].DocumentID] = name
		}
		chunks[i].DocumentName = name
	}
	return nil
}

// chunkAccumulator merges per-query search passes into one keyed map,
// keeping the maximum score seen per key per channel.
type chunkAccumulator struct {
	mu          sync.Mutex
	byKey       map[string]*domain.ScoredChunk
	denseIsDown bool
}

func newChunkAccumulator() *chunkAccumulator {
	return &chunkAccumulator{byKey: make(map[string]*domain.ScoredChunk)}
}

func (a *chunkAccumulator) markDenseUnavailable() {
	a.mu.Lock()
	a.denseIsDown = true
	a.mu.Unlock()
}

func (a *chunkAccumulator) denseUnavailable() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.denseIsDown
}

func (a *chunkAccumulator) addDense(results []search.DenseResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range results {
		key := r.VectorID
		if existing, ok := a.byKey[key]; ok {
			if r.Score > existing.DenseScore {
				existing.DenseScore = r.Score
			}
			continue
		}
		a.byKey[key] = &domain.ScoredChunk{
			VectorID:     r.VectorID,
			DocumentID:   r.DocumentID,
			ChunkIndex:   r.ChunkIndex,
			PageNumber:   r.PageNumber,
			SectionTitle: r.SectionTitle,
			Content:      r.ContentPreview,
			DenseScore:   r.Score,
		}
	}
}

func (a *chunkAccumulator) addSparse(results []search.SparseResult) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range results {
		key := fmt.Sprintf("%s_%d", r.DocumentID, r.ChunkIndex)
		if existing, ok := a.byKey[key]; ok {
			if r.Score > existing.SparseScore {
				existing.SparseScore = r.Score
			}
			if existing.Content == "" {
				existing.Content = r.Content
			}
			continue
		}
		a.byKey[key] = &domain.ScoredChunk{
			DocumentID:   r.DocumentID,
			ChunkIndex:   r.ChunkIndex,
			PageNumber:   r.PageNumber,
			SectionTitle: r.SectionTitle,
			Content:      r.Content,
			SparseScore:  r.Score,
		}
	}
}

func (a *chunkAccumulator) chunks() []domain.ScoredChunk {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.ScoredChunk, 0, len(a.byKey))
	for _, c := range a.byKey {
		out = append(out, *c)
	}
	return out
}
