package search

import (
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// BM25 Okapi parameters. Negative IDF values are floored at
// bm25Epsilon * average IDF, matching the reference implementation the
// original scoring was calibrated against.
const (
	bm25K1      = 1.5
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "was": {}, "were": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "and": {}, "or": {},
}

var nonWordPattern = regexp.MustCompile(`[^\w\s]`)

// Tokenize lowercases, strips punctuation, removes stop words and drops
// tokens of length <= 1. Query and corpus text go through the same path.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	text = nonWordPattern.ReplaceAllString(text, " ")
	fields := strings.Fields(text)

	tokens := make([]string, 0, len(fields))
	for _, t := range fields {
		if len(t) <= 1 {
			continue
		}
		if _, stop := stopWords[t]; stop {
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens
}

// SparseChunk is the unit stored in the sparse index.
type SparseChunk struct {
	DocumentID   uuid.UUID
	ChunkIndex   int
	Content      string
	PageNumber   *int
	SectionTitle string
}

// SparseResult is one keyword-search hit with its BM25 score.
type SparseResult struct {
	SparseChunk
	Score float64
}

type tenantIndex struct {
	chunks    []SparseChunk
	termFreqs []map[string]int
	docLens   []int
	avgDocLen float64
	idf       map[string]float64
}

// SparseIndex is the process-wide tenant -> BM25 index registry. It is
// volatile; RecoverIndexUsecase rebuilds it from storage at startup.
// Writes rebuild the tenant's index atomically under the lock, so readers
// see either the old or the new index, never a partial one.
type SparseIndex struct {
	mu      sync.RWMutex
	tenants map[uuid.UUID]*tenantIndex
	logger  *slog.Logger
}

// NewSparseIndex creates an empty registry.
func NewSparseIndex(logger *slog.Logger) *SparseIndex {
	return &SparseIndex{
		tenants: make(map[uuid.UUID]*tenantIndex),
		logger:  logger,
	}
}

// Build replaces the tenant's index with one built over chunks.
func (s *SparseIndex) Build(tenantID uuid.UUID, chunks []SparseChunk) {
	idx := buildTenantIndex(chunks)

	s.mu.Lock()
	s.tenants[tenantID] = idx
	s.mu.Unlock()

	s.logger.Info("sparse_index_built",
		slog.String("tenant_id", tenantID.String()),
		slog.Int("chunk_count", len(chunks)))
}

// Add rebuilds the tenant's index over the union of existing and new chunks.
// No incremental update: the rebuild cost is accepted for correctness.
func (s *SparseIndex) Add(tenantID uuid.UUID, chunks []SparseChunk) {
	s.mu.Lock()
	var existing []SparseChunk
	if idx, ok := s.tenants[tenantID]; ok {
		existing = idx.chunks
	}
	all := make([]SparseChunk, 0, len(existing)+len(chunks))
	all = append(all, existing...)
	all = append(all, chunks...)
	s.tenants[tenantID] = buildTenantIndex(all)
	s.mu.Unlock()

	s.logger.Info("sparse_index_extended",
		slog.String("tenant_id", tenantID.String()),
		slog.Int("added", len(chunks)),
		slog.Int("total", len(all)))
}

// RemoveDocument drops all of a document's chunks and rebuilds. The tenant
// entry is deleted entirely when no chunks remain.
func (s *SparseIndex) RemoveDocument(tenantID, documentID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.tenants[tenantID]
	if !ok {
		return
	}

	remaining := make([]SparseChunk, 0, len(idx.chunks))
	for _, c := range idx.chunks {
		if c.DocumentID != documentID {
			remaining = append(remaining, c)
		}
	}

	if len(remaining) == 0 {
		delete(s.tenants, tenantID)
		return
	}
	s.tenants[tenantID] = buildTenantIndex(remaining)
}

// Search runs BM25 scoring for the query within the tenant's corpus.
// Unknown tenant or an all-stop-word query yields an empty result, not an
// error. Only chunks with score > 0 are returned, filtered to documentIDs
// when given, sorted descending, truncated to topK.
func (s *SparseIndex) Search(tenantID uuid.UUID, query string, topK int, documentIDs []uuid.UUID) []SparseResult {
	s.mu.RLock()
	idx, ok := s.tenants[tenantID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}

	var filter map[uuid.UUID]struct{}
	if len(documentIDs) > 0 {
		filter = make(map[uuid.UUID]struct{}, len(documentIDs))
		for _, id := range documentIDs {
			filter[id] = struct{}{}
		}
	}

	var results []SparseResult
	for i, chunk := range idx.chunks {
		if filter != nil {
			if _, ok := filter[chunk.DocumentID]; !ok {
				continue
			}
		}
		score := idx.score(queryTokens, i)
		if score > 0 {
			results = append(results, SparseResult{SparseChunk: chunk, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// TenantChunkCount reports how many chunks are indexed for a tenant.
func (s *SparseIndex) TenantChunkCount(tenantID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.tenants[tenantID]
	if !ok {
		return 0
	}
	return len(idx.chunks)
}

func buildTenantIndex(chunks []SparseChunk) *tenantIndex {
	idx := &tenantIndex{
		chunks:    chunks,
		termFreqs: make([]map[string]int, len(chunks)),
		docLens:   make([]int, len(chunks)),
		idf:       make(map[string]float64),
	}

	docFreq := make(map[string]int)
	totalLen := 0
	for i, chunk := range chunks {
		tokens := Tokenize(chunk.Content)
		freqs := make(map[string]int, len(tokens))
		for _, t := range tokens {
			freqs[t]++
		}
		idx.termFreqs[i] = freqs
		idx.docLens[i] = len(tokens)
		totalLen += len(tokens)
		for t := range freqs {
			docFreq[t]++
		}
	}
	if len(chunks) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(chunks))
	}

	// IDF with the Okapi negative-value correction: terms appearing in more
	// than half the corpus get a small positive floor instead of a negative
	// weight.
	n := float64(len(chunks))
	var idfSum float64
	var negative []string
	for term, df := range docFreq {
		idf := math.Log(n-float64(df)+0.5) - math.Log(float64(df)+0.5)
		idx.idf[term] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, term)
		}
	}
	if len(docFreq) > 0 {
		floor := bm25Epsilon * (idfSum / float64(len(docFreq)))
		for _, term := range negative {
			idx.idf[term] = floor
		}
	}

	return idx
}

func (idx *tenantIndex) score(queryTokens []string, doc int) float64 {
	freqs := idx.termFreqs[doc]
	docLen := float64(idx.docLens[doc])

	var score float64
	for _, term := range queryTokens {
		f := float64(freqs[term])
		if f == 0 {
			continue
		}
		idf := idx.idf[term]
		norm := f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*docLen/idx.avgDocLen))
		score += idf * norm
	}
	return score
}
