package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"docqa/internal/domain"
	"docqa/internal/usecase"
)

const (
	defaultPollInterval = 5 * time.Second
	jobTimeout          = 120 * time.Second
	initialBackoff      = 10 * time.Second
	maxBackoff          = 5 * time.Minute

	// Embedding calls are throttled so backfill never starves interactive
	// query embedding on the same backend.
	embedRatePerSecond = 2
	embedBurst         = 1
)

// EmbedBackfillWorker embeds documents whose ingestion completed while the
// vector backend was unavailable. Claims are serialized through
// FOR UPDATE SKIP LOCKED, so running multiple replicas is safe.
type EmbedBackfillWorker struct {
	docRepo   domain.DocumentRepository
	chunkRepo domain.ChunkRepository
	txManager domain.TransactionManager
	encoder   domain.VectorEncoder
	vectors   domain.VectorIndex
	limiter   *rate.Limiter
	logger    *slog.Logger
	stopChan  chan struct{}
	backoff   time.Duration
}

// NewEmbedBackfillWorker wires the backfill loop.
func NewEmbedBackfillWorker(
	docRepo domain.DocumentRepository,
	chunkRepo domain.ChunkRepository,
	txManager domain.TransactionManager,
	encoder domain.VectorEncoder,
	vectors domain.VectorIndex,
	logger *slog.Logger,
) *EmbedBackfillWorker {
	return &EmbedBackfillWorker{
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		txManager: txManager,
		encoder:   encoder,
		vectors:   vectors,
		limiter:   rate.NewLimiter(rate.Limit(embedRatePerSecond), embedBurst),
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

func (w *EmbedBackfillWorker) Start() {
	w.logger.Info("starting_embed_backfill_worker")
	go w.run()
}

func (w *EmbedBackfillWorker) Stop() {
	w.logger.Info("stopping_embed_backfill_worker")
	close(w.stopChan)
}

func (w *EmbedBackfillWorker) run() {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processNext()
			if w.backoff > 0 {
				ticker.Reset(w.backoff)
			} else {
				ticker.Reset(defaultPollInterval)
			}
		}
	}
}

func (w *EmbedBackfillWorker) processNext() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	var processed bool
	err := w.txManager.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := w.docRepo.AcquireNextEmbedPending(ctx)
		if err != nil {
			return err
		}
		if doc == nil {
			return nil
		}
		processed = true
		return w.embedDocument(ctx, doc)
	})

	if err != nil {
		// Backend still down is expected during an outage; no error spam.
		if errors.Is(err, domain.ErrVectorIndexNotConfigured) {
			w.backoff = w.nextBackoff(w.backoff)
			return
		}
		w.backoff = w.nextBackoff(w.backoff)
		w.logger.Warn("backfill_failed",
			slog.String("error", err.Error()),
			slog.Duration("backoff", w.backoff))
		return
	}
	if processed {
		w.backoff = 0
	}
}

func (w *EmbedBackfillWorker) embedDocument(ctx context.Context, doc *domain.Document) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter interrupted: %w", err)
	}

	chunks, err := w.chunkRepo.ListByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to load chunks: %w", err)
	}
	if len(chunks) == 0 {
		// Nothing to embed; stop reclaiming this document.
		return w.docRepo.SetVectorsIndexed(ctx, doc.ID, true)
	}

	records, err := usecase.EmbedChunks(ctx, w.encoder, chunks)
	if err != nil {
		return err
	}
	if err := w.vectors.Upsert(ctx, doc.TenantID, records); err != nil {
		return err
	}
	if err := w.docRepo.SetVectorsIndexed(ctx, doc.ID, true); err != nil {
		return err
	}

	w.logger.Info("document_backfilled",
		slog.String("document_id", doc.ID.String()),
		slog.Int("chunks", len(chunks)))
	return nil
}

func (w *EmbedBackfillWorker) nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return initialBackoff
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
