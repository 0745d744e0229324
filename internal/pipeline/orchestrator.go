package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"docqa/internal/domain"
)

// Stage enumerates the pipeline state machine. The single feedback edge is
// Reflect -> Synthesize, taken only while NeedsRevision is set; the revision
// bound makes termination trivially provable.
type Stage int

const (
	StageRetrieve Stage = iota
	StageSynthesize
	StageCite
	StageReflect
	StageDone
)

// Result is what the orchestrator hands back to the caller.
type Result struct {
	Answer    string
	Sources   []domain.SourceRef
	Trace     []string
	Revisions int
	Latency   time.Duration
}

// StreamEventKind tags streamed pipeline events.
type StreamEventKind string

const (
	StreamEventText    StreamEventKind = "text"
	StreamEventSources StreamEventKind = "sources"
	StreamEventDone    StreamEventKind = "done"
	StreamEventError   StreamEventKind = "error"
)

// StreamEvent is one event of the streaming answer path: zero or more text
// events, then exactly one sources event, then exactly one done event.
type StreamEvent struct {
	Kind    StreamEventKind
	Text    string
	Sources []domain.SourceRef
	Err     error
}

// Orchestrator drives the stage sequence and the bounded revision loop.
type Orchestrator struct {
	retrieve     *RetrieveStage
	synthesize   *SynthesizeStage
	cite         *CiteStage
	reflect      *ReflectStage
	llm          domain.LLMClient
	maxRevisions int
	logger       *slog.Logger
}

// NewOrchestrator wires the four stages. maxRevisions bounds the reflection
// feedback loop; values below one fall back to DefaultMaxRevisions.
func NewOrchestrator(
	retrieve *RetrieveStage,
	synthesize *SynthesizeStage,
	cite *CiteStage,
	reflect *ReflectStage,
	llm domain.LLMClient,
	maxRevisions int,
	logger *slog.Logger,
) *Orchestrator {
	if maxRevisions < 1 {
		maxRevisions = DefaultMaxRevisions
	}
	return &Orchestrator{
		retrieve:     retrieve,
		synthesize:   synthesize,
		cite:         cite,
		reflect:      reflect,
		llm:          llm,
		maxRevisions: maxRevisions,
		logger:       logger,
	}
}

// Run executes retrieve -> synthesize -> cite -> reflect, looping back to
// synthesize while reflection requests a revision, at most pc.MaxRevisions
// times. Any stage error aborts the request; no partial answer is returned.
func (o *Orchestrator) Run(ctx context.Context, pc *Context) (*Result, error) {
	start := time.Now()
	pc.MaxRevisions = o.maxRevisions

	stage := StageRetrieve
	for stage != StageDone {
		switch stage {
		case StageRetrieve:
			if err := o.retrieve.Run(ctx, pc); err != nil {
				return nil, err
			}
			stage = StageSynthesize
		case StageSynthesize:
			if err := o.synthesize.Run(ctx, pc); err != nil {
				return nil, err
			}
			stage = StageCite
		case StageCite:
			if err := o.cite.Run(ctx, pc); err != nil {
				return nil, err
			}
			stage = StageReflect
		case StageReflect:
			if err := o.reflect.Run(ctx, pc); err != nil {
				return nil, err
			}
			if pc.NeedsRevision {
				stage = StageSynthesize
			} else {
				stage = StageDone
			}
		}
	}

	pc.FinalAnswer = pc.CitedAnswer
	if pc.FinalAnswer == "" {
		pc.FinalAnswer = pc.DraftAnswer
	}
	pc.FinalSources = pc.SourcesUsed
	pc.Log("Orchestrator", "Pipeline complete")

	latency := time.Since(start)
	o.logger.Info("pipeline_complete",
		slog.Int("query_len", len(pc.Query)),
		slog.Int("revisions", pc.RevisionCount),
		slog.Int("sources", len(pc.FinalSources)),
		slog.Int64("latency_ms", latency.Milliseconds()))

	return &Result{
		Answer:    pc.FinalAnswer,
		Sources:   pc.FinalSources,
		Trace:     pc.Trace,
		Revisions: pc.RevisionCount,
		Latency:   latency,
	}, nil
}

// Stream executes the single-pass streaming path: one hybrid retrieval pass
// fused by reciprocal rank, then the synthesized answer token by token, then
// sources and done. Query expansion and the revision loop only run on the
// non-streaming path.
func (o *Orchestrator) Stream(ctx context.Context, pc *Context) <-chan StreamEvent {
	events := make(chan StreamEvent, 4)
	go func() {
		defer close(events)

		if err := o.retrieve.RunSinglePass(ctx, pc); err != nil {
			o.send(ctx, events, StreamEvent{Kind: StreamEventError, Err: err})
			return
		}

		if len(pc.RetrievedChunks) == 0 {
			pc.DraftAnswer = NoInformationAnswer
			pc.SourcesUsed = []domain.SourceRef{}
			if !o.send(ctx, events, StreamEvent{Kind: StreamEventText, Text: NoInformationAnswer}) {
				return
			}
			o.finishStream(ctx, events, pc)
			return
		}

		messages := buildSynthesisMessages(pc)
		chunkCh, errCh, err := o.llm.GenerateStream(ctx, synthesisSystem, messages, synthesisMaxTokens)
		if err != nil {
			o.send(ctx, events, StreamEvent{Kind: StreamEventError, Err: fmt.Errorf("stream setup failed: %w", err)})
			return
		}

		var full []byte
		for chunkCh != nil || errCh != nil {
			select {
			case <-ctx.Done():
				o.send(ctx, events, StreamEvent{Kind: StreamEventError, Err: ctx.Err()})
				return
			case chunk, ok := <-chunkCh:
				if !ok {
					chunkCh = nil
					continue
				}
				if chunk.Text != "" {
					full = append(full, chunk.Text...)
					if !o.send(ctx, events, StreamEvent{Kind: StreamEventText, Text: chunk.Text}) {
						return
					}
				}
				if chunk.Done {
					chunkCh = nil
					errCh = nil
				}
			case streamErr, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}
				o.send(ctx, events, StreamEvent{Kind: StreamEventError, Err: streamErr})
				return
			}
		}

		pc.DraftAnswer = string(full)
		pc.SourcesUsed = buildSourceRefs(pc.RetrievedChunks)
		o.finishStream(ctx, events, pc)
	}()
	return events
}

func (o *Orchestrator) finishStream(ctx context.Context, events chan<- StreamEvent, pc *Context) {
	pc.FinalAnswer = pc.DraftAnswer
	pc.FinalSources = pc.SourcesUsed
	if !o.send(ctx, events, StreamEvent{Kind: StreamEventSources, Sources: pc.FinalSources}) {
		return
	}
	o.send(ctx, events, StreamEvent{Kind: StreamEventDone})
}

func (o *Orchestrator) send(ctx context.Context, events chan<- StreamEvent, event StreamEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- event:
		return true
	}
}
