package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docqa/internal/domain"
)

// NoInformationAnswer is returned verbatim when retrieval finds nothing.
const NoInformationAnswer = "I couldn't find relevant information in the uploaded documents " +
	"to answer your question. Please try rephrasing or upload relevant documents."

const synthesisSystem = `You are an expert research synthesizer. Your task is to combine information
from multiple document sources into a clear, comprehensive answer.

Rules:
1. Reference sources using [Source N] notation based on the source numbers provided.
2. If sources contain contradictory information, acknowledge and explain the differences.
3. Synthesize across sources instead of summarizing each source sequentially.
4. Be precise and factual. Never add information not present in the sources.
5. If the sources don't fully answer the question, say what's missing.
6. Use clear structure: paragraphs, bullet points, or numbered lists where appropriate.`

const (
	synthesisMaxTokens = 4096
	historyWindow      = 6
)

// SynthesizeStage turns retrieved chunks into a drafted answer with numbered
// source context.
type SynthesizeStage struct {
	llm    domain.LLMClient
	logger *slog.Logger
}

// NewSynthesizeStage wires the synthesis stage.
func NewSynthesizeStage(llm domain.LLMClient, logger *slog.Logger) *SynthesizeStage {
	return &SynthesizeStage{llm: llm, logger: logger}
}

func (s *SynthesizeStage) Name() string { return "Synthesize" }

// Run drafts an answer from pc.RetrievedChunks. With no chunks it writes the
// fixed no-information answer and empty sources without contacting the
// generation backend.
func (s *SynthesizeStage) Run(ctx context.Context, pc *Context) error {
	pc.Log(s.Name(), "Synthesizing response from retrieved chunks")

	if len(pc.RetrievedChunks) == 0 {
		pc.DraftAnswer = NoInformationAnswer
		pc.SourcesUsed = []domain.SourceRef{}
		return nil
	}

	messages := buildSynthesisMessages(pc)

	resp, err := s.llm.Generate(ctx, synthesisSystem, messages, synthesisMaxTokens)
	if err != nil {
		return fmt.Errorf("synthesis generation failed: %w", err)
	}

	pc.DraftAnswer = resp.Text
	pc.SourcesUsed = buildSourceRefs(pc.RetrievedChunks)

	pc.Log(s.Name(), fmt.Sprintf("Draft: %d chars, %d sources", len(pc.DraftAnswer), len(pc.SourcesUsed)))
	return nil
}

// buildSynthesisMessages assembles the last few history turns plus the
// source-grounded question. Shared with the streaming path.
func buildSynthesisMessages(pc *Context) []domain.LLMMessage {
	context := buildSourceContext(pc.RetrievedChunks)

	history := pc.ChatHistory
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	messages := make([]domain.LLMMessage, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, domain.LLMMessage{Role: string(turn.Role), Content: turn.Content})
	}
	messages = append(messages, domain.LLMMessage{
		Role: "user",
		Content: fmt.Sprintf(
			"Based on the following document excerpts, answer the question thoroughly.\n\n"+
				"DOCUMENT EXCERPTS:\n%s\n\nQUESTION: %s",
			context, pc.Query),
	})
	return messages
}

func buildSourceContext(chunks []domain.ScoredChunk) string {
	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		docName := chunk.DocumentName
		if docName == "" {
			docName = chunk.DocumentID.String()
		}
		page := "?"
		if chunk.PageNumber != nil {
			page = fmt.Sprintf("%d", *chunk.PageNumber)
		}
		parts = append(parts, fmt.Sprintf("[Source %d] (Document: %s, Page: %s)\n%s",
			i+1, docName, page, chunk.Content))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func buildSourceRefs(chunks []domain.ScoredChunk) []domain.SourceRef {
	refs := make([]domain.SourceRef, 0, len(chunks))
	for i, chunk := range chunks {
		score := chunk.CombinedScore
		if score == 0 {
			score = chunk.DenseScore
		}
		refs = append(refs, domain.SourceRef{
			Index:          i + 1,
			DocumentID:     chunk.DocumentID,
			DocumentName:   chunk.DocumentName,
			ChunkIndex:     chunk.ChunkIndex,
			PageNumber:     chunk.PageNumber,
			SectionTitle:   chunk.SectionTitle,
			ContentPreview: domain.Preview(chunk.Content),
			Score:          score,
		})
	}
	return refs
}
