package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docqa/internal/domain"
)

const reflectionSystem = `You are a quality assurance reviewer for AI-generated responses about documents.

Evaluate the response on these criteria:
1. **Accuracy**: Does the response match what the sources say?
2. **Completeness**: Does it address all parts of the question?
3. **Citation quality**: Are sources properly referenced?
4. **Clarity**: Is the response well-structured and easy to follow?
5. **Hallucination check**: Does it contain information NOT in the sources?

Respond in this exact format:
VERDICT: PASS or REVISE
ISSUES: (list issues if REVISE, "None" if PASS)
SUGGESTIONS: (specific improvement suggestions if REVISE, "None" if PASS)`

const (
	reflectionMaxTokens = 500
	reflectionSources   = 5
	reviseVerdict       = "VERDICT: REVISE"
)

// ReflectStage critiques the answer and decides whether another synthesis
// pass is needed. The revision bound guarantees termination no matter what
// verdicts the generation backend returns.
type ReflectStage struct {
	llm    domain.LLMClient
	logger *slog.Logger
}

// NewReflectStage wires the reflection stage.
func NewReflectStage(llm domain.LLMClient, logger *slog.Logger) *ReflectStage {
	return &ReflectStage{llm: llm, logger: logger}
}

func (s *ReflectStage) Name() string { return "Reflect" }

// Run sets pc.NeedsRevision, incrementing pc.RevisionCount when a revision
// is requested. With no answer to check it skips revision entirely.
func (s *ReflectStage) Run(ctx context.Context, pc *Context) error {
	pc.Log(s.Name(), fmt.Sprintf("Reviewing (revision %d)", pc.RevisionCount))

	answer := pc.CitedAnswer
	if answer == "" {
		answer = pc.DraftAnswer
	}
	if answer == "" || len(pc.SourcesUsed) == 0 {
		// Nothing to judge, or nothing to judge it against.
		pc.NeedsRevision = false
		return nil
	}

	var sourceLines []string
	for i, src := range pc.SourcesUsed {
		if i == reflectionSources {
			break
		}
		sourceLines = append(sourceLines, fmt.Sprintf("[Source %d]: %s", src.Index, src.ContentPreview))
	}

	messages := []domain.LLMMessage{{
		Role: "user",
		Content: fmt.Sprintf("QUESTION: %s\n\nAVAILABLE SOURCES:\n%s\n\nRESPONSE TO REVIEW:\n%s\n\nEvaluate this response.",
			pc.Query, strings.Join(sourceLines, "\n"), answer),
	}}

	resp, err := s.llm.Generate(ctx, reflectionSystem, messages, reflectionMaxTokens)
	if err != nil {
		return fmt.Errorf("reflection failed: %w", err)
	}

	pc.ReflectionNotes = resp.Text

	if strings.Contains(resp.Text, reviseVerdict) && pc.RevisionCount < pc.MaxRevisions {
		pc.NeedsRevision = true
		pc.RevisionCount++
		pc.Log(s.Name(), fmt.Sprintf("REVISE needed: revision #%d", pc.RevisionCount))
	} else {
		pc.NeedsRevision = false
		pc.Log(s.Name(), "PASS: response quality acceptable")
	}
	return nil
}
