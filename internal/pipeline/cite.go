package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"docqa/internal/domain"
)

const citationSystem = `You are a citation verification specialist. Your job is to review a response
and ensure every factual claim is properly cited with [Source N] references.

Given:
1. The original sources with their [Source N] markers
2. A draft response

Your task:
- Check that all factual claims in the response have appropriate [Source N] citations
- Add missing citations where claims are made without references
- Remove or flag citations that don't match the source content
- Keep the response structure and content intact, only adjust citations
- If a claim cannot be verified from any source, mark it as [Unverified]

Return the corrected response. Do NOT add commentary, just the corrected text.`

const citationMaxTokens = 4096

var sourceMarkerPattern = regexp.MustCompile(`\[Source (\d+)\]`)

// CiteStage verifies and corrects [Source N] citations in the draft. It
// never fabricates sources; with no draft or no sources the draft passes
// through unchanged and is marked verified.
type CiteStage struct {
	llm    domain.LLMClient
	logger *slog.Logger
}

// NewCiteStage wires the citation stage.
func NewCiteStage(llm domain.LLMClient, logger *slog.Logger) *CiteStage {
	return &CiteStage{llm: llm, logger: logger}
}

func (s *CiteStage) Name() string { return "Cite" }

// Run populates pc.CitedAnswer and pc.CitationVerified.
func (s *CiteStage) Run(ctx context.Context, pc *Context) error {
	pc.Log(s.Name(), "Verifying citations")

	if pc.DraftAnswer == "" || len(pc.SourcesUsed) == 0 {
		pc.CitedAnswer = pc.DraftAnswer
		pc.CitationVerified = true
		return nil
	}

	var sourceLines []string
	for _, src := range pc.SourcesUsed {
		sourceLines = append(sourceLines, fmt.Sprintf("[Source %d]: %s", src.Index, src.ContentPreview))
	}

	messages := []domain.LLMMessage{{
		Role: "user",
		Content: fmt.Sprintf("SOURCES:\n%s\n\nDRAFT RESPONSE:\n%s\n\nVerify and correct all citations in the response.",
			strings.Join(sourceLines, "\n"), pc.DraftAnswer),
	}}

	resp, err := s.llm.Generate(ctx, citationSystem, messages, citationMaxTokens)
	if err != nil {
		return fmt.Errorf("citation verification failed: %w", err)
	}

	pc.CitedAnswer = resp.Text
	pc.CitationVerified = true

	unique := make(map[string]struct{})
	for _, m := range sourceMarkerPattern.FindAllStringSubmatch(pc.CitedAnswer, -1) {
		unique[m[1]] = struct{}{}
	}
	pc.Log(s.Name(), fmt.Sprintf("Verified: %d unique source refs in response", len(unique)))
	return nil
}
