package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docqa/internal/domain"
)

const maxExpandedQueries = 3

const queryExpansionPrompt = `You are a search query optimizer. Given a user question, generate 2-3
alternative search queries that would help find relevant information in a document collection.

User question: %s

Return ONLY the queries, one per line. No numbering, no explanations.`

var definitionalCues = []string{"definition", "what is", "meaning of"}

// SelectStrategy picks the retrieval strategy from the literal query text.
// Quoted phrases and very short queries benefit from exact keyword matching,
// so they run hybrid; definitional questions lean on keyword search.
//
// NOTE: the remaining branch always returns hybrid, so dense-only is never
// selected here even though the strategy exists. Preserved as observed;
// flagged for product clarification rather than silently changed.
func SelectStrategy(query string) domain.RetrievalStrategy {
	words := strings.Fields(query)
	hasQuotes := strings.Contains(query, `"`)
	if hasQuotes || len(words) <= 3 {
		return domain.StrategyHybrid
	}

	lower := strings.ToLower(query)
	for _, cue := range definitionalCues {
		if strings.Contains(lower, cue) {
			return domain.StrategySparse
		}
	}
	return domain.StrategyHybrid
}

// ExpandQuery asks the generation backend for up to 3 alternative phrasings.
// Any failure, including malformed output, degrades silently to no
// expansion; expansion must never abort retrieval.
func ExpandQuery(ctx context.Context, llm domain.LLMClient, query string, logger *slog.Logger) []string {
	prompt := fmt.Sprintf(queryExpansionPrompt, query)

	resp, err := llm.Generate(ctx, "", []domain.LLMMessage{{Role: "user", Content: prompt}}, 200)
	if err != nil {
		logger.Warn("query_expansion_failed", slog.String("error", err.Error()))
		return nil
	}

	var expansions []string
	for _, line := range strings.Split(resp.Text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		expansions = append(expansions, trimmed)
		if len(expansions) == maxExpandedQueries {
			break
		}
	}
	return expansions
}
