package domain

import (
	"regexp"
	"strings"
)

// ChunkerVersion identifies the chunking algorithm, so reindexing can tell
// which version produced a stored chunk.
type ChunkerVersion string

const (
	// ChunkerVersionV1 is the section-aware chunker with sentence overlap.
	ChunkerVersionV1 ChunkerVersion = "v1"
)

const (
	// DefaultChunkTokens is the token budget per chunk.
	DefaultChunkTokens = 1000
	// DefaultChunkOverlapTokens is the token overlap carried between
	// consecutive chunks split from one oversized section.
	DefaultChunkOverlapTokens = 200
)

// Chunk is one slice of a document produced by the chunker, before it is
// persisted as a DocumentChunk.
type Chunk struct {
	ChunkIndex   int
	Content      string
	TokenCount   int
	PageNumber   *int
	SectionTitle string
}

// Chunker splits extracted pages into retrieval-sized chunks.
type Chunker interface {
	ChunkPages(pages []ExtractedPage) ([]Chunk, error)
	Version() ChunkerVersion
}

type sectionChunker struct {
	chunkTokens   int
	overlapTokens int
}

// NewChunker creates the default section-aware chunker.
func NewChunker() Chunker {
	return &sectionChunker{
		chunkTokens:   DefaultChunkTokens,
		overlapTokens: DefaultChunkOverlapTokens,
	}
}

// NewChunkerWithBudget creates a chunker with explicit token budgets.
func NewChunkerWithBudget(chunkTokens, overlapTokens int) Chunker {
	if chunkTokens <= 0 {
		chunkTokens = DefaultChunkTokens
	}
	if overlapTokens < 0 || overlapTokens >= chunkTokens {
		overlapTokens = DefaultChunkOverlapTokens
	}
	return &sectionChunker{chunkTokens: chunkTokens, overlapTokens: overlapTokens}
}

func (c *sectionChunker) Version() ChunkerVersion {
	return ChunkerVersionV1
}

// headingPattern matches markdown headings, ALL-CAPS lines, numbered headings
// and chapter markers.
var headingPattern = regexp.MustCompile(`(?m)^(#{1,6}\s+.+|[A-Z][A-Z\s]{2,}$|\d+\.\s+[A-Z].+|Chapter\s+\d+.*)$`)

// ChunkPages splits pages into chunks, keeping each section whole when it
// fits the token budget and splitting oversized sections at sentence
// boundaries with overlap.
func (c *sectionChunker) ChunkPages(pages []ExtractedPage) ([]Chunk, error) {
	var chunks []Chunk
	chunkIndex := 0

	for _, page := range pages {
		content := page.Content
		if strings.TrimSpace(content) == "" {
			continue
		}
		pageNumber := page.PageNumber

		for _, section := range splitIntoSections(content) {
			text := strings.TrimSpace(section.text)
			if text == "" {
				continue
			}

			if EstimateTokens(text) <= c.chunkTokens {
				chunks = append(chunks, Chunk{
					ChunkIndex:   chunkIndex,
					Content:      text,
					TokenCount:   EstimateTokens(text),
					PageNumber:   intPtr(pageNumber),
					SectionTitle: section.title,
				})
				chunkIndex++
				continue
			}

			for _, sub := range c.splitWithOverlap(text) {
				sub = strings.TrimSpace(sub)
				if sub == "" {
					continue
				}
				chunks = append(chunks, Chunk{
					ChunkIndex:   chunkIndex,
					Content:      sub,
					TokenCount:   EstimateTokens(sub),
					PageNumber:   intPtr(pageNumber),
					SectionTitle: section.title,
				})
				chunkIndex++
			}
		}
	}

	return chunks, nil
}

// EstimateTokens approximates the token count at ~4 characters per token.
func EstimateTokens(text string) int {
	return len(text) / 4
}

type section struct {
	title string
	text  string
}

func splitIntoSections(text string) []section {
	matches := headingPattern.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return []section{{title: "", text: text}}
	}

	var sections []section
	if matches[0][0] > 0 {
		preamble := text[:matches[0][0]]
		if strings.TrimSpace(preamble) != "" {
			sections = append(sections, section{title: "", text: preamble})
		}
	}

	for i, m := range matches {
		title := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(text[m[0]:m[1]]), "#"))
		start := m[1]
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := text[start:end]
		if strings.TrimSpace(body) != "" {
			sections = append(sections, section{title: title, text: body})
		}
	}

	if len(sections) == 0 {
		return []section{{title: "", text: text}}
	}
	return sections
}

var sentenceBoundary = regexp.MustCompile(`(?s)(.*?[.!?])(\s+|$)`)

func splitSentences(text string) []string {
	matches := sentenceBoundary.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return []string{text}
	}
	var sentences []string
	consumed := 0
	for _, m := range matches {
		sentences = append(sentences, m[1])
		consumed += len(m[0])
	}
	if rest := strings.TrimSpace(text[consumed:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// splitWithOverlap packs sentences into chunks up to the token budget,
// carrying overlapTokens worth of trailing sentences into the next chunk.
func (c *sectionChunker) splitWithOverlap(text string) []string {
	sentences := splitSentences(text)

	var chunks []string
	var current []string
	currentTokens := 0

	for _, sentence := range sentences {
		tokens := EstimateTokens(sentence)

		if currentTokens+tokens > c.chunkTokens && len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))

			// Seed the next chunk with trailing sentences as overlap.
			var overlap []string
			overlapTokens := 0
			for i := len(current) - 1; i >= 0; i-- {
				t := EstimateTokens(current[i])
				if overlapTokens+t > c.overlapTokens {
					break
				}
				overlap = append([]string{current[i]}, overlap...)
				overlapTokens += t
			}
			current = overlap
			currentTokens = overlapTokens
		}

		current = append(current, sentence)
		currentTokens += tokens
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

func intPtr(v int) *int {
	return &v
}
