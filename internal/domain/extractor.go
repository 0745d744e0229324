package domain

import (
	"errors"
	"strings"
)

// ErrUnsupportedFormat is returned when a file's extension maps to no
// known extractor.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ExtractedPage is one page of extracted text.
type ExtractedPage struct {
	PageNumber int
	Content    string
}

// Extraction is the result of pulling text out of a source file.
type Extraction struct {
	Text      string
	Pages     []ExtractedPage
	Metadata  map[string]string
	PageCount int
}

// TextExtractor pulls plain text out of a raw file.
type TextExtractor interface {
	Extract(content []byte, filename string) (*Extraction, error)
}

// SanitizeText strips NUL bytes and non-printable control characters that
// Postgres TEXT columns cannot store. Newlines, tabs and carriage returns
// are preserved.
func SanitizeText(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == 0 {
			continue
		}
		if r == '\n' || r == '\r' || r == '\t' || r >= 32 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
