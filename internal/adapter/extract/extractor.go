package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"docqa/internal/domain"
)

type textExtractor struct {
	logger *slog.Logger
}

// NewTextExtractor creates an extractor for pdf, txt, and md payloads.
func NewTextExtractor(logger *slog.Logger) domain.TextExtractor {
	return &textExtractor{logger: logger}
}

// Extract pulls plain text out of the raw document bytes. PDF extraction is
// per page so chunk provenance can carry page numbers; plain formats are a
// single synthetic page.
func (e *textExtractor) Extract(content []byte, filename string) (*domain.Extraction, error) {
	docType, err := domain.ParseDocumentType(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, filename)
	}
	switch docType {
	case domain.DocumentTypePDF:
		return e.extractPDF(content)
	default:
		return e.extractPlain(content)
	}
}

func (e *textExtractor) extractPDF(data []byte) (*domain.Extraction, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	numPages := reader.NumPage()
	pages := make([]domain.ExtractedPage, 0, numPages)
	var all strings.Builder

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page should not sink the document.
			e.logger.Warn("pdf_page_extraction_failed",
				slog.Int("page", i),
				slog.String("error", err.Error()))
			continue
		}
		content = domain.SanitizeText(content)
		if strings.TrimSpace(content) == "" {
			continue
		}
		pages = append(pages, domain.ExtractedPage{PageNumber: i, Content: content})
		all.WriteString(content)
		all.WriteString("\n\n")
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no extractable text in pdf (%d pages)", numPages)
	}

	return &domain.Extraction{
		Text:      all.String(),
		Pages:     pages,
		PageCount: numPages,
		Metadata:  map[string]string{"extractor": "pdf", "pages": fmt.Sprintf("%d", numPages)},
	}, nil
}

func (e *textExtractor) extractPlain(data []byte) (*domain.Extraction, error) {
	text := domain.SanitizeText(string(data))
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("document contains no text")
	}
	return &domain.Extraction{
		Text:      text,
		Pages:     []domain.ExtractedPage{{PageNumber: 1, Content: text}},
		PageCount: 1,
		Metadata:  map[string]string{"extractor": "plain"},
	}, nil
}
