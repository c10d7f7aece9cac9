package document

import (
	"context"
	"strings"

	"github.com/feichai0017/batchsheet-processor/internal/apperrors"
)

// Kind is the declared content kind of an upload.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
)

const (
	// PageOCRThreshold is the direct-text length under which a page is treated as a scan.
	PageOCRThreshold = 50
	// DocumentCharsPerPage is the average direct-text length per page under which
	// the whole document is re-read with OCR.
	DocumentCharsPerPage = 100

	StrategyImageOCR    = "image-ocr"
	StrategyPDFText     = "pdf-text"
	StrategyPDFFallback = "pdf-ocr-fallback"
)

// KindFromContentType classifies a MIME type into a processing kind.
func KindFromContentType(contentType string) (Kind, error) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage, nil
	case ct == "application/pdf":
		return KindPDF, nil
	default:
		return "", apperrors.UnsupportedMediaType(contentType)
	}
}

// OCRResult is what an OCR primitive returns.
type OCRResult struct {
	Text       string
	Confidence float64
}

// ProgressFunc receives diagnostic progress from an OCR primitive.
type ProgressFunc func(stage string, progress float64)

// OCREngine is the OCR primitive the extractor wraps.
type OCREngine interface {
	Recognize(ctx context.Context, data []byte, language string) (*OCRResult, error)
	Close() error
}

// PageReader exposes the text layer of an opened PDF.
type PageReader interface {
	NumPage() int
	PageText(page int) (string, error)
}

// titledReader is implemented by readers that expose the document Info title.
type titledReader interface {
	Title() string
}

// PDFOpener opens a PDF from memory.
type PDFOpener func(data []byte) (PageReader, error)

// Page is the text of one page and whether it looked like a scan.
type Page struct {
	Number   int    `json:"number"`
	Text     string `json:"text"`
	NeedsOCR bool   `json:"needsOcr"`
}

// ExtractionResult is the outcome of extracting one document.
type ExtractionResult struct {
	Pages       []Page `json:"pages"`
	PageCount   int    `json:"pageCount"`
	CharCount   int    `json:"charCount"`
	Text        string `json:"text"`
	Strategy    string `json:"strategy"`
	OCRFallback bool   `json:"ocrFallback"`
	Title       string `json:"title,omitempty"`
	// FallbackError is set when the whole-document OCR fallback failed and was absorbed.
	FallbackError string `json:"fallbackError,omitempty"`
}

// TextExtractor turns raw bytes into text.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, kind Kind) (*ExtractionResult, error)
}
