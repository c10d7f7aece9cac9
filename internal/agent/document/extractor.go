package document

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/feichai0017/batchsheet-processor/internal/agent/document/pdf"
	"github.com/feichai0017/batchsheet-processor/internal/apperrors"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

// Extractor picks between the PDF text layer and OCR for each document.
type Extractor struct {
	ocr      OCREngine
	openPDF  PDFOpener
	language string
	logger   logger.Logger
}

type ExtractorOption func(*Extractor)

// WithLanguage sets the OCR language, "eng" by default.
func WithLanguage(lang string) ExtractorOption {
	return func(e *Extractor) {
		if lang != "" {
			e.language = lang
		}
	}
}

// WithPDFOpener replaces the text-layer reader.
func WithPDFOpener(open PDFOpener) ExtractorOption {
	return func(e *Extractor) {
		if open != nil {
			e.openPDF = open
		}
	}
}

func NewExtractor(ocr OCREngine, log logger.Logger, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		ocr:      ocr,
		openPDF:  openLedongthuc,
		language: "eng",
		logger:   log.Named("extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func openLedongthuc(data []byte) (PageReader, error) {
	return pdf.Open(data)
}

// Extract produces the combined text and page count of one document.
func (e *Extractor) Extract(ctx context.Context, data []byte, kind Kind) (*ExtractionResult, error) {
	start := time.Now()
	var (
		res *ExtractionResult
		err error
	)
	switch kind {
	case KindImage:
		res, err = e.extractImage(ctx, data)
	case KindPDF:
		res, err = e.extractPDF(ctx, data)
	default:
		return nil, apperrors.UnsupportedMediaType(string(kind))
	}
	if err != nil {
		return nil, err
	}

	e.logger.Info("Text extraction finished",
		logger.String("strategy", res.Strategy),
		logger.Int("pages", res.PageCount),
		logger.Int("chars", res.CharCount),
		logger.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (e *Extractor) extractImage(ctx context.Context, data []byte) (*ExtractionResult, error) {
	if e.ocr == nil {
		return nil, apperrors.OCRFailure(errors.New("no OCR engine configured"))
	}
	out, err := e.ocr.Recognize(ctx, data, e.language)
	if err != nil {
		return nil, apperrors.OCRFailure(err)
	}
	if out == nil {
		return nil, apperrors.OCRFailure(errors.New("OCR engine returned no result"))
	}

	return &ExtractionResult{
		Pages:     []Page{{Number: 1, Text: out.Text, NeedsOCR: true}},
		PageCount: 1,
		CharCount: utf8.RuneCountInString(out.Text),
		Text:      out.Text,
		Strategy:  StrategyImageOCR,
	}, nil
}

func (e *Extractor) extractPDF(ctx context.Context, data []byte) (*ExtractionResult, error) {
	reader, err := e.openPDF(data)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	pageCount := reader.NumPage()
	pages := make([]Page, 0, pageCount)
	direct := 0
	for n := 1; n <= pageCount; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := reader.PageText(n)
		if err != nil {
			e.logger.Warn("Direct text extraction failed for page",
				logger.Int("page", n),
				logger.Error(err),
			)
			raw = ""
		}
		text := joinTokens(raw)
		length := utf8.RuneCountInString(text)
		pages = append(pages, Page{Number: n, Text: text, NeedsOCR: length < PageOCRThreshold})
		direct += length
	}

	res := &ExtractionResult{
		Pages:     pages,
		PageCount: pageCount,
		CharCount: direct,
		Strategy:  StrategyPDFText,
	}
	if t, ok := reader.(titledReader); ok {
		res.Title = t.Title()
	}

	if direct < DocumentCharsPerPage*pageCount {
		e.logger.Info("PDF looks scanned, trying whole-document OCR",
			logger.Int("pages", pageCount),
			logger.Int("directChars", direct),
		)
		fallback, err := e.recognizeWhole(ctx, data)
		switch {
		case err != nil:
			// absorbed: the document still completes with the direct text
			e.logger.Warn("Whole-document OCR fallback failed, keeping direct text",
				logger.String("code", string(apperrors.CodePartialExtraction)),
				logger.Error(err),
			)
			res.FallbackError = err.Error()
		case utf8.RuneCountInString(fallback) > direct:
			res.Pages = []Page{{Number: 1, Text: fallback, NeedsOCR: true}}
			res.CharCount = utf8.RuneCountInString(fallback)
			res.Strategy = StrategyPDFFallback
			res.OCRFallback = true
		default:
			e.logger.Debug("OCR fallback not longer than direct text, keeping pages",
				logger.Int("fallbackChars", utf8.RuneCountInString(fallback)),
			)
		}
	}

	res.Text = CombinePages(res.Pages)
	return res, nil
}

func (e *Extractor) recognizeWhole(ctx context.Context, data []byte) (string, error) {
	if e.ocr == nil {
		return "", errors.New("no OCR engine configured")
	}
	out, err := e.ocr.Recognize(ctx, data, e.language)
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", errors.New("OCR engine returned no result")
	}
	return out.Text, nil
}

// CombinePages renders pages in ascending order, each behind a "--- Page N ---" marker.
func CombinePages(pages []Page) string {
	ordered := make([]Page, len(pages))
	copy(ordered, pages)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	parts := make([]string, 0, len(ordered))
	for _, p := range ordered {
		parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", p.Number, p.Text))
	}
	return strings.Join(parts, "\n\n")
}

// joinTokens collapses the text layer into whitespace-free tokens separated by single spaces.
func joinTokens(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}
