// Package image holds the OCR engines behind the text extractor.
package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/otiai10/gosseract/v2"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/feichai0017/batchsheet-processor/internal/agent/document"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

// TesseractOptions configures the local OCR engine.
type TesseractOptions struct {
	PageSegMode   gosseract.PageSegMode
	Whitelist     string
	MinConfidence float64
	Preprocess    *PreprocessConfig
	Progress      document.ProgressFunc
}

func DefaultTesseractOptions() *TesseractOptions {
	pre := DefaultPreprocessConfig()
	return &TesseractOptions{
		PageSegMode:   gosseract.PSM_AUTO,
		MinConfidence: 0,
		Preprocess:    &pre,
	}
}

// TesseractEngine recognizes images, and scanned PDFs through their embedded page images.
type TesseractEngine struct {
	logger        logger.Logger
	opts          *TesseractOptions
	preprocessors []Preprocessor
}

func NewTesseractEngine(log logger.Logger, opts *TesseractOptions) (*TesseractEngine, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if opts == nil {
		opts = DefaultTesseractOptions()
	}
	var steps []Preprocessor
	if opts.Preprocess != nil {
		steps = Pipeline(*opts.Preprocess)
	}
	return &TesseractEngine{
		logger:        log.Named("tesseract"),
		opts:          opts,
		preprocessors: steps,
	}, nil
}

// Recognize runs OCR over data, which is either an image or a PDF.
func (e *TesseractEngine) Recognize(ctx context.Context, data []byte, language string) (*document.OCRResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if mimetype.Detect(data).Is("application/pdf") {
		return e.recognizePDF(ctx, data, language)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	e.progress("decoded", 0.2)
	res, err := e.recognizeImage(ctx, img, language)
	if err != nil {
		return nil, err
	}
	e.progress("done", 1)
	return res, nil
}

type pageImage struct {
	page int
	img  image.Image
}

func (e *TesseractEngine) recognizePDF(ctx context.Context, data []byte, language string) (*document.OCRResult, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	var images []pageImage
	err := api.ExtractImages(bytes.NewReader(data), nil, func(im model.Image, _ bool, _ int) error {
		img, _, err := image.Decode(im)
		if err != nil {
			// jpx and ccitt streams are not decodable here
			e.logger.Debug("Skipping undecodable page image",
				logger.Int("page", im.PageNr),
				logger.String("type", im.FileType),
				logger.Error(err),
			)
			return nil
		}
		images = append(images, pageImage{page: im.PageNr, img: img})
		return nil
	}, conf)
	if err != nil {
		return nil, fmt.Errorf("failed to extract page images: %w", err)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("pdf contains no decodable page images")
	}
	sort.SliceStable(images, func(i, j int) bool { return images[i].page < images[j].page })

	var (
		texts      []string
		confidence float64
	)
	for i, pi := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := e.recognizeImage(ctx, pi.img, language)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", pi.page, err)
		}
		if t := strings.TrimSpace(res.Text); t != "" {
			texts = append(texts, t)
		}
		confidence += res.Confidence
		e.progress("page", float64(i+1)/float64(len(images)))
	}

	return &document.OCRResult{
		Text:       strings.Join(texts, "\n\n"),
		Confidence: confidence / float64(len(images)),
	}, nil
}

func (e *TesseractEngine) recognizeImage(ctx context.Context, img image.Image, language string) (*document.OCRResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	processed, err := Apply(img, e.preprocessors)
	if err != nil {
		return nil, err
	}
	e.progress("preprocessed", 0.4)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, processed, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	client := gosseract.NewClient()
	defer client.Close()

	if language == "" {
		language = "eng"
	}
	if err := client.SetLanguage(strings.Split(language, "+")...); err != nil {
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(e.opts.PageSegMode); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if e.opts.Whitelist != "" {
		if err := client.SetWhitelist(e.opts.Whitelist); err != nil {
			return nil, fmt.Errorf("failed to set whitelist: %w", err)
		}
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("failed to get text: %w", err)
	}
	e.progress("recognized", 0.9)

	confidence := 0.0
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		e.logger.Warn("Failed to get bounding boxes", logger.Error(err))
	} else {
		confidence = averageConfidence(boxes, e.opts.MinConfidence)
	}

	return &document.OCRResult{Text: text, Confidence: confidence}, nil
}

func averageConfidence(boxes []gosseract.BoundingBox, min float64) float64 {
	var (
		total float64
		n     int
	)
	for _, box := range boxes {
		if box.Confidence >= min {
			total += box.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func (e *TesseractEngine) progress(stage string, p float64) {
	if e.opts.Progress != nil {
		e.opts.Progress(stage, p)
	}
}

func (e *TesseractEngine) Close() error {
	return nil
}
