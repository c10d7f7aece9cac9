package agent

import (
	"context"
	"fmt"
	"strings"

	cfg "github.com/feichai0017/batchsheet-processor/config"
	"github.com/feichai0017/batchsheet-processor/internal/agent/document"
	"github.com/feichai0017/batchsheet-processor/internal/agent/document/image"
	"github.com/feichai0017/batchsheet-processor/internal/agent/metadata"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

// ProcessorFactory owns the OCR engine and the extractors built on it.
type ProcessorFactory struct {
	engine    document.OCREngine
	extractor *document.Extractor
	metadata  *metadata.Extractor
	logger    logger.Logger
}

// NewOCREngine builds the engine named by ocrCfg.Engine.
func NewOCREngine(ctx context.Context, ocrCfg cfg.OCRConfig, log logger.Logger) (document.OCREngine, error) {
	switch strings.ToLower(ocrCfg.Engine) {
	case "", "tesseract":
		opts := image.DefaultTesseractOptions()
		opts.MinConfidence = ocrCfg.MinConfidence
		opts.Whitelist = ocrCfg.Whitelist
		opts.Progress = func(stage string, progress float64) {
			log.Debug("OCR progress",
				logger.String("stage", stage),
				logger.Float64("progress", progress),
			)
		}
		return image.NewTesseractEngine(log, opts)
	case "textract":
		textractCfg := cfg.GetTextractConfig()
		engine, err := image.NewTextractEngine(ctx, &image.TextractConfig{
			Region:        textractCfg.Region,
			AccessKey:     textractCfg.AccessKey,
			SecretKey:     textractCfg.SecretKey,
			MinConfidence: float32(ocrCfg.MinConfidence),
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create textract engine: %w", err)
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unsupported ocr engine: %s", ocrCfg.Engine)
	}
}

func NewProcessorFactory(ctx context.Context, ocrCfg cfg.OCRConfig, log logger.Logger) (*ProcessorFactory, error) {
	engine, err := NewOCREngine(ctx, ocrCfg, log)
	if err != nil {
		return nil, err
	}
	return NewProcessorFactoryWithEngine(engine, ocrCfg.Language, log), nil
}

// NewProcessorFactoryWithEngine wires an existing engine, used by tests.
func NewProcessorFactoryWithEngine(engine document.OCREngine, language string, log logger.Logger) *ProcessorFactory {
	log.Info("Text extraction configured", logger.String("language", language))
	return &ProcessorFactory{
		engine:    engine,
		extractor: document.NewExtractor(engine, log, document.WithLanguage(language)),
		metadata:  metadata.NewExtractor(metadata.DefaultRules()...),
		logger:    log,
	}
}

func (f *ProcessorFactory) Extractor() *document.Extractor {
	return f.extractor
}

func (f *ProcessorFactory) Metadata() *metadata.Extractor {
	return f.metadata
}

func (f *ProcessorFactory) Close() error {
	if f.engine == nil {
		return nil
	}
	return f.engine.Close()
}
