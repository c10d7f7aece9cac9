package image

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/batchsheet-processor/internal/agent/document"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

// TextractAPI is the subset of the Textract client the engine calls.
type TextractAPI interface {
	DetectDocumentText(ctx context.Context, params *textract.DetectDocumentTextInput, optFns ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error)
}

type TextractConfig struct {
	Region        string
	AccessKey     string
	SecretKey     string
	MinConfidence float32
}

// TextractEngine sends documents to AWS Textract. It accepts images and single-page PDFs.
type TextractEngine struct {
	client TextractAPI
	logger logger.Logger
	config *TextractConfig
}

func NewTextractEngine(ctx context.Context, cfg *TextractConfig, log logger.Logger) (*TextractEngine, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return NewTextractEngineWithClient(textract.NewFromConfig(awsCfg), cfg, log), nil
}

func NewTextractEngineWithClient(client TextractAPI, cfg *TextractConfig, log logger.Logger) *TextractEngine {
	if cfg == nil {
		cfg = &TextractConfig{}
	}
	return &TextractEngine{
		client: client,
		logger: log.Named("textract"),
		config: cfg,
	}
}

// Recognize ignores language; Textract detects it.
func (e *TextractEngine) Recognize(ctx context.Context, data []byte, _ string) (*document.OCRResult, error) {
	out, err := e.client.DetectDocumentText(ctx, &textract.DetectDocumentTextInput{
		Document: &types.Document{Bytes: data},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to detect document text: %w", err)
	}

	lines, confidence := e.collectLines(out.Blocks)
	e.logger.Debug("Textract finished",
		logger.Int("blocks", len(out.Blocks)),
		logger.Int("lines", len(lines)),
	)
	return &document.OCRResult{
		Text:       strings.Join(lines, "\n"),
		Confidence: confidence,
	}, nil
}

// collectLines keeps LINE blocks at or above the confidence floor, in reading order.
func (e *TextractEngine) collectLines(blocks []types.Block) ([]string, float64) {
	var (
		lines []string
		total float64
	)
	for _, block := range blocks {
		if block.BlockType != types.BlockTypeLine || block.Text == nil {
			continue
		}
		conf := aws.ToFloat32(block.Confidence)
		if conf < e.config.MinConfidence {
			continue
		}
		lines = append(lines, aws.ToString(block.Text))
		total += float64(conf)
	}
	if len(lines) == 0 {
		return nil, 0
	}
	return lines, total / float64(len(lines))
}

func (e *TextractEngine) Close() error {
	return nil
}
