package image

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Preprocessor transforms an image before it reaches the OCR engine.
type Preprocessor interface {
	Process(img image.Image) (image.Image, error)
}

// PreprocessConfig tunes the default pipeline.
type PreprocessConfig struct {
	MinWidth          int     `yaml:"minWidth"`
	DenoiseStrength   float64 `yaml:"denoiseStrength"`
	Contrast          float64 `yaml:"contrast"`
	SharpenStrength   float64 `yaml:"sharpenStrength"`
	AdaptiveBlockSize int     `yaml:"adaptiveBlockSize"`
	AdaptiveConstant  float64 `yaml:"adaptiveConstant"`
	Binarize          bool    `yaml:"binarize"`
}

func DefaultPreprocessConfig() PreprocessConfig {
	return PreprocessConfig{
		MinWidth:          1200,
		DenoiseStrength:   0.5,
		Contrast:          20,
		SharpenStrength:   0.5,
		AdaptiveBlockSize: 15,
		AdaptiveConstant:  8,
		Binarize:          true,
	}
}

// Pipeline builds the preprocessing chain described by cfg.
func Pipeline(cfg PreprocessConfig) []Preprocessor {
	steps := []Preprocessor{
		NewResizeProcessor(cfg.MinWidth),
		NewGrayscaleProcessor(),
	}
	if cfg.DenoiseStrength > 0 {
		steps = append(steps, NewDenoiseProcessor(cfg.DenoiseStrength))
	}
	if cfg.Contrast != 0 {
		steps = append(steps, NewContrastProcessor(cfg.Contrast))
	}
	if cfg.SharpenStrength > 0 {
		steps = append(steps, NewSharpenProcessor(cfg.SharpenStrength))
	}
	if cfg.Binarize {
		steps = append(steps, NewAdaptiveThresholdProcessor(cfg.AdaptiveBlockSize, cfg.AdaptiveConstant))
	}
	return steps
}

// Apply runs img through steps in order.
func Apply(img image.Image, steps []Preprocessor) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	var err error
	result := img
	for _, step := range steps {
		result, err = step.Process(result)
		if err != nil {
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		if result == nil {
			return nil, fmt.Errorf("preprocessor returned nil image")
		}
	}
	return result, nil
}

type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// ResizeProcessor upscales narrow scans; Tesseract does poorly below ~300 DPI.
type ResizeProcessor struct {
	minWidth int
}

func NewResizeProcessor(minWidth int) *ResizeProcessor {
	return &ResizeProcessor{minWidth: minWidth}
}

func (p *ResizeProcessor) Process(img image.Image) (image.Image, error) {
	if p.minWidth <= 0 || img.Bounds().Dx() >= p.minWidth {
		return img, nil
	}
	return imaging.Resize(img, p.minWidth, 0, imaging.Lanczos), nil
}

type DenoiseProcessor struct {
	strength float64
}

func NewDenoiseProcessor(strength float64) *DenoiseProcessor {
	return &DenoiseProcessor{strength: strength}
}

func (p *DenoiseProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Blur(img, p.strength), nil
}

type ContrastProcessor struct {
	amount float64
}

func NewContrastProcessor(amount float64) *ContrastProcessor {
	return &ContrastProcessor{amount: amount}
}

func (p *ContrastProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, p.amount), nil
}

type SharpenProcessor struct {
	strength float64
}

func NewSharpenProcessor(strength float64) *SharpenProcessor {
	return &SharpenProcessor{strength: strength}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Sharpen(img, p.strength), nil
}

// AdaptiveThresholdProcessor binarizes against the local mean of a
// blockSize x blockSize window, using an integral image.
type AdaptiveThresholdProcessor struct {
	blockSize int
	constant  float64
}

func NewAdaptiveThresholdProcessor(blockSize int, constant float64) *AdaptiveThresholdProcessor {
	if blockSize < 3 {
		blockSize = 3
	}
	return &AdaptiveThresholdProcessor{blockSize: blockSize, constant: constant}
}

func (p *AdaptiveThresholdProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}

	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	// integral[y+1][x+1] holds the sum of all pixels above and left of (x, y) inclusive
	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += int64(gray.Pix[y*gray.Stride+x*4])
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + row
		}
	}

	result := image.NewGray(image.Rect(0, 0, w, h))
	half := p.blockSize / 2
	for y := 0; y < h; y++ {
		y0, y1 := clamp(y-half, 0, h-1), clamp(y+half, 0, h-1)
		for x := 0; x < w; x++ {
			x0, x1 := clamp(x-half, 0, w-1), clamp(x+half, 0, w-1)
			count := int64((x1 - x0 + 1) * (y1 - y0 + 1))
			sum := integral[(y1+1)*(w+1)+x1+1] - integral[y0*(w+1)+x1+1] -
				integral[(y1+1)*(w+1)+x0] + integral[y0*(w+1)+x0]
			mean := float64(sum) / float64(count)

			if float64(gray.Pix[y*gray.Stride+x*4]) < mean-p.constant {
				result.SetGray(x, y, color.Gray{Y: 0})
			} else {
				result.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return result, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
