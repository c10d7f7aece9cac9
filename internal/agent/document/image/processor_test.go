package image

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

func checkerboard(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x/4+y/4)%2 == 0 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}
	return img
}

func TestResizeProcessor_UpscalesNarrowImages(t *testing.T) {
	out, err := NewResizeProcessor(200).Process(checkerboard(100, 50))
	require.NoError(t, err)
	assert.Equal(t, 200, out.Bounds().Dx())
	assert.Equal(t, 100, out.Bounds().Dy())

	wide := checkerboard(300, 10)
	out, err = NewResizeProcessor(200).Process(wide)
	require.NoError(t, err)
	assert.Equal(t, wide, out)
}

func TestAdaptiveThreshold_ProducesBinaryImage(t *testing.T) {
	out, err := NewAdaptiveThresholdProcessor(7, 2).Process(checkerboard(32, 32))
	require.NoError(t, err)

	gray, ok := out.(*image.Gray)
	require.True(t, ok)
	for _, v := range gray.Pix {
		assert.True(t, v == 0 || v == 255)
	}
	// a black square in the checkerboard stays black
	assert.Equal(t, uint8(0), gray.GrayAt(1, 1).Y)
}

func TestApply_RunsDefaultPipeline(t *testing.T) {
	out, err := Apply(checkerboard(64, 64), Pipeline(DefaultPreprocessConfig()))
	require.NoError(t, err)
	assert.Equal(t, 1200, out.Bounds().Dx())

	_, err = Apply(nil, nil)
	assert.Error(t, err)
}

type fakeTextract struct {
	out *textract.DetectDocumentTextOutput
	err error
}

func (f *fakeTextract) DetectDocumentText(context.Context, *textract.DetectDocumentTextInput, ...func(*textract.Options)) (*textract.DetectDocumentTextOutput, error) {
	return f.out, f.err
}

func TestTextractEngine_JoinsLines(t *testing.T) {
	client := &fakeTextract{out: &textract.DetectDocumentTextOutput{Blocks: []types.Block{
		{BlockType: types.BlockTypePage},
		{BlockType: types.BlockTypeLine, Text: aws.String("Job # 554992"), Confidence: aws.Float32(99)},
		{BlockType: types.BlockTypeWord, Text: aws.String("Job"), Confidence: aws.Float32(99)},
		{BlockType: types.BlockTypeLine, Text: aws.String("smudge"), Confidence: aws.Float32(10)},
		{BlockType: types.BlockTypeLine, Text: aws.String("Formula ID: 202076"), Confidence: aws.Float32(95)},
	}}}
	engine := NewTextractEngineWithClient(client, &TextractConfig{MinConfidence: 50}, logger.NewNop())

	res, err := engine.Recognize(context.Background(), []byte("img"), "eng")
	require.NoError(t, err)
	assert.Equal(t, "Job # 554992\nFormula ID: 202076", res.Text)
	assert.InDelta(t, 97, res.Confidence, 0.001)
}

func TestTextractEngine_Error(t *testing.T) {
	engine := NewTextractEngineWithClient(&fakeTextract{err: errors.New("throttled")}, nil, logger.NewNop())
	_, err := engine.Recognize(context.Background(), []byte("img"), "")
	assert.ErrorContains(t, err, "throttled")
}

func TestTesseractEngine_RejectsEmptyInput(t *testing.T) {
	engine, err := NewTesseractEngine(logger.NewNop(), nil)
	require.NoError(t, err)
	_, err = engine.Recognize(context.Background(), nil, "eng")
	assert.Error(t, err)

	_, err = NewTesseractEngine(nil, nil)
	assert.Error(t, err)
}
