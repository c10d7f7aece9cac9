package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/feichai0017/batchsheet-processor/internal/testutil"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

func newValidator(cfg *ValidatorConfig) *DocumentValidator {
	return NewDocumentValidator(logger.NewNop(), cfg)
}

func TestValidateFile_PNG(t *testing.T) {
	res := newValidator(nil).ValidateFile("sheet.png", testutil.PNG(64, 64))

	assert.True(t, res.IsValid, res.Message())
	assert.Equal(t, "image/png", res.FileInfo.MimeType)
	assert.Equal(t, 64, res.FileInfo.Metadata["width"])
	assert.Len(t, res.FileInfo.Hash, 64)
}

func TestValidateFile_PDFPageCount(t *testing.T) {
	pdf := testutil.BuildPDF("Job # 1", "Formula ID: 2")

	res := newValidator(nil).ValidateFile("sheet.PDF", pdf)
	assert.True(t, res.IsValid, res.Message())
	assert.Equal(t, ".pdf", res.FileInfo.Extension)
	assert.Equal(t, 2, res.FileInfo.Metadata["pageCount"])

	cfg := DefaultConfig()
	cfg.MaxPageCount = 1
	res = newValidator(cfg).ValidateFile("sheet.pdf", pdf)
	assert.False(t, res.IsValid)
	assert.True(t, res.HasCode(CodeTooManyPages))
}

func TestValidateFile_Rejections(t *testing.T) {
	v := newValidator(nil)

	res := v.ValidateFile("notes.txt", []byte("plain text"))
	assert.True(t, res.HasCode(CodeInvalidFileType))

	res = v.ValidateFile("fake.pdf", []byte("plain text pretending"))
	assert.True(t, res.HasCode(CodeInvalidMimeType))

	res = v.ValidateFile("empty.png", nil)
	assert.True(t, res.HasCode(CodeEmptyFile))

	res = v.ValidateFile("tiny.png", testutil.PNG(4, 4))
	assert.True(t, res.HasCode(CodeImageTooSmall))

	cfg := DefaultConfig()
	cfg.MaxFileSize = 10
	res = newValidator(cfg).ValidateFile("big.png", testutil.PNG(64, 64))
	assert.True(t, res.HasCode(CodeFileTooLarge))
}

func TestConfigForExtensions(t *testing.T) {
	cfg := ConfigForExtensions([]string{".PNG", ".pdf", ".exe"}, 1024, 7)
	assert.Len(t, cfg.AllowedTypes, 2)
	assert.Contains(t, cfg.AllowedTypes, ".png")
	assert.Equal(t, int64(1024), cfg.MaxFileSize)
	assert.Equal(t, 7, cfg.MaxPageCount)
}
