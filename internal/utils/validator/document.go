package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

const (
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeEmptyFile       = "EMPTY_FILE"
	CodeInvalidFileType = "INVALID_FILE_TYPE"
	CodeInvalidMimeType = "INVALID_MIME_TYPE"
	CodeInvalidPDF      = "INVALID_PDF"
	CodeTooManyPages    = "TOO_MANY_PAGES"
	CodeImageTooSmall   = "IMAGE_TOO_SMALL"
)

type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

type ValidatorConfig struct {
	MaxFileSize int64
	// AllowedTypes maps a lowercase extension to the MIME types it may contain.
	AllowedTypes map[string][]string
	MinDimension int
	MaxPageCount int
}

type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type FileInfo struct {
	Filename  string                 `json:"filename"`
	Size      int64                  `json:"size"`
	MimeType  string                 `json:"mimeType"`
	Extension string                 `json:"extension"`
	Hash      string                 `json:"hash"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// HasCode reports whether any error carries code.
func (r *ValidationResult) HasCode(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Message joins all error messages.
func (r *ValidationResult) Message() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

var imageTypes = []string{"image/jpeg", "image/png", "image/tiff", "image/bmp", "image/gif", "image/webp"}

func DefaultConfig() *ValidatorConfig {
	return &ValidatorConfig{
		MaxFileSize: 50 << 20,
		AllowedTypes: map[string][]string{
			".pdf":  {"application/pdf"},
			".jpg":  {"image/jpeg"},
			".jpeg": {"image/jpeg"},
			".png":  {"image/png"},
			".tif":  {"image/tiff"},
			".tiff": {"image/tiff"},
			".bmp":  {"image/bmp"},
			".gif":  {"image/gif"},
			".webp": {"image/webp"},
		},
		MinDimension: 32,
		MaxPageCount: 200,
	}
}

// ConfigForExtensions narrows the default type table to exts.
func ConfigForExtensions(exts []string, maxSize int64, maxPages int) *ValidatorConfig {
	cfg := DefaultConfig()
	if len(exts) > 0 {
		allowed := make(map[string][]string, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(ext)
			if mimes, ok := cfg.AllowedTypes[ext]; ok {
				allowed[ext] = mimes
			}
		}
		cfg.AllowedTypes = allowed
	}
	if maxSize > 0 {
		cfg.MaxFileSize = maxSize
	}
	if maxPages > 0 {
		cfg.MaxPageCount = maxPages
	}
	return cfg
}

func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = DefaultConfig()
	}
	return &DocumentValidator{
		logger: log.Named("validator"),
		config: config,
	}
}

// ValidateFile inspects an upload held in memory.
func (v *DocumentValidator) ValidateFile(filename string, data []byte) *ValidationResult {
	sum := sha256.Sum256(data)
	mtype := mimetype.Detect(data)
	result := &ValidationResult{
		IsValid: true,
		FileInfo: FileInfo{
			Filename:  filename,
			Size:      int64(len(data)),
			MimeType:  mtype.String(),
			Extension: strings.ToLower(filepath.Ext(filename)),
			Hash:      hex.EncodeToString(sum[:]),
			Metadata:  make(map[string]interface{}),
		},
	}

	result.add(v.performBasicValidation(result.FileInfo)...)
	result.add(v.validateMimeType(result.FileInfo, mtype)...)
	if result.IsValid {
		switch {
		case mtype.Is("application/pdf"):
			result.add(v.validatePDF(data, &result.FileInfo)...)
		case isImage(mtype):
			result.add(v.validateImage(data, &result.FileInfo)...)
		}
	}

	if !result.IsValid {
		v.logger.Debug("Upload rejected",
			logger.String("filename", filename),
			logger.String("mimeType", result.FileInfo.MimeType),
			logger.String("reason", result.Message()),
		)
	}
	return result
}

func (r *ValidationResult) add(errs ...ValidationError) {
	if len(errs) > 0 {
		r.IsValid = false
		r.Errors = append(r.Errors, errs...)
	}
}

func (v *DocumentValidator) performBasicValidation(info FileInfo) []ValidationError {
	var errs []ValidationError
	if info.Size == 0 {
		errs = append(errs, ValidationError{
			Code:    CodeEmptyFile,
			Message: "file is empty",
			Field:   "size",
		})
	}
	if v.config.MaxFileSize > 0 && info.Size > v.config.MaxFileSize {
		errs = append(errs, ValidationError{
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("file size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}
	if _, ok := v.config.AllowedTypes[info.Extension]; !ok {
		errs = append(errs, ValidationError{
			Code:    CodeInvalidFileType,
			Message: fmt.Sprintf("file type %q is not allowed", info.Extension),
			Field:   "extension",
		})
	}
	return errs
}

func (v *DocumentValidator) validateMimeType(info FileInfo, mtype *mimetype.MIME) []ValidationError {
	allowed, ok := v.config.AllowedTypes[info.Extension]
	if !ok || info.Size == 0 {
		return nil
	}
	for _, m := range allowed {
		if mtype.Is(m) {
			return nil
		}
	}
	return []ValidationError{{
		Code:    CodeInvalidMimeType,
		Message: fmt.Sprintf("content %s does not match extension %s", info.MimeType, info.Extension),
		Field:   "mimeType",
	}}
}

func (v *DocumentValidator) validatePDF(data []byte, info *FileInfo) []ValidationError {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return []ValidationError{{
			Code:    CodeInvalidPDF,
			Message: fmt.Sprintf("unreadable pdf: %v", err),
			Field:   "file",
		}}
	}
	info.Metadata["pageCount"] = pages
	if v.config.MaxPageCount > 0 && pages > v.config.MaxPageCount {
		return []ValidationError{{
			Code:    CodeTooManyPages,
			Message: fmt.Sprintf("pdf has %d pages, maximum is %d", pages, v.config.MaxPageCount),
			Field:   "file",
		}}
	}
	return nil
}

func (v *DocumentValidator) validateImage(data []byte, info *FileInfo) []ValidationError {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// formats without a registered decoder are left to the OCR engine
		return nil
	}
	info.Metadata["width"] = cfg.Width
	info.Metadata["height"] = cfg.Height
	info.Metadata["format"] = format
	if v.config.MinDimension > 0 && (cfg.Width < v.config.MinDimension || cfg.Height < v.config.MinDimension) {
		return []ValidationError{{
			Code:    CodeImageTooSmall,
			Message: fmt.Sprintf("image is %dx%d, minimum dimension is %d", cfg.Width, cfg.Height, v.config.MinDimension),
			Field:   "file",
		}}
	}
	return nil
}

func isImage(mtype *mimetype.MIME) bool {
	for _, t := range imageTypes {
		if mtype.Is(t) {
			return true
		}
	}
	return false
}
