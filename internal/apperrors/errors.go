package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is the machine-readable part of a client-visible error.
type Code string

const (
	CodeUnsupportedMediaType Code = "UNSUPPORTED_MEDIA_TYPE"
	CodeUploadFailure        Code = "UPLOAD_FAILURE"
	CodeOCRFailure           Code = "OCR_FAILURE"
	CodeStoreUnavailable     Code = "STORE_UNAVAILABLE"
	CodePartialExtraction    Code = "PARTIAL_EXTRACTION"
	CodeNotFound             Code = "NOT_FOUND"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeInternal             Code = "INTERNAL"
)

// AppError represents application-specific errors
type AppError struct {
	Code    Code
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return t.Code == e.Code && t.Message == ""
	}
	return false
}

func New(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is checks; they only carry a code.
var (
	ErrUnsupportedMediaType = &AppError{Code: CodeUnsupportedMediaType}
	ErrUploadFailure        = &AppError{Code: CodeUploadFailure}
	ErrOCRFailure           = &AppError{Code: CodeOCRFailure}
	ErrStoreUnavailable     = &AppError{Code: CodeStoreUnavailable}
	ErrPartialExtraction    = &AppError{Code: CodePartialExtraction}
	ErrNotFound             = &AppError{Code: CodeNotFound}
	ErrInvalidInput         = &AppError{Code: CodeInvalidInput}
)

func UnsupportedMediaType(contentType string) *AppError {
	return New(CodeUnsupportedMediaType, fmt.Sprintf("unsupported content type %q", contentType), nil)
}

func UploadFailure(cause error) *AppError {
	return New(CodeUploadFailure, "failed to store uploaded file", cause)
}

func OCRFailure(cause error) *AppError {
	return New(CodeOCRFailure, "text recognition failed", cause)
}

func StoreUnavailable(cause error) *AppError {
	return New(CodeStoreUnavailable, "document store unavailable", cause)
}

func NotFound(what string) *AppError {
	return New(CodeNotFound, what+" not found", nil)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message, nil)
}

// CodeOf extracts the code of the outermost AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// MessageOf returns the human readable message for err, preferring the AppError message.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		if appErr.Cause != nil {
			return appErr.Message + ": " + appErr.Cause.Error()
		}
		return appErr.Message
	}
	return err.Error()
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case CodeUploadFailure:
		return http.StatusBadGateway
	case CodeOCRFailure:
		return http.StatusUnprocessableEntity
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
