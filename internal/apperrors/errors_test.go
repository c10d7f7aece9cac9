package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("fast path: %w", OCRFailure(errors.New("tesseract crashed")))

	assert.True(t, errors.Is(err, ErrOCRFailure))
	assert.False(t, errors.Is(err, ErrUploadFailure))
	assert.Equal(t, CodeOCRFailure, CodeOf(err))
	assert.Equal(t, "text recognition failed: tesseract crashed", MessageOf(err))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		UnsupportedMediaType("text/plain"):  http.StatusUnsupportedMediaType,
		UploadFailure(errors.New("down")):   http.StatusBadGateway,
		OCRFailure(nil):                     http.StatusUnprocessableEntity,
		StoreUnavailable(errors.New("eof")): http.StatusServiceUnavailable,
		NotFound("document"):                http.StatusNotFound,
		InvalidInput("missing file"):        http.StatusBadRequest,
		errors.New("boom"):                  http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestMessageOf_PlainError(t *testing.T) {
	assert.Equal(t, "boom", MessageOf(errors.New("boom")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}
