package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/batchsheet-processor/api/handlers"
	"github.com/feichai0017/batchsheet-processor/api/middleware"
	agentdoc "github.com/feichai0017/batchsheet-processor/internal/agent/document"
	repomemory "github.com/feichai0017/batchsheet-processor/internal/repository/memory"
	"github.com/feichai0017/batchsheet-processor/internal/service/document"
	"github.com/feichai0017/batchsheet-processor/internal/testutil"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
	blobmemory "github.com/feichai0017/batchsheet-processor/pkg/storage/memory"
)

const sheetText = "Job # 554992\nFormula ID: 202076\nName: Clear Coat 50% Gallons"

type fakeOCR struct{ err error }

func (f *fakeOCR) Recognize(context.Context, []byte, string) (*agentdoc.OCRResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &agentdoc.OCRResult{Text: sheetText}, nil
}

func (f *fakeOCR) Close() error { return nil }

type testServer struct {
	router *gin.Engine
	store  *repomemory.Store
	blobs  *blobmemory.Storage
	ocr    *fakeOCR
}

func newTestServer(t *testing.T, maxUpload int64) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	ts := &testServer{store: repomemory.New(), blobs: blobmemory.New("http://blobs.local"), ocr: &fakeOCR{}}
	svc := document.NewService(document.Dependencies{
		Store:     ts.store,
		Blobs:     ts.blobs,
		Extractor: agentdoc.NewExtractor(ts.ocr, log),
	}, nil, log)

	ts.router = gin.New()
	SetupRoutes(ts.router, handlers.NewHandlers(svc, maxUpload, log), []string{"*"}, log)
	return ts
}

type part struct {
	field, filename, contentType string
	data                         []byte
}

func multipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		h.Set("Content-Type", p.contentType)
		pw, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = pw.Write(p.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &body, w.FormDataContentType()
}

func (ts *testServer) do(t *testing.T, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, p part) *httptest.ResponseRecorder {
	body, ct := multipartBody(t, p)
	return ts.do(t, http.MethodPost, "/api/v1/documents/upload", body, ct)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) handlers.Response {
	t.Helper()
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func imagePart() part {
	return part{field: "file", filename: "sheet.png", contentType: "image/png", data: testutil.PNG(64, 64)}
}

func pdfPart() part {
	return part{field: "file", filename: "sheet.pdf", contentType: "application/pdf", data: testutil.BuildPDF("page one")}
}

func TestUpload_ImageCompletesInRequest(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.upload(t, imagePart())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.False(t, resp.Queued)
	require.NotNil(t, resp.Document)
	assert.Equal(t, "completed", resp.Document.ProcessingStatus)
	assert.Equal(t, "554992", *resp.Document.JobNumber)
	assert.Equal(t, "202076", *resp.Document.FormulaID)
	assert.Equal(t, "Clear Coat 50%", *resp.Document.ProductName)
}

func TestUpload_PDFIsAccepted(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.upload(t, pdfPart())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.True(t, resp.Success)
	assert.True(t, resp.Queued)
	assert.Equal(t, "pending", resp.Document.ProcessingStatus)
	assert.Nil(t, resp.Document.ExtractedText)
}

func TestUpload_Errors(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.upload(t, part{field: "file", filename: "notes.txt", contentType: "text/plain", data: []byte("hello")})
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", resp.Code)
	assert.NotEmpty(t, resp.Error)

	rec = ts.upload(t, part{field: "other", filename: "sheet.png", contentType: "image/png", data: []byte("x")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, rec).Code)

	assert.Equal(t, 0, ts.store.Writes())
}

func TestUpload_TooLarge(t *testing.T) {
	ts := newTestServer(t, 16)

	rec := ts.upload(t, imagePart())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", decode(t, rec).Code)
}

func TestUpload_OCRFailureCreatesNoRecord(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.ocr.err = errors.New("engine crashed")

	rec := ts.upload(t, imagePart())
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "OCR_FAILURE", resp.Code)
	assert.Nil(t, resp.Document)
	assert.Equal(t, 0, ts.store.Writes())
	assert.Equal(t, 0, ts.blobs.Len())
}

func TestUpload_StoreUnavailable(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.store.SetUnavailable(errors.New("connection refused"))

	rec := ts.upload(t, pdfPart())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "STORE_UNAVAILABLE", decode(t, rec).Code)
}

func TestUploadBatch(t *testing.T) {
	ts := newTestServer(t, 0)

	a, b := imagePart(), pdfPart()
	a.field, b.field = "files", "files"
	body, ct := multipartBody(t, a, b, part{field: "files", filename: "notes.txt", contentType: "text/plain", data: []byte("hi")})
	rec := ts.do(t, http.MethodPost, "/api/v1/documents/batch", body, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool                   `json:"success"`
		Results []handlers.BatchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.Len(t, resp.Results, 3)
	assert.True(t, resp.Results[0].Success)
	assert.True(t, resp.Results[1].Queued)
	assert.Equal(t, "notes.txt", resp.Results[2].Filename)
	assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", resp.Results[2].Code)

	body, ct = multipartBody(t)
	rec = ts.do(t, http.MethodPost, "/api/v1/documents/batch", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListGetAndDownload(t *testing.T) {
	ts := newTestServer(t, 0)
	uploaded := decode(t, ts.upload(t, imagePart())).Document
	ts.upload(t, pdfPart())

	rec := ts.do(t, http.MethodGet, "/api/v1/documents?jobNumber=554992", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Count     int `json:"count"`
		Documents []struct {
			ID          string `json:"id"`
			TextPreview string `json:"textPreview"`
		} `json:"documents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, uploaded.ID, list.Documents[0].ID)
	assert.Contains(t, list.Documents[0].TextPreview, "554992")

	rec = ts.do(t, http.MethodGet, "/api/v1/documents?q=CLEAR+COAT", nil, "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rec = ts.do(t, http.MethodGet, "/api/v1/documents?status=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/documents/"+uploaded.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec).Document
	require.NotNil(t, got.ExtractedText)
	assert.Contains(t, *got.ExtractedText, "Formula ID: 202076")

	rec = ts.do(t, http.MethodGet, "/api/v1/documents/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec).Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/documents/"+uploaded.ID+"/download", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var dl struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dl))
	assert.True(t, strings.HasPrefix(dl.URL, "http://blobs.local/"))

	rec = ts.do(t, http.MethodGet, "/api/v1/documents/"+uploaded.ID+"/download?redirect=true", nil, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "http://blobs.local/"))
}

func TestExport(t *testing.T) {
	ts := newTestServer(t, 0)
	ts.upload(t, imagePart())

	rec := ts.do(t, http.MethodGet, "/api/v1/documents/export?status=completed", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.Equal(t, "1", rec.Header().Get("X-Document-Count"))
	// xlsx is a zip archive
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, 0)

	rec := ts.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.store.SetUnavailable(errors.New("down"))
	rec = ts.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := newTestServer(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(middleware.RequestIDHeader))
}
