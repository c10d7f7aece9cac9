package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/batchsheet-processor/internal/apperrors"
	"github.com/feichai0017/batchsheet-processor/internal/service/document"
	"github.com/feichai0017/batchsheet-processor/pkg/converters"
	"github.com/feichai0017/batchsheet-processor/pkg/logger"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type DocumentHandler struct {
	service        document.DocumentService
	maxUploadBytes int64
	logger         logger.Logger
}

// Response 定义上传响应结构
type Response struct {
	Success  bool                         `json:"success"`
	Queued   bool                         `json:"queued,omitempty"`
	Document *converters.DocumentResponse `json:"document,omitempty"`
	Error    string                       `json:"error,omitempty"`
	Code     string                       `json:"code,omitempty"`
}

// BatchResult is one entry of a batch upload response.
type BatchResult struct {
	Filename string `json:"filename"`
	Response
}

func NewDocumentHandler(service document.DocumentService, maxUploadBytes int64, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service:        service,
		maxUploadBytes: maxUploadBytes,
		logger:         log.Named("http"),
	}
}

// Upload 处理单个文档
func (h *DocumentHandler) Upload(c *gin.Context) {
	h.limitBody(c)
	header, err := c.FormFile("file")
	if err != nil {
		h.handleError(c, apperrors.InvalidInput("multipart field \"file\" is required"))
		return
	}

	in, err := h.readUpload(header)
	if err != nil {
		h.handleError(c, err)
		return
	}

	res, err := h.service.Ingest(c.Request.Context(), in)
	if err != nil {
		h.handleError(c, err)
		return
	}

	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, Response{
		Success:  true,
		Queued:   res.Queued,
		Document: converters.ToResponse(res.Document, true),
	})
}

// UploadBatch 批量处理文档
func (h *DocumentHandler) UploadBatch(c *gin.Context) {
	h.limitBody(c)
	form, err := c.MultipartForm()
	if err != nil {
		h.handleError(c, apperrors.InvalidInput("invalid multipart form"))
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		h.handleError(c, apperrors.InvalidInput("no files provided"))
		return
	}

	inputs := make([]document.UploadInput, 0, len(files))
	for _, header := range files {
		in, err := h.readUpload(header)
		if err != nil {
			h.handleError(c, err)
			return
		}
		inputs = append(inputs, in)
	}

	items := h.service.IngestBatch(c.Request.Context(), inputs)
	results := make([]BatchResult, len(items))
	succeeded := 0
	for i, item := range items {
		r := BatchResult{Filename: item.Filename}
		if item.Result != nil {
			r.Queued = item.Result.Queued
			r.Document = converters.ToResponse(item.Result.Document, false)
		}
		if item.Err != nil {
			r.Error = apperrors.MessageOf(item.Err)
			r.Code = string(apperrors.CodeOf(item.Err))
		} else {
			r.Success = true
			succeeded++
		}
		results[i] = r
	}

	c.JSON(http.StatusOK, gin.H{
		"success": succeeded == len(items),
		"message": fmt.Sprintf("Processed %d of %d documents", succeeded, len(items)),
		"results": results,
	})
}

// List 查询文档, newest first
func (h *DocumentHandler) List(c *gin.Context) {
	q, err := searchQuery(c)
	if err != nil {
		h.handleError(c, err)
		return
	}
	docs, err := h.service.Search(c.Request.Context(), q)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"count":     len(docs),
		"documents": converters.ToResponses(docs),
	})
}

func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Document: converters.ToResponse(doc, true)})
}

// Download answers with a short-lived URL for the original file, or redirects
// to it when ?redirect=true.
func (h *DocumentHandler) Download(c *gin.Context) {
	url, err := h.service.DownloadURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	if redirect, _ := strconv.ParseBool(c.Query("redirect")); redirect {
		c.Redirect(http.StatusFound, url)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}

// Export 导出查询结果为 Excel
func (h *DocumentHandler) Export(c *gin.Context) {
	q, err := searchQuery(c)
	if err != nil {
		h.handleError(c, err)
		return
	}

	var buf bytes.Buffer
	n, err := h.service.Export(c.Request.Context(), q, &buf)
	if err != nil {
		h.handleError(c, err)
		return
	}

	filename := fmt.Sprintf("batch-sheets-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	c.Header("X-Document-Count", strconv.Itoa(n))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *DocumentHandler) limitBody(c *gin.Context) {
	if h.maxUploadBytes > 0 {
		// multipart overhead on top of the file itself
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+1<<20)
	}
}

func (h *DocumentHandler) readUpload(header *multipart.FileHeader) (document.UploadInput, error) {
	if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
		return document.UploadInput{}, apperrors.InvalidInput(
			fmt.Sprintf("%s exceeds the %d byte upload limit", header.Filename, h.maxUploadBytes))
	}
	f, err := header.Open()
	if err != nil {
		return document.UploadInput{}, apperrors.InvalidInput("unreadable upload: " + err.Error())
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return document.UploadInput{}, apperrors.InvalidInput("unreadable upload: " + err.Error())
	}
	return document.UploadInput{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func searchQuery(c *gin.Context) (document.SearchQuery, error) {
	q := document.SearchQuery{
		Text:      c.Query("q"),
		JobNumber: c.Query("jobNumber"),
		FormulaID: c.Query("formulaId"),
		Status:    c.Query("status"),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, apperrors.InvalidInput("limit must be a non-negative integer")
		}
		q.Limit = n
	}
	return q, nil
}

// handleError 统一错误处理
func (h *DocumentHandler) handleError(c *gin.Context, err error) {
	status := apperrors.HTTPStatus(err)
	log := logger.FromContext(c.Request.Context(), h.logger)
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.String("code", string(apperrors.CodeOf(err))),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError && !errors.Is(err, apperrors.ErrStoreUnavailable) {
		log.Error("Request failed", fields...)
	} else {
		log.Warn("Request rejected", fields...)
	}

	c.JSON(status, Response{
		Success: false,
		Error:   apperrors.MessageOf(err),
		Code:    string(apperrors.CodeOf(err)),
	})
}
