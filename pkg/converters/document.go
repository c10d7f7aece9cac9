package converters

import (
	"time"
	"unicode/utf8"

	"github.com/feichai0017/batchsheet-processor/internal/models"
)

// PreviewLength bounds the text preview returned by list endpoints.
const PreviewLength = 280

// DocumentResponse 定义接口返回的文档结构
type DocumentResponse struct {
	ID               string                 `json:"id"`
	Filename         string                 `json:"filename"`
	ContentType      string                 `json:"contentType"`
	FileType         string                 `json:"fileType"`
	FileSize         int64                  `json:"fileSize"`
	JobNumber        *string                `json:"jobNumber"`
	FormulaID        *string                `json:"formulaId"`
	ProductName      *string                `json:"productName"`
	ExtractedText    *string                `json:"extractedText,omitempty"`
	TextPreview      string                 `json:"textPreview,omitempty"`
	FileURL          *string                `json:"fileUrl"`
	PageCount        int                    `json:"pageCount"`
	ProcessingStatus string                 `json:"processingStatus"`
	ProcessingError  *string                `json:"processingError"`
	UploadedAt       time.Time              `json:"uploadedAt"`
	ProcessedAt      *time.Time             `json:"processedAt"`
	Attempts         int                    `json:"attempts"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ToResponse converts doc. Full text is only included when withText is set;
// otherwise a bounded preview is returned.
func ToResponse(doc *models.Document, withText bool) *DocumentResponse {
	if doc == nil {
		return nil
	}
	resp := &DocumentResponse{
		ID:               doc.ID,
		Filename:         doc.Filename,
		ContentType:      doc.ContentType,
		FileType:         string(doc.FileType),
		FileSize:         doc.FileSize,
		JobNumber:        doc.JobNumber,
		FormulaID:        doc.FormulaID,
		ProductName:      doc.ProductName,
		FileURL:          doc.FileURL,
		PageCount:        doc.PageCount,
		ProcessingStatus: string(doc.ProcessingStatus),
		ProcessingError:  doc.ProcessingError,
		UploadedAt:       doc.UploadedAt,
		ProcessedAt:      doc.ProcessedAt,
		Attempts:         doc.Attempts,
		Metadata:         doc.Metadata,
	}
	if doc.ExtractedText != nil {
		if withText {
			resp.ExtractedText = doc.ExtractedText
		} else {
			resp.TextPreview = Preview(*doc.ExtractedText, PreviewLength)
		}
	}
	return resp
}

func ToResponses(docs []*models.Document) []*DocumentResponse {
	out := make([]*DocumentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, ToResponse(d, false))
	}
	return out
}

// Preview cuts s to at most n runes, appending an ellipsis when cut.
func Preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "…"
}
