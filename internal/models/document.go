package models

import (
	"time"
)

// FileType 文件类型
type FileType string

const (
	PDF   FileType = "pdf"
	Image FileType = "image"
)

// Document is a scanned batch sheet and the state of its processing.
type Document struct {
	ID               string                 `json:"id"`
	Filename         string                 `json:"filename"`
	ContentType      string                 `json:"contentType"`
	FileType         FileType               `json:"fileType"`
	FileSize         int64                  `json:"fileSize"`
	JobNumber        *string                `json:"jobNumber,omitempty"`
	FormulaID        *string                `json:"formulaId,omitempty"`
	ProductName      *string                `json:"productName,omitempty"`
	ExtractedText    *string                `json:"extractedText,omitempty"`
	FilePath         *string                `json:"filePath,omitempty"`
	FileURL          *string                `json:"fileUrl,omitempty"`
	PageCount        int                    `json:"pageCount"`
	ProcessingStatus ProcessingStatus       `json:"processingStatus"`
	ProcessingError  *string                `json:"processingError,omitempty"`
	UploadedAt       time.Time              `json:"uploadedAt"`
	ProcessedAt      *time.Time             `json:"processedAt,omitempty"`
	Metadata         map[string]interface{} `json:"metadata"`

	// Lease held by the worker that claimed the document.
	LeaseOwner     *string    `json:"-"`
	LeaseExpiresAt *time.Time `json:"-"`
	Attempts       int        `json:"attempts"`
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.JobNumber = cloneString(d.JobNumber)
	c.FormulaID = cloneString(d.FormulaID)
	c.ProductName = cloneString(d.ProductName)
	c.ExtractedText = cloneString(d.ExtractedText)
	c.FilePath = cloneString(d.FilePath)
	c.FileURL = cloneString(d.FileURL)
	c.ProcessingError = cloneString(d.ProcessingError)
	c.LeaseOwner = cloneString(d.LeaseOwner)
	c.ProcessedAt = cloneTime(d.ProcessedAt)
	c.LeaseExpiresAt = cloneTime(d.LeaseExpiresAt)
	if d.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// LeaseExpired reports whether a processing claim is stale at now.
func (d *Document) LeaseExpired(now time.Time) bool {
	return d.ProcessingStatus == StatusProcessing &&
		(d.LeaseExpiresAt == nil || !d.LeaseExpiresAt.After(now))
}

// Patch is a partial update. Nil fields are left untouched; Clear* flags null a column.
type Patch struct {
	Status          *ProcessingStatus
	JobNumber       *string
	FormulaID       *string
	ProductName     *string
	ExtractedText   *string
	FilePath        *string
	FileURL         *string
	PageCount       *int
	ProcessingError *string
	ProcessedAt     *time.Time
	Metadata        map[string]interface{}
	ClearLease      bool

	// Guards: the update only applies while these still hold.
	IfStatus     *ProcessingStatus
	IfLeaseOwner *string
}

// Apply writes the patch into doc. Guards are not evaluated here.
func (p Patch) Apply(doc *Document) {
	if p.Status != nil {
		doc.ProcessingStatus = *p.Status
	}
	if p.JobNumber != nil {
		doc.JobNumber = cloneString(p.JobNumber)
	}
	if p.FormulaID != nil {
		doc.FormulaID = cloneString(p.FormulaID)
	}
	if p.ProductName != nil {
		doc.ProductName = cloneString(p.ProductName)
	}
	if p.ExtractedText != nil {
		doc.ExtractedText = cloneString(p.ExtractedText)
	}
	if p.FilePath != nil {
		doc.FilePath = cloneString(p.FilePath)
	}
	if p.FileURL != nil {
		doc.FileURL = cloneString(p.FileURL)
	}
	if p.PageCount != nil {
		doc.PageCount = *p.PageCount
	}
	if p.ProcessingError != nil {
		doc.ProcessingError = cloneString(p.ProcessingError)
	}
	if p.ProcessedAt != nil {
		doc.ProcessedAt = cloneTime(p.ProcessedAt)
	}
	if p.Metadata != nil {
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]interface{}, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			doc.Metadata[k] = v
		}
	}
	if p.ClearLease {
		doc.LeaseOwner = nil
		doc.LeaseExpiresAt = nil
	}
}

// SortOrder orders list results by upload time.
type SortOrder string

const (
	OldestFirst SortOrder = "asc"
	NewestFirst SortOrder = "desc"
)

// DocumentFilter narrows a listing. Empty fields match everything.
type DocumentFilter struct {
	Statuses     []ProcessingStatus
	JobNumber    string
	FormulaID    string
	TextContains string
	Order        SortOrder
	Limit        int
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// StatusPtr returns a pointer to s.
func StatusPtr(s ProcessingStatus) *ProcessingStatus { return &s }

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
