// Package pdf reads the embedded text layer of PDF files.
package pdf

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// Reader gives page-level access to a PDF held in memory.
type Reader struct {
	r *pdf.Reader
}

// Open parses the cross-reference table of data.
func Open(data []byte) (rd *Reader, err error) {
	// ledongthuc/pdf panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			rd = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}
	return &Reader{r: pdfReader}, nil
}

// NumPage returns the page count from the page tree.
func (r *Reader) NumPage() int {
	return r.r.NumPage()
}

// PageText returns the plain text of page n (1-based) without rasterizing.
func (r *Reader) PageText(n int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("malformed page %d: %v", n, rec)
		}
	}()

	page := r.r.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	text, err = page.GetPlainText(nil)
	if err != nil {
		return "", fmt.Errorf("failed to get text from page %d: %w", n, err)
	}
	return text, nil
}

// Title returns the Info dictionary title, if any.
func (r *Reader) Title() (title string) {
	defer func() {
		if rec := recover(); rec != nil {
			title = ""
		}
	}()

	trailer := r.r.Trailer()
	if trailer.IsNull() {
		return ""
	}
	info := trailer.Key("Info")
	if info.IsNull() {
		return ""
	}
	v := info.Key("Title")
	if v.IsNull() {
		return ""
	}
	return v.Text()
}
