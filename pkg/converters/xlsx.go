package converters

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/feichai0017/batchsheet-processor/internal/models"
)

const exportSheet = "Batch Sheets"

var exportHeaders = []string{
	"Document ID",
	"Filename",
	"Job Number",
	"Formula ID",
	"Product Name",
	"Status",
	"Pages",
	"Uploaded At",
	"Processed At",
	"Processing Error",
}

// WriteXLSX renders docs as a single-sheet workbook, one row per document.
func WriteXLSX(w io.Writer, docs []*models.Document) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	for i, d := range docs {
		row := i + 2
		write := func(col int, v interface{}) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(exportSheet, cell, v)
		}
		write(1, d.ID)
		write(2, d.Filename)
		write(3, deref(d.JobNumber))
		write(4, deref(d.FormulaID))
		write(5, deref(d.ProductName))
		write(6, string(d.ProcessingStatus))
		write(7, d.PageCount)
		write(8, d.UploadedAt.UTC().Format("2006-01-02 15:04:05"))
		if d.ProcessedAt != nil {
			write(9, d.ProcessedAt.UTC().Format("2006-01-02 15:04:05"))
		}
		write(10, deref(d.ProcessingError))
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 38)
	_ = f.SetColWidth(exportSheet, "B", "B", 32)
	_ = f.SetColWidth(exportSheet, "C", "D", 14)
	_ = f.SetColWidth(exportSheet, "E", "E", 36)
	_ = f.SetColWidth(exportSheet, "H", "I", 20)
	_ = f.SetColWidth(exportSheet, "J", "J", 48)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
