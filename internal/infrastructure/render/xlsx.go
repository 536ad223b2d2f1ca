package render

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Document"

type xlsxEncoder struct{}

func (xlsxEncoder) mimeType() string  { return MimeTypeXLSX }
func (xlsxEncoder) extension() string { return "xlsx" }

// encode writes the header fields, the item table and the approval trail
// onto a single sheet
func (xlsxEncoder) encode(s *snapshot) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create style: %w", err)
	}

	w := &sheetWriter{f: f, row: 1}
	w.set(1, s.title)
	w.style(1, 1, bold)
	w.row += 2

	for _, fl := range s.fields {
		w.set(1, fl.label)
		w.set(2, fl.value)
		w.row++
	}

	if len(s.items) > 0 {
		w.row++
		for col, h := range []string{"Item", "Unit", "Quantity", "Weight", "Requested", "Delivered"} {
			w.set(col+1, h)
		}
		w.style(1, 6, bold)
		w.row++
		for _, it := range s.items {
			for col, v := range []string{it.name, it.unit, it.quantity, it.weight, it.requested, it.delivered} {
				w.set(col+1, v)
			}
			w.row++
		}
	}

	if len(s.approvals) > 0 {
		w.row++
		w.set(1, "Approvals")
		w.style(1, 1, bold)
		w.row++
		for _, a := range s.approvals {
			w.set(1, a.label)
			w.set(2, a.value)
			w.row++
		}
	}

	if w.err != nil {
		return nil, w.err
	}
	if err := f.SetColWidth(sheetName, "A", "A", 24); err != nil {
		return nil, err
	}
	if err := f.SetColWidth(sheetName, "B", "F", 16); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// sheetWriter keeps the first error so the layout code stays linear
type sheetWriter struct {
	f   *excelize.File
	row int
	err error
}

func (w *sheetWriter) set(col int, value string) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, w.row)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetCellValue(sheetName, cell, value)
}

func (w *sheetWriter) style(fromCol, toCol, styleID int) {
	if w.err != nil {
		return
	}
	from, _ := excelize.CoordinatesToCellName(fromCol, w.row)
	to, _ := excelize.CoordinatesToCellName(toCol, w.row)
	w.err = w.f.SetCellStyle(sheetName, from, to, styleID)
}
