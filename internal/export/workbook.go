package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/wolfman30/dentalchart-platform/internal/dentalchart"
)

const (
	chartSheet   = "Chart"
	summarySheet = "Summary"
)

var workbookHeader = []string{
	"Tooth", "Universal", "Arch", "Whole Condition", "Surface", "Surface Name",
	"Condition", "Note", "Recorded By", "Recorded At",
}

// WriteWorkbook writes every recorded annotation as one row of an XLSX workbook, in display order.
// Teeth with only a whole-tooth condition get a single row with empty surface columns.
func WriteWorkbook(w io.Writer, doc *dentalchart.Document, catalog *dentalchart.Catalog) error {
	views, err := doc.Project()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", chartSheet); err != nil {
		return fmt.Errorf("%w: rename sheet: %v", ErrEncodeFailed, err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: header style: %v", ErrEncodeFailed, err)
	}
	if err := f.SetSheetRow(chartSheet, "A1", &workbookHeader); err != nil {
		return fmt.Errorf("%w: header: %v", ErrEncodeFailed, err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(workbookHeader))
	if err := f.SetCellStyle(chartSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("%w: header style: %v", ErrEncodeFailed, err)
	}

	row := 2
	for _, view := range views {
		rec := view.Record
		if rec == nil || (rec.Whole == "" && len(rec.Surfaces) == 0) {
			continue
		}
		whole := conditionName(catalog, rec.Whole)
		if len(rec.Surfaces) == 0 {
			if err := writeRow(f, row, []any{view.Label, view.Universal, string(view.Arch), whole}); err != nil {
				return err
			}
			row++
			continue
		}
		for _, code := range sortedSurfaces(rec) {
			ann := rec.Surfaces[code]
			values := []any{
				view.Label, view.Universal, string(view.Arch), whole,
				string(code), code.Name(), conditionName(catalog, ann.ConditionID),
				ann.Note, ann.RecordedBy, ann.RecordedAt.UTC().Format(time.RFC3339),
			}
			if err := writeRow(f, row, values); err != nil {
				return err
			}
			row++
		}
	}

	widths := map[string]float64{"A": 8, "B": 10, "C": 8, "D": 20, "E": 8, "F": 12, "G": 20, "H": 36, "I": 18, "J": 22}
	for col, width := range widths {
		if err := f.SetColWidth(chartSheet, col, col, width); err != nil {
			return fmt.Errorf("%w: column width: %v", ErrEncodeFailed, err)
		}
	}

	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("%w: create summary: %v", ErrEncodeFailed, err)
	}
	summary := [][]any{
		{"Patient", doc.PatientID},
		{"Dentition", string(doc.Dentition)},
		{"Numbering", string(doc.NumberingScheme)},
		{"Updated", doc.UpdatedAt.UTC().Format(time.RFC3339)},
		{"Version", doc.Version},
		{"Rows", row - 2},
	}
	for i, values := range summary {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &values); err != nil {
			return fmt.Errorf("%w: summary: %v", ErrEncodeFailed, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("%w: xlsx: %v", ErrEncodeFailed, err)
	}
	return nil
}

func writeRow(f *excelize.File, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	if err := f.SetSheetRow(chartSheet, cell, &values); err != nil {
		return fmt.Errorf("%w: row %d: %v", ErrEncodeFailed, row, err)
	}
	return nil
}

func sortedSurfaces(rec *dentalchart.ToothRecord) []dentalchart.SurfaceCode {
	order := map[dentalchart.SurfaceCode]int{}
	for i, code := range dentalchart.Surfaces {
		order[code] = i
	}
	codes := make([]dentalchart.SurfaceCode, 0, len(rec.Surfaces))
	for code, ann := range rec.Surfaces {
		if ann != nil {
			codes = append(codes, code)
		}
	}
	sort.Slice(codes, func(i, j int) bool { return order[codes[i]] < order[codes[j]] })
	return codes
}

func conditionName(catalog *dentalchart.Catalog, id string) string {
	if id == "" {
		return ""
	}
	cond, err := catalog.Get(id)
	if err != nil {
		return id
	}
	return cond.Name
}
