package export

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/wolfman30/dentalchart-platform/internal/dentalchart"
)

// Page layout in millimetres for landscape A4.
const (
	pageMargin   = 10.0
	titleBand    = 18.0
	legendBand   = 22.0
	labelFontPt  = 7.0
	legendSwatch = 4.0
)

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Filename returns the download name for a chart PDF.
func Filename(patientID string, now time.Time) string {
	return fmt.Sprintf("dental-chart-%s-%s.pdf", safeName(patientID), now.Format("2006-01-02"))
}

// WorkbookFilename returns the download name for a chart workbook.
func WorkbookFilename(patientID string, now time.Time) string {
	return fmt.Sprintf("dental-chart-%s-%s.xlsx", safeName(patientID), now.Format("2006-01-02"))
}

func safeName(patientID string) string {
	name := strings.Trim(unsafeFilename.ReplaceAllString(patientID, "_"), "_")
	if name == "" {
		return "patient"
	}
	return name
}

// PDFWriter lays a rendered chart onto a single landscape A4 page.
type PDFWriter struct {
	ClinicName string
}

// Write renders the page to w. The image is scaled to fit the printable area, preserving aspect
// ratio, and centered; tooth labels are printed over each cell and a legend lists the conditions
// present on the chart.
func (p *PDFWriter) Write(w io.Writer, doc *dentalchart.Document, catalog *dentalchart.Catalog, img image.Image, now time.Time) error {
	var raw bytes.Buffer
	if err := png.Encode(&raw, img); err != nil {
		return fmt.Errorf("%w: png: %v", ErrEncodeFailed, err)
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Dental chart %s", doc.PatientID), true)
	pdf.SetCreator("dentalchart-platform", true)
	pdf.SetCreationDate(now)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, pageMargin)
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()

	pdf.SetFont("Helvetica", "B", 14)
	title := fmt.Sprintf("Dental chart - patient %s", doc.PatientID)
	if p != nil && p.ClinicName != "" {
		title = p.ClinicName + " - " + title
	}
	pdf.CellFormat(0, 8, title, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	subtitle := fmt.Sprintf("%s numbering, printed %s, last updated %s",
		strings.ToUpper(string(doc.NumberingScheme)),
		now.Format("2006-01-02 15:04"),
		doc.UpdatedAt.Format("2006-01-02 15:04"))
	pdf.CellFormat(0, 5, subtitle, "", 1, "C", false, 0, "")

	bounds := img.Bounds()
	availW := pageW - 2*pageMargin
	availH := pageH - 2*pageMargin - titleBand - legendBand
	scale := min(availW/float64(bounds.Dx()), availH/float64(bounds.Dy()))
	imgW := float64(bounds.Dx()) * scale
	imgH := float64(bounds.Dy()) * scale
	x := (pageW - imgW) / 2
	y := pageMargin + titleBand + (availH-imgH)/2

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("chart", opts, &raw)
	pdf.ImageOptions("chart", x, y, imgW, imgH, false, opts, 0, "")

	views, err := doc.Project()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncodeFailed, err)
	}
	pdf.SetFont("Helvetica", "", labelFontPt)
	pdf.SetTextColor(33, 33, 33)
	for _, view := range views {
		cell := CellBounds(view.Position)
		lx := x + float64(cell.Min.X)*scale
		ly := y + float64(cell.Min.Y)*scale
		if view.Arch == dentalchart.ArchUpper {
			ly -= 1
		} else {
			ly += float64(CellSize)*scale + 3
		}
		pdf.Text(lx, ly, view.Label)
	}

	p.legend(pdf, doc, catalog, pageH-pageMargin-legendBand+6)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("%w: pdf: %v", ErrEncodeFailed, err)
	}
	return nil
}

func (p *PDFWriter) legend(pdf *fpdf.Fpdf, doc *dentalchart.Document, catalog *dentalchart.Catalog, top float64) {
	used := usedConditions(doc)
	pdf.SetFont("Helvetica", "", 8)
	x := pageMargin
	for _, cond := range catalog.All() {
		if !used[cond.ID] {
			continue
		}
		c, err := parseHex(cond.Color)
		if err != nil {
			c = unknownColor
		}
		pdf.SetFillColor(int(c.R), int(c.G), int(c.B))
		pdf.Rect(x, top, legendSwatch, legendSwatch, "F")
		label := fmt.Sprintf("%s (%s)", cond.Name, cond.Scope)
		pdf.Text(x+legendSwatch+1.5, top+legendSwatch-0.5, label)
		x += legendSwatch + 4 + pdf.GetStringWidth(label)
	}
	if len(used) == 0 {
		pdf.Text(pageMargin, top+legendSwatch-0.5, "No conditions recorded.")
	}
}

func usedConditions(doc *dentalchart.Document) map[string]bool {
	used := map[string]bool{}
	for _, rec := range doc.Teeth {
		if rec == nil {
			continue
		}
		if rec.Whole != "" {
			used[rec.Whole] = true
		}
		for _, ann := range rec.Surfaces {
			if ann != nil {
				used[ann.ConditionID] = true
			}
		}
	}
	return used
}
