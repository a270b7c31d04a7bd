package export

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"github.com/wolfman30/dentalchart-platform/internal/dentalchart"
)

// Raster geometry in pixels.
const (
	CellSize  = 60
	CellGap   = 6
	Margin    = 12
	ArchGap   = 24
	Columns   = 16
	wholeEdge = 4
)

var (
	background   = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	surfaceBlank = color.RGBA{R: 0xf5, G: 0xf5, B: 0xf5, A: 0xff}
	outline      = color.RGBA{R: 0x9e, G: 0x9e, B: 0x9e, A: 0xff}
	unknownColor = color.RGBA{R: 0x42, G: 0x42, B: 0x42, A: 0xff}

	// Whole-tooth conditions drawn with a cross through the tooth.
	crossed = map[string]bool{"missing": true, "extraction": true}
)

// ImageSize returns the raster dimensions.
func ImageSize() (width, height int) {
	width = 2*Margin + Columns*CellSize + (Columns-1)*CellGap
	height = 2*Margin + 2*CellSize + ArchGap
	return width, height
}

// CellBounds returns the pixel rectangle of the tooth at a display position (0..31). The upper arch
// runs left to right; the lower arch runs right to left so opposing teeth share a column.
func CellBounds(position int) image.Rectangle {
	col, row := cellColumn(position)
	x := Margin + col*(CellSize+CellGap)
	y := Margin + row*(CellSize+ArchGap)
	return image.Rect(x, y, x+CellSize, y+CellSize)
}

func cellColumn(position int) (col, row int) {
	if position < Columns {
		return position, 0
	}
	return 2*Columns - 1 - position, 1
}

// Rasterize draws the chart: one cell per tooth, each split into five surface regions filled with
// the condition color, with whole-tooth conditions drawn as a colored frame.
func Rasterize(doc *dentalchart.Document, catalog *dentalchart.Catalog) (*image.RGBA, error) {
	if doc == nil || catalog == nil {
		return nil, fmt.Errorf("%w: document and catalog required", ErrRenderFailed)
	}
	views, err := doc.Project()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}

	w, h := ImageSize()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	for _, view := range views {
		drawTooth(img, view, catalog)
	}
	return img, nil
}

func drawTooth(img *image.RGBA, view dentalchart.ToothView, catalog *dentalchart.Catalog) {
	cell := CellBounds(view.Position)
	col, _ := cellColumn(view.Position)
	upper := view.Arch == dentalchart.ArchUpper
	inner := cell.Inset(CellSize / 4)

	fills := map[dentalchart.SurfaceCode]color.RGBA{}
	if view.Record != nil {
		for code, ann := range view.Record.Surfaces {
			if ann != nil {
				fills[code] = conditionColor(catalog, ann.ConditionID)
			}
		}
	}

	for y := cell.Min.Y; y < cell.Max.Y; y++ {
		for x := cell.Min.X; x < cell.Max.X; x++ {
			code := surfaceAt(image.Pt(x, y), cell, inner, upper, col)
			c, ok := fills[code]
			if !ok {
				c = surfaceBlank
			}
			img.SetRGBA(x, y, c)
		}
	}

	strokeRect(img, cell, 1, outline)
	strokeRect(img, inner, 1, outline)

	if view.Record == nil || view.Record.Whole == "" {
		return
	}
	c := conditionColor(catalog, view.Record.Whole)
	strokeRect(img, cell, wholeEdge, c)
	if crossed[view.Record.Whole] {
		drawCross(img, cell, c)
	}
}

// surfaceAt picks the region under p. The occlusal face is the inner square; the four outer faces
// are the trapezoids nearest each cell edge. Buccal faces point away from the mouth, and mesial
// faces point toward the midline between columns 7 and 8.
func surfaceAt(p image.Point, cell, inner image.Rectangle, upper bool, col int) dentalchart.SurfaceCode {
	if p.In(inner) {
		return dentalchart.SurfaceOcclusal
	}
	top := p.Y - cell.Min.Y
	bottom := cell.Max.Y - 1 - p.Y
	left := p.X - cell.Min.X
	right := cell.Max.X - 1 - p.X

	patientRight := col < Columns/2
	switch min(top, bottom, left, right) {
	case top:
		if upper {
			return dentalchart.SurfaceBuccal
		}
		return dentalchart.SurfaceLingual
	case bottom:
		if upper {
			return dentalchart.SurfaceLingual
		}
		return dentalchart.SurfaceBuccal
	case left:
		if patientRight {
			return dentalchart.SurfaceDistal
		}
		return dentalchart.SurfaceMesial
	default:
		if patientRight {
			return dentalchart.SurfaceMesial
		}
		return dentalchart.SurfaceDistal
	}
}

func strokeRect(img *image.RGBA, r image.Rectangle, width int, c color.RGBA) {
	for i := 0; i < width; i++ {
		for x := r.Min.X + i; x < r.Max.X-i; x++ {
			img.SetRGBA(x, r.Min.Y+i, c)
			img.SetRGBA(x, r.Max.Y-1-i, c)
		}
		for y := r.Min.Y + i; y < r.Max.Y-i; y++ {
			img.SetRGBA(r.Min.X+i, y, c)
			img.SetRGBA(r.Max.X-1-i, y, c)
		}
	}
}

func drawCross(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	size := r.Dx()
	for i := 0; i < size; i++ {
		for t := -1; t <= 1; t++ {
			img.SetRGBA(r.Min.X+i+t, r.Min.Y+i, c)
			img.SetRGBA(r.Max.X-1-i+t, r.Min.Y+i, c)
		}
	}
}

func conditionColor(catalog *dentalchart.Catalog, id string) color.RGBA {
	cond, err := catalog.Get(id)
	if err != nil {
		return unknownColor
	}
	c, err := parseHex(cond.Color)
	if err != nil {
		return unknownColor
	}
	return c
}

func parseHex(s string) (color.RGBA, error) {
	if len(s) != 7 || s[0] != '#' {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}
