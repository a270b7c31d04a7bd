package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/dentalchart-platform/internal/dentalchart"
	"github.com/wolfman30/dentalchart-platform/pkg/logging"
)

const (
	contentTypePDF  = "application/pdf"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// Exporter implements dentalchart.Exporter.
type Exporter struct {
	pdf     *PDFWriter
	archive *Archive
	now     func() time.Time
	logger  *logging.Logger
}

// NewExporter wires the PDF writer and optional archive. A nil archive disables archival.
func NewExporter(pdf *PDFWriter, archive *Archive, logger *logging.Logger) *Exporter {
	if pdf == nil {
		pdf = &PDFWriter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Exporter{pdf: pdf, archive: archive, now: time.Now, logger: logger}
}

// Export renders doc in the requested format. An archive failure is logged and the artifact is
// still returned without an archive key.
func (e *Exporter) Export(ctx context.Context, doc *dentalchart.Document, catalog *dentalchart.Catalog, req dentalchart.ExportRequest) (*dentalchart.ExportArtifact, error) {
	now := e.now()
	var (
		buf      bytes.Buffer
		artifact dentalchart.ExportArtifact
	)

	switch req.Format {
	case dentalchart.FormatPDF:
		img, err := Rasterize(doc, catalog)
		if err != nil {
			return nil, err
		}
		if err := e.pdf.Write(&buf, doc, catalog, img, now); err != nil {
			return nil, err
		}
		artifact.Filename = Filename(doc.PatientID, now)
		artifact.ContentType = contentTypePDF
	case dentalchart.FormatXLSX:
		if err := WriteWorkbook(&buf, doc, catalog); err != nil {
			return nil, err
		}
		artifact.Filename = WorkbookFilename(doc.PatientID, now)
		artifact.ContentType = contentTypeXLSX
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
	artifact.Body = buf.Bytes()

	if req.Archive && e.archive.Enabled() {
		key, err := e.archive.Put(ctx, Key(doc.PatientID, now, artifact.Filename), artifact.Body, artifact.ContentType)
		if err != nil {
			e.logger.Warn("chart export archive failed", "error", err, "patient_id", doc.PatientID)
		} else {
			artifact.ArchiveKey = key
		}
	}
	return &artifact, nil
}
