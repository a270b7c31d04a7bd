package dentalchart

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/dentalchart-platform/internal/http/middleware"
	"github.com/wolfman30/dentalchart-platform/pkg/logging"
)

const (
	maxChartBody = 1 << 20

	// WarningHeader carries the load-fallback warning alongside the blank chart.
	WarningHeader = "X-Chart-Warning"
)

// Handler serves the /charts endpoints.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// NewHandler creates a chart HTTP handler.
func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// ChartResponse is the body returned by every endpoint that yields a chart.
type ChartResponse struct {
	Document *Document   `json:"document"`
	Layout   []ToothView `json:"layout"`
	Created  bool        `json:"created,omitempty"`
	Warning  string      `json:"warning,omitempty"`
}

// ApplyRequest carries the working copy plus the edit to apply to it.
type ApplyRequest struct {
	Document *Document `json:"document"`
	Edit     Edit      `json:"edit"`
}

// ClearRequest removes a surface annotation, or the whole-tooth condition when Surface is empty.
type ClearRequest struct {
	Document *Document   `json:"document"`
	Tooth    string      `json:"tooth"`
	Surface  SurfaceCode `json:"surface,omitempty"`
}

// SchemeRequest switches the numbering scheme of the stored chart.
type SchemeRequest struct {
	Scheme NumberingScheme `json:"scheme"`
}

type surfaceInfo struct {
	Code SurfaceCode `json:"code"`
	Name string      `json:"name"`
}

// Routes returns the /charts route table. exportLimit, when set, wraps the export endpoints.
func (h *Handler) Routes(exportLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/catalog", h.GetCatalog)
	r.Get("/numbering/{scheme}", h.GetNumbering)
	r.Route("/{patientID}", func(chart chi.Router) {
		chart.Get("/", h.GetChart)
		chart.Put("/", h.SaveChart)
		chart.Post("/apply", h.ApplyCondition)
		chart.Post("/clear", h.ClearCondition)
		chart.Put("/scheme", h.SwitchScheme)
		chart.Group(func(exports chi.Router) {
			if exportLimit != nil {
				exports.Use(exportLimit)
			}
			exports.Get("/export.pdf", h.ExportPDF)
			exports.Get("/export.xlsx", h.ExportXLSX)
			exports.Post("/export", h.ExportDocument)
		})
	})
	return r
}

// GetCatalog handles GET /charts/catalog.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	surfaces := make([]surfaceInfo, 0, len(Surfaces))
	for _, code := range Surfaces {
		surfaces = append(surfaces, surfaceInfo{Code: code, Name: code.Name()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conditions": h.svc.Catalog().All(),
		"surfaces":   surfaces,
		"default":    h.svc.DefaultScheme(),
	})
}

// GetNumbering handles GET /charts/numbering/{scheme}.
func (h *Handler) GetNumbering(w http.ResponseWriter, r *http.Request) {
	scheme, err := ParseScheme(chi.URLParam(r, "scheme"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	labels, _ := Labels(scheme)
	writeJSON(w, http.StatusOK, map[string]any{
		"scheme": scheme,
		"labels": labels,
	})
}

// GetChart handles GET /charts/{patientID}.
func (h *Handler) GetChart(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Open(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if res.Fallback {
		w.Header().Set(WarningHeader, res.Warning)
	}
	h.writeChart(w, http.StatusOK, res.Document, res.Created, res.Warning)
}

// ApplyCondition handles POST /charts/{patientID}/apply. The result is returned, not saved.
func (h *Handler) ApplyCondition(w http.ResponseWriter, r *http.Request) {
	var req ApplyRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, ok := h.workingCopy(w, r, req.Document)
	if !ok {
		return
	}
	edit := req.Edit
	if strings.TrimSpace(edit.Clinician) == "" {
		edit.Clinician = clinicianName(r)
	}
	next, err := h.svc.Apply(r.Context(), doc, edit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeChart(w, http.StatusOK, next, false, "")
}

// ClearCondition handles POST /charts/{patientID}/clear.
func (h *Handler) ClearCondition(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, ok := h.workingCopy(w, r, req.Document)
	if !ok {
		return
	}
	next, err := h.svc.Clear(r.Context(), doc, req.Tooth, req.Surface)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeChart(w, http.StatusOK, next, false, "")
}

// SaveChart handles PUT /charts/{patientID}. The base version comes from If-Match when present,
// otherwise from the body. ?force=true overwrites regardless of version.
func (h *Handler) SaveChart(w http.ResponseWriter, r *http.Request) {
	var doc Document
	if !h.decode(w, r, &doc) {
		return
	}
	if !h.samePatient(w, r, &doc) {
		return
	}
	if match := r.Header.Get("If-Match"); match != "" {
		version, err := parseETag(match)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		doc.Version = version
	}
	doc.Normalize()

	opts := SaveOptions{Force: queryBool(r, "force")}
	if err := h.svc.Save(r.Context(), &doc, opts, clinicianName(r)); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeChart(w, http.StatusOK, &doc, false, "")
}

// SwitchScheme handles PUT /charts/{patientID}/scheme.
func (h *Handler) SwitchScheme(w http.ResponseWriter, r *http.Request) {
	var req SchemeRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.svc.SwitchScheme(r.Context(), chi.URLParam(r, "patientID"), req.Scheme, clinicianName(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeChart(w, http.StatusOK, doc, false, "")
}

// ExportPDF handles GET /charts/{patientID}/export.pdf.
func (h *Handler) ExportPDF(w http.ResponseWriter, r *http.Request) {
	h.exportStored(w, r, FormatPDF)
}

// ExportXLSX handles GET /charts/{patientID}/export.xlsx.
func (h *Handler) ExportXLSX(w http.ResponseWriter, r *http.Request) {
	h.exportStored(w, r, FormatXLSX)
}

// ExportDocument handles POST /charts/{patientID}/export?format=pdf|xlsx, exporting the working copy
// in the body so unsaved edits can be printed.
func (h *Handler) ExportDocument(w http.ResponseWriter, r *http.Request) {
	format, err := parseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	var doc Document
	if !h.decode(w, r, &doc) {
		return
	}
	if !h.samePatient(w, r, &doc) {
		return
	}
	doc.Normalize()
	h.export(w, r, &doc, format)
}

func (h *Handler) exportStored(w http.ResponseWriter, r *http.Request, format ExportFormat) {
	res, err := h.svc.Open(r.Context(), chi.URLParam(r, "patientID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if res.Fallback {
		// The fallback chart is blank; it is never exported.
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": res.Warning})
		return
	}
	h.export(w, r, res.Document, format)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request, doc *Document, format ExportFormat) {
	artifact, err := h.svc.Export(r.Context(), doc, ExportRequest{
		Format:  format,
		Archive: queryBool(r, "archive"),
	}, clinicianName(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(artifact.Body)))
	if artifact.ArchiveKey != "" {
		w.Header().Set("X-Chart-Archive-Key", artifact.ArchiveKey)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(artifact.Body)
}

// workingCopy returns the document from the request body, or the stored chart when the body omits it.
func (h *Handler) workingCopy(w http.ResponseWriter, r *http.Request, doc *Document) (*Document, bool) {
	if doc == nil {
		res, err := h.svc.Open(r.Context(), chi.URLParam(r, "patientID"))
		if err != nil {
			h.writeError(w, err)
			return nil, false
		}
		if res.Fallback {
			w.Header().Set(WarningHeader, res.Warning)
		}
		return res.Document, true
	}
	if !h.samePatient(w, r, doc) {
		return nil, false
	}
	doc.Normalize()
	return doc, true
}

func (h *Handler) samePatient(w http.ResponseWriter, r *http.Request, doc *Document) bool {
	patientID := chi.URLParam(r, "patientID")
	if doc.PatientID == "" {
		doc.PatientID = patientID
	}
	if doc.PatientID != patientID {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document patientId does not match path"})
		return false
	}
	return true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxChartBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode chart request", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (h *Handler) writeChart(w http.ResponseWriter, status int, doc *Document, created bool, warning string) {
	layout, err := doc.Project()
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("ETag", formatETag(doc.Version))
	writeJSON(w, status, ChartResponse{
		Document: doc,
		Layout:   layout,
		Created:  created,
		Warning:  warning,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("chart request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// StatusFor maps chart errors onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrChartNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrSchemeLocked):
		return http.StatusConflict
	case errors.Is(err, ErrSaveContended):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrConditionNotFound), errors.Is(err, ErrUnknownTooth), errors.Is(err, ErrInvalidSurface):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrMissingPatientID), errors.Is(err, ErrInvalidDocument),
		errors.Is(err, ErrUnknownScheme), errors.Is(err, ErrUnsupportedDentition):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func clinicianName(r *http.Request) string {
	if claims, ok := httpmiddleware.ClinicianClaimsFromContext(r.Context()); ok {
		return claims.DisplayName()
	}
	return ""
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}

func parseFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(raw)) {
	case FormatPDF, "":
		return FormatPDF, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

func formatETag(version int64) string {
	return strconv.Quote(strconv.FormatInt(version, 10))
}

func parseETag(raw string) (int64, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "W/")
	raw = strings.Trim(raw, `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid If-Match version %q", raw)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
