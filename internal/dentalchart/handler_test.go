package dentalchart

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpmiddleware "github.com/wolfman30/dentalchart-platform/internal/http/middleware"
)

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			claims := httpmiddleware.ClinicianClaims{
				Name:             "Dr. Token",
				RegisteredClaims: jwt.RegisteredClaims{Subject: "clinician-1"},
			}
			next.ServeHTTP(w, req.WithContext(httpmiddleware.WithClinicianClaims(req.Context(), claims)))
		})
	})
	r.Mount("/charts", NewHandler(svc, nil).Routes(nil))
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeChart(t *testing.T, rec *httptest.ResponseRecorder) ChartResponse {
	t.Helper()
	var resp ChartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHandlerCatalogAndNumbering(t *testing.T) {
	h := newTestRouter(newTestService(NewMemoryRepository(), nil, nil))

	rec := doJSON(t, h, http.MethodGet, "/charts/catalog", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var catalog struct {
		Conditions []Condition `json:"conditions"`
		Surfaces   []struct {
			Code string `json:"code"`
			Name string `json:"name"`
		} `json:"surfaces"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &catalog))
	assert.Len(t, catalog.Conditions, 11)
	assert.Len(t, catalog.Surfaces, 5)
	assert.Equal(t, "occlusal", catalog.Surfaces[0].Name)

	rec = doJSON(t, h, http.MethodGet, "/charts/numbering/fdi", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var numbering struct {
		Labels []string `json:"labels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &numbering))
	assert.Equal(t, "18", numbering.Labels[0])

	rec = doJSON(t, h, http.MethodGet, "/charts/numbering/palmer", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerOpenApplySave(t *testing.T) {
	h := newTestRouter(newTestService(NewMemoryRepository(), nil, nil))

	rec := doJSON(t, h, http.MethodGet, "/charts/p1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	opened := decodeChart(t, rec)
	assert.True(t, opened.Created)
	assert.Len(t, opened.Layout, 32)
	assert.Equal(t, `"0"`, rec.Header().Get("ETag"))

	rec = doJSON(t, h, http.MethodPost, "/charts/p1/apply", ApplyRequest{
		Document: opened.Document,
		Edit:     Edit{Tooth: "8", Surface: SurfaceOcclusal, ConditionID: "caries", Note: "sticky on explorer"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	applied := decodeChart(t, rec)
	ann := applied.Document.Teeth["8"].Surfaces[SurfaceOcclusal]
	require.NotNil(t, ann)
	assert.Equal(t, "Dr. Token", ann.RecordedBy, "clinician defaults to token name")

	rec = doJSON(t, h, http.MethodPut, "/charts/p1", applied.Document, map[string]string{"If-Match": `"0"`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `"1"`, rec.Header().Get("ETag"))

	rec = doJSON(t, h, http.MethodGet, "/charts/p1", nil, nil)
	stored := decodeChart(t, rec)
	assert.False(t, stored.Created)
	assert.Equal(t, int64(1), stored.Document.Version)
	assert.Equal(t, "caries", stored.Document.Teeth["8"].Surfaces[SurfaceOcclusal].ConditionID)
}

func TestHandlerSaveConflictAndForce(t *testing.T) {
	h := newTestRouter(newTestService(NewMemoryRepository(), nil, nil))
	opened := decodeChart(t, doJSON(t, h, http.MethodGet, "/charts/p1", nil, nil))
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPut, "/charts/p1", opened.Document, nil).Code)

	stale := opened.Document
	stale.Version = 0
	rec := doJSON(t, h, http.MethodPut, "/charts/p1", stale, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/charts/p1?force=true", stale, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `"2"`, rec.Header().Get("ETag"))

	rec = doJSON(t, h, http.MethodPut, "/charts/p1", stale, map[string]string{"If-Match": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerRejectsBadEdits(t *testing.T) {
	h := newTestRouter(newTestService(NewMemoryRepository(), nil, nil))

	rec := doJSON(t, h, http.MethodPost, "/charts/p1/apply", ApplyRequest{
		Edit: Edit{Tooth: "8", Surface: SurfaceOcclusal, ConditionID: "unobtainium"},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	other, err := NewDocument("p2", DentitionPermanent, SchemeUniversal, t0)
	require.NoError(t, err)
	rec = doJSON(t, h, http.MethodPost, "/charts/p1/apply", ApplyRequest{
		Document: other,
		Edit:     Edit{Tooth: "8", ConditionID: "missing"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/charts/p1/apply", bytes.NewBufferString("{"))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestHandlerAcceptsWorkingCopyWithoutDentition(t *testing.T) {
	h := newTestRouter(newTestService(NewMemoryRepository(), nil, nil))

	rec := doJSON(t, h, http.MethodPost, "/charts/p1/apply", map[string]any{
		"document": map[string]any{
			"patientId":       "p1",
			"numberingScheme": "universal",
			"teeth":           map[string]any{"3": map[string]any{"surfaces": map[string]any{"O": nil}}},
		},
		"edit": map[string]any{"tooth": "3", "conditionId": "crown"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	applied := decodeChart(t, rec)
	assert.Equal(t, DentitionPermanent, applied.Document.Dentition)
	assert.Equal(t, "crown", applied.Document.Teeth["3"].Whole)
	assert.Empty(t, applied.Document.Teeth["3"].Surfaces)
}

func TestHandlerClear(t *testing.T) {
	h := newTestRouter(newTestService(NewMemoryRepository(), nil, nil))
	doc := newChart(t, SchemeUniversal)
	doc.Teeth["14"].Whole = "missing"

	rec := doJSON(t, h, http.MethodPost, "/charts/p1/clear", ClearRequest{Document: doc, Tooth: "14"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeChart(t, rec).Document.Teeth["14"].Whole)
}

func TestHandlerFallbackWarning(t *testing.T) {
	svc := newTestService(&failingRepository{loadErr: errors.New("connection refused")}, nil, &stubExporter{})
	h := newTestRouter(svc)

	rec := doJSON(t, h, http.MethodGet, "/charts/p1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, FallbackWarning, rec.Header().Get(WarningHeader))
	resp := decodeChart(t, rec)
	assert.Equal(t, FallbackWarning, resp.Warning)
	assert.False(t, resp.Document.HasData())

	rec = doJSON(t, h, http.MethodGet, "/charts/p1/export.pdf", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerSwitchScheme(t *testing.T) {
	h := newTestRouter(newTestService(NewMemoryRepository(), nil, nil))

	rec := doJSON(t, h, http.MethodPut, "/charts/p1/scheme", SchemeRequest{Scheme: SchemeFDI}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := decodeChart(t, rec).Document
	assert.Equal(t, SchemeFDI, doc.NumberingScheme)

	doc.Teeth["36"].Whole = "implant"
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodPut, "/charts/p1", doc, nil).Code)

	rec = doJSON(t, h, http.MethodPut, "/charts/p1/scheme", SchemeRequest{Scheme: SchemeUniversal}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerExport(t *testing.T) {
	exporter := &stubExporter{}
	h := newTestRouter(newTestService(NewMemoryRepository(), nil, exporter))

	rec := doJSON(t, h, http.MethodGet, "/charts/p1/export.xlsx", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="chart.xlsx"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "x", rec.Body.String())

	doc := newChart(t, SchemeUniversal)
	doc.Teeth["3"].Whole = "crown"
	rec = doJSON(t, h, http.MethodPost, "/charts/p1/export?format=pdf", doc, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "crown", exporter.got.Teeth["3"].Whole)

	rec = doJSON(t, h, http.MethodPost, "/charts/p1/export?format=docx", doc, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	exporter.err = errors.New("encode failed")
	rec = doJSON(t, h, http.MethodGet, "/charts/p1/export.pdf", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(ErrChartNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(ErrSchemeLocked))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(errors.Join(errors.New("redis save"), ErrSaveContended)))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(ErrInvalidSurface))
	assert.Equal(t, http.StatusBadRequest, StatusFor(ErrUnsupportedDentition))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom")))
}
