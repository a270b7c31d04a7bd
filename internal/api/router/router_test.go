package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/dentalchart-platform/internal/dentalchart"
	httpmiddleware "github.com/wolfman30/dentalchart-platform/internal/http/middleware"
	"github.com/wolfman30/dentalchart-platform/pkg/logging"
)

const testSecret = "router-test-secret"

func newTestRouter(t *testing.T, mutate func(*Config)) http.Handler {
	t.Helper()
	logger := logging.Default()
	svc := dentalchart.NewService(dentalchart.NewMemoryRepository(), nil, dentalchart.ServiceConfig{}, logger)
	cfg := &Config{
		Logger:              logger,
		Charts:              dentalchart.NewHandler(svc, logger),
		ClinicianAuthSecret: testSecret,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("# metrics"))
		}),
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg)
}

func bearer(t *testing.T) string {
	t.Helper()
	claims := httpmiddleware.ClinicianClaims{
		Name: "Dr. Router",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "clinician-9",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func serve(h http.Handler, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthEndpoint(t *testing.T) {
	rec := serve(newTestRouter(t, nil), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterReadyReportsFailingDependency(t *testing.T) {
	h := newTestRouter(t, func(cfg *Config) {
		cfg.Readiness = map[string]Pinger{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}
	})
	rec := serve(h, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "ok", resp.Checks["postgres"])
	assert.Equal(t, "connection refused", resp.Checks["redis"])
}

func TestRouterMetricsEndpoint(t *testing.T) {
	rec := serve(newTestRouter(t, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# metrics", rec.Body.String())
}

func TestRouterChartsRequireToken(t *testing.T) {
	h := newTestRouter(t, nil)

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/charts/catalog", "").Code)

	rec := serve(h, http.MethodGet, "/charts/p-100", bearer(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp dentalchart.ChartResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Created)
	assert.Equal(t, "p-100", resp.Document.PatientID)
}

func TestRouterChartsOpenWithoutSecret(t *testing.T) {
	h := newTestRouter(t, func(cfg *Config) { cfg.ClinicianAuthSecret = "" })
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/charts/catalog", "").Code)
}

func TestRouterExportLimiterApplied(t *testing.T) {
	h := newTestRouter(t, func(cfg *Config) {
		cfg.ExportLimiter = func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			})
		}
	})
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodGet, "/charts/p-100/export.pdf", bearer(t)).Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/charts/p-100", bearer(t)).Code)
}

func TestRouterWithoutChartsHandler(t *testing.T) {
	h := newTestRouter(t, func(cfg *Config) { cfg.Charts = nil })
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/charts/catalog", "").Code)
}
