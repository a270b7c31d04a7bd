package dentalchart

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/dentalchart-platform/internal/observability/metrics"
	"github.com/wolfman30/dentalchart-platform/pkg/logging"
)

var chartTracer = otel.Tracer("dentalchart/service")

// FallbackWarning is shown to the user when a stored chart could not be loaded.
const FallbackWarning = "chart could not be loaded; starting from a blank chart"

// Auditor records chart activity. *compliance.AuditService satisfies it.
type Auditor interface {
	LogConditionApplied(ctx context.Context, patientID, actor, tooth, conditionID, scope, surface string) error
	LogSaved(ctx context.Context, patientID, actor string, version int64, forced bool) error
	LogSaveConflict(ctx context.Context, patientID, actor string, baseVersion int64) error
	LogExported(ctx context.Context, patientID, actor, format, filename, s3Key string) error
	LogLoadFailed(ctx context.Context, patientID string, loadErr error) error
	LogSchemeChanged(ctx context.Context, patientID, actor, scheme string) error
}

// ExportFormat selects the export encoding.
type ExportFormat string

const (
	FormatPDF  ExportFormat = "pdf"
	FormatXLSX ExportFormat = "xlsx"
)

// ExportRequest describes one export.
type ExportRequest struct {
	Format  ExportFormat
	Archive bool
}

// ExportArtifact is an encoded export ready for download.
type ExportArtifact struct {
	Filename    string
	ContentType string
	Body        []byte
	ArchiveKey  string
}

// Exporter renders documents. Implementations must not mutate the document.
type Exporter interface {
	Export(ctx context.Context, doc *Document, catalog *Catalog, req ExportRequest) (*ExportArtifact, error)
}

// OpenResult is the outcome of opening a patient's chart.
type OpenResult struct {
	Document *Document
	// Created is true when nothing was stored and a default chart was built.
	Created bool
	// Fallback is true when loading failed and the default chart stands in for the stored one.
	Fallback bool
	Warning  string
	LoadErr  error
}

// ServiceConfig carries optional collaborators.
type ServiceConfig struct {
	DefaultScheme NumberingScheme
	Now           func() time.Time
	Metrics       *metrics.ChartMetrics
	Audit         Auditor
	Exporter      Exporter
}

// Service coordinates chart loading, editing, saving and export.
type Service struct {
	repo          Repository
	catalog       *Catalog
	defaultScheme NumberingScheme
	now           func() time.Time
	metrics       *metrics.ChartMetrics
	audit         Auditor
	exporter      Exporter
	logger        *logging.Logger
}

// NewService wires a chart service.
func NewService(repo Repository, catalog *Catalog, cfg ServiceConfig, logger *logging.Logger) *Service {
	if repo == nil {
		panic("dentalchart: repository required")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if !cfg.DefaultScheme.Valid() {
		cfg.DefaultScheme = SchemeUniversal
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Audit == nil {
		cfg.Audit = noopAuditor{}
	}
	return &Service{
		repo:          repo,
		catalog:       catalog,
		defaultScheme: cfg.DefaultScheme,
		now:           cfg.Now,
		metrics:       cfg.Metrics,
		audit:         cfg.Audit,
		exporter:      cfg.Exporter,
		logger:        logger.WithComponent("dentalchart"),
	}
}

// Catalog returns the condition catalog in use.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// DefaultScheme returns the numbering scheme used for new charts.
func (s *Service) DefaultScheme() NumberingScheme {
	return s.defaultScheme
}

// Open loads a patient's chart. A missing chart yields a fresh default document. A storage failure
// also yields the default document, flagged as a fallback with a user-facing warning; it is not
// returned as an error so the caller can keep editing and retry the save later.
func (s *Service) Open(ctx context.Context, patientID string) (*OpenResult, error) {
	ctx, span := chartTracer.Start(ctx, "chart.open", trace.WithAttributes(attribute.String("patient.id", patientID)))
	defer span.End()

	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrMissingPatientID
	}
	log := s.logger.WithPatient(patientID)

	doc, err := s.repo.Load(ctx, patientID)
	if err == nil {
		s.metrics.ObserveLoad("stored")
		return &OpenResult{Document: doc}, nil
	}

	fresh, buildErr := NewDocument(patientID, DentitionPermanent, s.defaultScheme, s.now())
	if buildErr != nil {
		recordSpanError(span, buildErr)
		return nil, buildErr
	}

	if errors.Is(err, ErrChartNotFound) {
		s.metrics.ObserveLoad("created")
		log.Debug("no stored chart; starting a new one")
		return &OpenResult{Document: fresh, Created: true}, nil
	}

	recordSpanError(span, err)
	s.metrics.ObserveLoad("fallback")
	log.Warn("chart load failed; using blank chart", "error", err)
	if auditErr := s.audit.LogLoadFailed(ctx, patientID, err); auditErr != nil {
		log.Warn("audit load failure", "error", auditErr)
	}
	return &OpenResult{
		Document: fresh,
		Fallback: true,
		Warning:  FallbackWarning,
		LoadErr:  fmt.Errorf("dentalchart: load chart: %w", err),
	}, nil
}

// Apply returns a copy of doc with the edit applied. doc itself is never modified and nothing is
// persisted.
func (s *Service) Apply(ctx context.Context, doc *Document, edit Edit) (*Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	scope := "unknown"
	if cond, err := s.catalog.Get(edit.ConditionID); err == nil {
		scope = string(cond.Scope)
	}

	next := doc.Clone()
	if err := next.Apply(s.catalog, edit, s.now()); err != nil {
		s.metrics.ObserveEdit(scope, "rejected")
		return nil, err
	}
	s.metrics.ObserveEdit(scope, "applied")

	surface := ""
	if scope == string(ScopeSurface) {
		surface = string(edit.Surface)
	}
	s.logger.WithPatient(doc.PatientID).Info("condition applied",
		"tooth", edit.Tooth,
		"condition_id", edit.ConditionID,
		"surface", surface,
	)
	if err := s.audit.LogConditionApplied(ctx, doc.PatientID, edit.Clinician, edit.Tooth, edit.ConditionID, scope, surface); err != nil {
		s.logger.Warn("audit condition applied", "error", err, "patient_id", doc.PatientID)
	}
	return next, nil
}

// Clear returns a copy of doc with a surface annotation, or the whole-tooth condition when surface
// is empty, removed.
func (s *Service) Clear(ctx context.Context, doc *Document, tooth string, surface SurfaceCode) (*Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	next := doc.Clone()
	var err error
	if surface == "" {
		err = next.ClearWhole(tooth, s.now())
	} else {
		err = next.ClearSurface(tooth, surface, s.now())
	}
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Save persists the whole document. On success doc.Version holds the new stored version; on
// failure doc is left as it was so the caller can retry.
func (s *Service) Save(ctx context.Context, doc *Document, opts SaveOptions, actor string) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	ctx, span := chartTracer.Start(ctx, "chart.save", trace.WithAttributes(
		attribute.String("patient.id", doc.PatientID),
		attribute.Int64("chart.base_version", doc.Version),
		attribute.Bool("chart.force", opts.Force),
	))
	defer span.End()

	log := s.logger.WithPatient(doc.PatientID)
	base := doc.Version

	submitted := doc.UpdatedAt
	if err := s.clampUpdatedAt(ctx, doc); err != nil {
		recordSpanError(span, err)
		s.metrics.ObserveSave("error", opts.Force)
		log.Error("chart save failed: load stored chart", "error", err)
		return fmt.Errorf("dentalchart: save chart: %w", err)
	}

	if err := s.repo.Save(ctx, doc, opts); err != nil {
		doc.UpdatedAt = submitted
		recordSpanError(span, err)
		if errors.Is(err, ErrVersionConflict) {
			s.metrics.ObserveSave("conflict", opts.Force)
			log.Warn("chart save rejected: stale version", "base_version", base)
			if auditErr := s.audit.LogSaveConflict(ctx, doc.PatientID, actor, base); auditErr != nil {
				log.Warn("audit save conflict", "error", auditErr)
			}
			return err
		}
		s.metrics.ObserveSave("error", opts.Force)
		log.Error("chart save failed", "error", err)
		return fmt.Errorf("dentalchart: save chart: %w", err)
	}

	s.metrics.ObserveSave("saved", opts.Force)
	log.Info("chart saved", "version", doc.Version, "forced", opts.Force)
	if err := s.audit.LogSaved(ctx, doc.PatientID, actor, doc.Version, opts.Force); err != nil {
		log.Warn("audit save", "error", err)
	}
	return nil
}

// clampUpdatedAt keeps UpdatedAt from moving behind the stored chart's. The version check in
// the repository makes the stored value read here the one being replaced on optimistic saves.
func (s *Service) clampUpdatedAt(ctx context.Context, doc *Document) error {
	stored, err := s.repo.Load(ctx, doc.PatientID)
	if errors.Is(err, ErrChartNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if stored != nil && doc.UpdatedAt.Before(stored.UpdatedAt) {
		doc.UpdatedAt = stored.UpdatedAt
	}
	return nil
}

// SwitchScheme changes the numbering scheme of the stored chart and saves it. Charts with entries
// are rejected with ErrSchemeLocked.
func (s *Service) SwitchScheme(ctx context.Context, patientID string, scheme NumberingScheme, actor string) (*Document, error) {
	if !scheme.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	opened, err := s.Open(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if opened.Fallback {
		return nil, opened.LoadErr
	}
	doc := opened.Document
	if doc.NumberingScheme == scheme {
		return doc, nil
	}
	if err := doc.SwitchScheme(scheme, s.now()); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, doc, SaveOptions{}, actor); err != nil {
		return nil, err
	}
	if err := s.audit.LogSchemeChanged(ctx, doc.PatientID, actor, string(scheme)); err != nil {
		s.logger.Warn("audit scheme change", "error", err, "patient_id", doc.PatientID)
	}
	return doc, nil
}

// Export renders a copy of doc. Export failures never touch chart state.
func (s *Service) Export(ctx context.Context, doc *Document, req ExportRequest, actor string) (*ExportArtifact, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	ctx, span := chartTracer.Start(ctx, "chart.export", trace.WithAttributes(
		attribute.String("patient.id", doc.PatientID),
		attribute.String("export.format", string(req.Format)),
	))
	defer span.End()

	if s.exporter == nil {
		err := errors.New("dentalchart: export not configured")
		recordSpanError(span, err)
		return nil, err
	}

	start := time.Now()
	artifact, err := s.exporter.Export(ctx, doc.Clone(), s.catalog, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		recordSpanError(span, err)
		s.metrics.ObserveExport(string(req.Format), "error", elapsed)
		s.logger.WithPatient(doc.PatientID).Error("chart export failed", "error", err, "format", req.Format)
		return nil, err
	}
	s.metrics.ObserveExport(string(req.Format), "ok", elapsed)
	s.logger.WithPatient(doc.PatientID).Info("chart exported",
		"format", req.Format,
		"filename", artifact.Filename,
		"bytes", len(artifact.Body),
		"archive_key", artifact.ArchiveKey,
	)
	if err := s.audit.LogExported(ctx, doc.PatientID, actor, string(req.Format), artifact.Filename, artifact.ArchiveKey); err != nil {
		s.logger.Warn("audit export", "error", err, "patient_id", doc.PatientID)
	}
	return artifact, nil
}

type noopAuditor struct{}

func (noopAuditor) LogConditionApplied(context.Context, string, string, string, string, string, string) error {
	return nil
}

func (noopAuditor) LogSaved(context.Context, string, string, int64, bool) error {
	return nil
}

func (noopAuditor) LogSaveConflict(context.Context, string, string, int64) error {
	return nil
}

func (noopAuditor) LogExported(context.Context, string, string, string, string, string) error {
	return nil
}

func (noopAuditor) LogLoadFailed(context.Context, string, error) error {
	return nil
}

func (noopAuditor) LogSchemeChanged(context.Context, string, string, string) error {
	return nil
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
