// Package compliance keeps an append-only audit trail of clinical chart activity.
package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// AuditEventType represents the type of audited chart event.
type AuditEventType string

const (
	// EventConditionApplied is logged when a condition is recorded on a tooth or surface.
	EventConditionApplied AuditEventType = "chart.condition_applied"
	// EventChartSaved is logged when a chart document is persisted.
	EventChartSaved AuditEventType = "chart.saved"
	// EventSaveConflict is logged when a save is rejected because the base version is stale.
	EventSaveConflict AuditEventType = "chart.save_conflict"
	// EventChartExported is logged when a chart is exported.
	EventChartExported AuditEventType = "chart.exported"
	// EventLoadFailed is logged when a stored chart could not be loaded and a blank chart was shown.
	EventLoadFailed AuditEventType = "chart.load_failed"
	// EventSchemeChanged is logged when an empty chart switches numbering scheme.
	EventSchemeChanged AuditEventType = "chart.scheme_changed"
)

// AuditEvent represents an immutable audit record.
type AuditEvent struct {
	ID          string          `json:"id"`
	EventType   AuditEventType  `json:"event_type"`
	PatientID   string          `json:"patient_id"`
	Actor       string          `json:"actor,omitempty"`
	Tooth       string          `json:"tooth,omitempty"`
	ConditionID string          `json:"condition_id,omitempty"`
	Details     json.RawMessage `json:"details,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AuditDetails contains event-specific details.
type AuditDetails struct {
	// For condition applied
	Surface string `json:"surface,omitempty"`
	Scope   string `json:"scope,omitempty"`

	// For saves and conflicts
	Version int64 `json:"version,omitempty"`
	Forced  bool  `json:"forced,omitempty"`

	// For exports
	Format   string `json:"format,omitempty"`
	Filename string `json:"filename,omitempty"`
	S3Key    string `json:"s3_key,omitempty"`

	// For load failures and scheme changes
	Error  string `json:"error,omitempty"`
	Scheme string `json:"scheme,omitempty"`
}

// AuditService handles audit logging.
type AuditService struct {
	db *sql.DB
}

// NewAuditService creates a new audit service.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db}
}

// LogEvent records an audit event.
func (s *AuditService) LogEvent(ctx context.Context, event AuditEvent) error {
	if s == nil || s.db == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Details) == 0 {
		event.Details = json.RawMessage(`{}`)
	}

	query := `
		INSERT INTO chart_audit_events (
			id, event_type, patient_id, actor, tooth, condition_id, details, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		string(event.EventType),
		event.PatientID,
		nullString(event.Actor),
		nullString(event.Tooth),
		nullString(event.ConditionID),
		[]byte(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}

	return nil
}

// LogConditionApplied logs a condition edit.
func (s *AuditService) LogConditionApplied(ctx context.Context, patientID, actor, tooth, conditionID, scope, surface string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{Scope: scope, Surface: surface})
	return s.LogEvent(ctx, AuditEvent{
		EventType:   EventConditionApplied,
		PatientID:   patientID,
		Actor:       actor,
		Tooth:       tooth,
		ConditionID: conditionID,
		Details:     detailsJSON,
	})
}

// LogSaved logs a persisted chart version.
func (s *AuditService) LogSaved(ctx context.Context, patientID, actor string, version int64, forced bool) error {
	detailsJSON, _ := json.Marshal(AuditDetails{Version: version, Forced: forced})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventChartSaved,
		PatientID: patientID,
		Actor:     actor,
		Details:   detailsJSON,
	})
}

// LogSaveConflict logs a rejected stale save.
func (s *AuditService) LogSaveConflict(ctx context.Context, patientID, actor string, baseVersion int64) error {
	detailsJSON, _ := json.Marshal(AuditDetails{Version: baseVersion})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventSaveConflict,
		PatientID: patientID,
		Actor:     actor,
		Details:   detailsJSON,
	})
}

// LogExported logs a chart export.
func (s *AuditService) LogExported(ctx context.Context, patientID, actor, format, filename, s3Key string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{Format: format, Filename: filename, S3Key: s3Key})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventChartExported,
		PatientID: patientID,
		Actor:     actor,
		Details:   detailsJSON,
	})
}

// LogLoadFailed logs a failed chart load that fell back to a blank chart.
func (s *AuditService) LogLoadFailed(ctx context.Context, patientID string, loadErr error) error {
	msg := ""
	if loadErr != nil {
		msg = loadErr.Error()
	}
	detailsJSON, _ := json.Marshal(AuditDetails{Error: msg})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventLoadFailed,
		PatientID: patientID,
		Details:   detailsJSON,
	})
}

// LogSchemeChanged logs a numbering scheme switch.
func (s *AuditService) LogSchemeChanged(ctx context.Context, patientID, actor, scheme string) error {
	detailsJSON, _ := json.Marshal(AuditDetails{Scheme: scheme})
	return s.LogEvent(ctx, AuditEvent{
		EventType: EventSchemeChanged,
		PatientID: patientID,
		Actor:     actor,
		Details:   detailsJSON,
	})
}

// QueryEvents retrieves audit events with filters.
func (s *AuditService) QueryEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT id, event_type, patient_id, actor, tooth, condition_id, details, created_at
		FROM chart_audit_events
		WHERE patient_id = $1
	`
	args := []interface{}{filter.PatientID}
	argIdx := 2

	if filter.EventType != "" {
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, string(filter.EventType))
		argIdx++
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argIdx)
		args = append(args, pq.Array(types))
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("compliance: failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var eventType string
		var actor, tooth, conditionID sql.NullString
		var details []byte
		err := rows.Scan(
			&e.ID, &eventType, &e.PatientID, &actor, &tooth,
			&conditionID, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("compliance: failed to scan audit event: %w", err)
		}
		e.EventType = AuditEventType(eventType)
		e.Actor = actor.String
		e.Tooth = tooth.String
		e.ConditionID = conditionID.String
		e.Details = json.RawMessage(details)
		events = append(events, e)
	}

	return events, rows.Err()
}

// AuditFilter specifies criteria for querying audit events.
type AuditFilter struct {
	PatientID  string
	EventType  AuditEventType
	EventTypes []AuditEventType
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
