package dentalchart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores each chart as one JSONB row in dental_charts. The version column is
// authoritative; the version inside the JSON payload is ignored on load.
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository initializes a repo backed by a pgx pool or connection.
func NewPostgresRepository(db DB) *PostgresRepository {
	if db == nil {
		panic("dentalchart: pgx db required")
	}
	return &PostgresRepository{db: db}
}

// Load fetches the stored document for a patient.
func (r *PostgresRepository) Load(ctx context.Context, patientID string) (*Document, error) {
	var (
		payload []byte
		version int64
	)
	err := r.db.QueryRow(ctx, `
		SELECT document, version
		FROM dental_charts
		WHERE patient_id = $1
	`, patientID).Scan(&payload, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChartNotFound
		}
		return nil, fmt.Errorf("dentalchart: select chart: %w", err)
	}
	doc, err := decodeDocument(payload)
	if err != nil {
		return nil, err
	}
	doc.Version = version
	return doc, nil
}

// Save writes the whole document.
func (r *PostgresRepository) Save(ctx context.Context, doc *Document, opts SaveOptions) error {
	if err := checkSavable(doc); err != nil {
		return err
	}
	if opts.Force {
		return r.overwrite(ctx, doc)
	}

	next := doc.Version + 1
	payload, err := marshalVersion(doc, next)
	if err != nil {
		return err
	}

	var tag pgconn.CommandTag
	if doc.Version == 0 {
		tag, err = r.db.Exec(ctx, `
			INSERT INTO dental_charts (patient_id, document, version, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (patient_id) DO NOTHING
		`, doc.PatientID, payload, next, doc.UpdatedAt)
	} else {
		tag, err = r.db.Exec(ctx, `
			UPDATE dental_charts
			SET document = $2, version = $3, updated_at = $4
			WHERE patient_id = $1 AND version = $5
		`, doc.PatientID, payload, next, doc.UpdatedAt, doc.Version)
	}
	if err != nil {
		return fmt.Errorf("dentalchart: save chart: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: base version %d", ErrVersionConflict, doc.Version)
	}
	doc.Version = next
	return nil
}

func (r *PostgresRepository) overwrite(ctx context.Context, doc *Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("dentalchart: marshal document: %w", err)
	}
	var version int64
	err = r.db.QueryRow(ctx, `
		INSERT INTO dental_charts (patient_id, document, version, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (patient_id) DO UPDATE
		SET document = EXCLUDED.document,
			version = dental_charts.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING version
	`, doc.PatientID, payload, doc.UpdatedAt).Scan(&version)
	if err != nil {
		return fmt.Errorf("dentalchart: overwrite chart: %w", err)
	}
	doc.Version = version
	return nil
}

func marshalVersion(doc *Document, version int64) ([]byte, error) {
	next := *doc
	next.Version = version
	data, err := json.Marshal(&next)
	if err != nil {
		return nil, fmt.Errorf("dentalchart: marshal document: %w", err)
	}
	return data, nil
}
