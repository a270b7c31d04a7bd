package dentalchart

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Repository loads and stores whole chart documents keyed by patient id.
type Repository interface {
	// Load returns ErrChartNotFound when nothing is stored for the patient.
	Load(ctx context.Context, patientID string) (*Document, error)
	// Save overwrites the stored document. Unless opts.Force is set, the stored version must equal
	// doc.Version or ErrVersionConflict is returned. On success doc.Version is incremented.
	Save(ctx context.Context, doc *Document, opts SaveOptions) error
}

// SaveOptions tunes a save.
type SaveOptions struct {
	// Force skips the version check, giving last-writer-wins at document granularity.
	Force bool
}

// MemoryRepository keeps documents in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{docs: make(map[string][]byte)}
}

// Load decodes a fresh copy so callers never share state with the store.
func (r *MemoryRepository) Load(ctx context.Context, patientID string) (*Document, error) {
	r.mu.RLock()
	data, ok := r.docs[patientID]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrChartNotFound
	}
	return decodeDocument(data)
}

// Save stores the document under its patient id.
func (r *MemoryRepository) Save(ctx context.Context, doc *Document, opts SaveOptions) error {
	if err := checkSavable(doc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var stored int64
	if data, ok := r.docs[doc.PatientID]; ok {
		current, err := decodeDocument(data)
		if err != nil {
			return err
		}
		stored = current.Version
	}
	if !opts.Force && stored != doc.Version {
		return fmt.Errorf("%w: stored version %d, base version %d", ErrVersionConflict, stored, doc.Version)
	}

	next := doc.Clone()
	next.Version = stored + 1
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("dentalchart: marshal document: %w", err)
	}
	r.docs[doc.PatientID] = data
	doc.Version = next.Version
	return nil
}

func checkSavable(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.PatientID) == "" {
		return ErrMissingPatientID
	}
	return nil
}

func decodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("dentalchart: unmarshal document: %w", err)
	}
	doc.Normalize()
	return &doc, nil
}
