package dentalchart

import "errors"

var (
	// ErrChartNotFound is returned by repositories when no document is stored for a patient.
	ErrChartNotFound = errors.New("dentalchart: chart not found")

	// ErrConditionNotFound is returned when an edit references a condition id missing from the catalog.
	ErrConditionNotFound = errors.New("dentalchart: condition not found")

	// ErrUnknownTooth is returned when a tooth label is not part of the active numbering scheme.
	ErrUnknownTooth = errors.New("dentalchart: tooth label not in numbering scheme")

	// ErrInvalidSurface is returned when a surface-scope edit names no surface or an unknown one.
	ErrInvalidSurface = errors.New("dentalchart: invalid surface code")

	// ErrUnknownScheme is returned for numbering schemes other than universal and fdi.
	ErrUnknownScheme = errors.New("dentalchart: unknown numbering scheme")

	// ErrUnsupportedDentition is returned for dentitions without a label table.
	ErrUnsupportedDentition = errors.New("dentalchart: unsupported dentition")

	// ErrSchemeLocked is returned when switching the numbering scheme of a chart that already holds data.
	ErrSchemeLocked = errors.New("dentalchart: numbering scheme cannot change once the chart has entries")

	// ErrVersionConflict is returned when a save is based on a stale version of the document.
	ErrVersionConflict = errors.New("dentalchart: chart was modified by another session")

	// ErrSaveContended is returned when a forced save keeps losing the race with concurrent writers.
	ErrSaveContended = errors.New("dentalchart: chart is being written concurrently, retry the save")

	// ErrMissingPatientID is returned when a patient id is blank.
	ErrMissingPatientID = errors.New("dentalchart: patient id is required")

	// ErrInvalidDocument is returned when a decoded document violates the chart invariants.
	ErrInvalidDocument = errors.New("dentalchart: invalid chart document")
)
