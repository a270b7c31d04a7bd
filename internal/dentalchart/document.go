package dentalchart

import (
	"fmt"
	"strings"
	"time"
)

// minTick is the step applied when the clock has not advanced past the last update.
const minTick = time.Microsecond

// NewDocument builds an empty chart with one record per label of the scheme.
func NewDocument(patientID string, dentition Dentition, scheme NumberingScheme, now time.Time) (*Document, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, ErrMissingPatientID
	}
	if dentition == "" {
		dentition = DentitionPermanent
	}
	if dentition != DentitionPermanent {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDentition, dentition)
	}
	labels, err := Labels(scheme)
	if err != nil {
		return nil, err
	}
	doc := &Document{
		PatientID:       patientID,
		Dentition:       dentition,
		NumberingScheme: scheme,
		Teeth:           make(map[string]*ToothRecord, len(labels)),
		UpdatedAt:       now.UTC(),
	}
	for _, label := range labels {
		doc.Teeth[label] = newToothRecord(label)
	}
	return doc, nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Teeth = make(map[string]*ToothRecord, len(d.Teeth))
	for label, rec := range d.Teeth {
		out.Teeth[label] = rec.clone()
	}
	return &out
}

// HasData reports whether any tooth carries a whole-tooth condition or a surface annotation.
func (d *Document) HasData() bool {
	for _, rec := range d.Teeth {
		if !rec.empty() {
			return true
		}
	}
	return false
}

// Tooth returns the record for label, creating it lazily for labels of the active scheme.
func (d *Document) Tooth(label string) (*ToothRecord, error) {
	if !HasLabel(d.NumberingScheme, label) {
		return nil, fmt.Errorf("%w: %q in %s", ErrUnknownTooth, label, d.NumberingScheme)
	}
	if d.Teeth == nil {
		d.Teeth = make(map[string]*ToothRecord)
	}
	rec, ok := d.Teeth[label]
	if !ok || rec == nil {
		rec = newToothRecord(label)
		d.Teeth[label] = rec
	}
	if rec.Surfaces == nil {
		rec.Surfaces = map[SurfaceCode]*SurfaceAnnotation{}
	}
	return rec, nil
}

// Apply records a condition on the document in place. Validation happens before any mutation, so a
// failed apply leaves the document untouched.
//
// Surface-scope conditions replace the annotation on edit.Surface. Whole-scope conditions set the
// tooth's whole condition and leave existing surface annotations in place.
func (d *Document) Apply(catalog *Catalog, edit Edit, now time.Time) error {
	cond, err := catalog.Get(edit.ConditionID)
	if err != nil {
		return err
	}
	label := strings.TrimSpace(edit.Tooth)
	if !HasLabel(d.NumberingScheme, label) {
		return fmt.Errorf("%w: %q in %s", ErrUnknownTooth, edit.Tooth, d.NumberingScheme)
	}
	if cond.Surface() && !edit.Surface.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSurface, edit.Surface)
	}

	rec, err := d.Tooth(label)
	if err != nil {
		return err
	}
	stamp := d.touch(now)
	if cond.Surface() {
		rec.Surfaces[edit.Surface] = &SurfaceAnnotation{
			ConditionID: cond.ID,
			Note:        edit.Note,
			RecordedBy:  edit.Clinician,
			RecordedAt:  stamp,
		}
		return nil
	}
	rec.Whole = cond.ID
	return nil
}

// ClearSurface removes the annotation on one surface of a tooth.
func (d *Document) ClearSurface(label string, surface SurfaceCode, now time.Time) error {
	if !surface.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSurface, surface)
	}
	rec, err := d.Tooth(strings.TrimSpace(label))
	if err != nil {
		return err
	}
	delete(rec.Surfaces, surface)
	d.touch(now)
	return nil
}

// ClearWhole removes the whole-tooth condition of a tooth.
func (d *Document) ClearWhole(label string, now time.Time) error {
	rec, err := d.Tooth(strings.TrimSpace(label))
	if err != nil {
		return err
	}
	rec.Whole = ""
	d.touch(now)
	return nil
}

// SwitchScheme relabels an empty chart under another numbering scheme. Charts holding any data keep
// their scheme: entries are keyed by display label and would become unreachable under new labels.
func (d *Document) SwitchScheme(target NumberingScheme, now time.Time) error {
	labels, err := Labels(target)
	if err != nil {
		return err
	}
	if target == d.NumberingScheme {
		return nil
	}
	if d.HasData() {
		return ErrSchemeLocked
	}
	d.NumberingScheme = target
	d.Teeth = make(map[string]*ToothRecord, len(labels))
	for _, label := range labels {
		d.Teeth[label] = newToothRecord(label)
	}
	d.touch(now)
	return nil
}

// Project returns the chart in display order for the active scheme.
func (d *Document) Project() ([]ToothView, error) {
	labels, err := Labels(d.NumberingScheme)
	if err != nil {
		return nil, err
	}
	views := make([]ToothView, 0, len(labels))
	for i, label := range labels {
		rec := d.Teeth[label]
		if rec == nil {
			rec = newToothRecord(label)
		}
		views = append(views, ToothView{
			Position:  i,
			Label:     label,
			Universal: i + 1,
			Arch:      archOf(i),
			Record:    rec,
		})
	}
	return views, nil
}

// Validate checks the structural invariants of a decoded document.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: nil document", ErrInvalidDocument)
	}
	if strings.TrimSpace(d.PatientID) == "" {
		return ErrMissingPatientID
	}
	if d.Dentition != DentitionPermanent {
		return fmt.Errorf("%w: %q", ErrUnsupportedDentition, d.Dentition)
	}
	if !d.NumberingScheme.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownScheme, d.NumberingScheme)
	}
	for label, rec := range d.Teeth {
		if !HasLabel(d.NumberingScheme, label) {
			return fmt.Errorf("%w: tooth %q not in %s", ErrInvalidDocument, label, d.NumberingScheme)
		}
		if rec == nil {
			continue
		}
		if rec.ToothID != "" && rec.ToothID != label {
			return fmt.Errorf("%w: tooth %q recorded as %q", ErrInvalidDocument, label, rec.ToothID)
		}
		for code := range rec.Surfaces {
			if !code.Valid() {
				return fmt.Errorf("%w: tooth %q has surface %q", ErrInvalidDocument, label, code)
			}
		}
	}
	return nil
}

// Normalize fills gaps left by partial documents: a missing dentition, missing records for
// scheme labels, missing tooth ids and nil surface maps. Null surface entries are dropped.
func (d *Document) Normalize() {
	if d.Dentition == "" {
		d.Dentition = DentitionPermanent
	}
	labels, err := Labels(d.NumberingScheme)
	if err != nil {
		return
	}
	if d.Teeth == nil {
		d.Teeth = make(map[string]*ToothRecord, len(labels))
	}
	for _, label := range labels {
		rec := d.Teeth[label]
		if rec == nil {
			d.Teeth[label] = newToothRecord(label)
			continue
		}
		rec.ToothID = label
		if rec.Surfaces == nil {
			rec.Surfaces = map[SurfaceCode]*SurfaceAnnotation{}
		}
		for code, ann := range rec.Surfaces {
			if ann == nil {
				delete(rec.Surfaces, code)
			}
		}
	}
}

// touch advances UpdatedAt to now, or one tick past the previous value when the clock lags.
func (d *Document) touch(now time.Time) time.Time {
	now = now.UTC()
	if !d.UpdatedAt.IsZero() && !now.After(d.UpdatedAt) {
		now = d.UpdatedAt.Add(minTick)
	}
	d.UpdatedAt = now
	return now
}
