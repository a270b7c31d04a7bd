package dentalchart

import "time"

// Dentition selects the tooth set a chart covers.
type Dentition string

const (
	DentitionPermanent Dentition = "permanent"
	DentitionPrimary   Dentition = "primary"
)

// NumberingScheme selects the ordered label sequence used to index teeth.
type NumberingScheme string

const (
	SchemeUniversal NumberingScheme = "universal"
	SchemeFDI       NumberingScheme = "fdi"
)

// SurfaceCode identifies one tooth surface a condition can target.
type SurfaceCode string

const (
	SurfaceOcclusal SurfaceCode = "O"
	SurfaceMesial   SurfaceCode = "M"
	SurfaceDistal   SurfaceCode = "D"
	SurfaceBuccal   SurfaceCode = "B"
	SurfaceLingual  SurfaceCode = "L"
)

// Surfaces is the fixed surface-code set in display order.
var Surfaces = []SurfaceCode{SurfaceOcclusal, SurfaceMesial, SurfaceDistal, SurfaceBuccal, SurfaceLingual}

var surfaceNames = map[SurfaceCode]string{
	SurfaceOcclusal: "occlusal",
	SurfaceMesial:   "mesial",
	SurfaceDistal:   "distal",
	SurfaceBuccal:   "buccal",
	SurfaceLingual:  "lingual",
}

// Valid reports whether s belongs to the fixed surface set.
func (s SurfaceCode) Valid() bool {
	_, ok := surfaceNames[s]
	return ok
}

// Name returns the anatomical name of the surface.
func (s SurfaceCode) Name() string {
	return surfaceNames[s]
}

// Document is the persisted chart for one patient.
type Document struct {
	PatientID       string                  `json:"patientId"`
	Dentition       Dentition               `json:"dentition"`
	NumberingScheme NumberingScheme         `json:"numberingScheme"`
	Teeth           map[string]*ToothRecord `json:"teeth"`
	UpdatedAt       time.Time               `json:"updatedAt"`
	// Version is the count of successful saves; zero means never stored.
	Version int64 `json:"version"`
}

// ToothRecord is one tooth's clinical state.
type ToothRecord struct {
	ToothID  string                             `json:"toothId"`
	Whole    string                             `json:"whole,omitempty"`
	Surfaces map[SurfaceCode]*SurfaceAnnotation `json:"surfaces"`
}

// SurfaceAnnotation records a condition on a single surface.
type SurfaceAnnotation struct {
	ConditionID string    `json:"conditionId"`
	Note        string    `json:"note,omitempty"`
	RecordedBy  string    `json:"recordedBy"`
	RecordedAt  time.Time `json:"recordedAt"`
}

// Edit is a single condition-apply request against one tooth.
type Edit struct {
	Tooth       string      `json:"tooth"`
	Surface     SurfaceCode `json:"surface,omitempty"`
	ConditionID string      `json:"conditionId"`
	Note        string      `json:"note,omitempty"`
	Clinician   string      `json:"clinician"`
}

// ToothView is one position of the projected chart layout.
type ToothView struct {
	Position  int          `json:"position"`
	Label     string       `json:"label"`
	Universal int          `json:"universal"`
	Arch      Arch         `json:"arch"`
	Record    *ToothRecord `json:"record"`
}

// Arch is the jaw a tooth sits in.
type Arch string

const (
	ArchUpper Arch = "upper"
	ArchLower Arch = "lower"
)

func newToothRecord(label string) *ToothRecord {
	return &ToothRecord{ToothID: label, Surfaces: map[SurfaceCode]*SurfaceAnnotation{}}
}

func (t *ToothRecord) empty() bool {
	if t == nil {
		return true
	}
	if t.Whole != "" {
		return false
	}
	for _, ann := range t.Surfaces {
		if ann != nil {
			return false
		}
	}
	return true
}

func (t *ToothRecord) clone() *ToothRecord {
	if t == nil {
		return nil
	}
	out := &ToothRecord{ToothID: t.ToothID, Whole: t.Whole, Surfaces: make(map[SurfaceCode]*SurfaceAnnotation, len(t.Surfaces))}
	for code, ann := range t.Surfaces {
		if ann == nil {
			continue
		}
		copied := *ann
		out.Surfaces[code] = &copied
	}
	return out
}
