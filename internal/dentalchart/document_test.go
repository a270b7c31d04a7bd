package dentalchart

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newChart(t *testing.T, scheme NumberingScheme) *Document {
	t.Helper()
	doc, err := NewDocument("p1", DentitionPermanent, scheme, t0)
	require.NoError(t, err)
	return doc
}

func TestNewDocumentHasOneEmptyRecordPerLabel(t *testing.T) {
	for _, scheme := range []NumberingScheme{SchemeUniversal, SchemeFDI} {
		t.Run(string(scheme), func(t *testing.T) {
			doc := newChart(t, scheme)
			labels, err := Labels(scheme)
			require.NoError(t, err)

			require.Len(t, doc.Teeth, len(labels))
			for _, label := range labels {
				rec, ok := doc.Teeth[label]
				require.True(t, ok, "missing tooth %s", label)
				assert.Equal(t, label, rec.ToothID)
				assert.Empty(t, rec.Whole)
				assert.NotNil(t, rec.Surfaces)
				assert.Empty(t, rec.Surfaces)
			}
			assert.False(t, doc.HasData())
			assert.Zero(t, doc.Version)
		})
	}
}

func TestNewDocumentValidation(t *testing.T) {
	_, err := NewDocument("  ", DentitionPermanent, SchemeUniversal, t0)
	assert.ErrorIs(t, err, ErrMissingPatientID)

	_, err = NewDocument("p1", DentitionPrimary, SchemeUniversal, t0)
	assert.ErrorIs(t, err, ErrUnsupportedDentition)

	_, err = NewDocument("p1", DentitionPermanent, "palmer", t0)
	assert.ErrorIs(t, err, ErrUnknownScheme)

	doc, err := NewDocument("p1", "", SchemeUniversal, t0)
	require.NoError(t, err)
	assert.Equal(t, DentitionPermanent, doc.Dentition)
}

func TestApplySurfaceConditionScenario(t *testing.T) {
	doc := newChart(t, SchemeUniversal)
	now := t0.Add(time.Minute)

	err := doc.Apply(DefaultCatalog(), Edit{
		Tooth:       "8",
		Surface:     SurfaceOcclusal,
		ConditionID: "caries",
		Note:        "sticky on explorer",
		Clinician:   "Dr. A",
	}, now)
	require.NoError(t, err)

	got := doc.Teeth["8"].Surfaces[SurfaceOcclusal]
	require.NotNil(t, got)
	assert.Equal(t, SurfaceAnnotation{
		ConditionID: "caries",
		Note:        "sticky on explorer",
		RecordedBy:  "Dr. A",
		RecordedAt:  now,
	}, *got)
	assert.Empty(t, doc.Teeth["8"].Whole)
	assert.Equal(t, now, doc.UpdatedAt)
}

func TestApplySurfaceLeavesOtherSurfaces(t *testing.T) {
	catalog := DefaultCatalog()
	doc := newChart(t, SchemeUniversal)
	require.NoError(t, doc.Apply(catalog, Edit{Tooth: "3", Surface: SurfaceMesial, ConditionID: "amalgam", Clinician: "Dr. A"}, t0.Add(time.Second)))
	before := *doc.Teeth["3"].Surfaces[SurfaceMesial]

	require.NoError(t, doc.Apply(catalog, Edit{Tooth: "3", Surface: SurfaceDistal, ConditionID: "caries", Clinician: "Dr. B"}, t0.Add(2*time.Second)))

	rec := doc.Teeth["3"]
	assert.Len(t, rec.Surfaces, 2)
	assert.Equal(t, before, *rec.Surfaces[SurfaceMesial])
	assert.Equal(t, "caries", rec.Surfaces[SurfaceDistal].ConditionID)
}

func TestApplyWholeConditionScenario(t *testing.T) {
	doc := newChart(t, SchemeUniversal)
	require.NoError(t, doc.Apply(DefaultCatalog(), Edit{Tooth: "14", ConditionID: "missing", Clinician: "Dr. A"}, t0.Add(time.Minute)))

	assert.Equal(t, "missing", doc.Teeth["14"].Whole)
	assert.Empty(t, doc.Teeth["14"].Surfaces)
}

func TestApplyWholeConditionKeepsSurfaces(t *testing.T) {
	catalog := DefaultCatalog()
	doc := newChart(t, SchemeUniversal)
	require.NoError(t, doc.Apply(catalog, Edit{Tooth: "19", Surface: SurfaceBuccal, ConditionID: "composite", Clinician: "Dr. A"}, t0.Add(time.Second)))
	surfaces := doc.Teeth["19"].clone().Surfaces

	// The surface field is ignored for whole-tooth conditions.
	require.NoError(t, doc.Apply(catalog, Edit{Tooth: "19", Surface: "X", ConditionID: "crown", Clinician: "Dr. A"}, t0.Add(2*time.Second)))

	assert.Equal(t, "crown", doc.Teeth["19"].Whole)
	assert.Equal(t, surfaces, doc.Teeth["19"].Surfaces)
}

func TestApplyTwiceOnlyChangesTimestamps(t *testing.T) {
	catalog := DefaultCatalog()
	doc := newChart(t, SchemeUniversal)
	edit := Edit{Tooth: "30", Surface: SurfaceLingual, ConditionID: "sealant", Note: "new", Clinician: "Dr. A"}

	require.NoError(t, doc.Apply(catalog, edit, t0.Add(time.Second)))
	first := *doc.Teeth["30"].Surfaces[SurfaceLingual]
	firstUpdated := doc.UpdatedAt

	require.NoError(t, doc.Apply(catalog, edit, t0.Add(2*time.Second)))
	second := *doc.Teeth["30"].Surfaces[SurfaceLingual]

	assert.True(t, doc.UpdatedAt.After(firstUpdated))
	assert.True(t, second.RecordedAt.After(first.RecordedAt))
	first.RecordedAt, second.RecordedAt = time.Time{}, time.Time{}
	assert.Equal(t, first, second)
}

func TestApplyUpdatedAtAdvancesWhenClockStalls(t *testing.T) {
	catalog := DefaultCatalog()
	doc := newChart(t, SchemeUniversal)
	stalled := t0.Add(time.Minute)

	var last time.Time
	for i := 0; i < 3; i++ {
		require.NoError(t, doc.Apply(catalog, Edit{Tooth: "1", ConditionID: "implant"}, stalled))
		assert.True(t, doc.UpdatedAt.After(last), "apply %d did not advance updatedAt", i)
		last = doc.UpdatedAt
	}

	// A clock that runs backwards still moves updatedAt forward.
	require.NoError(t, doc.Apply(catalog, Edit{Tooth: "1", ConditionID: "crown"}, t0))
	assert.True(t, doc.UpdatedAt.After(last))
}

func TestApplyDifferentConditionOverwrites(t *testing.T) {
	catalog := DefaultCatalog()
	doc := newChart(t, SchemeUniversal)
	require.NoError(t, doc.Apply(catalog, Edit{Tooth: "8", Surface: SurfaceOcclusal, ConditionID: "caries", Note: "sticky on explorer", Clinician: "Dr. A"}, t0.Add(time.Second)))
	require.NoError(t, doc.Apply(catalog, Edit{Tooth: "8", Surface: SurfaceOcclusal, ConditionID: "composite", Clinician: "Dr. B"}, t0.Add(2*time.Second)))

	got := doc.Teeth["8"].Surfaces[SurfaceOcclusal]
	assert.Equal(t, "composite", got.ConditionID)
	assert.Empty(t, got.Note)
	assert.Equal(t, "Dr. B", got.RecordedBy)
}

func TestApplyRejectsBadEditsWithoutMutation(t *testing.T) {
	catalog := DefaultCatalog()
	tests := []struct {
		name string
		edit Edit
		want error
	}{
		{"unknown condition", Edit{Tooth: "8", Surface: SurfaceOcclusal, ConditionID: "gold_leaf"}, ErrConditionNotFound},
		{"unknown tooth", Edit{Tooth: "33", Surface: SurfaceOcclusal, ConditionID: "caries"}, ErrUnknownTooth},
		{"fdi label under universal", Edit{Tooth: "18", ConditionID: "missing"}, nil},
		{"label from other scheme", Edit{Tooth: "48", ConditionID: "missing"}, ErrUnknownTooth},
		{"missing surface", Edit{Tooth: "8", ConditionID: "caries"}, ErrInvalidSurface},
		{"invalid surface", Edit{Tooth: "8", Surface: "Z", ConditionID: "caries"}, ErrInvalidSurface},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := newChart(t, SchemeUniversal)
			before := doc.Clone()
			err := doc.Apply(catalog, tt.edit, t0.Add(time.Minute))
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, before, doc)
		})
	}
}

func TestClearSurfaceAndWhole(t *testing.T) {
	catalog := DefaultCatalog()
	doc := newChart(t, SchemeUniversal)
	require.NoError(t, doc.Apply(catalog, Edit{Tooth: "2", Surface: SurfaceOcclusal, ConditionID: "caries"}, t0.Add(time.Second)))
	require.NoError(t, doc.Apply(catalog, Edit{Tooth: "2", ConditionID: "root_canal"}, t0.Add(2*time.Second)))

	require.NoError(t, doc.ClearSurface("2", SurfaceOcclusal, t0.Add(3*time.Second)))
	assert.Empty(t, doc.Teeth["2"].Surfaces)
	assert.Equal(t, "root_canal", doc.Teeth["2"].Whole)

	require.NoError(t, doc.ClearWhole("2", t0.Add(4*time.Second)))
	assert.False(t, doc.HasData())

	assert.ErrorIs(t, doc.ClearSurface("2", "Q", t0), ErrInvalidSurface)
	assert.ErrorIs(t, doc.ClearWhole("99", t0), ErrUnknownTooth)
}

func TestCloneIsDeep(t *testing.T) {
	catalog := DefaultCatalog()
	doc := newChart(t, SchemeUniversal)
	require.NoError(t, doc.Apply(catalog, Edit{Tooth: "8", Surface: SurfaceOcclusal, ConditionID: "caries", Note: "a"}, t0.Add(time.Second)))

	copied := doc.Clone()
	copied.Teeth["8"].Surfaces[SurfaceOcclusal].Note = "b"
	copied.Teeth["9"].Whole = "missing"

	assert.Equal(t, "a", doc.Teeth["8"].Surfaces[SurfaceOcclusal].Note)
	assert.Empty(t, doc.Teeth["9"].Whole)
}

func TestSwitchScheme(t *testing.T) {
	doc := newChart(t, SchemeUniversal)
	require.NoError(t, doc.SwitchScheme(SchemeFDI, t0.Add(time.Second)))
	assert.Equal(t, SchemeFDI, doc.NumberingScheme)
	assert.Contains(t, doc.Teeth, "18")
	assert.NotContains(t, doc.Teeth, "1")
	assert.Len(t, doc.Teeth, 32)

	require.NoError(t, doc.Apply(DefaultCatalog(), Edit{Tooth: "11", ConditionID: "crown"}, t0.Add(2*time.Second)))
	err := doc.SwitchScheme(SchemeUniversal, t0.Add(3*time.Second))
	assert.ErrorIs(t, err, ErrSchemeLocked)
	assert.Equal(t, SchemeFDI, doc.NumberingScheme)

	// Switching to the active scheme is always allowed.
	assert.NoError(t, doc.SwitchScheme(SchemeFDI, t0.Add(4*time.Second)))
	assert.ErrorIs(t, doc.SwitchScheme("palmer", t0), ErrUnknownScheme)
}

func TestProjectOrder(t *testing.T) {
	doc := newChart(t, SchemeFDI)
	views, err := doc.Project()
	require.NoError(t, err)
	require.Len(t, views, 32)

	assert.Equal(t, "18", views[0].Label)
	assert.Equal(t, 1, views[0].Universal)
	assert.Equal(t, ArchUpper, views[0].Arch)
	assert.Equal(t, "28", views[15].Label)
	assert.Equal(t, "38", views[16].Label)
	assert.Equal(t, ArchLower, views[16].Arch)
	assert.Equal(t, "48", views[31].Label)
	assert.Equal(t, 32, views[31].Universal)
}

func TestValidateAndNormalize(t *testing.T) {
	doc := &Document{
		PatientID:       "p1",
		Dentition:       DentitionPermanent,
		NumberingScheme: SchemeUniversal,
		Teeth: map[string]*ToothRecord{
			"8": {Whole: "missing"},
		},
	}
	require.NoError(t, doc.Validate())
	doc.Normalize()
	assert.Len(t, doc.Teeth, 32)
	assert.Equal(t, "8", doc.Teeth["8"].ToothID)
	assert.NotNil(t, doc.Teeth["8"].Surfaces)

	doc.Teeth["77"] = newToothRecord("77")
	assert.ErrorIs(t, doc.Validate(), ErrInvalidDocument)

	var nilDoc *Document
	assert.ErrorIs(t, nilDoc.Validate(), ErrInvalidDocument)
}

func TestNullSurfaceEntryIsNotChartData(t *testing.T) {
	doc := newChart(t, SchemeUniversal)
	doc.Teeth["3"].Surfaces[SurfaceOcclusal] = nil

	require.NoError(t, doc.Validate())
	assert.False(t, doc.HasData())
	require.NoError(t, doc.SwitchScheme(SchemeFDI, t0.Add(time.Second)))
	assert.Equal(t, SchemeFDI, doc.NumberingScheme)
}

func TestNormalizeDropsNullSurfacesFromDecodedChart(t *testing.T) {
	var doc Document
	raw := `{"patientId":"p1","dentition":"permanent","numberingScheme":"universal",
		"teeth":{"3":{"surfaces":{"O":null,"M":{"conditionId":"caries"}}}}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	doc.Normalize()
	require.NoError(t, doc.Validate())
	assert.NotContains(t, doc.Teeth["3"].Surfaces, SurfaceOcclusal)
	assert.Equal(t, "caries", doc.Teeth["3"].Surfaces[SurfaceMesial].ConditionID)
	assert.True(t, doc.HasData())
}

func TestNormalizeDefaultsDentition(t *testing.T) {
	doc := &Document{PatientID: "p1", NumberingScheme: SchemeFDI}
	assert.ErrorIs(t, doc.Validate(), ErrUnsupportedDentition)

	doc.Normalize()
	assert.Equal(t, DentitionPermanent, doc.Dentition)
	require.NoError(t, doc.Validate())
	assert.Len(t, doc.Teeth, 32)
}

func TestConcurrentSessionsForcedSaveIsLastWriterWins(t *testing.T) {
	ctx := context.Background()
	catalog := DefaultCatalog()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Save(ctx, newChart(t, SchemeUniversal), SaveOptions{}))

	sessionA, err := repo.Load(ctx, "p1")
	require.NoError(t, err)
	sessionB, err := repo.Load(ctx, "p1")
	require.NoError(t, err)

	require.NoError(t, sessionA.Apply(catalog, Edit{Tooth: "8", Surface: SurfaceOcclusal, ConditionID: "caries", Clinician: "Dr. A"}, t0.Add(time.Second)))
	require.NoError(t, sessionB.Apply(catalog, Edit{Tooth: "14", ConditionID: "missing", Clinician: "Dr. B"}, t0.Add(2*time.Second)))

	require.NoError(t, repo.Save(ctx, sessionA, SaveOptions{Force: true}))
	require.NoError(t, repo.Save(ctx, sessionB, SaveOptions{Force: true}))

	stored, err := repo.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, sessionB.Teeth, stored.Teeth)
	assert.Empty(t, stored.Teeth["8"].Surfaces, "first saver's edit should be lost")
	assert.Equal(t, "missing", stored.Teeth["14"].Whole)
}

func TestConcurrentSessionsStaleSaveIsRejected(t *testing.T) {
	ctx := context.Background()
	catalog := DefaultCatalog()
	repo := NewMemoryRepository()
	require.NoError(t, repo.Save(ctx, newChart(t, SchemeUniversal), SaveOptions{}))

	sessionA, _ := repo.Load(ctx, "p1")
	sessionB, _ := repo.Load(ctx, "p1")
	require.NoError(t, sessionA.Apply(catalog, Edit{Tooth: "8", Surface: SurfaceOcclusal, ConditionID: "caries"}, t0.Add(time.Second)))
	require.NoError(t, sessionB.Apply(catalog, Edit{Tooth: "14", ConditionID: "missing"}, t0.Add(2*time.Second)))

	require.NoError(t, repo.Save(ctx, sessionA, SaveOptions{}))
	err := repo.Save(ctx, sessionB, SaveOptions{})
	require.True(t, errors.Is(err, ErrVersionConflict), "got %v", err)
	assert.Equal(t, int64(1), sessionB.Version, "rejected save must not bump the caller's version")

	stored, _ := repo.Load(ctx, "p1")
	assert.Equal(t, "caries", stored.Teeth["8"].Surfaces[SurfaceOcclusal].ConditionID)
	assert.Empty(t, stored.Teeth["14"].Whole)
}
