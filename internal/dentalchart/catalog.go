package dentalchart

import (
	"fmt"
	"regexp"
	"strings"
)

// Scope says what part of a tooth a condition applies to.
type Scope string

const (
	ScopeSurface Scope = "surface"
	ScopeWhole   Scope = "whole"
)

// Condition is a catalog entry.
type Condition struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
	Scope Scope  `json:"scope"`
}

// Surface reports whether the condition targets a single surface rather than the whole tooth.
func (c Condition) Surface() bool {
	return c.Scope == ScopeSurface
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Catalog is the static condition lookup table. It is read-only after construction.
type Catalog struct {
	conditions []Condition
	byID       map[string]Condition
}

// NewCatalog validates and indexes the given conditions.
func NewCatalog(conditions ...Condition) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Condition, len(conditions))}
	for _, cond := range conditions {
		cond.ID = strings.TrimSpace(cond.ID)
		if cond.ID == "" {
			return nil, fmt.Errorf("dentalchart: catalog: condition id is required")
		}
		if _, dup := c.byID[cond.ID]; dup {
			return nil, fmt.Errorf("dentalchart: catalog: duplicate condition %q", cond.ID)
		}
		if !hexColor.MatchString(cond.Color) {
			return nil, fmt.Errorf("dentalchart: catalog: condition %q has invalid color %q", cond.ID, cond.Color)
		}
		if cond.Scope != ScopeSurface && cond.Scope != ScopeWhole {
			return nil, fmt.Errorf("dentalchart: catalog: condition %q has invalid scope %q", cond.ID, cond.Scope)
		}
		c.conditions = append(c.conditions, cond)
		c.byID[cond.ID] = cond
	}
	return c, nil
}

// DefaultCatalog returns the built-in condition set.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Condition{ID: "caries", Name: "Caries", Color: "#d32f2f", Scope: ScopeSurface},
		Condition{ID: "composite", Name: "Composite filling", Color: "#1976d2", Scope: ScopeSurface},
		Condition{ID: "amalgam", Name: "Amalgam filling", Color: "#616161", Scope: ScopeSurface},
		Condition{ID: "sealant", Name: "Sealant", Color: "#388e3c", Scope: ScopeSurface},
		Condition{ID: "fracture", Name: "Fracture", Color: "#f57c00", Scope: ScopeSurface},
		Condition{ID: "missing", Name: "Missing", Color: "#9e9e9e", Scope: ScopeWhole},
		Condition{ID: "crown", Name: "Crown", Color: "#fbc02d", Scope: ScopeWhole},
		Condition{ID: "implant", Name: "Implant", Color: "#7b1fa2", Scope: ScopeWhole},
		Condition{ID: "root_canal", Name: "Root canal", Color: "#5d4037", Scope: ScopeWhole},
		Condition{ID: "extraction", Name: "Extraction planned", Color: "#c2185b", Scope: ScopeWhole},
		Condition{ID: "bridge", Name: "Bridge", Color: "#0097a7", Scope: ScopeWhole},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the condition with the given id.
func (c *Catalog) Get(id string) (Condition, error) {
	cond, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Condition{}, fmt.Errorf("%w: %q", ErrConditionNotFound, id)
	}
	return cond, nil
}

// All returns the conditions in catalog order.
func (c *Catalog) All() []Condition {
	out := make([]Condition, len(c.conditions))
	copy(out, c.conditions)
	return out
}
