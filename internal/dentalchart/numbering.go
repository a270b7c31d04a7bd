package dentalchart

import (
	"fmt"
	"strconv"
)

const permanentTeeth = 32

// universalLabels and fdiLabels are position-aligned: index i names the same tooth in both schemes,
// starting at the upper right third molar and running around to the lower right third molar.
var (
	universalLabels = buildUniversal()
	fdiLabels       = buildFDI()

	labelIndex = map[NumberingScheme]map[string]int{
		SchemeUniversal: indexOf(universalLabels),
		SchemeFDI:       indexOf(fdiLabels),
	}
)

func buildUniversal() []string {
	out := make([]string, 0, permanentTeeth)
	for n := 1; n <= permanentTeeth; n++ {
		out = append(out, strconv.Itoa(n))
	}
	return out
}

func buildFDI() []string {
	out := make([]string, 0, permanentTeeth)
	for n := 18; n >= 11; n-- {
		out = append(out, strconv.Itoa(n))
	}
	for n := 21; n <= 28; n++ {
		out = append(out, strconv.Itoa(n))
	}
	for n := 38; n >= 31; n-- {
		out = append(out, strconv.Itoa(n))
	}
	for n := 41; n <= 48; n++ {
		out = append(out, strconv.Itoa(n))
	}
	return out
}

func indexOf(labels []string) map[string]int {
	idx := make(map[string]int, len(labels))
	for i, l := range labels {
		idx[l] = i
	}
	return idx
}

// Valid reports whether the scheme is known.
func (s NumberingScheme) Valid() bool {
	_, ok := labelIndex[s]
	return ok
}

// ParseScheme normalizes a scheme name.
func ParseScheme(raw string) (NumberingScheme, error) {
	s := NumberingScheme(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, raw)
	}
	return s, nil
}

// Labels returns the ordered tooth labels for the scheme. The slice is a copy.
func Labels(scheme NumberingScheme) ([]string, error) {
	var src []string
	switch scheme {
	case SchemeUniversal:
		src = universalLabels
	case SchemeFDI:
		src = fdiLabels
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	out := make([]string, len(src))
	copy(out, src)
	return out, nil
}

// HasLabel reports whether label belongs to the scheme.
func HasLabel(scheme NumberingScheme, label string) bool {
	_, ok := labelIndex[scheme][label]
	return ok
}

// ToUniversal translates a label in scheme to its universal number.
func ToUniversal(scheme NumberingScheme, label string) (int, error) {
	idx, ok := labelIndex[scheme]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	pos, ok := idx[label]
	if !ok {
		return 0, fmt.Errorf("%w: %q in %s", ErrUnknownTooth, label, scheme)
	}
	return pos + 1, nil
}

// FromUniversal translates a universal number into the label used by scheme.
func FromUniversal(scheme NumberingScheme, universal int) (string, error) {
	if universal < 1 || universal > permanentTeeth {
		return "", fmt.Errorf("%w: universal %d", ErrUnknownTooth, universal)
	}
	labels, err := Labels(scheme)
	if err != nil {
		return "", err
	}
	return labels[universal-1], nil
}

func archOf(position int) Arch {
	if position < permanentTeeth/2 {
		return ArchUpper
	}
	return ArchLower
}
