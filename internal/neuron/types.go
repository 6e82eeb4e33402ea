package neuron

import (
	"fmt"
	"math"
	"slices"
)

// Address identifies one fetchable and storable neuron page.
type Address struct {
	Model  string
	Layer  uint32
	Neuron uint32
}

// String renders the address as model/layer/neuron for logs and errors.
func (a Address) String() string {
	return fmt.Sprintf("%s/%d/%d", a.Model, a.Layer, a.Neuron)
}

// Index points at a neuron within a model.
type Index struct {
	Layer  uint32 `json:"layer"`
	Neuron uint32 `json:"neuron"`
}

// Importance ties a target neuron to a score. Scores are unrestricted and
// may be infinite or NaN.
type Importance struct {
	Target Index
	Score  float32
}

// Page is the ascending-by-score list of importance entries for one neuron.
// The zero value is an empty page.
type Page struct {
	entries []Importance
}

// NewPage copies entries and sorts them ascending by score under a total
// order. Equal scores keep their input order and duplicate targets are kept.
func NewPage(entries []Importance) Page {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Importance) int {
		return CompareScores(a.Score, b.Score)
	})
	return Page{entries: sorted}
}

// Entries returns a copy of the sorted entries.
func (p Page) Entries() []Importance {
	return slices.Clone(p.entries)
}

// Len reports the number of entries.
func (p Page) Len() int {
	return len(p.entries)
}

// Equal reports whether both pages hold bit-identical entries in the same order.
func (p Page) Equal(other Page) bool {
	return slices.EqualFunc(p.entries, other.entries, func(a, b Importance) bool {
		return a.Target == b.Target && math.Float32bits(a.Score) == math.Float32bits(b.Score)
	})
}

// CompareScores orders float32 values by their IEEE 754 bit pattern:
// -NaN < -Inf < negative < -0 < +0 < positive < +Inf < +NaN.
func CompareScores(a, b float32) int {
	ka, kb := totalKey(a), totalKey(b)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	default:
		return 0
	}
}

func totalKey(f float32) uint32 {
	bits := math.Float32bits(f)
	if bits&(1<<31) != 0 {
		return ^bits
	}
	return bits | 1<<31
}
