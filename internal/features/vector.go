package features

import "time"

// Vector is an ordered sequence of named numeric values computed for one
// entity at one point in time. Immutable after creation; the cache owns
// stored vectors and hands out the same pointer to all readers.
type Vector struct {
	Entity        string    `json:"entity"`
	SchemaVersion string    `json:"schema_version"`
	Names         []string  `json:"names"`
	Values        []float64 `json:"values"`
	ComputedAt    time.Time `json:"computed_at"`
}

// Get returns the value for a named feature.
func (v *Vector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Len returns the number of features in the vector.
func (v *Vector) Len() int {
	return len(v.Values)
}
