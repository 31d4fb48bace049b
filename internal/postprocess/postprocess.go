// Package postprocess derives secondary quantities from corrected
// intensity tables. The correction engine itself never clips; the
// replace-negatives step here is the single place where negative
// corrected intensities are zeroed, into a value of its own so the
// raw correction output stays available.
package postprocess

// Value is one corrected intensity with the keys the derived
// quantities group by.
type Value struct {
	Name   string // metabolite
	Label  string
	Sample string
	Value  float64
}

// PoolKey identifies one metabolite pool in one sample.
type PoolKey struct {
	Name   string
	Sample string
}

// ReplaceNegatives returns a copy of vals with negative values
// replaced by zero.
func ReplaceNegatives(vals []float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		if v > 0 {
			out[i] = v
		}
	}
	return out
}

// ClipValues applies ReplaceNegatives to the Value field of each
// entry.
func ClipValues(vals []Value) []Value {
	out := make([]Value, len(vals))
	for i, v := range vals {
		if v.Value < 0 {
			v.Value = 0
		}
		out[i] = v
	}
	return out
}

// PoolTotal sums the intensities over all labels of each metabolite
// per sample.
func PoolTotal(vals []Value) map[PoolKey]float64 {
	out := make(map[PoolKey]float64)
	for _, v := range vals {
		out[PoolKey{v.Name, v.Sample}] += v.Value
	}
	return out
}

// FractionalEnrichment divides every intensity by its metabolite's
// pool total in the same sample. An empty pool yields 0 for all its
// labels.
func FractionalEnrichment(vals []Value) []Value {
	pools := PoolTotal(vals)
	out := make([]Value, len(vals))
	for i, v := range vals {
		if total := pools[PoolKey{v.Name, v.Sample}]; total != 0 {
			v.Value /= total
		} else {
			v.Value = 0
		}
		out[i] = v
	}
	return out
}
