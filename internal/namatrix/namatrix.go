// Package namatrix builds and inverts the natural-abundance mixing
// matrix for one tracer element of one metabolite. The matrix M maps
// a true label-count distribution x to the observed isotopologue
// distribution y = Mx; correction solves the inverse problem through
// the Moore-Penrose pseudo-inverse. Elements that are not resolvable
// from the tracer at the instrument's resolution are folded into M
// before inversion.
package namatrix

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/combin"
)

// ErrNoConvergence is returned when the singular value decomposition
// of a correction matrix fails.
var ErrNoConvergence = errors.New("svd of correction matrix did not converge")

// LabelIndex numbers the nominal mass-shift bins of a correction
// matrix. Row r of M holds the intensity expected at shift r; column
// c holds the spread produced when exactly c tracer atoms are truly
// labeled. Using a named type keeps bin arithmetic distinct from
// ordinary loop indices when matrices are folded and reindexed.
type LabelIndex int

// Build returns the correction matrix for atomCount atoms of the
// tracer element with per-atom isotope vector vec (index = mass
// shift, vec[0] = lightest). Column c starts as a unit impulse at bin
// c and is convolved once per unlabeled atom. The matrix has
// atomCount+1 columns and 1+atomCount*(len(vec)-1) rows, so the full
// spread always fits and every column sums to one for a normalized
// vec. Vectors of length 2 and 3 use the binomial and trinomial
// closed forms instead of iterated convolution.
func Build(atomCount int, vec []float64) *mat.Dense {
	rows := 1 + atomCount*(len(vec)-1)
	m := mat.NewDense(rows, atomCount+1, nil)
	col := make([]float64, rows)
	for c := 0; c <= atomCount; c++ {
		for r := range col {
			col[r] = 0
		}
		n := atomCount - c // unlabeled atoms
		switch len(vec) {
		case 2:
			for i := 0; i <= n; i++ {
				col[c+i] = combin.GeneralizedBinomial(float64(n), float64(i)) *
					math.Pow(vec[0], float64(n-i)) * math.Pow(vec[1], float64(i))
			}
		case 3:
			for i := 0; i <= n; i++ {
				for j := 0; j <= n-i; j++ {
					col[c+i+2*j] += naTerm(vec, n, i, j)
				}
			}
		default:
			if c < rows {
				col[c] = 1
			}
			for nb := 0; nb < n; nb++ {
				foldInto(col, vec)
			}
		}
		m.SetCol(c, col)
	}
	return m
}

// naTerm is one term of the trinomial expansion for n atoms with
// probabilities vec = [p0, p1, p2]: i atoms shifted +1 and j atoms
// shifted +2, the rest unshifted.
func naTerm(vec []float64, n, i, j int) float64 {
	return combin.GeneralizedBinomial(float64(n), float64(i)) *
		combin.GeneralizedBinomial(float64(n-i), float64(j)) *
		math.Pow(vec[0], float64(n-i-j)) *
		math.Pow(vec[1], float64(i)) *
		math.Pow(vec[2], float64(j))
}

// foldInto convolves col with vec in place, truncating past the end
// of col. Bins are walked from high to low so the update can run in
// place: the new value at bin k depends only on old values at or
// below k.
func foldInto(col, vec []float64) {
	for k := len(col) - 1; k >= 0; k-- {
		s := 0.0
		for d := 0; d < len(vec) && d <= k; d++ {
			s += col[k-d] * vec[d]
		}
		col[k] = s
	}
}

// AddElement folds the natural-abundance spread of another element
// with atomCount atoms and isotope vector vec into every column of
// m. The row count grows by atomCount*(len(vec)-1) so no probability
// mass is lost; column count is preserved.
func AddElement(m *mat.Dense, atomCount int, vec []float64) *mat.Dense {
	rows, cols := m.Dims()
	grown := rows + atomCount*(len(vec)-1)
	out := mat.NewDense(grown, cols, nil)
	col := make([]float64, grown)
	for c := 0; c < cols; c++ {
		for r := 0; r < grown; r++ {
			if r < rows {
				col[r] = m.At(r, c)
			} else {
				col[r] = 0
			}
		}
		for nb := 0; nb < atomCount; nb++ {
			foldInto(col, vec)
		}
		out.SetCol(c, col)
	}
	return out
}

// ElementOperator returns the square bins-by-bins folding operator
// for one unresolvable element under a detected correction limit.
// Column c is a unit impulse at bin c convolved once per atom,
// truncated at bins rows; cells below bin c+min(bins, corrLimit,
// atomCount) are then zeroed. Spread beyond the window is assumed
// fully resolved by the instrument and contributes nothing, which
// discards a small amount of probability mass on purpose. The
// operator is composed with the base matrix by ComposeFold.
func ElementOperator(bins, atomCount int, vec []float64, corrLimit int) *mat.Dense {
	op := mat.NewDense(bins, bins, nil)
	window := min(bins, corrLimit, atomCount)
	col := make([]float64, bins)
	for c := 0; c < bins; c++ {
		for r := range col {
			col[r] = 0
		}
		col[c] = 1
		for nb := 0; nb < atomCount; nb++ {
			foldInto(col, vec)
		}
		for r := c + window + 1; r < bins; r++ {
			col[r] = 0
		}
		op.SetCol(c, col)
	}
	return op
}

// ComposeFold applies the folding operators to m in order, skipping
// operators that are entirely zero. A zero operator arises when an
// element's spread falls completely outside its window; folding it
// would zero the whole matrix, so it is treated as a no-op instead.
func ComposeFold(m *mat.Dense, ops []*mat.Dense) *mat.Dense {
	out := mat.DenseCopyOf(m)
	for _, op := range ops {
		if mat.Norm(op, 1) == 0 {
			continue
		}
		var next mat.Dense
		next.Mul(op, out)
		out = &next
	}
	return out
}

// Pinv returns the Moore-Penrose pseudo-inverse of m. Singular
// values below 1e-15 times the largest are treated as zero. An
// all-zero m, produced by degenerate formula and tracer
// combinations, yields an all-zero pseudo-inverse so that corrected
// intensities come out zero instead of failing.
func Pinv(m *mat.Dense) (*mat.Dense, error) {
	rows, cols := m.Dims()
	if mat.Norm(m, 1) == 0 {
		return mat.NewDense(cols, rows, nil), nil
	}
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDThin) {
		return nil, ErrNoConvergence
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)
	tol := 1e-15 * s[0]
	recip := make([]float64, len(s))
	for i, sv := range s {
		if sv > tol {
			recip[i] = 1 / sv
		}
	}
	var tmp, out mat.Dense
	tmp.Mul(&v, mat.NewDiagDense(len(recip), recip))
	out.Mul(&tmp, u.T())
	return &out, nil
}

// Apply multiplies a pseudo-inverse by the observed intensities and
// returns the corrected label-count distribution. The observed map
// is keyed by mass-shift bin; bins missing from the map or outside
// the matrix's range contribute zero.
func Apply(pinv *mat.Dense, observed map[LabelIndex]float64) []float64 {
	labels, bins := pinv.Dims()
	y := mat.NewVecDense(bins, nil)
	for bin, v := range observed {
		if bin >= 0 && int(bin) < bins {
			y.SetVec(int(bin), v)
		}
	}
	var x mat.VecDense
	x.MulVec(pinv, y)
	out := make([]float64, labels)
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out
}
