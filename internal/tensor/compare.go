package tensor

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
)

// DefaultTolerance is the relative tolerance EqualData applies to float types.
const DefaultTolerance = 1e-5

// EqualData reports whether a and b hold the same dtype, shape and values.
// Integer types compare exactly; float types compare within a relative
// tolerance scaled by magnitude (absolute near zero).
func EqualData(a, b *RawTensor, tol float64) bool {
	if a.DType() != b.DType() || !a.Shape().Equal(b.Shape()) {
		return false
	}
	av, bv := a.Float64s(), b.Float64s()
	if !a.DType().IsFloat() {
		return floats.Equal(av, bv)
	}
	if a.DType() == Float16 && tol < 1e-3 {
		tol = 1e-3
	}
	return floats.EqualFunc(av, bv, func(x, y float64) bool {
		return scalar.EqualWithinAbsOrRel(x, y, tol, tol)
	})
}
