/*
 *	Copyright 2024 The distla Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package lblas provides the purely local (single-process) dense kernels the
// distributed algorithms call between redistributions: matrix multiply,
// triangular multiply/solve and small unblocked factorizations, all column-major
// over matrix.Matrix buffers.
//
// For float64 and complex128 the kernels delegate to gonum's native BLAS
// implementation; the remaining element types use generic reference loops. The
// gonum implementation is row-major, so the delegating paths apply the usual
// storage-order identity: a column-major Gemm(ta, tb, m, n, k, A, B, C) is a
// row-major Gemm(tb, ta, n, m, k, B, A, C) on the same buffers, and triangular
// kernels flip side and uplo.
package lblas

import (
	"math/cmplx"

	"github.com/distla/distla/matrix"
	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	blasgonum "gonum.org/v1/gonum/blas/gonum"
)

var impl = blasgonum.Implementation{}

// Gemm computes C := alpha*op(A)*op(B) + beta*C, with op selected by the
// transpose arguments (NoTrans, Trans or ConjTrans).
func Gemm[T scalars.Scalar](tA, tB blas.Transpose, alpha T, a, b *matrix.Matrix[T], beta T, c *matrix.Matrix[T]) {
	m, n := c.Height(), c.Width()
	if opRows(a, tA) != m || opCols(b, tB) != n || opCols(a, tA) != opRows(b, tB) {
		exceptions.Panicf("lblas.Gemm: nonconforming operands %dx%d, %dx%d -> %dx%d with (%v,%v)",
			a.Height(), a.Width(), b.Height(), b.Width(), m, n, tA, tB)
	}
	if m == 0 || n == 0 {
		return
	}

	switch ad := any(a.LockedData()).(type) {
	case []float64:
		bd := any(b.LockedData()).([]float64)
		cd := any(c.Data()).([]float64)
		impl.Dgemm(tB, tA, n, m, opCols(a, tA),
			toFloat(alpha), bd, b.LDim(), ad, a.LDim(), toFloat(beta), cd, c.LDim())
		return
	case []complex128:
		bd := any(b.LockedData()).([]complex128)
		cd := any(c.Data()).([]complex128)
		impl.Zgemm(tB, tA, n, m, opCols(a, tA),
			toComplex(alpha), bd, b.LDim(), ad, a.LDim(), toComplex(beta), cd, c.LDim())
		return
	}

	kk := opCols(a, tA)
	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			var sum T
			for l := 0; l < kk; l++ {
				sum += opGet(a, tA, i, l) * opGet(b, tB, l, j)
			}
			c.Set(i, j, alpha*sum+beta*c.Get(i, j))
		}
	}
}

// Trmm computes B := alpha*op(A)*B (Left) or B := alpha*B*op(A) (Right) for a
// triangular A.
func Trmm[T scalars.Scalar](side blas.Side, uplo blas.Uplo, tA blas.Transpose, diag blas.Diag,
	alpha T, a, b *matrix.Matrix[T]) {
	m, n := b.Height(), b.Width()
	dim := m
	if side == blas.Right {
		dim = n
	}
	if a.Height() != dim || a.Width() != dim {
		exceptions.Panicf("lblas.Trmm: triangular operand is %dx%d, want %dx%d",
			a.Height(), a.Width(), dim, dim)
	}
	if m == 0 || n == 0 {
		return
	}

	switch ad := any(a.LockedData()).(type) {
	case []float64:
		bd := any(b.Data()).([]float64)
		impl.Dtrmm(flipSide(side), flipUplo(uplo), tA, diag, n, m,
			toFloat(alpha), ad, a.LDim(), bd, b.LDim())
		return
	case []complex128:
		bd := any(b.Data()).([]complex128)
		impl.Ztrmm(flipSide(side), flipUplo(uplo), tA, diag, n, m,
			toComplex(alpha), ad, a.LDim(), bd, b.LDim())
		return
	}

	// Reference path: multiply into a scratch copy to avoid reading overwritten
	// entries of B.
	scratch := matrix.New[T](m, n)
	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			scratch.Set(i, j, b.Get(i, j))
		}
	}
	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			var sum T
			if side == blas.Left {
				for l := 0; l < m; l++ {
					sum += triGet(a, uplo, tA, diag, i, l) * scratch.Get(l, j)
				}
			} else {
				for l := 0; l < n; l++ {
					sum += scratch.Get(i, l) * triGet(a, uplo, tA, diag, l, j)
				}
			}
			b.Set(i, j, alpha*sum)
		}
	}
}

// Trsm solves op(A)*X = alpha*B (Left) or X*op(A) = alpha*B (Right) for X,
// overwriting B, for a triangular A.
func Trsm[T scalars.Scalar](side blas.Side, uplo blas.Uplo, tA blas.Transpose, diag blas.Diag,
	alpha T, a, b *matrix.Matrix[T]) {
	m, n := b.Height(), b.Width()
	dim := m
	if side == blas.Right {
		dim = n
	}
	if a.Height() != dim || a.Width() != dim {
		exceptions.Panicf("lblas.Trsm: triangular operand is %dx%d, want %dx%d",
			a.Height(), a.Width(), dim, dim)
	}
	if m == 0 || n == 0 {
		return
	}

	switch ad := any(a.LockedData()).(type) {
	case []float64:
		bd := any(b.Data()).([]float64)
		impl.Dtrsm(flipSide(side), flipUplo(uplo), tA, diag, n, m,
			toFloat(alpha), ad, a.LDim(), bd, b.LDim())
		return
	case []complex128:
		bd := any(b.Data()).([]complex128)
		impl.Ztrsm(flipSide(side), flipUplo(uplo), tA, diag, n, m,
			toComplex(alpha), ad, a.LDim(), bd, b.LDim())
		return
	}

	for j := 0; j < n; j++ {
		for i := 0; i < m; i++ {
			b.Set(i, j, alpha*b.Get(i, j))
		}
	}
	if side == blas.Left {
		// Row i of X depends on rows before (lower, no-trans) or after it; pick the
		// substitution order from the effective triangle.
		forward := (uplo == blas.Lower) == (tA == blas.NoTrans)
		for j := 0; j < n; j++ {
			if forward {
				for i := 0; i < m; i++ {
					solveRow(a, b, uplo, tA, diag, i, j, 0, i)
				}
			} else {
				for i := m - 1; i >= 0; i-- {
					solveRow(a, b, uplo, tA, diag, i, j, i+1, m)
				}
			}
		}
	} else {
		forward := (uplo == blas.Upper) == (tA == blas.NoTrans)
		for i := 0; i < m; i++ {
			if forward {
				for j := 0; j < n; j++ {
					solveCol(a, b, uplo, tA, diag, i, j, 0, j)
				}
			} else {
				for j := n - 1; j >= 0; j-- {
					solveCol(a, b, uplo, tA, diag, i, j, j+1, n)
				}
			}
		}
	}
}

// Potrf computes the Cholesky factor of the symmetric/Hermitian positive
// definite matrix A in place: the Lower triangle becomes L with A = L*Lᴴ, or
// the Upper becomes U with A = Uᴴ*U. Unblocked; the distributed factorization
// only calls it on blocksize-sized diagonal blocks.
func Potrf[T scalars.Scalar](uplo blas.Uplo, a *matrix.Matrix[T]) error {
	n := a.Height()
	if a.Width() != n {
		exceptions.Panicf("lblas.Potrf: matrix is %dx%d, want square", a.Height(), a.Width())
	}
	if !isFloat[T]() && !scalars.IsComplex[T]() {
		return errors.New("lblas.Potrf: integer matrices have no Cholesky factorization")
	}
	for k := 0; k < n; k++ {
		// The diagonal of an HPD matrix is real positive; rounding may leave a tiny
		// imaginary part, which the square root of the real part discards.
		d := real(complex128FromT(a.Get(k, k)))
		if d <= 0 {
			return errors.Errorf("lblas.Potrf: leading minor %d is not positive definite", k+1)
		}
		root := scalars.FromComplex[T](cmplx.Sqrt(complex(d, 0)))
		a.Set(k, k, root)
		if uplo == blas.Lower {
			for i := k + 1; i < n; i++ {
				a.Set(i, k, a.Get(i, k)/root)
			}
			for j := k + 1; j < n; j++ {
				cj := scalars.Conj(a.Get(j, k))
				for i := j; i < n; i++ {
					a.Update(i, j, -a.Get(i, k)*cj)
				}
			}
		} else {
			for j := k + 1; j < n; j++ {
				a.Set(k, j, a.Get(k, j)/root)
			}
			for i := k + 1; i < n; i++ {
				ci := scalars.Conj(a.Get(k, i))
				for j := i; j < n; j++ {
					a.Update(i, j, -ci*a.Get(k, j))
				}
			}
		}
	}
	return nil
}

// Getrf computes an unpivoted LU factorization in place: the strictly lower
// triangle becomes the unit-diagonal L, the upper triangle U. Fails on a zero
// pivot; callers needing numerical robustness must pre-permute.
func Getrf[T scalars.Scalar](a *matrix.Matrix[T]) error {
	n := min(a.Height(), a.Width())
	for k := 0; k < n; k++ {
		pivot := a.Get(k, k)
		if pivot == 0 {
			return errors.Errorf("lblas.Getrf: zero pivot at position %d", k)
		}
		for i := k + 1; i < a.Height(); i++ {
			a.Set(i, k, a.Get(i, k)/pivot)
		}
		for j := k + 1; j < a.Width(); j++ {
			akj := a.Get(k, j)
			for i := k + 1; i < a.Height(); i++ {
				a.Update(i, j, -a.Get(i, k)*akj)
			}
		}
	}
	return nil
}

func solveRow[T scalars.Scalar](a, b *matrix.Matrix[T], uplo blas.Uplo, tA blas.Transpose, diag blas.Diag,
	i, j, lo, hi int) {
	sum := b.Get(i, j)
	for l := lo; l < hi; l++ {
		sum -= triGet(a, uplo, tA, diag, i, l) * b.Get(l, j)
	}
	if diag == blas.NonUnit {
		sum /= triGet(a, uplo, tA, blas.NonUnit, i, i)
	}
	b.Set(i, j, sum)
}

func solveCol[T scalars.Scalar](a, b *matrix.Matrix[T], uplo blas.Uplo, tA blas.Transpose, diag blas.Diag,
	i, j, lo, hi int) {
	sum := b.Get(i, j)
	for l := lo; l < hi; l++ {
		sum -= b.Get(i, l) * triGet(a, uplo, tA, diag, l, j)
	}
	if diag == blas.NonUnit {
		sum /= triGet(a, uplo, tA, blas.NonUnit, j, j)
	}
	b.Set(i, j, sum)
}

// triGet reads entry (i, j) of op(A) for a triangular A stored in the given
// triangle, honoring an implicit unit diagonal. The transpose is absorbed into
// the storage coordinates (si, sj), which the zero-region test then checks
// against the stored triangle directly.
func triGet[T scalars.Scalar](a *matrix.Matrix[T], uplo blas.Uplo, tA blas.Transpose, diag blas.Diag, i, j int) T {
	si, sj := i, j
	if tA != blas.NoTrans {
		si, sj = j, i
	}
	if si == sj && diag == blas.Unit {
		return scalars.FromFloat[T](1)
	}
	if (uplo == blas.Lower && si < sj) || (uplo == blas.Upper && si > sj) {
		var zero T
		return zero
	}
	v := a.Get(si, sj)
	if tA == blas.ConjTrans {
		v = scalars.Conj(v)
	}
	return v
}

func opGet[T scalars.Scalar](a *matrix.Matrix[T], tA blas.Transpose, i, j int) T {
	switch tA {
	case blas.NoTrans:
		return a.Get(i, j)
	case blas.Trans:
		return a.Get(j, i)
	default:
		return scalars.Conj(a.Get(j, i))
	}
}

func opRows[T scalars.Scalar](a *matrix.Matrix[T], tA blas.Transpose) int {
	if tA == blas.NoTrans {
		return a.Height()
	}
	return a.Width()
}

func opCols[T scalars.Scalar](a *matrix.Matrix[T], tA blas.Transpose) int {
	if tA == blas.NoTrans {
		return a.Width()
	}
	return a.Height()
}

func flipSide(side blas.Side) blas.Side {
	if side == blas.Left {
		return blas.Right
	}
	return blas.Left
}

func flipUplo(uplo blas.Uplo) blas.Uplo {
	if uplo == blas.Lower {
		return blas.Upper
	}
	return blas.Lower
}

func isFloat[T scalars.Scalar]() bool {
	var zero T
	switch any(zero).(type) {
	case float32, float64:
		return true
	}
	return false
}

func toFloat[T scalars.Scalar](v T) float64 {
	switch x := any(v).(type) {
	case float64:
		return x
	}
	return 0
}

func toComplex[T scalars.Scalar](v T) complex128 {
	switch x := any(v).(type) {
	case complex128:
		return x
	}
	return 0
}

func complex128FromT[T scalars.Scalar](v T) complex128 {
	switch x := any(v).(type) {
	case float32:
		return complex(float64(x), 0)
	case float64:
		return complex(x, 0)
	case complex64:
		return complex128(x)
	case complex128:
		return x
	case int32:
		return complex(float64(x), 0)
	}
	return 0
}
