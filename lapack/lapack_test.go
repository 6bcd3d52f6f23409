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

package lapack

import (
	"math/rand"
	"testing"

	"github.com/distla/distla/comm"
	"github.com/distla/distla/dblas"
	"github.com/distla/distla/dist"
	"github.com/distla/distla/grid"
	"github.com/distla/distla/types/scalars"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/blas"
)

func runGrid(t *testing.T, height, width int, body func(g *grid.Grid)) {
	t.Helper()
	require.NoError(t, comm.Run(height*width, func(c comm.Comm) {
		body(grid.NewShaped(c, height, width))
	}))
}

// minMatrix fills a with the symmetric positive definite "min" matrix,
// A(i,j) = min(i,j)+1; its Cholesky factor is the all-ones lower triangle.
func minMatrix[T scalars.Scalar](a *dist.DistMatrix[T]) {
	for j := 0; j < a.Width(); j++ {
		for i := 0; i < a.Height(); i++ {
			a.Set(i, j, scalars.FromFloat[T](float64(min(i, j)+1)))
		}
	}
}

func testCholeskyMinMatrix[T scalars.Scalar](t *testing.T, tol float64) {
	runGrid(t, 2, 3, func(g *grid.Grid) {
		n := 9
		a := dist.NewShaped[T](g, dist.MCMR, n, n)
		minMatrix(a)
		l := dist.New[T](g, dist.MCMR)
		l.CopyFrom(a)
		require.NoError(t, Cholesky(blas.Lower, l, Options{Blocksize: 2}))
		l.MakeTrapezoidal(blas.Left, blas.Lower, 0)

		// The min-matrix factor is exactly the unit lower triangle.
		one := scalars.FromFloat[T](1)
		for jl := 0; jl < l.LocalWidth(); jl++ {
			j := dist.GlobalIndex(jl, l.ColShift(), l.ColStride())
			for il := 0; il < l.LocalHeight(); il++ {
				i := dist.GlobalIndex(il, l.RowShift(), l.RowStride())
				want := one
				if i < j {
					want = 0
				}
				assert.InDelta(t, 0, scalars.Abs(l.Local().Get(il, jl)-want), tol, "L(%d,%d)", i, j)
			}
		}

		// Rebuild A = L*Lᴴ and compare the lower triangle.
		check := dist.NewShaped[T](g, dist.MCMR, n, n)
		dblas.Herk(blas.Lower, one, l, 0, check, dblas.Options{Blocksize: 2})
		for jl := 0; jl < check.LocalWidth(); jl++ {
			j := dist.GlobalIndex(jl, check.ColShift(), check.ColStride())
			for il := 0; il < check.LocalHeight(); il++ {
				i := dist.GlobalIndex(il, check.RowShift(), check.RowStride())
				if i < j {
					continue
				}
				want := scalars.FromFloat[T](float64(min(i, j) + 1))
				assert.InDelta(t, 0, scalars.Abs(check.Local().Get(il, jl)-want), tol, "A(%d,%d)", i, j)
			}
		}
	})
}

func TestCholesky(t *testing.T) {
	t.Run("float64", func(t *testing.T) { testCholeskyMinMatrix[float64](t, 1e-10) })
	t.Run("complex128", func(t *testing.T) { testCholeskyMinMatrix[complex128](t, 1e-10) })
}

func TestCholeskyRandomSPD(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		n := 8
		// A = G*Gᴴ + n*I via the distributed rank-k kernel.
		gm := dist.NewShaped[float64](g, dist.MCMR, n, n)
		gm.SetToRandom(rand.New(rand.NewSource(int64(g.VCRank()))))
		a := dist.NewShaped[float64](g, dist.MCMR, n, n)
		dblas.Herk(blas.Lower, 1, gm, 0, a, dblas.Options{Blocksize: 3})
		for i := 0; i < n; i++ {
			a.Update(i, i, float64(n))
		}

		l := dist.New[float64](g, dist.MCMR)
		l.CopyFrom(a)
		require.NoError(t, Cholesky(blas.Lower, l, Options{Blocksize: 3}))
		l.MakeTrapezoidal(blas.Left, blas.Lower, 0)

		check := dist.NewShaped[float64](g, dist.MCMR, n, n)
		dblas.Herk(blas.Lower, 1, l, 0, check, dblas.Options{Blocksize: 3})
		for j := 0; j < n; j++ {
			for i := j; i < n; i++ {
				assert.InDelta(t, a.Get(i, j), check.Get(i, j), 1e-8)
			}
		}
	})
}

func TestCholeskyNotPositiveDefinite(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		n := 6
		a := dist.NewShaped[float64](g, dist.MCMR, n, n)
		minMatrix(a)
		a.Set(4, 4, -100) // breaks definiteness past the first block
		err := Cholesky(blas.Lower, a, Options{Blocksize: 2})
		// Every rank sees the same error: the diagonal block is factored
		// replicated.
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not positive definite")
	})
}

func TestCholeskyUpperNotSupported(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		a := dist.NewShaped[float64](g, dist.MCMR, 4, 4)
		minMatrix(a)
		err := Cholesky(blas.Upper, a, Options{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "not yet supported")
	})
}

func TestCholeskyRejectsNonSquare(t *testing.T) {
	err := comm.Run(4, func(c comm.Comm) {
		g := grid.NewShaped(c, 2, 2)
		a := dist.NewShaped[float64](g, dist.MCMR, 4, 3)
		_ = Cholesky(blas.Lower, a, Options{})
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "want square")
}

func TestLURebuilds(t *testing.T) {
	runGrid(t, 2, 3, func(g *grid.Grid) {
		n := 8
		a := dist.NewShaped[float64](g, dist.MCMR, n, n)
		a.SetToRandom(rand.New(rand.NewSource(int64(g.VCRank()) + 11)))
		// Diagonally dominant: unpivoted elimination is stable.
		for i := 0; i < n; i++ {
			a.Update(i, i, float64(2*n))
		}

		f := dist.New[float64](g, dist.MCMR)
		f.CopyFrom(a)
		require.NoError(t, LU(f, Options{Blocksize: 3}))

		l := dist.New[float64](g, dist.MCMR)
		l.CopyFrom(f)
		l.MakeTrapezoidal(blas.Left, blas.Lower, -1)
		for i := 0; i < n; i++ {
			l.Set(i, i, 1)
		}
		u := dist.New[float64](g, dist.MCMR)
		u.CopyFrom(f)
		u.MakeTrapezoidal(blas.Left, blas.Upper, 0)

		check := dist.NewShaped[float64](g, dist.MCMR, n, n)
		dblas.Gemm(blas.NoTrans, blas.NoTrans, 1.0, l, u, 0.0, check, dblas.Options{Blocksize: 3})
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				assert.InDelta(t, a.Get(i, j), check.Get(i, j), 1e-8, "A(%d,%d)", i, j)
			}
		}
	})
}

func TestLUZeroPivot(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		a := dist.NewShaped[float64](g, dist.MCMR, 4, 4)
		// Antidiagonal permutation matrix: the very first pivot is zero.
		for i := 0; i < 4; i++ {
			a.Set(i, 3-i, 1)
		}
		err := LU(a, Options{Blocksize: 2})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "zero pivot")
	})
}

func TestLURectangular(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		m, n := 6, 4
		a := dist.NewShaped[float64](g, dist.MCMR, m, n)
		a.SetToRandom(rand.New(rand.NewSource(int64(g.VCRank()) + 13)))
		for i := 0; i < n; i++ {
			a.Update(i, i, float64(2 * m))
		}
		f := dist.New[float64](g, dist.MCMR)
		f.CopyFrom(a)
		require.NoError(t, LU(f, Options{Blocksize: 2}))

		// L is m x n unit lower trapezoidal, U is n x n upper triangular.
		l := dist.New[float64](g, dist.MCMR)
		l.CopyFrom(f)
		l.MakeTrapezoidal(blas.Left, blas.Lower, -1)
		for i := 0; i < n; i++ {
			l.Set(i, i, 1)
		}
		uFull := dist.New[float64](g, dist.MCMR)
		uFull.CopyFrom(f)
		uFull.MakeTrapezoidal(blas.Left, blas.Upper, 0)
		u := dist.NewShaped[float64](g, dist.MCMR, n, n)
		u.CopyFrom(dist.LockedView(uFull, 0, 0, n, n))

		check := dist.NewShaped[float64](g, dist.MCMR, m, n)
		dblas.Gemm(blas.NoTrans, blas.NoTrans, 1.0, l, u, 0.0, check, dblas.Options{Blocksize: 2})
		for j := 0; j < n; j++ {
			for i := 0; i < m; i++ {
				assert.InDelta(t, a.Get(i, j), check.Get(i, j), 1e-8)
			}
		}
	})
}
