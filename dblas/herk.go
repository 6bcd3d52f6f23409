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

package dblas

import (
	"github.com/distla/distla/dist"
	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/blas"
)

// Herk computes the Hermitian rank-k update C := alpha*A*Aᴴ + beta*C on the
// given triangle of C. Per iteration one block of A's columns is replicated two
// ways, as [MC,*] down C's rows and conjugate-transposed as [*,MR] across C's
// columns, and the product lands directly in the local triangle, guarded by
// global indices so only the requested half is touched. For real element types
// the conjugations are identities and Herk is Syrk.
func Herk[T scalars.Scalar](uplo blas.Uplo, alpha T, a *dist.DistMatrix[T],
	beta T, c *dist.DistMatrix[T], opts Options) {
	g := c.Grid()
	checkOperand("Herk", g, a)
	checkOperand("Herk", g, c)
	if c.Height() != c.Width() || a.Height() != c.Height() {
		exceptions.Panicf("dblas.Herk: %dx%d update of %dx%d matrix",
			a.Height(), a.Width(), c.Height(), c.Width())
	}

	c.ScaleTrapezoidal(beta, blas.Left, uplo, 0)
	nb := opts.blocksize()
	n, sumDim := c.Height(), a.Width()
	for k := 0; k < sumDim; k += nb {
		kb := min(nb, sumDim-k)
		a1 := dist.LockedView(a, 0, k, n, kb)

		a1MCStar := dist.New[T](g, dist.MCStar)
		a1MCStar.AlignWith(c)
		a1MCStar.CopyFrom(a1)

		a1VRStar := dist.New[T](g, dist.VRStar)
		a1VRStar.SetRowAlign(c.ColAlign())
		a1VRStar.CopyFrom(a1MCStar)

		a1AdjStarMR := dist.New[T](g, dist.StarMR)
		a1AdjStarMR.AlignWith(c)
		a1AdjStarMR.AdjointFrom(a1VRStar)

		localTriangularRankK(uplo, alpha, a1MCStar, a1AdjStarMR, c)
	}
}

// localTriangularRankK accumulates C.local += alpha * A.local * Badj.local for
// the local entries of C lying inside the requested triangle.
func localTriangularRankK[T scalars.Scalar](uplo blas.Uplo, alpha T,
	a, bAdj, c *dist.DistMatrix[T]) {
	lh, lw := c.LocalHeight(), c.LocalWidth()
	kb := a.LocalWidth()
	adata, ald := a.Local().LockedData(), a.Local().LDim()
	bdata, bld := bAdj.Local().LockedData(), bAdj.Local().LDim()
	cdata, cld := c.Local().Data(), c.Local().LDim()
	for jl := 0; jl < lw; jl++ {
		j := dist.GlobalIndex(jl, c.ColShift(), c.ColStride())
		for il := 0; il < lh; il++ {
			i := dist.GlobalIndex(il, c.RowShift(), c.RowStride())
			if uplo == blas.Lower && i < j || uplo == blas.Upper && i > j {
				continue
			}
			var sum T
			for t := 0; t < kb; t++ {
				sum += adata[il+t*ald] * bdata[t+jl*bld]
			}
			cdata[il+jl*cld] += alpha * sum
		}
	}
}
