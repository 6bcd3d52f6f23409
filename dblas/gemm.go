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
	"github.com/distla/distla/lblas"
	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/blas"
)

// Gemm computes C := alpha*op(A)*op(B) + beta*C over [MC,MR] operands with the
// stationary-C algorithm: C never moves; per iteration one block of A's columns
// is replicated as [MC,*] and the matching block of B's rows as [*,MR], making
// the rank-kb update purely local.
//
// Only the NoTrans/NoTrans case is implemented; the transposed variants panic.
func Gemm[T scalars.Scalar](tA, tB blas.Transpose, alpha T, a, b *dist.DistMatrix[T],
	beta T, c *dist.DistMatrix[T], opts Options) {
	if tA != blas.NoTrans || tB != blas.NoTrans {
		exceptions.Panicf("dblas.Gemm: transposed variant (%v,%v) is not yet supported", tA, tB)
	}
	g := c.Grid()
	checkOperand("Gemm", g, a)
	checkOperand("Gemm", g, b)
	checkOperand("Gemm", g, c)
	if a.Height() != c.Height() || b.Width() != c.Width() || a.Width() != b.Height() {
		exceptions.Panicf("dblas.Gemm: nonconforming operands %dx%d * %dx%d -> %dx%d",
			a.Height(), a.Width(), b.Height(), b.Width(), c.Height(), c.Width())
	}

	scaleLocal(c, beta)
	one := scalars.FromFloat[T](1)
	nb := opts.blocksize()
	sumDim := a.Width()
	for k := 0; k < sumDim; k += nb {
		kb := min(nb, sumDim-k)
		a1 := dist.LockedView(a, 0, k, a.Height(), kb)
		b1 := dist.LockedView(b, k, 0, kb, b.Width())

		a1MCStar := dist.New[T](g, dist.MCStar)
		a1MCStar.AlignWith(c)
		a1MCStar.CopyFrom(a1)
		b1StarMR := dist.New[T](g, dist.StarMR)
		b1StarMR.AlignWith(c)
		b1StarMR.CopyFrom(b1)

		lblas.Gemm(blas.NoTrans, blas.NoTrans, alpha,
			a1MCStar.Local(), b1StarMR.Local(), one, c.Local())
	}
}
