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

// Trsm solves op(A)*X = alpha*B for X, overwriting B, with a triangular
// [MC,MR] matrix A. Forward substitution over diagonal blocks: each iteration
// replicates the diagonal block as [*,*], solves the corresponding block row of
// B in [*,MR] form locally, and downdates the rest of B with a local Gemm.
//
// Only the left/lower/NoTrans case the factorizations need is implemented; the
// other side/uplo/transpose combinations panic.
func Trsm[T scalars.Scalar](side blas.Side, uplo blas.Uplo, tA blas.Transpose, diag blas.Diag,
	alpha T, a, b *dist.DistMatrix[T], opts Options) {
	if side != blas.Left || uplo != blas.Lower || tA != blas.NoTrans {
		exceptions.Panicf("dblas.Trsm: variant (%v,%v,%v) is not yet supported", side, uplo, tA)
	}
	g := b.Grid()
	checkOperand("Trsm", g, a)
	checkOperand("Trsm", g, b)
	if a.Height() != a.Width() || a.Height() != b.Height() {
		exceptions.Panicf("dblas.Trsm: triangular operand is %dx%d against %dx%d right-hand sides",
			a.Height(), a.Width(), b.Height(), b.Width())
	}

	scaleLocal(b, alpha)
	one := scalars.FromFloat[T](1)
	nb := opts.blocksize()
	m, n := b.Height(), b.Width()
	for k := 0; k < m; k += nb {
		kb := min(nb, m-k)
		a11 := dist.LockedView(a, k, k, kb, kb)
		a21 := dist.LockedView(a, k+kb, k, m-k-kb, kb)
		b1 := dist.View(b, k, 0, kb, n)
		b2 := dist.View(b, k+kb, 0, m-k-kb, n)

		a11Star := dist.New[T](g, dist.StarStar)
		a11Star.CopyFrom(a11)
		b1StarMR := dist.New[T](g, dist.StarMR)
		b1StarMR.AlignWith(b1)
		b1StarMR.CopyFrom(b1)

		lblas.Trsm(blas.Left, blas.Lower, blas.NoTrans, diag, one,
			a11Star.Local(), b1StarMR.Local())
		b1.CopyFrom(b1StarMR)

		a21MCStar := dist.New[T](g, dist.MCStar)
		a21MCStar.AlignWith(b2)
		a21MCStar.CopyFrom(a21)
		lblas.Gemm(blas.NoTrans, blas.NoTrans, -one,
			a21MCStar.Local(), b1StarMR.Local(), one, b2.Local())
	}
}
