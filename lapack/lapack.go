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

// Package lapack implements blocked distributed factorizations over [MC,MR]
// matrices: Cholesky and unpivoted LU. Both walk the diagonal with the
// partitioning helpers, factor the replicated diagonal block locally, solve the
// panel in a 1D distribution, and downdate the trailing matrix with a dblas
// kernel.
//
// Failures that depend on the matrix values (an indefinite diagonal block, a
// zero pivot) are returned as errors on every rank consistently, since each
// rank factors an identical replicated copy of the block.
package lapack

import (
	"github.com/distla/distla/dblas"
	"github.com/distla/distla/dist"
	"github.com/distla/distla/lblas"
	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
)

// DefaultBlocksize is the diagonal block size used when Options leaves it
// unset.
const DefaultBlocksize = 128

// Options tunes the blocked factorizations. The zero value picks the defaults.
type Options struct {
	// Blocksize is the algorithmic diagonal block size.
	Blocksize int
}

func (o Options) blocksize() int {
	if o.Blocksize > 0 {
		return o.Blocksize
	}
	return DefaultBlocksize
}

// Cholesky overwrites the lower triangle of the Hermitian positive definite
// matrix a with its Cholesky factor L, A = L*Lᴴ. The strictly upper triangle is
// not referenced and not modified. Collective; returns an error on every rank
// if a diagonal block turns out not positive definite.
//
// Only uplo == blas.Lower is implemented.
func Cholesky[T scalars.Scalar](uplo blas.Uplo, a *dist.DistMatrix[T], opts Options) error {
	if uplo != blas.Lower {
		return errors.New("lapack.Cholesky: upper variant is not yet supported")
	}
	checkOperand("Cholesky", a)
	if a.Height() != a.Width() {
		exceptions.Panicf("lapack.Cholesky: matrix is %dx%d, want square", a.Height(), a.Width())
	}

	g := a.Grid()
	one := scalars.FromFloat[T](1)
	n := a.Height()
	nb := opts.blocksize()
	for k := 0; k < n; k += nb {
		kb := min(nb, n-k)
		a11 := dist.View(a, k, k, kb, kb)
		a21 := dist.View(a, k+kb, k, n-k-kb, kb)
		a22 := dist.View(a, k+kb, k+kb, n-k-kb, n-k-kb)

		a11Star := dist.New[T](g, dist.StarStar)
		a11Star.CopyFrom(a11)
		if err := lblas.Potrf(blas.Lower, a11Star.Local()); err != nil {
			return errors.Wrapf(err, "lapack.Cholesky: diagonal block at %d", k)
		}
		a11.CopyFrom(a11Star)

		a21VCStar := dist.New[T](g, dist.VCStar)
		a21VCStar.CopyFrom(a21)
		lblas.Trsm(blas.Right, blas.Lower, blas.ConjTrans, blas.NonUnit, one,
			a11Star.Local(), a21VCStar.Local())
		a21.CopyFrom(a21VCStar)

		dblas.Herk(blas.Lower, -one, a21, one, a22, dblas.Options{Blocksize: nb})
	}
	return nil
}

// LU overwrites a with its unpivoted LU factorization: the strictly lower
// triangle holds the unit-diagonal L, the upper triangle U. Collective; returns
// an error on every rank on a zero pivot. Callers needing numerical robustness
// must pre-condition the matrix (e.g. diagonally dominant systems).
func LU[T scalars.Scalar](a *dist.DistMatrix[T], opts Options) error {
	checkOperand("LU", a)
	g := a.Grid()
	one := scalars.FromFloat[T](1)
	m, n := a.Height(), a.Width()
	minDim := min(m, n)
	nb := opts.blocksize()
	for k := 0; k < minDim; k += nb {
		kb := min(nb, minDim-k)
		a11 := dist.View(a, k, k, kb, kb)
		a12 := dist.View(a, k, k+kb, kb, n-k-kb)
		a21 := dist.View(a, k+kb, k, m-k-kb, kb)
		a22 := dist.View(a, k+kb, k+kb, m-k-kb, n-k-kb)

		a11Star := dist.New[T](g, dist.StarStar)
		a11Star.CopyFrom(a11)
		if err := lblas.Getrf(a11Star.Local()); err != nil {
			return errors.Wrapf(err, "lapack.LU: diagonal block at %d", k)
		}
		a11.CopyFrom(a11Star)

		a21VCStar := dist.New[T](g, dist.VCStar)
		a21VCStar.CopyFrom(a21)
		lblas.Trsm(blas.Right, blas.Upper, blas.NoTrans, blas.NonUnit, one,
			a11Star.Local(), a21VCStar.Local())
		a21.CopyFrom(a21VCStar)

		a12StarVR := dist.New[T](g, dist.StarVR)
		a12StarVR.CopyFrom(a12)
		lblas.Trsm(blas.Left, blas.Lower, blas.NoTrans, blas.Unit, one,
			a11Star.Local(), a12StarVR.Local())
		a12.CopyFrom(a12StarVR)

		a21MCStar := dist.New[T](g, dist.MCStar)
		a21MCStar.AlignWith(a22)
		a21MCStar.CopyFrom(a21VCStar)
		a12StarMR := dist.New[T](g, dist.StarMR)
		a12StarMR.AlignWith(a22)
		a12StarMR.CopyFrom(a12StarVR)
		lblas.Gemm(blas.NoTrans, blas.NoTrans, -one,
			a21MCStar.Local(), a12StarMR.Local(), one, a22.Local())
	}
	return nil
}

func checkOperand[T scalars.Scalar](op string, m *dist.DistMatrix[T]) {
	if m.Desc() != dist.MCMR {
		exceptions.Panicf("lapack.%s: operand distributed as %s, want %s", op, m.Desc(), dist.MCMR)
	}
}
