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

// Package dblas implements distributed BLAS3 kernels over [MC,MR] matrices.
// Each kernel is a blocked loop redistributing panels into the layouts that
// make the arithmetic purely local, then calling the lblas kernels; no matrix
// element ever moves except through the dist redistribution engine.
package dblas

import (
	"github.com/distla/distla/dist"
	"github.com/distla/distla/grid"
	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
)

// DefaultBlocksize is the panel width the blocked kernels use when Options
// leaves it unset.
const DefaultBlocksize = 128

// Options tunes the blocked kernels. The zero value picks the defaults.
type Options struct {
	// Blocksize is the algorithmic panel width.
	Blocksize int
}

func (o Options) blocksize() int {
	if o.Blocksize > 0 {
		return o.Blocksize
	}
	return DefaultBlocksize
}

func checkOperand[T scalars.Scalar](op string, g *grid.Grid, m *dist.DistMatrix[T]) {
	if !m.Grid().Is(g) {
		exceptions.Panicf("dblas.%s: operands are bound to different grids", op)
	}
	if m.Desc() != dist.MCMR {
		exceptions.Panicf("dblas.%s: operand distributed as %s, want %s", op, m.Desc(), dist.MCMR)
	}
}

// scaleLocal multiplies every locally stored entry by alpha.
func scaleLocal[T scalars.Scalar](m *dist.DistMatrix[T], alpha T) {
	if alpha == scalars.FromFloat[T](1) {
		return
	}
	local := m.Local()
	data, ld := local.Data(), local.LDim()
	for jl := 0; jl < local.Width(); jl++ {
		col := data[jl*ld : jl*ld+local.Height()]
		for i := range col {
			col[i] *= alpha
		}
	}
}
