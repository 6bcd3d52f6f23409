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

package dist

import (
	"math/rand"
	"testing"

	"github.com/distla/distla/grid"
	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/blas"
)

func TestViewAliasesAndAligns(t *testing.T) {
	runGrid(t, 2, 3, func(g *grid.Grid) {
		a := NewShaped[float64](g, MCMR, 6, 6)
		fillEntries(a)
		v := View(a, 1, 2, 3, 3)
		assert.True(t, v.Viewing())
		assert.Equal(t, 3, v.Height())
		assert.Equal(t, 3, v.Width())
		// Ownership of global indices is unchanged: the view's alignment is the
		// parent's advanced by the offset.
		assert.Equal(t, 1%2, v.RowAlign())
		assert.Equal(t, 2%3, v.ColAlign())
		checkLocalEntries(t, v, func(i, j int) float64 { return testEntry(i+1, j+2) })

		// Writes through the view land in the parent.
		v.Set(0, 0, -7)
		assert.Equal(t, -7.0, a.Get(1, 2))
		a.Set(2, 3, -8)
		assert.Equal(t, -8.0, v.Get(1, 1))
	})
}

func TestLockedViewGuards(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		a := NewShaped[float64](g, MCMR, 4, 4)
		lv := LockedView(a, 0, 0, 2, 2)
		assert.True(t, lv.Locked())
		assert.Panics(t, func() { lv.Set(0, 0, 1) })
		assert.Panics(t, func() { View(a, 0, 0, 2, 2).ResizeTo(3, 3) })
		assert.Panics(t, func() { View(lv, 0, 0, 1, 1) })
		assert.Panics(t, func() { View(a, 2, 2, 3, 3) }) // out of bounds
	})
}

func TestLockedMutationPanicsOnEveryRank(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		a := NewShaped[float64](g, MCMR, 4, 4)
		lv := LockedView(a, 0, 0, 2, 2)
		// Entry (0,0) is stored on a single rank; the guard must still fire on
		// the three ranks that own nothing at that position.
		assert.Panics(t, func() { lv.Set(0, 0, 1) })
		assert.Panics(t, func() { lv.Update(0, 0, 1) })
		assert.Panics(t, func() { lv.SetToZero() })
		assert.Panics(t, func() { lv.SetToIdentity() })
		assert.Panics(t, func() { lv.SetToRandom(rand.New(rand.NewSource(1))) })
		assert.Panics(t, func() { lv.MakeTrapezoidal(blas.Left, blas.Lower, 0) })
		assert.Panics(t, func() { lv.ScaleTrapezoidal(2, blas.Left, blas.Lower, 0) })
		assert.Panics(t, func() { lv.SumOverGrid() })
	})
}

// stampBlocks adds a distinct per-block value to every entry of each view, so
// double coverage or a gap shows up in the parent afterwards.
func stampBlocks(blocks []*DistMatrix[float64]) {
	for b, m := range blocks {
		for j := 0; j < m.Width(); j++ {
			for i := 0; i < m.Height(); i++ {
				m.Update(i, j, float64(b+1))
			}
		}
	}
}

func checkStampedOnce(t *testing.T, a *DistMatrix[float64], blocks []*DistMatrix[float64]) {
	checkLocalEntries(t, a, func(i, j int) float64 { return stampOf(i, j, blocks) })
}

// stampOf returns b+1 for the unique block containing global entry (i, j) of
// the parent, resolving through the view origins.
func stampOf(i, j int, blocks []*DistMatrix[float64]) float64 {
	for b, m := range blocks {
		if i >= m.originI && i < m.originI+m.Height() &&
			j >= m.originJ && j < m.originJ+m.Width() {
			return float64(b + 1)
		}
	}
	return 0
}

func TestPartitionDownCoversOnce(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		a := NewShaped[float64](g, MCMR, 7, 4)
		at, ab := PartitionDown(a, 3)
		assert.Equal(t, 3, at.Height())
		assert.Equal(t, 4, ab.Height())
		stampBlocks([]*DistMatrix[float64]{at, ab})
		checkStampedOnce(t, a, []*DistMatrix[float64]{at, ab})

		// Clamping.
		topAll, bottomNone := PartitionDown(a, 99)
		assert.Equal(t, 7, topAll.Height())
		assert.Equal(t, 0, bottomNone.Height())
	})
}

func TestPartitionRightCoversOnce(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		a := NewShaped[float64](g, MCMR, 4, 7)
		al, ar := PartitionRight(a, 2)
		assert.Equal(t, 2, al.Width())
		assert.Equal(t, 5, ar.Width())
		stampBlocks([]*DistMatrix[float64]{al, ar})
		checkStampedOnce(t, a, []*DistMatrix[float64]{al, ar})
	})
}

func TestPartitionDownDiagonalCoversOnce(t *testing.T) {
	runGrid(t, 2, 3, func(g *grid.Grid) {
		a := NewShaped[float64](g, MCMR, 6, 5)
		q := PartitionDownDiagonal(a, 2)
		assert.Equal(t, 2, q.TL.Height())
		assert.Equal(t, 2, q.TL.Width())
		assert.Equal(t, 3, q.TR.Width())
		assert.Equal(t, 4, q.BL.Height())
		blocks := []*DistMatrix[float64]{q.TL, q.TR, q.BL, q.BR}
		stampBlocks(blocks)
		checkStampedOnce(t, a, blocks)
	})
}

func TestRepartitionAndSlideDown(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		a := NewShaped[float64](g, MCMR, 10, 3)
		at, ab := PartitionDown(a, 0)
		worked := 0
		for ab.Height() > 0 {
			a0, a1, a2 := RepartitionDown(at, ab, 4)
			assert.Equal(t, worked, a0.Height())
			assert.LessOrEqual(t, a1.Height(), 4)
			stampBlocks([]*DistMatrix[float64]{a1})
			worked += a1.Height()
			at, ab = SlidePartitionDown(a0, a1, a2)
			assert.Equal(t, worked, at.Height())
		}
		assert.Equal(t, 10, worked)
		// Every row was stamped exactly once across the sweep.
		checkLocalEntries(t, a, func(i, j int) float64 { return 1 })
	})
}

func TestRepartitionAndSlideRight(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		a := NewShaped[float64](g, MCMR, 3, 9)
		al, ar := PartitionRight(a, 0)
		worked := 0
		for ar.Width() > 0 {
			a0, a1, a2 := RepartitionRight(al, ar, 2)
			stampBlocks([]*DistMatrix[float64]{a1})
			worked += a1.Width()
			al, ar = SlidePartitionRight(a0, a1, a2)
		}
		assert.Equal(t, 9, worked)
		checkLocalEntries(t, a, func(i, j int) float64 { return 1 })
	})
}

func TestRepartitionDownDiagonalSweep(t *testing.T) {
	runGrid(t, 2, 3, func(g *grid.Grid) {
		a := NewShaped[float64](g, MCMR, 8, 8)
		q := PartitionDownDiagonal(a, 0)
		diagWorked := 0
		for q.BR.Height() > 0 && q.BR.Width() > 0 {
			b := RepartitionDownDiagonal(q, 3)
			assert.Equal(t, diagWorked, b.B00.Height())
			assert.Equal(t, b.B11.Height(), b.B11.Width())
			// The nine blocks tile the whole matrix.
			blocks := []*DistMatrix[float64]{
				b.B00, b.B01, b.B02, b.B10, b.B11, b.B12, b.B20, b.B21, b.B22,
			}
			total := 0
			for _, m := range blocks {
				total += m.Height() * m.Width()
			}
			assert.Equal(t, 64, total)

			// Work only the diagonal block this iteration.
			stampBlocks([]*DistMatrix[float64]{b.B11})
			diagWorked += b.B11.Height()
			q = SlidePartitionDownDiagonal(b)
		}
		assert.Equal(t, 8, diagWorked)
		checkLocalEntries(t, a, func(i, j int) float64 {
			// Entry (i,j) was stamped once iff it sits in one of the diagonal
			// blocks of the blocksize-3 sweep: [0,3), [3,6), [6,8).
			for _, lo := range []int{0, 3, 6} {
				hi := min(lo+3, 8)
				if i >= lo && i < hi && j >= lo && j < hi {
					return 1
				}
			}
			return 0
		})
	})
}

func TestViewOfViewAccumulatesOrigin(t *testing.T) {
	runGrid(t, 2, 2, func(g *grid.Grid) {
		a := NewShaped[float64](g, MCMR, 8, 8)
		fillEntries(a)
		outer := View(a, 2, 2, 4, 4)
		inner := View(outer, 1, 1, 2, 2)
		checkLocalEntries(t, inner, func(i, j int) float64 { return testEntry(i+3, j+3) })
		inner.Set(0, 0, -1)
		assert.Equal(t, -1.0, a.Get(3, 3))
	})
}

func TestViewOnVCStar(t *testing.T) {
	runGrid(t, 2, 3, func(g *grid.Grid) {
		a := NewShaped[float64](g, VCStar, 9, 2)
		fillEntries(a)
		v := View(a, 4, 0, 5, 2)
		assert.Equal(t, 4%6, v.RowAlign())
		checkLocalEntries(t, v, func(i, j int) float64 { return testEntry(i+4, j) })
	})
}
