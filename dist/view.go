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
	"github.com/distla/distla/matrix"
	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
)

// View returns a mutable window into parent covering global rows [i, i+height)
// and columns [j, j+width). The window aliases the parent's storage, keeps the
// parent's distribution, and derives its alignment from the offset, so the
// ownership of every global index is unchanged. Purely local: no communication.
func View[T scalars.Scalar](parent *DistMatrix[T], i, j, height, width int) *DistMatrix[T] {
	if parent.locked {
		exceptions.Panicf("dist.View: cannot take a mutable view of a locked view")
	}
	return viewDist(parent, i, j, height, width, false)
}

// LockedView is the read-only counterpart of View.
func LockedView[T scalars.Scalar](parent *DistMatrix[T], i, j, height, width int) *DistMatrix[T] {
	return viewDist(parent, i, j, height, width, true)
}

func viewDist[T scalars.Scalar](parent *DistMatrix[T], i, j, height, width int, locked bool) *DistMatrix[T] {
	if i < 0 || j < 0 || height < 0 || width < 0 ||
		i+height > parent.height || j+width > parent.width {
		exceptions.Panicf("dist view [%d:%d, %d:%d] out of bounds of %d x %d matrix",
			i, i+height, j, j+width, parent.height, parent.width)
	}
	c := &DistMatrix[T]{
		g:              parent.g,
		desc:           parent.desc,
		height:         height,
		width:          width,
		rowConstrained: true,
		colConstrained: true,
		diagPath:       parent.diagPath,
		viewing:        true,
		locked:         locked || parent.locked,
		root:           rootOf(parent),
		originI:        parent.originI + i,
		originJ:        parent.originJ + j,
	}
	rowStride, colStride := parent.RowStride(), parent.ColStride()
	if parent.desc.Row != Star {
		c.rowAlign = (parent.rowAlign + i) % rowStride
	}
	if parent.desc.Col != Star {
		c.colAlign = (parent.colAlign + j) % colStride
	}
	c.setShifts()
	if !c.participates() {
		c.local = matrix.LockedView(parent.local, 0, 0, 0, 0)
		return c
	}
	// The local window: the parent-local rows holding global rows [i, i+height).
	localI := Length(i, parent.rowShift, rowStride)
	localJ := Length(j, parent.colShift, colStride)
	localH := Length(i+height, parent.rowShift, rowStride) - localI
	localW := Length(j+width, parent.colShift, colStride) - localJ
	if c.locked {
		c.local = matrix.LockedView(parent.local, localI, localJ, localH, localW)
	} else {
		c.local = matrix.View(parent.local, localI, localJ, localH, localW)
	}
	return c
}

func rootOf[T scalars.Scalar](m *DistMatrix[T]) *DistMatrix[T] {
	if m.root != nil {
		return m.root
	}
	return m
}

// spanView views [i:i+height, j:j+width) of the storage-owning ancestor shared
// by the partitioning helpers, in absolute coordinates of that ancestor.
func spanView[T scalars.Scalar](m *DistMatrix[T], i, j, height, width int) *DistMatrix[T] {
	return viewDist(rootOf(m), i, j, height, width, m.locked)
}

// PartitionDown splits a into vertically stacked views a = [AT; AB], with AT
// taking the first heightTop rows (clamped to [0, Height]). Every entry of a
// lands in exactly one of the two views; the same holds for all the
// partitioning helpers below.
func PartitionDown[T scalars.Scalar](a *DistMatrix[T], heightTop int) (at, ab *DistMatrix[T]) {
	heightTop = clampDim(heightTop, a.height)
	at = viewDist(a, 0, 0, heightTop, a.width, a.locked)
	ab = viewDist(a, heightTop, 0, a.height-heightTop, a.width, a.locked)
	return
}

// PartitionRight splits a into side-by-side views a = [AL, AR], with AL taking
// the first widthLeft columns (clamped).
func PartitionRight[T scalars.Scalar](a *DistMatrix[T], widthLeft int) (al, ar *DistMatrix[T]) {
	widthLeft = clampDim(widthLeft, a.width)
	al = viewDist(a, 0, 0, a.height, widthLeft, a.locked)
	ar = viewDist(a, 0, widthLeft, a.height, a.width-widthLeft, a.locked)
	return
}

// Quadrants are the four corner views of a diagonally partitioned matrix.
type Quadrants[T scalars.Scalar] struct {
	TL, TR, BL, BR *DistMatrix[T]
}

// PartitionDownDiagonal splits a into quadrants around the point (dist, dist)
// on the main diagonal (clamped to the matrix shape).
func PartitionDownDiagonal[T scalars.Scalar](a *DistMatrix[T], dist int) Quadrants[T] {
	dist = clampDim(dist, min(a.height, a.width))
	return Quadrants[T]{
		TL: viewDist(a, 0, 0, dist, dist, a.locked),
		TR: viewDist(a, 0, dist, dist, a.width-dist, a.locked),
		BL: viewDist(a, dist, 0, a.height-dist, dist, a.locked),
		BR: viewDist(a, dist, dist, a.height-dist, a.width-dist, a.locked),
	}
}

// RepartitionDown carves the next block of up to blocksize rows off the top of
// AB: [AT; AB] = [A0; A1; A2] with A0 = AT and A1 the new block.
func RepartitionDown[T scalars.Scalar](at, ab *DistMatrix[T], blocksize int) (a0, a1, a2 *DistMatrix[T]) {
	bs := clampDim(blocksize, ab.height)
	a0 = at
	a1 = viewDist(ab, 0, 0, bs, ab.width, ab.locked)
	a2 = viewDist(ab, bs, 0, ab.height-bs, ab.width, ab.locked)
	return
}

// SlidePartitionDown moves the partition boundary past the worked block:
// AT = [A0; A1], AB = A2.
func SlidePartitionDown[T scalars.Scalar](a0, a1, a2 *DistMatrix[T]) (at, ab *DistMatrix[T]) {
	at = spanView(a0, a0.originI, a0.originJ, a0.height+a1.height, a0.width)
	ab = spanView(a2, a2.originI, a2.originJ, a2.height, a2.width)
	return
}

// RepartitionRight carves the next block of up to blocksize columns off the
// left of AR: [AL, AR] = [A0, A1, A2] with A0 = AL and A1 the new block.
func RepartitionRight[T scalars.Scalar](al, ar *DistMatrix[T], blocksize int) (a0, a1, a2 *DistMatrix[T]) {
	bs := clampDim(blocksize, ar.width)
	a0 = al
	a1 = viewDist(ar, 0, 0, ar.height, bs, ar.locked)
	a2 = viewDist(ar, 0, bs, ar.height, ar.width-bs, ar.locked)
	return
}

// SlidePartitionRight moves the partition boundary past the worked block:
// AL = [A0, A1], AR = A2.
func SlidePartitionRight[T scalars.Scalar](a0, a1, a2 *DistMatrix[T]) (al, ar *DistMatrix[T]) {
	al = spanView(a0, a0.originI, a0.originJ, a0.height, a0.width+a1.width)
	ar = spanView(a2, a2.originI, a2.originJ, a2.height, a2.width)
	return
}

// Blocks are the nine views of a 3×3 diagonal repartitioning; B11 is the block
// the current iteration of a blocked algorithm works on.
type Blocks[T scalars.Scalar] struct {
	B00, B01, B02 *DistMatrix[T]
	B10, B11, B12 *DistMatrix[T]
	B20, B21, B22 *DistMatrix[T]
}

// RepartitionDownDiagonal carves the next blocksize×blocksize diagonal block
// out of q.BR, exposing the 3×3 blocking of the full matrix. B00 = q.TL.
func RepartitionDownDiagonal[T scalars.Scalar](q Quadrants[T], blocksize int) Blocks[T] {
	bs := clampDim(blocksize, min(q.BR.height, q.BR.width))
	k := q.TL.height
	oi, oj := q.TL.originI, q.TL.originJ
	h := q.TL.height + q.BL.height
	w := q.TL.width + q.TR.width
	return Blocks[T]{
		B00: q.TL,
		B01: spanView(q.TL, oi, oj+k, k, bs),
		B02: spanView(q.TL, oi, oj+k+bs, k, w-k-bs),
		B10: spanView(q.TL, oi+k, oj, bs, k),
		B11: spanView(q.TL, oi+k, oj+k, bs, bs),
		B12: spanView(q.TL, oi+k, oj+k+bs, bs, w-k-bs),
		B20: spanView(q.TL, oi+k+bs, oj, h-k-bs, k),
		B21: spanView(q.TL, oi+k+bs, oj+k, h-k-bs, bs),
		B22: spanView(q.TL, oi+k+bs, oj+k+bs, h-k-bs, w-k-bs),
	}
}

// SlidePartitionDownDiagonal absorbs the worked B11 into the TL quadrant:
// TL = [B00, B01; B10, B11], BR = B22.
func SlidePartitionDownDiagonal[T scalars.Scalar](b Blocks[T]) Quadrants[T] {
	k := b.B00.height + b.B11.height
	oi, oj := b.B00.originI, b.B00.originJ
	h := b.B00.height + b.B10.height + b.B20.height
	w := b.B00.width + b.B01.width + b.B02.width
	return Quadrants[T]{
		TL: spanView(b.B00, oi, oj, k, k),
		TR: spanView(b.B00, oi, oj+k, k, w-k),
		BL: spanView(b.B00, oi+k, oj, h-k, k),
		BR: spanView(b.B00, oi+k, oj+k, h-k, w-k),
	}
}

func clampDim(n, limit int) int {
	return min(max(n, 0), limit)
}
