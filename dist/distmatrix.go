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
	"fmt"
	"math/rand"

	"github.com/distla/distla/comm"
	"github.com/distla/distla/grid"
	"github.com/distla/distla/matrix"
	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/blas"
)

// DistMatrix is a logical height×width matrix distributed over a process grid
// according to a Descriptor. Each process stores only the entries its grid
// coordinate owns, in a local column-major matrix.
//
// A DistMatrix either owns its local storage or is a view into a parent's
// (taken with View/LockedView or the partitioning helpers); views must not
// outlive their parent. All operands of any operation must reference the same
// grid.
//
// Except where noted, operations are collective: every process of the grid must
// call them, in the same order, with conforming arguments. A process that skips
// a collective call leaves the others blocked; an error on any rank makes the
// whole job unrecoverable (see comm.Run).
type DistMatrix[T scalars.Scalar] struct {
	g             *grid.Grid
	desc          Descriptor
	height, width int

	rowAlign, colAlign             int
	rowShift, colShift             int
	rowConstrained, colConstrained bool
	diagPath                       int

	local            *matrix.Matrix[T]
	viewing, locked  bool
	root             *DistMatrix[T] // owning ancestor, when viewing
	originI, originJ int            // global offset into root, when viewing

	aux auxMemory[T]
}

// New returns an empty (0×0) matrix with the given distribution and free
// (unconstrained, zero) alignments.
func New[T scalars.Scalar](g *grid.Grid, desc Descriptor) *DistMatrix[T] {
	m := &DistMatrix[T]{g: g, desc: desc, local: matrix.New[T](0, 0)}
	m.setShifts()
	return m
}

// NewAligned returns an empty matrix with fixed alignments: rowAlign is the
// coordinate owning global row 0, colAlign the coordinate owning global column
// 0. Replicated dimensions must pass 0.
func NewAligned[T scalars.Scalar](g *grid.Grid, desc Descriptor, rowAlign, colAlign int) *DistMatrix[T] {
	m := New[T](g, desc)
	m.SetAlign(rowAlign, colAlign)
	return m
}

// NewShaped returns a height×width matrix with free alignments, zeroed.
func NewShaped[T scalars.Scalar](g *grid.Grid, desc Descriptor, height, width int) *DistMatrix[T] {
	m := New[T](g, desc)
	m.ResizeTo(height, width)
	return m
}

// Grid the matrix is distributed over.
func (m *DistMatrix[T]) Grid() *grid.Grid { return m.g }

// Desc returns the matrix's distribution descriptor.
func (m *DistMatrix[T]) Desc() Descriptor { return m.desc }

// Height is the global number of rows.
func (m *DistMatrix[T]) Height() int { return m.height }

// Width is the global number of columns.
func (m *DistMatrix[T]) Width() int { return m.width }

// LocalHeight is the number of rows stored by the calling process.
func (m *DistMatrix[T]) LocalHeight() int { return m.local.Height() }

// LocalWidth is the number of columns stored by the calling process.
func (m *DistMatrix[T]) LocalWidth() int { return m.local.Width() }

// Local is the process-local storage. Mutating it directly is allowed for
// owned matrices and mutable views, and is how the local kernels operate.
func (m *DistMatrix[T]) Local() *matrix.Matrix[T] { return m.local }

// RowAlign is the coordinate owning global row 0.
func (m *DistMatrix[T]) RowAlign() int { return m.rowAlign }

// ColAlign is the coordinate owning global column 0.
func (m *DistMatrix[T]) ColAlign() int { return m.colAlign }

// RowShift is the first global row index the calling process owns.
func (m *DistMatrix[T]) RowShift() int { return m.rowShift }

// ColShift is the first global column index the calling process owns.
func (m *DistMatrix[T]) ColShift() int { return m.colShift }

// RowStride is the ownership stride of the row dimension.
func (m *DistMatrix[T]) RowStride() int { return StrideOf(m.g, m.desc.Row) }

// ColStride is the ownership stride of the column dimension.
func (m *DistMatrix[T]) ColStride() int { return StrideOf(m.g, m.desc.Col) }

// Viewing reports whether the matrix aliases a parent's storage.
func (m *DistMatrix[T]) Viewing() bool { return m.viewing }

// Locked reports whether the matrix is a read-only view.
func (m *DistMatrix[T]) Locked() bool { return m.locked }

// Empty reports whether the matrix is 0×0.
func (m *DistMatrix[T]) Empty() bool { return m.height == 0 && m.width == 0 }

// DiagPath is the diagonal path an MD dimension lives on; meaningless for the
// other kinds.
func (m *DistMatrix[T]) DiagPath() int { return m.diagPath }

// String implements fmt.Stringer.
func (m *DistMatrix[T]) String() string {
	return fmt.Sprintf("DistMatrix%s{%dx%d on %s}", m.desc, m.height, m.width, m.g)
}

// participates reports whether the calling process stores any part of the
// matrix; false only off the diagonal path of an MD dimension.
func (m *DistMatrix[T]) participates() bool {
	if m.desc.Row == MD || m.desc.Col == MD {
		return m.g.DiagPath() == m.diagPath
	}
	return true
}

func (m *DistMatrix[T]) setShifts() {
	m.rowShift = Shift(CoordOf(m.g, m.desc.Row), m.rowAlign, m.RowStride())
	m.colShift = Shift(CoordOf(m.g, m.desc.Col), m.colAlign, m.ColStride())
}

// ResizeTo sets the global shape, reallocating local storage to the number of
// indices this process owns. No data is preserved. Views cannot be resized.
func (m *DistMatrix[T]) ResizeTo(height, width int) {
	if m.viewing {
		exceptions.Panicf("dist.ResizeTo: cannot resize a view")
	}
	if height < 0 || width < 0 {
		exceptions.Panicf("dist.ResizeTo: dimensions must be non-negative, got %d x %d", height, width)
	}
	m.height, m.width = height, width
	if !m.participates() {
		m.local.Resize(0, 0)
		return
	}
	m.local.Resize(
		Length(height, m.rowShift, m.RowStride()),
		Length(width, m.colShift, m.ColStride()))
}

// SetAlign fixes both alignments. Valid only while the matrix owns no data
// (0×0); realigning an allocated matrix would orphan its entries.
func (m *DistMatrix[T]) SetAlign(rowAlign, colAlign int) {
	m.checkRealign()
	m.checkAlignRange(m.desc.Row, rowAlign, "row")
	m.checkAlignRange(m.desc.Col, colAlign, "column")
	m.rowAlign, m.colAlign = rowAlign, colAlign
	m.rowConstrained, m.colConstrained = true, true
	m.setShifts()
}

// SetRowAlign fixes the row-dimension alignment only. Same precondition as
// SetAlign.
func (m *DistMatrix[T]) SetRowAlign(rowAlign int) {
	m.checkRealign()
	m.checkAlignRange(m.desc.Row, rowAlign, "row")
	m.rowAlign = rowAlign
	m.rowConstrained = true
	m.setShifts()
}

// SetColAlign fixes the column-dimension alignment only. Same precondition as
// SetAlign.
func (m *DistMatrix[T]) SetColAlign(colAlign int) {
	m.checkRealign()
	m.checkAlignRange(m.desc.Col, colAlign, "column")
	m.colAlign = colAlign
	m.colConstrained = true
	m.setShifts()
}

// SetDiagPath fixes the diagonal path of an MD dimension. Same precondition as
// SetAlign.
func (m *DistMatrix[T]) SetDiagPath(path int) {
	m.checkRealign()
	if path < 0 || path >= m.g.GCD() {
		exceptions.Panicf("dist.SetDiagPath: path %d outside [0,%d)", path, m.g.GCD())
	}
	m.diagPath = path
	m.setShifts()
}

// AlignWith copies other's alignment for each of this matrix's distributed
// dimensions. A dimension aligns against whichever of other's dimensions
// carries a compatible kind, preferring the same dimension; coarse/fine pairs
// map algebraically (e.g. aligning an MC dimension against a VC one takes the
// alignment modulo the grid height). Same precondition as SetAlign.
func (m *DistMatrix[T]) AlignWith(other Aligner) {
	m.checkRealign()
	m.checkSameGrid(other.Grid())
	od := other.Desc()
	if m.desc.Row != Star {
		m.rowAlign = m.alignAgainst(m.desc.Row, od, other.RowAlign(), other.ColAlign())
		m.rowConstrained = true
	}
	if m.desc.Col != Star {
		m.colAlign = m.alignAgainst(m.desc.Col, od, other.RowAlign(), other.ColAlign())
		m.colConstrained = true
	}
	m.setShifts()
}

// FreeAlign releases both alignment constraints, letting the next
// redistribution into this matrix choose its alignment.
func (m *DistMatrix[T]) FreeAlign() {
	m.rowConstrained, m.colConstrained = false, false
}

// Aligner is the part of DistMatrix AlignWith needs, so matrices of any element
// type can align against each other.
type Aligner interface {
	Grid() *grid.Grid
	Desc() Descriptor
	RowAlign() int
	ColAlign() int
}

func (m *DistMatrix[T]) alignAgainst(kind Dist, od Descriptor, rowAlign, colAlign int) int {
	if a, ok := alignMap(m.g, kind, od.Row, rowAlign); ok {
		return a
	}
	if a, ok := alignMap(m.g, kind, od.Col, colAlign); ok {
		return a
	}
	exceptions.Panicf("dist.AlignWith: no %v dimension of %s is compatible with %v", kind, od, kind)
	return 0
}

// checkMutable rejects mutation of a locked view on every rank, including the
// ranks that own none of the touched entries, so the panic is collective.
func (m *DistMatrix[T]) checkMutable() {
	if m.locked {
		exceptions.Panicf("dist: cannot mutate a locked view")
	}
}

func (m *DistMatrix[T]) checkRealign() {
	if m.viewing {
		exceptions.Panicf("dist: cannot realign a view")
	}
	if !m.Empty() {
		exceptions.Panicf("dist: alignment already fixed: matrix owns data (resize to 0x0 first)")
	}
}

func (m *DistMatrix[T]) checkAlignRange(kind Dist, align int, dim string) {
	stride := StrideOf(m.g, kind)
	if kind == Star && align != 0 {
		exceptions.Panicf("dist: a replicated %s dimension has no alignment, got %d", dim, align)
	}
	if align < 0 || align >= stride {
		exceptions.Panicf("dist: %s alignment %d outside [0,%d)", dim, align, stride)
	}
}

func (m *DistMatrix[T]) checkSameGrid(og *grid.Grid) {
	if !m.g.Is(og) {
		exceptions.Panicf("dist: operands are bound to different grids (%s vs %s)", m.g, og)
	}
}

func (m *DistMatrix[T]) checkEntry(i, j int) {
	if i < 0 || i >= m.height || j < 0 || j >= m.width {
		exceptions.Panicf("dist: entry (%d,%d) out of bounds of %d x %d matrix", i, j, m.height, m.width)
	}
}

// rowOwns reports whether the calling process owns global row i.
func (m *DistMatrix[T]) rowOwns(i int) bool {
	if m.desc.Row == Star {
		return true
	}
	if !m.participates() {
		return false
	}
	return Owner(i, m.rowAlign, m.RowStride()) == CoordOf(m.g, m.desc.Row)
}

// colOwns reports whether the calling process owns global column j.
func (m *DistMatrix[T]) colOwns(j int) bool {
	if m.desc.Col == Star {
		return true
	}
	if !m.participates() {
		return false
	}
	return Owner(j, m.colAlign, m.ColStride()) == CoordOf(m.g, m.desc.Col)
}

// Owns reports whether the calling process stores entry (i, j).
func (m *DistMatrix[T]) Owns(i, j int) bool { return m.rowOwns(i) && m.colOwns(j) }

// Get returns entry (i, j) on every process of the grid. The owner reads its
// local storage and the value is broadcast along the communicator of the
// dimension(s) that do not determine ownership, so the call is collective and
// returns a consistent value everywhere.
func (m *DistMatrix[T]) Get(i, j int) T {
	m.checkEntry(i, j)
	buf := make([]T, 1)
	if m.Owns(i, j) {
		buf[0] = m.local.Get(
			localIndexFor(i, m.rowShift, m.RowStride(), m.desc.Row),
			localIndexFor(j, m.colShift, m.ColStride(), m.desc.Col))
	}
	c, root := m.ownerBroadcast(i, j)
	if c != nil {
		comm.Broadcast(c, buf, root)
	}
	return buf[0]
}

// Set stores v at entry (i, j) on the owning process(es); everywhere else it is
// a no-op. Not synchronized: a later Get observes the new value because Get
// always re-fetches from the owner.
func (m *DistMatrix[T]) Set(i, j int, v T) {
	m.checkEntry(i, j)
	m.checkMutable()
	if m.Owns(i, j) {
		m.local.Set(
			localIndexFor(i, m.rowShift, m.RowStride(), m.desc.Row),
			localIndexFor(j, m.colShift, m.ColStride(), m.desc.Col), v)
	}
}

// Update adds v to entry (i, j) on the owning process(es). See Set.
func (m *DistMatrix[T]) Update(i, j int, v T) {
	m.checkEntry(i, j)
	m.checkMutable()
	if m.Owns(i, j) {
		m.local.Update(
			localIndexFor(i, m.rowShift, m.RowStride(), m.desc.Row),
			localIndexFor(j, m.colShift, m.ColStride(), m.desc.Col), v)
	}
}

func localIndexFor(i, shift, stride int, kind Dist) int {
	if kind == Star {
		return i
	}
	return LocalIndex(i, shift, stride)
}

// ownerBroadcast returns the communicator and root rank Get broadcasts over,
// or nil when every process owns the entry.
func (m *DistMatrix[T]) ownerBroadcast(i, j int) (comm.Comm, int) {
	rd, cd := m.desc.Row, m.desc.Col
	switch {
	case rd == Star && cd == Star:
		return nil, 0
	case rd != Star && cd != Star:
		// A unique process owns the entry; everyone listens on the grid comm.
		gridRow, gridCol := -1, -1
		for _, axis := range [2]struct {
			kind               Dist
			idx, align, stride int
		}{{rd, i, m.rowAlign, m.RowStride()}, {cd, j, m.colAlign, m.ColStride()}} {
			coord := Owner(axis.idx, axis.align, axis.stride)
			switch axis.kind {
			case MC:
				gridRow = coord
			case MR:
				gridCol = coord
			default:
				exceptions.Panicf("dist.Get: entry access not supported for %s", m.desc)
			}
		}
		return m.g.VCComm(), m.g.VCRankOf(gridRow, gridCol)
	case rd != Star:
		return m.axisBroadcast(rd, Owner(i, m.rowAlign, m.RowStride()))
	default:
		return m.axisBroadcast(cd, Owner(j, m.colAlign, m.ColStride()))
	}
}

func (m *DistMatrix[T]) axisBroadcast(kind Dist, coord int) (comm.Comm, int) {
	switch kind {
	case MC:
		return m.g.ColComm(), coord
	case MR:
		return m.g.RowComm(), coord
	case VC:
		return m.g.VCComm(), coord
	case VR:
		return m.g.VRComm(), coord
	case MD:
		return m.g.VCComm(), m.g.VCRankOfDiag(m.diagPath, coord)
	}
	exceptions.Panicf("dist: unknown distribution kind %v", kind)
	return nil, 0
}

// redundantComm spans the processes holding identical local data, or nil when
// there is no replication.
func (m *DistMatrix[T]) redundantComm() comm.Comm {
	switch m.desc {
	case StarStar:
		return m.g.VCComm()
	case MCStar, StarMC:
		return m.g.RowComm()
	case MRStar, StarMR:
		return m.g.ColComm()
	}
	return nil
}

// SetToZero clears every entry.
func (m *DistMatrix[T]) SetToZero() {
	m.checkMutable()
	m.local.Zero()
}

// SetToIdentity clears the matrix and sets the main diagonal to one.
func (m *DistMatrix[T]) SetToIdentity() {
	m.SetToZero()
	one := scalars.FromFloat[T](1)
	lw := m.LocalWidth()
	for jl := 0; jl < lw; jl++ {
		j := globalIndexFor(jl, m.colShift, m.ColStride(), m.desc.Col)
		if j < m.height && m.rowOwns(j) {
			m.local.Set(localIndexFor(j, m.rowShift, m.RowStride(), m.desc.Row), jl, one)
		}
	}
}

func globalIndexFor(iLocal, shift, stride int, kind Dist) int {
	if kind == Star {
		return iLocal
	}
	return GlobalIndex(iLocal, shift, stride)
}

// SetToRandom fills the matrix with unit-ball samples. Replicated dimensions
// stay consistent: the root of the redundant group draws the values and
// broadcasts them.
func (m *DistMatrix[T]) SetToRandom(rng *rand.Rand) {
	m.checkMutable()
	lh, lw := m.LocalHeight(), m.LocalWidth()
	rc := m.redundantComm()
	if rc == nil || rc.Size() == 1 {
		for jl := 0; jl < lw; jl++ {
			for il := 0; il < lh; il++ {
				m.local.Set(il, jl, scalars.Sample[T](rng))
			}
		}
		return
	}
	buf := m.aux.require(lh * lw)
	defer m.aux.release()
	if rc.Rank() == 0 {
		for jl := 0; jl < lw; jl++ {
			for il := 0; il < lh; il++ {
				buf[il+jl*lh] = scalars.Sample[T](rng)
			}
		}
	}
	comm.Broadcast(rc, buf, 0)
	m.unpackLocal(buf)
}

// MakeTrapezoidal zeroes every entry outside the trapezoid bounded by the
// diagonal with the given offset: offset 0 is the main diagonal, positive
// offsets move it right. Side selects whether the diagonal is anchored at the
// top-left (Left) or bottom-right (Right) of the matrix.
func (m *DistMatrix[T]) MakeTrapezoidal(side blas.Side, uplo blas.Uplo, offset int) {
	m.checkMutable()
	height, width := m.height, m.width
	lh, lw := m.LocalHeight(), m.LocalWidth()
	for jl := 0; jl < lw; jl++ {
		j := globalIndexFor(jl, m.colShift, m.ColStride(), m.desc.Col)
		if uplo == blas.Lower {
			lastZeroRow := j - offset - 1
			if side == blas.Right {
				lastZeroRow = j - offset + height - width - 1
			}
			if lastZeroRow >= 0 {
				boundary := min(lastZeroRow+1, height)
				numZero := m.localRowsBelow(boundary)
				for il := 0; il < numZero; il++ {
					m.local.Set(il, jl, 0)
				}
			}
		} else {
			firstZeroRow := max(j-offset+1, 0)
			if side == blas.Right {
				firstZeroRow = max(j-offset+height-width+1, 0)
			}
			for il := m.localRowsBelow(firstZeroRow); il < lh; il++ {
				m.local.Set(il, jl, 0)
			}
		}
	}
}

// ScaleTrapezoidal scales every entry inside the trapezoid by alpha; the
// mirror of MakeTrapezoidal.
func (m *DistMatrix[T]) ScaleTrapezoidal(alpha T, side blas.Side, uplo blas.Uplo, offset int) {
	m.checkMutable()
	height, width := m.height, m.width
	lh, lw := m.LocalHeight(), m.LocalWidth()
	for jl := 0; jl < lw; jl++ {
		j := globalIndexFor(jl, m.colShift, m.ColStride(), m.desc.Col)
		if uplo == blas.Upper {
			lastRow := j - offset
			if side == blas.Right {
				lastRow = j - offset + height - width
			}
			boundary := min(lastRow+1, height)
			for il := 0; il < m.localRowsBelow(boundary); il++ {
				m.local.Set(il, jl, alpha*m.local.Get(il, jl))
			}
		} else {
			firstRow := max(j-offset, 0)
			if side == blas.Right {
				firstRow = max(j-offset+height-width, 0)
			}
			for il := m.localRowsBelow(firstRow); il < lh; il++ {
				m.local.Set(il, jl, alpha*m.local.Get(il, jl))
			}
		}
	}
}

// localRowsBelow counts the local rows with global index < boundary.
func (m *DistMatrix[T]) localRowsBelow(boundary int) int {
	if m.desc.Row == Star {
		return min(max(boundary, 0), m.LocalHeight())
	}
	return Length(boundary, m.rowShift, m.RowStride())
}

// SumOverRow replaces the local panel with the element-wise sum of the panels
// of every process in the caller's process row. Meaningful when the column
// dimension is redundant over the row (e.g. partial contributions in a [MC,*]
// matrix).
func (m *DistMatrix[T]) SumOverRow() { m.sumOver(m.g.RowComm()) }

// SumOverCol is SumOverRow along the caller's process column.
func (m *DistMatrix[T]) SumOverCol() { m.sumOver(m.g.ColComm()) }

// SumOverGrid sums the local panels of every process of the grid.
func (m *DistMatrix[T]) SumOverGrid() { m.sumOver(m.g.VCComm()) }

func (m *DistMatrix[T]) sumOver(c comm.Comm) {
	m.checkMutable()
	lh, lw := m.LocalHeight(), m.LocalWidth()
	size := lh * lw
	buf := m.aux.require(2 * size)
	defer m.aux.release()
	sendBuf, recvBuf := buf[:size], buf[size:]
	m.packLocal(sendBuf)
	comm.AllReduceSum(c, sendBuf, recvBuf)
	m.unpackLocal(recvBuf)
}

// packLocal copies the local panel into a densely packed column-major buffer.
func (m *DistMatrix[T]) packLocal(dst []T) {
	lh, lw := m.LocalHeight(), m.LocalWidth()
	data, ld := m.local.LockedData(), m.local.LDim()
	for jl := 0; jl < lw; jl++ {
		copy(dst[jl*lh:(jl+1)*lh], data[jl*ld:jl*ld+lh])
	}
}

// unpackLocal copies a densely packed column-major buffer into the local panel.
func (m *DistMatrix[T]) unpackLocal(src []T) {
	lh, lw := m.LocalHeight(), m.LocalWidth()
	data, ld := m.local.Data(), m.local.LDim()
	for jl := 0; jl < lw; jl++ {
		copy(data[jl*ld:jl*ld+lh], src[jl*lh:(jl+1)*lh])
	}
}
