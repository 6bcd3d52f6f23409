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
	"github.com/distla/distla/comm"
	"github.com/distla/distla/grid"
)

// The primitive exchange patterns the engine composes. Each assumes m has
// already been resized to src's global shape and that the alignments are the
// ones the orchestration carried; everything below is pure shift arithmetic
// over the (align, shift, stride) triples of both operands.

func mod(a, n int) int { return ((a % n) + n) % n }

// vcRankOfCoord resolves a coordinate of a 1D distribution kind to the grid's
// column-major rank.
func vcRankOfCoord(g *grid.Grid, kind Dist, coord int) int {
	if kind == VR {
		return coord/g.Width() + (coord%g.Width())*g.Height()
	}
	return coord
}

// selectFrom copies the locally available subset: every index m owns is already
// in src's local storage. No communication.
func (m *DistMatrix[T]) selectFrom(src *DistMatrix[T]) {
	if !m.participates() {
		return
	}
	lh, lw := m.LocalHeight(), m.LocalWidth()
	if lh == 0 || lw == 0 {
		return
	}
	sdata, sld := src.local.LockedData(), src.local.LDim()
	ddata, dld := m.local.Data(), m.local.LDim()
	sameRows := m.desc.Row == src.desc.Row && m.rowShift == src.rowShift
	for jl := 0; jl < lw; jl++ {
		j := globalIndexFor(jl, m.colShift, m.ColStride(), m.desc.Col)
		sj := localIndexFor(j, src.colShift, src.ColStride(), src.desc.Col)
		if sameRows {
			copy(ddata[jl*dld:jl*dld+lh], sdata[sj*sld:sj*sld+lh])
			continue
		}
		for il := 0; il < lh; il++ {
			i := globalIndexFor(il, m.rowShift, m.RowStride(), m.desc.Row)
			si := localIndexFor(i, src.rowShift, src.RowStride(), src.desc.Row)
			ddata[il+jl*dld] = sdata[si+sj*sld]
		}
	}
}

// gatherFrom coarsens one dimension: every member of the gather communicator
// contributes its portion and unpacks everyone's.
func (m *DistMatrix[T]) gatherFrom(src *DistMatrix[T], spec gatherSpec) {
	g := m.g
	c := spec.comm(g)
	q := c.Size()
	var portion int
	if spec.onCols {
		portion = src.LocalHeight() * MaxLength(m.width, src.ColStride())
	} else {
		portion = MaxLength(m.height, src.RowStride()) * src.LocalWidth()
	}
	portion = max(portion, 1)
	buf := m.aux.require(portion * (q + 1))
	defer m.aux.release()
	send, recv := buf[:portion], buf[portion:]

	sdata, sld := src.local.LockedData(), src.local.LDim()
	slh, slw := src.LocalHeight(), src.LocalWidth()
	for jl := 0; jl < slw; jl++ {
		copy(send[jl*slh:jl*slh+slh], sdata[jl*sld:jl*sld+slh])
	}
	comm.AllGather(c, send, recv)

	ddata, dld := m.local.Data(), m.local.LDim()
	if spec.onCols {
		stride := src.ColStride()
		for k := 0; k < q; k++ {
			shift := Shift(spec.peerCoord(g, k), src.colAlign, stride)
			nk := Length(m.width, shift, stride)
			piece := recv[k*portion:]
			for t := 0; t < nk; t++ {
				jl := localIndexFor(shift+t*stride, m.colShift, m.ColStride(), m.desc.Col)
				copy(ddata[jl*dld:jl*dld+slh], piece[t*slh:t*slh+slh])
			}
		}
		return
	}
	stride := src.RowStride()
	for k := 0; k < q; k++ {
		shift := Shift(spec.peerCoord(g, k), src.rowAlign, stride)
		nk := Length(m.height, shift, stride)
		piece := recv[k*portion:]
		for jl := 0; jl < slw; jl++ {
			for t := 0; t < nk; t++ {
				il := localIndexFor(shift+t*stride, m.rowShift, m.RowStride(), m.desc.Row)
				ddata[il+jl*dld] = piece[t+jl*nk]
			}
		}
	}
}

// permuteFrom converts between the VC and VR orderings of one dimension: the
// index sets per process are full residue classes either way, so each process
// swaps its whole portion with exactly one partner.
func (m *DistMatrix[T]) permuteFrom(src *DistMatrix[T], onCols bool) {
	g := m.g
	c := g.VCComm()
	p := c.Size()
	var srcKind, dstKind Dist
	var srcAlign, dstAlign int
	if onCols {
		srcKind, dstKind = src.desc.Col, m.desc.Col
		srcAlign, dstAlign = src.colAlign, m.colAlign
	} else {
		srcKind, dstKind = src.desc.Row, m.desc.Row
		srcAlign, dstAlign = src.rowAlign, m.rowAlign
	}
	sendTo := vcRankOfCoord(g, dstKind, mod(CoordOf(g, srcKind)-srcAlign+dstAlign, p))
	recvFrom := vcRankOfCoord(g, srcKind, mod(CoordOf(g, dstKind)-dstAlign+srcAlign, p))

	slh, slw := src.LocalHeight(), src.LocalWidth()
	dlh, dlw := m.LocalHeight(), m.LocalWidth()
	buf := m.aux.require(slh*slw + dlh*dlw)
	defer m.aux.release()
	send, recv := buf[:slh*slw], buf[slh*slw:]
	src.packLocal(send)
	comm.SendRecv(c, send, sendTo, recv, recvFrom)
	m.unpackLocal(recv)
}

// allToAllFrom converts between a 2D distribution and the 1D one refining it:
// one dimension's stride grows from the grid height or width to the grid size
// while the other collapses to replication, exchanged in one AllToAll over the
// process row or column.
func (m *DistMatrix[T]) allToAllFrom(src *DistMatrix[T], spec a2aSpec, toFine bool) {
	g := m.g
	c := spec.comm(g)
	q := c.Size()
	fine, coarse := m, src
	if !toFine {
		fine, coarse = src, m
	}
	var fineStride, coarseStride int
	if spec.fineOnCols {
		fineStride = fine.ColStride()
		coarseStride = coarse.RowStride()
	} else {
		fineStride = fine.RowStride()
		coarseStride = coarse.ColStride()
	}
	var portion int
	if spec.fineOnCols {
		portion = MaxLength(m.height, coarseStride) * MaxLength(m.width, fineStride)
	} else {
		portion = MaxLength(m.height, fineStride) * MaxLength(m.width, coarseStride)
	}
	portion = max(portion, 1)
	buf := m.aux.require(2 * portion * q)
	defer m.aux.release()
	send, recv := buf[:portion*q], buf[portion*q:]

	sdata, sld := src.local.LockedData(), src.local.LDim()
	ddata, dld := m.local.Data(), m.local.LDim()

	switch {
	case toFine && !spec.fineOnCols:
		// Rows refine: piece for peer k holds its fine rows across my columns.
		slw := src.LocalWidth()
		for k := 0; k < q; k++ {
			rshift := Shift(spec.fineCoord(g, k), fine.rowAlign, fineStride)
			nr := Length(m.height, rshift, fineStride)
			piece := send[k*portion:]
			for jl := 0; jl < slw; jl++ {
				for t := 0; t < nr; t++ {
					il := LocalIndex(rshift+t*fineStride, src.rowShift, src.RowStride())
					piece[t+jl*nr] = sdata[il+jl*sld]
				}
			}
		}
		comm.AllToAll(c, send, recv)
		nr := m.LocalHeight()
		for k := 0; k < q; k++ {
			cshift := Shift(spec.coarseCoord(g, k), coarse.colAlign, coarseStride)
			nc := Length(m.width, cshift, coarseStride)
			piece := recv[k*portion:]
			for u := 0; u < nc; u++ {
				jl := cshift + u*coarseStride // fine column dimension is replicated
				copy(ddata[jl*dld:jl*dld+nr], piece[u*nr:u*nr+nr])
			}
		}

	case !toFine && !spec.fineOnCols:
		// Rows coarsen back: piece for peer k holds my fine rows across its columns.
		slh := src.LocalHeight()
		for k := 0; k < q; k++ {
			cshift := Shift(spec.coarseCoord(g, k), coarse.colAlign, coarseStride)
			nc := Length(m.width, cshift, coarseStride)
			piece := send[k*portion:]
			for u := 0; u < nc; u++ {
				j := cshift + u*coarseStride
				copy(piece[u*slh:u*slh+slh], sdata[j*sld:j*sld+slh])
			}
		}
		comm.AllToAll(c, send, recv)
		dlw := m.LocalWidth()
		for k := 0; k < q; k++ {
			rshift := Shift(spec.fineCoord(g, k), fine.rowAlign, fineStride)
			nr := Length(m.height, rshift, fineStride)
			piece := recv[k*portion:]
			for u := 0; u < dlw; u++ {
				for t := 0; t < nr; t++ {
					il := LocalIndex(rshift+t*fineStride, m.rowShift, m.RowStride())
					ddata[il+u*dld] = piece[t+u*nr]
				}
			}
		}

	case toFine && spec.fineOnCols:
		// Columns refine: piece for peer k holds its fine columns across my rows.
		slh := src.LocalHeight()
		for k := 0; k < q; k++ {
			cshift := Shift(spec.fineCoord(g, k), fine.colAlign, fineStride)
			nc := Length(m.width, cshift, fineStride)
			piece := send[k*portion:]
			for u := 0; u < nc; u++ {
				jl := LocalIndex(cshift+u*fineStride, src.colShift, src.ColStride())
				copy(piece[u*slh:u*slh+slh], sdata[jl*sld:jl*sld+slh])
			}
		}
		comm.AllToAll(c, send, recv)
		dlw := m.LocalWidth()
		for k := 0; k < q; k++ {
			rshift := Shift(spec.coarseCoord(g, k), coarse.rowAlign, coarseStride)
			nr := Length(m.height, rshift, coarseStride)
			piece := recv[k*portion:]
			for u := 0; u < dlw; u++ {
				for t := 0; t < nr; t++ {
					i := rshift + t*coarseStride // fine row dimension is replicated
					ddata[i+u*dld] = piece[t+u*nr]
				}
			}
		}

	default:
		// Columns coarsen back: piece for peer k holds my fine columns across
		// its rows.
		slw := src.LocalWidth()
		for k := 0; k < q; k++ {
			rshift := Shift(spec.coarseCoord(g, k), coarse.rowAlign, coarseStride)
			nr := Length(m.height, rshift, coarseStride)
			piece := send[k*portion:]
			for u := 0; u < slw; u++ {
				for t := 0; t < nr; t++ {
					i := rshift + t*coarseStride
					piece[t+u*nr] = sdata[i+u*sld]
				}
			}
		}
		comm.AllToAll(c, send, recv)
		dlh := m.LocalHeight()
		for k := 0; k < q; k++ {
			cshift := Shift(spec.fineCoord(g, k), fine.colAlign, fineStride)
			nc := Length(m.width, cshift, fineStride)
			piece := recv[k*portion:]
			for u := 0; u < nc; u++ {
				jl := LocalIndex(cshift+u*fineStride, m.colShift, m.ColStride())
				copy(ddata[jl*dld:jl*dld+dlh], piece[u*dlh:u*dlh+dlh])
			}
		}
	}
}

// realignFrom copies between two matrices of the same distribution whose
// alignments may differ: each process swaps its whole panel with the one
// partner whose destination shift matches its source shift.
func (m *DistMatrix[T]) realignFrom(src *DistMatrix[T]) {
	if !m.participates() {
		return
	}
	if m.rowAlign == src.rowAlign && m.colAlign == src.colAlign {
		lh := m.LocalHeight()
		sdata, sld := src.local.LockedData(), src.local.LDim()
		ddata, dld := m.local.Data(), m.local.LDim()
		for jl := 0; jl < m.LocalWidth(); jl++ {
			copy(ddata[jl*dld:jl*dld+lh], sdata[jl*sld:jl*sld+lh])
		}
		return
	}

	g := m.g
	rowCoord := CoordOf(g, m.desc.Row)
	colCoord := CoordOf(g, m.desc.Col)
	rs, cs := m.RowStride(), m.ColStride()
	sendTo := m.partnerRank(
		mod(rowCoord-src.rowAlign+m.rowAlign, rs),
		mod(colCoord-src.colAlign+m.colAlign, cs))
	recvFrom := m.partnerRank(
		mod(rowCoord-m.rowAlign+src.rowAlign, rs),
		mod(colCoord-m.colAlign+src.colAlign, cs))

	slh, slw := src.LocalHeight(), src.LocalWidth()
	dlh, dlw := m.LocalHeight(), m.LocalWidth()
	buf := m.aux.require(slh*slw + dlh*dlw)
	defer m.aux.release()
	send, recv := buf[:slh*slw], buf[slh*slw:]
	src.packLocal(send)
	comm.SendRecv(g.VCComm(), send, sendTo, recv, recvFrom)
	m.unpackLocal(recv)
}

// partnerRank resolves per-dimension coordinates to the grid's column-major
// rank, taking the caller's own coordinate for replicated dimensions.
func (m *DistMatrix[T]) partnerRank(rowCoord, colCoord int) int {
	g := m.g
	row, col := g.Row(), g.Col()
	resolve := func(kind Dist, coord int) (int, bool) {
		switch kind {
		case MC:
			row = coord
		case MR:
			col = coord
		case VC, VR:
			return vcRankOfCoord(g, kind, coord), true
		case MD:
			return g.VCRankOfDiag(m.diagPath, coord), true
		}
		return 0, false
	}
	if r, done := resolve(m.desc.Row, rowCoord); done {
		return r
	}
	if r, done := resolve(m.desc.Col, colCoord); done {
		return r
	}
	return g.VCRankOf(row, col)
}

// sumBcastFrom fully replicates a diagonal matrix: the path members scatter
// their entries into a zeroed full-size buffer and the grid sums.
func (m *DistMatrix[T]) sumBcastFrom(src *DistMatrix[T]) {
	n := m.height * m.width
	buf := m.aux.require(2 * n)
	defer m.aux.release()
	send, recv := buf[:n], buf[n:]
	if src.participates() {
		sdata, sld := src.local.LockedData(), src.local.LDim()
		for jl := 0; jl < src.LocalWidth(); jl++ {
			j := globalIndexFor(jl, src.colShift, src.ColStride(), src.desc.Col)
			for il := 0; il < src.LocalHeight(); il++ {
				i := globalIndexFor(il, src.rowShift, src.RowStride(), src.desc.Row)
				send[i+j*m.height] = sdata[il+jl*sld]
			}
		}
	}
	comm.AllReduceSum(m.g.VCComm(), send, recv)
	m.unpackLocal(recv)
}
