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
	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
)

// TransposeFrom sets m to the transpose of src, fusing the transposition into
// the redistribution's pack loop instead of materializing an intermediate.
//
// Two pairs are implemented, the ones the distributed rank-k kernels need: a
// [*,MR] destination from a [VR,*] source (one AllGather over the process
// column) and the mirrored [*,MC] from [VC,*] (over the process row). Other
// pairs panic as not yet supported.
func (m *DistMatrix[T]) TransposeFrom(src *DistMatrix[T]) { m.transposeFrom(src, false) }

// AdjointFrom is TransposeFrom with conjugation folded into the pack loop.
func (m *DistMatrix[T]) AdjointFrom(src *DistMatrix[T]) { m.transposeFrom(src, true) }

func (m *DistMatrix[T]) transposeFrom(src *DistMatrix[T], conjugate bool) {
	m.checkSameGrid(src.g)
	if m.locked {
		exceptions.Panicf("dist.TransposeFrom: cannot write into a locked view")
	}
	var c comm.Comm
	var peerCoord func(int) int
	g := m.g
	switch {
	case m.desc == StarMR && src.desc == VRStar:
		c = g.ColComm()
		peerCoord = func(k int) int { return k*g.Width() + g.Col() }
	case m.desc == StarMC && src.desc == VCStar:
		c = g.RowComm()
		peerCoord = func(k int) int { return g.Row() + k*g.Height() }
	default:
		exceptions.Panicf("dist: transposed redistribution %s -> %s is not yet supported", src.desc, m.desc)
	}

	if m.viewing {
		if m.height != src.width || m.width != src.height {
			exceptions.Panicf("dist.TransposeFrom: view is %d x %d, transposed source is %d x %d",
				m.height, m.width, src.width, src.height)
		}
	} else {
		if !m.colConstrained {
			m.colAlign = src.rowAlign % m.ColStride()
		}
		m.setShifts()
		m.ResizeTo(src.width, src.height)
	}
	if src.rowAlign%m.ColStride() != m.colAlign {
		exceptions.Panicf("dist.TransposeFrom: destination column alignment %d incompatible with source row alignment %d",
			m.colAlign, src.rowAlign)
	}

	srcStride := src.RowStride()
	lh := m.LocalHeight() // = src global width
	portion := max(lh*MaxLength(src.height, srcStride), 1)
	q := c.Size()
	buf := m.aux.require(portion * (q + 1))
	defer m.aux.release()
	send, recv := buf[:portion], buf[portion:]

	// Pack my source portion transposed: source row t becomes a destination
	// column of length lh.
	sdata, sld := src.local.LockedData(), src.local.LDim()
	for t := 0; t < src.LocalHeight(); t++ {
		for s := 0; s < src.LocalWidth(); s++ {
			v := sdata[t+s*sld]
			if conjugate {
				v = scalars.Conj(v)
			}
			send[s+t*lh] = v
		}
	}
	comm.AllGather(c, send, recv)

	ddata, dld := m.local.Data(), m.local.LDim()
	for k := 0; k < q; k++ {
		shift := Shift(peerCoord(k), src.rowAlign, srcStride)
		nk := Length(src.height, shift, srcStride)
		piece := recv[k*portion:]
		for t := 0; t < nk; t++ {
			jl := LocalIndex(shift+t*srcStride, m.colShift, m.ColStride())
			copy(ddata[jl*dld:jl*dld+lh], piece[t*lh:t*lh+lh])
		}
	}
}
