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
	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// The redistribution engine. CopyFrom converts a matrix between any two
// implemented distribution pairs by composing five primitive exchange patterns,
// looked up in data-driven tables keyed by the (source, destination) descriptor
// pair:
//
//   - select: the destination's indices are a subset of what the source already
//     holds locally; a strided local copy, no communication.
//   - gather: one dimension coarsens (e.g. [MC,MR] to [MC,*]); pack, AllGather
//     over the communicator spanning the old owners, unpack.
//   - permute: same index sets under a different rank ordering (VC vs VR); a
//     single pairwise SendRecv.
//   - alltoall: one dimension refines while the other coarsens in step (e.g.
//     [MC,MR] to [VC,*]); an AllToAll over the process row or column.
//   - sumBcast: diagonal to fully replicated; pack into a zeroed full-size
//     buffer and AllReduceSum.
//
// Pairs with no single primitive follow a fixed chain of intermediate
// distributions from the chains table ([MR,*] from [MC,MR] walks [VC,*] then
// [VR,*]); for a single-column matrix the chain degenerates to the classic
// vector protocol (strided local pack, one SendRecv, small AllGather), so
// vectors need no separate path. A final ring-shift SendRecv repairs the
// alignment whenever the destination's fixed alignment differs from the one the
// chain produced. Descriptor pairs absent from every table are not implemented
// and panic; so do all diagonal (MD) conversions except [*,*] round trips.

type pair struct{ src, dst Descriptor }

// commOf returns the communicator spanning the processes that differ only in
// their coordinate of the given kind.
func commOf(g *grid.Grid, d Dist) comm.Comm {
	switch d {
	case MC:
		return g.ColComm()
	case MR:
		return g.RowComm()
	case VC:
		return g.VCComm()
	case VR:
		return g.VRComm()
	case MD:
		return g.MDComm()
	}
	exceptions.Panicf("dist: kind %v has no owner communicator", d)
	return nil
}

// gatherSpec describes a one-dimension coarsening. peerCoord maps a rank of the
// gather communicator to its coordinate in the source kind's ownership space.
type gatherSpec struct {
	onCols    bool // which dimension coarsens
	comm      func(*grid.Grid) comm.Comm
	peerCoord func(*grid.Grid, int) int
}

func identityCoord(_ *grid.Grid, k int) int   { return k }
func vcCoordOfCol(g *grid.Grid, k int) int    { return g.Row() + k*g.Height() }
func vrCoordOfRow(g *grid.Grid, k int) int    { return k*g.Width() + g.Col() }
func rowCommOf(g *grid.Grid) comm.Comm        { return g.RowComm() }
func colCommOf(g *grid.Grid) comm.Comm        { return g.ColComm() }
func vcCommOf(g *grid.Grid) comm.Comm         { return g.VCComm() }
func vrCommOf(g *grid.Grid) comm.Comm         { return g.VRComm() }

var gathers = map[pair]gatherSpec{
	// Row dimension coarsens.
	{MCMR, StarMR}:     {false, colCommOf, identityCoord},
	{MCStar, StarStar}: {false, colCommOf, identityCoord},
	{MRMC, StarMC}:     {false, rowCommOf, identityCoord},
	{MRStar, StarStar}: {false, rowCommOf, identityCoord},
	{VCStar, StarStar}: {false, vcCommOf, identityCoord},
	{VRStar, StarStar}: {false, vrCommOf, identityCoord},
	{VCStar, MCStar}:   {false, rowCommOf, vcCoordOfCol},
	{VRStar, MRStar}:   {false, colCommOf, vrCoordOfRow},
	// Column dimension coarsens.
	{MCMR, MCStar}:     {true, rowCommOf, identityCoord},
	{StarMR, StarStar}: {true, rowCommOf, identityCoord},
	{MRMC, MRStar}:     {true, colCommOf, identityCoord},
	{StarMC, StarStar}: {true, colCommOf, identityCoord},
	{StarVC, StarStar}: {true, vcCommOf, identityCoord},
	{StarVR, StarStar}: {true, vrCommOf, identityCoord},
	{StarVC, StarMC}:   {true, rowCommOf, vcCoordOfCol},
	{StarVR, StarMR}:   {true, colCommOf, vrCoordOfRow},
}

var permutes = map[pair]bool{ // value: permuted dimension is the column one
	{VCStar, VRStar}: false,
	{VRStar, VCStar}: false,
	{StarVC, StarVR}: true,
	{StarVR, StarVC}: true,
}

// a2aSpec describes the paired refine/coarsen exchange between a 2D
// distribution and a 1D one. fineCoord maps a rank of the exchange communicator
// to its coordinate in the fine (VC or VR) space, coarseCoord to its coordinate
// in the space of the dimension that is replicated on the fine side.
type a2aSpec struct {
	fine, coarse Descriptor
	fineOnCols   bool // which dimension of the fine side carries VC/VR
	comm         func(*grid.Grid) comm.Comm
	fineCoord    func(*grid.Grid, int) int
	coarseCoord  func(*grid.Grid, int) int
}

var a2aFamilies = []a2aSpec{
	{VCStar, MCMR, false, rowCommOf, vcCoordOfCol, identityCoord},
	{VRStar, MRMC, false, colCommOf, vrCoordOfRow, identityCoord},
	{StarVR, MCMR, true, colCommOf, vrCoordOfRow, identityCoord},
	{StarVC, MRMC, true, rowCommOf, vcCoordOfCol, identityCoord},
}

func a2aFor(src, dst Descriptor) (a2aSpec, bool, bool) {
	for _, s := range a2aFamilies {
		if src == s.coarse && dst == s.fine {
			return s, true, true
		}
		if src == s.fine && dst == s.coarse {
			return s, false, true
		}
	}
	return a2aSpec{}, false, false
}

// selectOK reports whether dst is reachable from src by a purely local copy:
// per dimension, the destination kind must keep or refine the source's
// ownership (identical, replicated source, or the MC to VC / MR to VR
// refinements).
func selectOK(src, dst Descriptor) bool {
	if src == dst {
		return false
	}
	ok := func(s, d Dist) bool {
		return s == d || s == Star || (s == MC && d == VC) || (s == MR && d == VR)
	}
	return ok(src.Row, dst.Row) && ok(src.Col, dst.Col)
}

// chains lists the fixed intermediate distributions for every implemented pair
// that no single primitive covers.
var chains = map[pair][]Descriptor{
	{MCMR, MRMC}:   {VCStar, VRStar, MRStar},
	{MCMR, MRStar}: {VCStar, VRStar},
	{MCMR, StarMC}: {StarVR, StarVC},
	{MCMR, VRStar}: {VCStar},
	{MCMR, StarVC}: {StarVR},
	{MCMR, StarStar}: {MCStar},

	{MRMC, MCMR}:   {VRStar, VCStar, MCStar},
	{MRMC, MCStar}: {VRStar, VCStar},
	{MRMC, StarMR}: {StarVC, StarVR},
	{MRMC, VCStar}: {VRStar},
	{MRMC, StarVR}: {StarVC},
	{MRMC, StarStar}: {MRStar},

	{MCStar, MRMC}:   {VCStar, VRStar, MRStar},
	{MCStar, MRStar}: {VCStar, VRStar},
	{MCStar, StarMR}: {MCMR},
	{MCStar, StarMC}: {MCMR, StarVR, StarVC},
	{MCStar, VRStar}: {VCStar},
	{MCStar, StarVC}: {MCMR, StarVR},
	{MCStar, StarVR}: {MCMR},

	{StarMR, MRMC}:   {StarVR, StarVC, StarMC},
	{StarMR, StarMC}: {StarVR, StarVC},
	{StarMR, MRStar}: {MCMR, VCStar, VRStar},
	{StarMR, MCStar}: {MCMR, VCStar},
	{StarMR, VCStar}: {MCMR},
	{StarMR, VRStar}: {MCMR, VCStar},
	{StarMR, StarVC}: {StarVR},

	{MRStar, MCMR}:   {VRStar, VCStar, MCStar},
	{MRStar, MCStar}: {VRStar, VCStar},
	{MRStar, StarMC}: {MRMC},
	{MRStar, StarMR}: {MRMC, StarVC, StarVR},
	{MRStar, VCStar}: {VRStar},
	{MRStar, StarVR}: {MRMC, StarVC},
	{MRStar, StarVC}: {MRMC},

	{StarMC, MCMR}:   {StarVC, StarVR, StarMR},
	{StarMC, StarMR}: {StarVC, StarVR},
	{StarMC, MCStar}: {MRMC, VRStar, VCStar},
	{StarMC, MRStar}: {MRMC},
	{StarMC, VRStar}: {MRMC},
	{StarMC, VCStar}: {MRMC, VRStar},
	{StarMC, StarVR}: {StarVC},

	{VCStar, MRMC}:   {VRStar},
	{VCStar, MRStar}: {VRStar},
	{VCStar, StarMR}: {MCMR},
	{VCStar, StarMC}: {VRStar, MRMC},
	{VCStar, StarVC}: {MCMR, StarVR},
	{VCStar, StarVR}: {MCMR},

	{VRStar, MCMR}:   {VCStar},
	{VRStar, MCStar}: {VCStar},
	{VRStar, StarMC}: {MRMC},
	{VRStar, StarMR}: {VCStar, MCMR},
	{VRStar, StarVR}: {MRMC, StarVC},
	{VRStar, StarVC}: {MRMC},

	{StarVC, MCMR}:   {StarVR},
	{StarVC, StarMR}: {StarVR},
	{StarVC, MCStar}: {StarVR, MCMR},
	{StarVC, MRStar}: {MRMC},
	{StarVC, VCStar}: {MRMC, VRStar},
	{StarVC, VRStar}: {MRMC},

	{StarVR, MRMC}:   {StarVC},
	{StarVR, StarMC}: {StarVC},
	{StarVR, MRStar}: {StarVC, MRMC},
	{StarVR, MCStar}: {MCMR},
	{StarVR, VRStar}: {MCMR, VCStar},
	{StarVR, VCStar}: {MCMR},
}

// CopyFrom redistributes src's contents into m, converting between the two
// distributions with the minimal primitive or chain from the strategy tables.
// Collective over the grid. The global shape of m becomes src's; a view must
// already conform. Unconstrained alignments of m are adopted from src where the
// kinds are compatible; constrained ones are honored with a final realignment
// exchange.
func (m *DistMatrix[T]) CopyFrom(src *DistMatrix[T]) {
	m.checkSameGrid(src.g)
	if m == src {
		return
	}
	if m.locked {
		exceptions.Panicf("dist.CopyFrom: cannot write into a locked view")
	}
	if m.viewing {
		if m.height != src.height || m.width != src.width {
			exceptions.Panicf("dist.CopyFrom: view is %d x %d, source is %d x %d",
				m.height, m.width, src.height, src.width)
		}
	} else {
		m.adoptAlignment(src)
		m.ResizeTo(src.height, src.width)
	}
	if klog.V(2).Enabled() {
		klog.Infof("dist: redistributing %d x %d %s -> %s", src.height, src.width, src.desc, m.desc)
	}

	switch {
	case m.desc == src.desc:
		if (m.desc.Row == MD || m.desc.Col == MD) && m.diagPath != src.diagPath {
			m.unsupported(src)
		}
		m.realignFrom(src)
		return
	case src.desc == StarStar:
		// A fully replicated source satisfies any destination directly.
		m.selectFrom(src)
		return
	case m.desc.Row == MD || m.desc.Col == MD || src.desc.Row == MD || src.desc.Col == MD:
		if (src.desc == MDStar || src.desc == StarMD) && m.desc == StarStar {
			m.sumBcastFrom(src)
			return
		}
		m.unsupported(src)
	}

	key := pair{src.desc, m.desc}
	if _, multi := chains[key]; !multi && !m.singleStep(key) {
		m.unsupported(src)
	}

	cur := src
	for _, d := range chains[key] {
		tmp := New[T](m.g, d)
		tmp.adoptAlignment(cur)
		tmp.ResizeTo(src.height, src.width)
		tmp.step(cur)
		cur = tmp
	}

	// Last hop: straight into m when its alignment matches what the hop
	// produces, otherwise through a temporary plus a realignment exchange.
	// A permute builds the alignment delta into its partner choice, so it
	// always lands directly.
	if _, isPermute := permutes[pair{cur.desc, m.desc}]; isPermute {
		m.step(cur)
		return
	}
	carriedRow, carriedCol := carriedAlign(m, cur)
	if carriedRow == m.rowAlign && carriedCol == m.colAlign {
		m.step(cur)
		return
	}
	tmp := New[T](m.g, m.desc)
	tmp.rowAlign, tmp.colAlign = carriedRow, carriedCol
	tmp.setShifts()
	tmp.ResizeTo(src.height, src.width)
	tmp.step(cur)
	m.realignFrom(tmp)
}

func (m *DistMatrix[T]) singleStep(key pair) bool {
	if selectOK(key.src, key.dst) {
		return true
	}
	if _, ok := gathers[key]; ok {
		return true
	}
	if _, ok := permutes[key]; ok {
		return true
	}
	_, _, ok := a2aFor(key.src, key.dst)
	return ok
}

// step executes the single primitive converting src's descriptor to m's,
// assuming compatible alignments (except permute, which absorbs any).
func (m *DistMatrix[T]) step(src *DistMatrix[T]) {
	key := pair{src.desc, m.desc}
	switch {
	case selectOK(key.src, key.dst):
		m.selectFrom(src)
	default:
		if spec, ok := gathers[key]; ok {
			m.gatherFrom(src, spec)
			return
		}
		if onCols, ok := permutes[key]; ok {
			m.permuteFrom(src, onCols)
			return
		}
		if spec, toFine, ok := a2aFor(key.src, key.dst); ok {
			m.allToAllFrom(src, spec, toFine)
			return
		}
		m.unsupported(src)
	}
}

func (m *DistMatrix[T]) unsupported(src *DistMatrix[T]) {
	exceptions.Panicf("dist: redistribution %s -> %s is not yet supported", src.desc, m.desc)
}

// adoptAlignment derives m's unconstrained alignments from src. Only valid
// while m holds no live data; CopyFrom resizes right after.
func (m *DistMatrix[T]) adoptAlignment(src *DistMatrix[T]) {
	if !m.rowConstrained && m.desc.Row != Star {
		m.rowAlign = m.alignAgainstLoose(m.desc.Row, src.desc, src.rowAlign, src.colAlign)
	}
	if !m.colConstrained && m.desc.Col != Star {
		m.colAlign = m.alignAgainstLoose(m.desc.Col, src.desc, src.rowAlign, src.colAlign)
	}
	if m.desc.Row == MD || m.desc.Col == MD {
		m.diagPath = src.diagPath
	}
	m.setShifts()
}

// alignAgainst is AlignWith's per-dimension rule, tolerating incompatible
// sources: those contribute alignment 0.
func (m *DistMatrix[T]) alignAgainstLoose(kind Dist, od Descriptor, rowAlign, colAlign int) int {
	if a, ok := alignMap(m.g, kind, od.Row, rowAlign); ok {
		return a
	}
	if a, ok := alignMap(m.g, kind, od.Col, colAlign); ok {
		return a
	}
	return 0
}

// carriedAlign is the alignment a hop into m's descriptor naturally produces
// from cur: the mapped alignment where the kinds are compatible, m's own where
// the source dimension is replicated (a select reads any alignment off a
// replicated dimension), zero otherwise.
func carriedAlign[T scalars.Scalar](m, cur *DistMatrix[T]) (int, int) {
	one := func(kind Dist, curKind Dist, curAlign, want int) int {
		if kind == Star {
			return 0
		}
		if a, ok := alignMap(m.g, kind, curKind, curAlign); ok {
			return a
		}
		if curKind == Star {
			return want
		}
		return 0
	}
	row := one(m.desc.Row, cur.desc.Row, cur.rowAlign, m.rowAlign)
	col := one(m.desc.Col, cur.desc.Col, cur.colAlign, m.colAlign)
	return row, col
}
