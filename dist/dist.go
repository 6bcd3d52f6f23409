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

// Package dist implements the data-distribution layer of the library: the
// distribution descriptors that encode how a logical m×n matrix is partitioned
// across a process grid, the DistMatrix abstraction composing a descriptor with
// process-local storage, and the redistribution engine converting matrices
// between layouts with collective communication.
//
// # Distributions
//
// Each matrix dimension is distributed independently, by one of six kinds:
//
//   - Star: replicated, every process stores every index.
//   - MC: round-robin over the grid's process rows (stride = grid height).
//   - MR: round-robin over the grid's process columns (stride = grid width).
//   - VC: round-robin over all processes in column-major rank order.
//   - VR: round-robin over all processes in row-major rank order.
//   - MD: round-robin over the processes of one diagonal path (stride = LCM of
//     the grid shape); processes off the path store nothing.
//
// A Descriptor pairs the kind of the row-index dimension with the kind of the
// column-index dimension, written the way the literature does: [MC,MR] is the
// standard 2D block-cyclic layout, [MC,*] keeps rows distributed and replicates
// columns, [*,*] is fully replicated.
//
// # Alignment
//
// The alignment of a distributed dimension is the coordinate owning global
// index 0; the shift is the first global index the calling process owns. The
// whole ownership algebra is three one-liners, shared by everything in this
// package: Shift, Length and Owner.
package dist

import (
	"fmt"

	"github.com/distla/distla/grid"
	"github.com/gomlx/exceptions"
)

// Dist enumerates the distribution kinds of a single matrix dimension.
type Dist int8

const (
	// Star replicates the dimension on every process.
	Star Dist = iota
	// MC distributes over grid rows.
	MC
	// MR distributes over grid columns.
	MR
	// VC distributes over all processes, column-major rank order.
	VC
	// VR distributes over all processes, row-major rank order.
	VR
	// MD distributes over the processes of one diagonal path.
	MD
)

// String implements fmt.Stringer, using the conventional short names.
func (d Dist) String() string {
	switch d {
	case Star:
		return "*"
	case MC:
		return "MC"
	case MR:
		return "MR"
	case VC:
		return "VC"
	case VR:
		return "VR"
	case MD:
		return "MD"
	}
	return fmt.Sprintf("Dist(%d)", int8(d))
}

// Descriptor tags how the two dimensions of a matrix are distributed: Row is
// the kind of the row-index (height) dimension, Col of the column-index
// dimension.
type Descriptor struct {
	Row, Col Dist
}

// String prints the descriptor in the conventional [row,col] form.
func (d Descriptor) String() string { return fmt.Sprintf("[%s,%s]", d.Row, d.Col) }

// The descriptors the library names explicitly; any pair of kinds is a valid
// Descriptor value, these are the ones the redistribution engine routes.
var (
	MCMR     = Descriptor{MC, MR}
	MRMC     = Descriptor{MR, MC}
	MCStar   = Descriptor{MC, Star}
	StarMR   = Descriptor{Star, MR}
	MRStar   = Descriptor{MR, Star}
	StarMC   = Descriptor{Star, MC}
	VCStar   = Descriptor{VC, Star}
	StarVC   = Descriptor{Star, VC}
	VRStar   = Descriptor{VR, Star}
	StarVR   = Descriptor{Star, VR}
	StarStar = Descriptor{Star, Star}
	MDStar   = Descriptor{MD, Star}
	StarMD   = Descriptor{Star, MD}
)

// Shift returns the first global index owned by the process with the given
// coordinate, under the given alignment and stride.
func Shift(coord, align, stride int) int {
	return ((coord-align)%stride + stride) % stride
}

// Length returns how many of the global indices [0, n) the process with the
// given shift owns under the given stride: the size of {shift, shift+stride,
// ...} ∩ [0, n).
func Length(n, shift, stride int) int {
	if n <= shift {
		return 0
	}
	return (n - shift + stride - 1) / stride
}

// MaxLength is the largest Length over all shifts: the padded per-process
// portion size the communication buffers use.
func MaxLength(n, stride int) int {
	return Length(n, 0, stride)
}

// Owner returns the coordinate owning global index i.
func Owner(i, align, stride int) int {
	return (i + align) % stride
}

// LocalIndex translates an owned global index to its position in the local
// buffer. Calling it for an index the process does not own is a programming
// error; guard with Owner first.
func LocalIndex(i, shift, stride int) int {
	return (i - shift) / stride
}

// GlobalIndex translates a local buffer position back to the global index.
func GlobalIndex(iLocal, shift, stride int) int {
	return shift + iLocal*stride
}

// StrideOf returns the ownership stride of a distribution kind on the grid.
func StrideOf(g *grid.Grid, d Dist) int {
	switch d {
	case Star:
		return 1
	case MC:
		return g.Height()
	case MR:
		return g.Width()
	case VC, VR:
		return g.Size()
	case MD:
		return g.LCM()
	}
	exceptions.Panicf("dist.StrideOf: unknown distribution kind %v", d)
	return 0
}

// CoordOf returns the calling process's coordinate in a distribution kind's
// ownership space. For MD it is the caller's rank along its own diagonal path;
// whether the caller participates at all depends on the matrix's diagonal path.
func CoordOf(g *grid.Grid, d Dist) int {
	switch d {
	case Star:
		return 0
	case MC:
		return g.Row()
	case MR:
		return g.Col()
	case VC:
		return g.VCRank()
	case VR:
		return g.VRRank()
	case MD:
		return g.DiagPathRank()
	}
	exceptions.Panicf("dist.CoordOf: unknown distribution kind %v", d)
	return 0
}

// alignMap converts an alignment from a peer dimension's kind to ours, when the
// two kinds are compatible: identical kinds, or the coarse/fine pairs MC/VC and
// MR/VR (a VC alignment reduces to an MC alignment modulo the grid height, and
// an MC alignment is already a valid VC alignment, likewise MR/VR).
func alignMap(g *grid.Grid, to, from Dist, align int) (int, bool) {
	if to == from {
		return align, true
	}
	switch {
	case to == MC && from == VC:
		return align % g.Height(), true
	case to == VC && from == MC:
		return align, true
	case to == MR && from == VR:
		return align % g.Width(), true
	case to == VR && from == MR:
		return align, true
	}
	return 0, false
}
