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

// Package grid models the logical 2D arrangement of processes every distributed
// matrix lives on: height×width processes, identified by a (row, col) coordinate,
// with derived communicators spanning the caller's process row, process column,
// the whole grid in column-major and row-major rank order, and the caller's
// diagonal path.
//
// Construction is collective: every rank of the communicator must call the same
// constructor with the same shape. A Grid is immutable once constructed, and all
// matrices referencing it must be released before it is; that lifetime obligation
// is on the caller.
package grid

import (
	"fmt"

	"github.com/distla/distla/comm"
	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
	"github.com/google/uuid"
	"k8s.io/klog/v2"
)

// Grid is an immutable height×width process grid over a communicator.
//
// Rank ordering conventions: the construction communicator's ranks are taken to
// be column-major over the grid, so rank = row + col*height ("VC" order). The
// row-major ("VR") rank of a process is row*width + col.
type Grid struct {
	id            uuid.UUID
	height, width int
	row, col      int

	vcComm  comm.Comm // whole grid, column-major rank order (the construction comm)
	vrComm  comm.Comm // whole grid, row-major rank order
	rowComm comm.Comm // the processes of my process row (size = width)
	colComm comm.Comm // the processes of my process column (size = height)
	mdComm  comm.Comm // the processes of my diagonal path (size = LCM(height, width))

	gcd, lcm      int
	diagPaths     []int // per VC rank
	diagPathRanks []int // per VC rank
}

// New builds a grid over all processes of c, choosing the height as the largest
// factor of Size not exceeding √Size (near-square). Collective.
func New(c comm.Comm) *Grid {
	p := c.Size()
	height := 1
	for h := 1; h*h <= p; h++ {
		if p%h == 0 {
			height = h
		}
	}
	return NewShaped(c, height, p/height)
}

// NewShaped builds a grid with the explicit shape height×width, which must
// factor the communicator size exactly. Collective.
func NewShaped(c comm.Comm, height, width int) *Grid {
	if height <= 0 || width <= 0 || height*width != c.Size() {
		exceptions.Panicf("grid.NewShaped: %d x %d grid does not match communicator of %d processes",
			height, width, c.Size())
	}
	g := &Grid{
		height: height,
		width:  width,
		row:    c.Rank() % height,
		col:    c.Rank() / height,
		vcComm: c,
		gcd:    scalars.GCD(height, width),
	}
	g.lcm = height * width / g.gcd

	// The grid identity is minted on rank 0 and shared, so every rank's handle to
	// the same logical grid compares equal.
	if c.Rank() == 0 {
		g.id = uuid.New()
	}
	idBytes := g.id[:]
	comm.Broadcast(c, idBytes, 0)

	g.buildDiagTables()
	g.vrComm = c.Split(0, g.row*width+g.col)
	g.rowComm = c.Split(g.row, g.col)
	g.colComm = c.Split(g.col, g.row)
	g.mdComm = c.Split(g.DiagPath(), g.DiagPathRank())

	klog.V(1).Infof("grid: rank %d is (%d,%d) on %d x %d grid %s", c.Rank(), g.row, g.col, height, width, g.id)
	return g
}

// buildDiagTables walks each wrapped diagonal of the grid, assigning every
// process a diagonal path in [0, GCD) and a rank along that path in [0, LCM).
func (g *Grid) buildDiagTables() {
	g.diagPaths = make([]int, g.Size())
	g.diagPathRanks = make([]int, g.Size())
	for d := 0; d < g.gcd; d++ {
		for k := 0; k < g.lcm; k++ {
			row := k % g.height
			col := (d + k) % g.width
			vc := row + col*g.height
			g.diagPaths[vc] = d
			g.diagPathRanks[vc] = k
		}
	}
}

// ID is the job-wide identity token of this grid. Two Grid values handle the
// same logical grid exactly when their IDs are equal.
func (g *Grid) ID() uuid.UUID { return g.id }

// Is reports whether other handles the same logical grid.
func (g *Grid) Is(other *Grid) bool { return other != nil && g.id == other.id }

// Height is the number of process rows.
func (g *Grid) Height() int { return g.height }

// Width is the number of process columns.
func (g *Grid) Width() int { return g.width }

// Size is the total number of processes, Height()*Width().
func (g *Grid) Size() int { return g.height * g.width }

// Row is the calling process's grid row.
func (g *Grid) Row() int { return g.row }

// Col is the calling process's grid column.
func (g *Grid) Col() int { return g.col }

// VCRank is the calling process's rank in column-major grid order.
func (g *Grid) VCRank() int { return g.row + g.col*g.height }

// VRRank is the calling process's rank in row-major grid order.
func (g *Grid) VRRank() int { return g.row*g.width + g.col }

// VCComm spans the whole grid in column-major rank order.
func (g *Grid) VCComm() comm.Comm { return g.vcComm }

// VRComm spans the whole grid in row-major rank order.
func (g *Grid) VRComm() comm.Comm { return g.vrComm }

// RowComm spans the processes of the caller's process row; its rank is Col().
func (g *Grid) RowComm() comm.Comm { return g.rowComm }

// ColComm spans the processes of the caller's process column; its rank is Row().
func (g *Grid) ColComm() comm.Comm { return g.colComm }

// MDComm spans the processes of the caller's diagonal path; its rank is
// DiagPathRank().
func (g *Grid) MDComm() comm.Comm { return g.mdComm }

// GCD of the grid height and width: the number of distinct diagonal paths.
func (g *Grid) GCD() int { return g.gcd }

// LCM of the grid height and width: the number of processes on each diagonal
// path, and the stride of the diagonal distribution.
func (g *Grid) LCM() int { return g.lcm }

// DiagPath is the caller's diagonal path.
func (g *Grid) DiagPath() int { return g.diagPaths[g.VCRank()] }

// DiagPathRank is the caller's rank along its diagonal path.
func (g *Grid) DiagPathRank() int { return g.diagPathRanks[g.VCRank()] }

// DiagPathOf returns the diagonal path of the process with the given VC rank.
func (g *Grid) DiagPathOf(vcRank int) int { return g.diagPaths[vcRank] }

// DiagPathRankOf returns the diagonal-path rank of the process with the given VC
// rank.
func (g *Grid) DiagPathRankOf(vcRank int) int { return g.diagPathRanks[vcRank] }

// VCRankOfDiag returns the column-major rank of the process at the given rank
// along the given diagonal path.
func (g *Grid) VCRankOfDiag(path, pathRank int) int {
	row := pathRank % g.height
	col := (path + pathRank) % g.width
	return row + col*g.height
}

// VCRankOf returns the column-major rank of grid coordinate (row, col).
func (g *Grid) VCRankOf(row, col int) int { return row + col*g.height }

// VRRankOf returns the row-major rank of the process with the given VC rank.
func (g *Grid) VRRankOf(vcRank int) int {
	return (vcRank%g.height)*g.width + vcRank/g.height
}

// String implements fmt.Stringer.
func (g *Grid) String() string {
	return fmt.Sprintf("Grid{%dx%d, id=%s}", g.height, g.width, g.id)
}
