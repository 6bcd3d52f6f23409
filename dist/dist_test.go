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
	"testing"

	"github.com/distla/distla/comm"
	"github.com/distla/distla/grid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runGrid executes body once per rank of an in-process world shaped into an
// explicit grid. Rank bodies assert (goroutine-safe); the test goroutine
// requires no error from the job.
func runGrid(t *testing.T, height, width int, body func(g *grid.Grid)) {
	t.Helper()
	require.NoError(t, comm.Run(height*width, func(c comm.Comm) {
		body(grid.NewShaped(c, height, width))
	}))
}

func TestShiftLengthOwnerAlgebra(t *testing.T) {
	for _, stride := range []int{1, 2, 3, 4, 6} {
		for align := 0; align < stride; align++ {
			for _, n := range []int{0, 1, 5, 7, 12} {
				total := 0
				for coord := 0; coord < stride; coord++ {
					shift := Shift(coord, align, stride)
					require.GreaterOrEqual(t, shift, 0)
					require.Less(t, shift, stride)
					total += Length(n, shift, stride)

					// Every index a coordinate owns maps back to it.
					for i := shift; i < n; i += stride {
						require.Equal(t, coord, Owner(i, align, stride))
						require.Equal(t, i, GlobalIndex(LocalIndex(i, shift, stride), shift, stride))
					}
				}
				// The coordinates partition [0, n).
				require.Equal(t, n, total, "stride=%d align=%d n=%d", stride, align, n)
			}
		}
	}
}

func TestMaxLengthDominates(t *testing.T) {
	for _, stride := range []int{1, 2, 3, 5} {
		for _, n := range []int{0, 1, 4, 9, 10} {
			maxLen := MaxLength(n, stride)
			for shift := 0; shift < stride; shift++ {
				require.LessOrEqual(t, Length(n, shift, stride), maxLen)
			}
		}
	}
}

func TestAlignmentZeroOwnsIndexZero(t *testing.T) {
	for align := 0; align < 4; align++ {
		require.Equal(t, align, Owner(0, align, 4))
		require.Equal(t, 0, Shift(align, align, 4))
	}
}

func TestDescriptorString(t *testing.T) {
	require.Equal(t, "[MC,MR]", MCMR.String())
	require.Equal(t, "[*,VR]", StarVR.String())
	require.Equal(t, "[MD,*]", MDStar.String())
}

func TestStrideAndCoordOf(t *testing.T) {
	runGrid(t, 2, 3, func(g *grid.Grid) {
		assert.Equal(t, 1, StrideOf(g, Star))
		assert.Equal(t, 2, StrideOf(g, MC))
		assert.Equal(t, 3, StrideOf(g, MR))
		assert.Equal(t, 6, StrideOf(g, VC))
		assert.Equal(t, 6, StrideOf(g, VR))
		assert.Equal(t, 6, StrideOf(g, MD)) // LCM(2,3)

		assert.Equal(t, 0, CoordOf(g, Star))
		assert.Equal(t, g.Row(), CoordOf(g, MC))
		assert.Equal(t, g.Col(), CoordOf(g, MR))
		assert.Equal(t, g.VCRank(), CoordOf(g, VC))
		assert.Equal(t, g.VRRank(), CoordOf(g, VR))
	})
}

func TestAlignMapCoarseFinePairs(t *testing.T) {
	runGrid(t, 2, 3, func(g *grid.Grid) {
		a, ok := alignMap(g, MC, VC, 5)
		assert.True(t, ok)
		assert.Equal(t, 1, a) // 5 mod height

		a, ok = alignMap(g, VC, MC, 1)
		assert.True(t, ok)
		assert.Equal(t, 1, a)

		a, ok = alignMap(g, MR, VR, 5)
		assert.True(t, ok)
		assert.Equal(t, 2, a) // 5 mod width

		_, ok = alignMap(g, MC, MR, 0)
		assert.False(t, ok)
		_, ok = alignMap(g, VC, VR, 0)
		assert.False(t, ok)
	})
}
