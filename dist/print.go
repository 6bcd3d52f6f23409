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
	"io"

	"github.com/distla/distla/comm"
)

// Print writes the full matrix to w on the root process (grid rank 0), one row
// per line, preceded by the label and followed by a blank line. Collective: the
// entries are summed up to the root from whoever owns them, with replicated
// copies contributing once.
func (m *DistMatrix[T]) Print(w io.Writer, label string) {
	g := m.g
	n := m.height * m.width
	buf := m.aux.require(2 * n)
	defer m.aux.release()
	send, recv := buf[:n], buf[n:]

	contribute := m.participates()
	if rc := m.redundantComm(); rc != nil && rc.Rank() != 0 {
		contribute = false
	}
	if contribute {
		sdata, sld := m.local.LockedData(), m.local.LDim()
		for jl := 0; jl < m.LocalWidth(); jl++ {
			j := globalIndexFor(jl, m.colShift, m.ColStride(), m.desc.Col)
			for il := 0; il < m.LocalHeight(); il++ {
				i := globalIndexFor(il, m.rowShift, m.RowStride(), m.desc.Row)
				send[i+j*m.height] = sdata[il+jl*sld]
			}
		}
	}
	comm.ReduceSum(g.VCComm(), send, recv, 0)

	if g.VCRank() == 0 {
		if label != "" {
			fmt.Fprintln(w, label)
		}
		for i := 0; i < m.height; i++ {
			for j := 0; j < m.width; j++ {
				if j > 0 {
					fmt.Fprint(w, " ")
				}
				fmt.Fprintf(w, "%v", recv[i+j*m.height])
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}
	comm.Barrier(g.VCComm())
}
