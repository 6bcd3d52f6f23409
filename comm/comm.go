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

// Package comm abstracts the collective-communication transport the distributed
// matrices are built on.
//
// A Comm is a communicator: an ordered group of processes that exchange messages
// and enter collectives together. Every operation is blocking and reliable, and
// messages between a fixed (sender, receiver) pair on a given communicator are
// delivered in the order sent. A process that fails to enter a collective the
// others entered leaves them blocked: this is a cooperative contract enforced by
// program correctness, not by the transport (see the package-level Run helper,
// which aborts the whole in-process job once any rank panics).
//
// The typed collectives (Broadcast, AllGather, AllToAll, ...) are package-level
// generic functions layered over the two untyped point-to-point primitives of the
// Comm interface, so an out-of-process transport only has to provide Send/Recv
// and Split.
package comm

import (
	"slices"

	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
)

// Comm is a communicator handle. Implementations must deliver messages between a
// fixed pair of ranks in order, without loss or corruption.
type Comm interface {
	// Rank of the calling process within this communicator, in [0, Size).
	Rank() int

	// Size is the number of processes in this communicator.
	Size() int

	// Split partitions the communicator into disjoint sub-communicators, one per
	// distinct color; within each, ranks are ordered by (key, parent rank).
	// Collective: every member of the communicator must call it.
	Split(color, key int) Comm

	// Send delivers payload to the given rank. Blocking, but implementations may
	// buffer; pairwise ordering is guaranteed.
	Send(to, tag int, payload any)

	// Recv returns the next payload from the given rank. The message's tag must
	// match the expected tag; a mismatch is a protocol error and panics.
	Recv(from, tag int) any
}

// Tags used by the typed collectives. A tag mismatch on Recv means two ranks
// entered different collectives, which is unrecoverable.
const (
	tagPoint = iota
	tagSendRecv
	tagBcast
	tagGather
	tagAllToAll
	tagReduce
)

// Send a typed slice to rank `to`. The payload is cloned, so the caller may reuse
// buf immediately.
func Send[T any](c Comm, buf []T, to int) {
	c.Send(to, tagPoint, slices.Clone(buf))
}

// Recv the next typed slice from rank `from` into buf. The incoming message must
// hold at least len(buf) elements.
func Recv[T any](c Comm, buf []T, from int) {
	copyPayload(c.Recv(from, tagPoint), buf, "Recv")
}

// SendRecv performs the paired exchange: send goes to rank `to` while recv is
// filled from rank `from`. Both slices may alias distinct buffers of the caller;
// to == from == Rank() degenerates to a local copy.
func SendRecv[T any](c Comm, send []T, to int, recv []T, from int) {
	if to == c.Rank() && from == c.Rank() {
		copy(recv, send)
		return
	}
	c.Send(to, tagSendRecv, slices.Clone(send))
	copyPayload(c.Recv(from, tagSendRecv), recv, "SendRecv")
}

// Broadcast buf from root to every rank of the communicator. On the root, buf is
// the input; everywhere else it is overwritten.
func Broadcast[T any](c Comm, buf []T, root int) {
	if c.Size() == 1 {
		return
	}
	if c.Rank() == root {
		payload := slices.Clone(buf)
		for k := 0; k < c.Size(); k++ {
			if k != root {
				c.Send(k, tagBcast, payload)
			}
		}
		return
	}
	copyPayload(c.Recv(root, tagBcast), buf, "Broadcast")
}

// AllGather concatenates every rank's send slice into recv, ordered by rank:
// recv[k*len(send):(k+1)*len(send)] holds rank k's contribution. recv must have
// Size()*len(send) elements.
func AllGather[T any](c Comm, send, recv []T) {
	n := len(send)
	if len(recv) < c.Size()*n {
		exceptions.Panicf("comm.AllGather: receive buffer holds %d elements, need %d", len(recv), c.Size()*n)
	}
	payload := slices.Clone(send)
	for k := 0; k < c.Size(); k++ {
		if k != c.Rank() {
			c.Send(k, tagGather, payload)
		}
	}
	copy(recv[c.Rank()*n:], send)
	for k := 0; k < c.Size(); k++ {
		if k != c.Rank() {
			copyPayload(c.Recv(k, tagGather), recv[k*n:(k+1)*n], "AllGather")
		}
	}
}

// AllToAll scatters send and gathers recv simultaneously: the slice
// send[k*n:(k+1)*n] goes to rank k, and recv[k*n:(k+1)*n] arrives from rank k,
// with n = len(send)/Size().
func AllToAll[T any](c Comm, send, recv []T) {
	p := c.Size()
	if len(send)%p != 0 || len(recv) < len(send) {
		exceptions.Panicf("comm.AllToAll: nonconforming buffers (send=%d, recv=%d, size=%d)", len(send), len(recv), p)
	}
	n := len(send) / p
	for k := 0; k < p; k++ {
		if k != c.Rank() {
			c.Send(k, tagAllToAll, slices.Clone(send[k*n:(k+1)*n]))
		}
	}
	copy(recv[c.Rank()*n:(c.Rank()+1)*n], send[c.Rank()*n:(c.Rank()+1)*n])
	for k := 0; k < p; k++ {
		if k != c.Rank() {
			copyPayload(c.Recv(k, tagAllToAll), recv[k*n:(k+1)*n], "AllToAll")
		}
	}
}

// AllReduceSum sums the send slices of all ranks element-wise into recv on every
// rank.
func AllReduceSum[T scalars.Scalar](c Comm, send, recv []T) {
	ReduceSum(c, send, recv, 0)
	Broadcast(c, recv, 0)
}

// ReduceSum sums the send slices of all ranks element-wise into recv on root.
// recv is left untouched on the other ranks.
func ReduceSum[T scalars.Scalar](c Comm, send, recv []T, root int) {
	if c.Rank() != root {
		c.Send(root, tagReduce, slices.Clone(send))
		return
	}
	copy(recv, send)
	scratch := make([]T, len(send))
	for k := 0; k < c.Size(); k++ {
		if k == root {
			continue
		}
		copyPayload(c.Recv(k, tagReduce), scratch, "ReduceSum")
		for i := range recv {
			recv[i] += scratch[i]
		}
	}
}

// Barrier blocks until every rank of the communicator has entered it.
func Barrier(c Comm) {
	scratch := make([]int8, c.Size())
	AllGather(c, scratch[:1], scratch)
}

func copyPayload[T any](payload any, dst []T, op string) {
	src, ok := payload.([]T)
	if !ok {
		exceptions.Panicf("comm.%s: payload type %T does not match receive buffer type %T", op, payload, dst)
	}
	if len(src) < len(dst) {
		exceptions.Panicf("comm.%s: payload holds %d elements, receive buffer wants %d", op, len(src), len(dst))
	}
	copy(dst, src)
}
