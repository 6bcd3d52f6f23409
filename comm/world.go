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

package comm

import (
	"sort"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// World is the in-process reference transport: p "processes", each a goroutine,
// connected by buffered channels. It implements the same blocking, pairwise
// FIFO semantics an MPI-style transport provides, which makes a whole
// distributed job runnable (and testable) inside one binary.
type World struct {
	size      int
	chans     [][]chan envelope // chans[from][to]
	abort     chan struct{}
	abortOnce sync.Once
}

type envelope struct {
	tag     int
	payload any
}

// Generous per-pair buffering so that "everyone sends, then everyone receives"
// collectives never cycle-block.
const pairBuffer = 1024

// NewWorld creates an in-process world of p ranks.
func NewWorld(p int) *World {
	if p <= 0 {
		exceptions.Panicf("comm.NewWorld: world size must be positive, got %d", p)
	}
	w := &World{
		size:  p,
		chans: make([][]chan envelope, p),
		abort: make(chan struct{}),
	}
	for from := range w.chans {
		w.chans[from] = make([]chan envelope, p)
		for to := range w.chans[from] {
			w.chans[from][to] = make(chan envelope, pairBuffer)
		}
	}
	klog.V(1).Infof("comm: created in-process world of %d ranks", p)
	return w
}

// Comm returns the communicator handle of the given rank, spanning the whole
// world. Each rank must use only its own handle.
func (w *World) Comm(rank int) Comm {
	if rank < 0 || rank >= w.size {
		exceptions.Panicf("comm.World.Comm: rank %d outside world of size %d", rank, w.size)
	}
	members := make([]int, w.size)
	for i := range members {
		members[i] = i
	}
	return &worldComm{w: w, members: members, rank: rank}
}

// Abort unblocks every rank stuck in a Send or Recv; they panic with a "job
// aborted" error. Called by Run once any rank fails, since mismatched collective
// call counts after a partial failure cannot be recovered in-band.
func (w *World) Abort() {
	w.abortOnce.Do(func() {
		klog.V(1).Info("comm: aborting in-process world")
		close(w.abort)
	})
}

// worldComm is a communicator over a subset of world ranks. members maps the
// communicator rank to the world rank; rank is the calling process's position.
type worldComm struct {
	w       *World
	members []int
	rank    int
}

func (c *worldComm) Rank() int { return c.rank }
func (c *worldComm) Size() int { return len(c.members) }

func (c *worldComm) Send(to, tag int, payload any) {
	if to < 0 || to >= len(c.members) {
		exceptions.Panicf("comm.Send: rank %d outside communicator of size %d", to, len(c.members))
	}
	select {
	case c.w.chans[c.members[c.rank]][c.members[to]] <- envelope{tag: tag, payload: payload}:
	case <-c.w.abort:
		exceptions.Panicf("comm.Send: job aborted")
	}
}

func (c *worldComm) Recv(from, tag int) any {
	if from < 0 || from >= len(c.members) {
		exceptions.Panicf("comm.Recv: rank %d outside communicator of size %d", from, len(c.members))
	}
	select {
	case env := <-c.w.chans[c.members[from]][c.members[c.rank]]:
		if env.tag != tag {
			exceptions.Panicf("comm.Recv: rank %d expected tag %d from rank %d, got %d: collective call mismatch",
				c.rank, tag, from, env.tag)
		}
		return env.payload
	case <-c.w.abort:
		exceptions.Panicf("comm.Recv: job aborted")
	}
	return nil
}

// Split gathers every member's (color, key) and deterministically builds the
// sub-communicator of the caller's color, ordered by (key, parent rank). No
// central coordination: the exchange itself is the rendezvous.
func (c *worldComm) Split(color, key int) Comm {
	pairs := make([]int, 2*len(c.members))
	AllGather(c, []int{color, key}, pairs)

	type member struct{ key, parentRank int }
	var group []member
	for k := 0; k < len(c.members); k++ {
		if pairs[2*k] == color {
			group = append(group, member{key: pairs[2*k+1], parentRank: k})
		}
	}
	sort.Slice(group, func(i, j int) bool {
		if group[i].key != group[j].key {
			return group[i].key < group[j].key
		}
		return group[i].parentRank < group[j].parentRank
	})

	sub := &worldComm{w: c.w, members: make([]int, len(group)), rank: -1}
	for i, m := range group {
		sub.members[i] = c.members[m.parentRank]
		if m.parentRank == c.rank {
			sub.rank = i
		}
	}
	return sub
}

// Run executes body once per rank of a fresh in-process world, one goroutine
// each, and waits for all of them. The first panic aborts the world and is
// returned as an error tagged with the failing rank; the "job aborted" panics it
// induces on the other ranks are discarded.
func Run(p int, body func(c Comm)) error {
	w := NewWorld(p)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for rank := 0; rank < p; rank++ {
		wg.Add(1)
		go func(rank int) {
			defer wg.Done()
			defer func() {
				exc := recover()
				if exc == nil {
					return
				}
				mu.Lock()
				if firstErr == nil {
					firstErr = errors.Errorf("rank %d: %v", rank, exc)
				}
				mu.Unlock()
				w.Abort()
			}()
			body(w.Comm(rank))
		}(rank)
	}
	wg.Wait()
	return firstErr
}
