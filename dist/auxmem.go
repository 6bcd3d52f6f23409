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
	"unsafe"

	"github.com/distla/distla/types/scalars"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// auxMemory is the per-matrix scratch buffer the redistribution protocols pack
// and unpack through. It grows monotonically and is reused across calls, so a
// blocked algorithm redistributing the same panels repeatedly allocates only on
// its first iteration.
//
// Acquisition is scoped: require returns the buffer, and release (normally
// deferred) returns it to the pool. Requiring it twice without releasing means
// two protocols are interleaved on one matrix, which the single-threaded
// control flow forbids.
type auxMemory[T scalars.Scalar] struct {
	buf   []T
	inUse bool
}

func (a *auxMemory[T]) require(n int) []T {
	if a.inUse {
		exceptions.Panicf("dist: auxiliary buffer required while already in use")
	}
	if cap(a.buf) < n {
		var elem T
		klog.V(2).Infof("dist: growing auxiliary buffer to %s",
			humanize.IBytes(uint64(n)*uint64(unsafe.Sizeof(elem))))
		a.buf = make([]T, n)
	}
	a.inUse = true
	buf := a.buf[:n]
	clear(buf)
	return buf
}

func (a *auxMemory[T]) release() {
	a.inUse = false
}
