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

// Package matrix implements the process-local storage of a distributed matrix: a
// densely packed, column-major buffer with an explicit leading dimension, plus
// non-owning views into slices of a parent buffer.
//
// A Matrix either owns its buffer outright or is a view aliasing a parent's
// storage; a locked view additionally refuses every mutating operation. A view
// must not outlive its parent, and resizing a parent invalidates its views; both
// obligations are on the caller.
package matrix

import (
	"github.com/distla/distla/types/scalars"
	"github.com/gomlx/exceptions"
)

// Matrix is a local column-major height×width buffer of elements of type T.
// Entry (i, j) lives at data[i + j*ld].
type Matrix[T scalars.Scalar] struct {
	height, width, ld int
	data              []T
	viewing, locked   bool
}

// New returns an owned, zeroed height×width matrix.
func New[T scalars.Scalar](height, width int) *Matrix[T] {
	m := &Matrix[T]{}
	m.Resize(height, width)
	return m
}

// Height of the matrix.
func (m *Matrix[T]) Height() int { return m.height }

// Width of the matrix.
func (m *Matrix[T]) Width() int { return m.width }

// LDim is the leading dimension of the column-major buffer, ≥ max(Height, 1).
func (m *Matrix[T]) LDim() int { return m.ld }

// Viewing reports whether the matrix aliases a parent's storage.
func (m *Matrix[T]) Viewing() bool { return m.viewing }

// Locked reports whether the matrix is a read-only view.
func (m *Matrix[T]) Locked() bool { return m.locked }

// Resize reallocates the matrix to height×width, zeroed. No data is preserved;
// redistribution and algorithms repopulate the buffer themselves. Views cannot
// be resized.
func (m *Matrix[T]) Resize(height, width int) {
	if m.viewing {
		exceptions.Panicf("matrix.Resize: cannot resize a view")
	}
	if height < 0 || width < 0 {
		exceptions.Panicf("matrix.Resize: dimensions must be non-negative, got %d x %d", height, width)
	}
	ld := max(height, 1)
	need := ld * width
	if cap(m.data) >= need {
		m.data = m.data[:need]
		clear(m.data)
	} else {
		m.data = make([]T, need)
	}
	m.height, m.width, m.ld = height, width, ld
}

// Get returns entry (i, j).
func (m *Matrix[T]) Get(i, j int) T {
	m.boundsCheck(i, j)
	return m.data[i+j*m.ld]
}

// Set stores v at entry (i, j).
func (m *Matrix[T]) Set(i, j int, v T) {
	m.boundsCheck(i, j)
	m.lockedCheck("Set")
	m.data[i+j*m.ld] = v
}

// Update adds v to entry (i, j).
func (m *Matrix[T]) Update(i, j int, v T) {
	m.boundsCheck(i, j)
	m.lockedCheck("Update")
	m.data[i+j*m.ld] += v
}

// Data exposes the mutable column-major buffer. Panics on locked views.
func (m *Matrix[T]) Data() []T {
	m.lockedCheck("Data")
	return m.data
}

// LockedData exposes the column-major buffer read-only; callers must not write
// through it.
func (m *Matrix[T]) LockedData() []T { return m.data }

// Zero clears every entry, leaving the shape unchanged.
func (m *Matrix[T]) Zero() {
	m.lockedCheck("Zero")
	for j := 0; j < m.width; j++ {
		clear(m.data[j*m.ld : j*m.ld+m.height])
	}
}

// View returns a mutable window into parent covering rows [i, i+height) and
// columns [j, j+width). The window aliases the parent's storage: writes through
// either are visible to both.
func View[T scalars.Scalar](parent *Matrix[T], i, j, height, width int) *Matrix[T] {
	if parent.locked {
		exceptions.Panicf("matrix.View: cannot take a mutable view of a locked view")
	}
	return view(parent, i, j, height, width, false)
}

// LockedView is the read-only counterpart of View; every mutating operation on
// the result panics.
func LockedView[T scalars.Scalar](parent *Matrix[T], i, j, height, width int) *Matrix[T] {
	return view(parent, i, j, height, width, true)
}

func view[T scalars.Scalar](parent *Matrix[T], i, j, height, width int, locked bool) *Matrix[T] {
	if i < 0 || j < 0 || height < 0 || width < 0 ||
		i+height > parent.height || j+width > parent.width {
		exceptions.Panicf("matrix view [%d:%d, %d:%d] out of bounds of %d x %d parent",
			i, i+height, j, j+width, parent.height, parent.width)
	}
	m := &Matrix[T]{
		height:  height,
		width:   width,
		ld:      parent.ld,
		viewing: true,
		locked:  locked,
	}
	if width == 0 && height == 0 {
		return m
	}
	lo := i + j*parent.ld
	hi := lo + max(height, 1) + (max(width, 1)-1)*parent.ld
	if hi > len(parent.data) {
		hi = len(parent.data)
	}
	if lo > hi {
		lo = hi
	}
	m.data = parent.data[lo:hi]
	return m
}

func (m *Matrix[T]) boundsCheck(i, j int) {
	if i < 0 || i >= m.height || j < 0 || j >= m.width {
		exceptions.Panicf("matrix: entry (%d,%d) out of bounds of %d x %d matrix", i, j, m.height, m.width)
	}
}

func (m *Matrix[T]) lockedCheck(op string) {
	if m.locked {
		exceptions.Panicf("matrix.%s: cannot mutate a locked view", op)
	}
}
