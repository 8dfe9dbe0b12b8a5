// Copyright 2026 The dynashard Authors
// This file is part of the dynashard library.
//
// The dynashard library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The dynashard library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the dynashard library. If not, see <http://www.gnu.org/licenses/>.

// Package epoch implements the immutable, reference-counted snapshot that
// binds one extension-structure version to one buffer-tail position.
// Liveness is tracked by a counted reference rather than a boolean
// staleness flag, since multiple structure versions can share the same
// underlying shards simultaneously: an epoch retires only once nothing is
// still reading it.
package epoch

import "sync/atomic"

// ID is a strictly monotonically increasing epoch identifier. The zero
// value is never issued by Counter.Next.
type ID uint64

// Counter generates strictly increasing epoch IDs.
type Counter struct{ next uint64 }

func (c *Counter) Next() ID {
	return ID(atomic.AddUint64(&c.next, 1))
}

// Structure is the narrow view epoch needs of an extension structure: a
// snapshottable, reference-counted thing that knows how to release the
// shards it owns. extent.Structure satisfies this.
type Structure interface {
	Release()
}

// Epoch binds a structure version to the buffer position it was created
// at. It owns no records of its own. Refcount tracks live jobs (queries
// plus the scheduler's own hold on "current" and "next"); retirement
// happens only once the count reaches zero.
type Epoch[S Structure] struct {
	id                   ID
	structure            S
	bufferHeadAtCreation uint64
	refcount             int64
}

// New creates an epoch in the "populating" or "ready" state depending on
// the caller's usage -- the façade is responsible for the epoch state
// machine; Epoch itself only tracks identity, payload, and liveness.
func New[S Structure](id ID, structure S, bufferHeadAtCreation uint64) *Epoch[S] {
	return &Epoch[S]{id: id, structure: structure, bufferHeadAtCreation: bufferHeadAtCreation, refcount: 1}
}

func (e *Epoch[S]) ID() ID                        { return e.id }
func (e *Epoch[S]) Structure() S                  { return e.structure }
func (e *Epoch[S]) BufferHeadAtCreation() uint64  { return e.bufferHeadAtCreation }

// Acquire increments the refcount. Called whenever a new reader (a query
// job, or another façade operation pinning the active epoch) begins
// depending on this epoch; moving an epoch between the façade's slots does
// not acquire it.
func (e *Epoch[S]) Acquire() {
	atomic.AddInt64(&e.refcount, 1)
}

// Release decrements the refcount and reports whether it reached zero, in
// which case the caller must retire the epoch (release its structure,
// which in turn releases any shard now unreachable from any live epoch).
func (e *Epoch[S]) Release() bool {
	return atomic.AddInt64(&e.refcount, -1) == 0
}

// Retire releases the underlying structure. Must only be called once the
// refcount has reached zero; calling it earlier would free shards a live
// reader still expects to see.
func (e *Epoch[S]) Retire() {
	e.structure.Release()
}

func (e *Epoch[S]) RefCount() int64 {
	return atomic.LoadInt64(&e.refcount)
}
