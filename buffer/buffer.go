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

// Package buffer implements the mutable buffer: the write front-end and
// smallest queryable level of the dynamization engine. The layout -- a
// contiguous slice addressed by monotonic head/tail counters, guarded by
// an RWMutex with a separate pin count gating head advancement -- gives a
// bounded window where a producer advances the tail and a consumer
// advances the head only once nobody still needs the old range.
package buffer

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/latticeds/dynashard/record"
)

// ErrSaturated is returned by Append when the buffer is at its high
// watermark and cannot accept another record.
var ErrSaturated = errors.New("dynashard/buffer: buffer saturated")

// Buffer is a fixed-capacity, lock-amortized append-only ring. R must
// satisfy record.Ordered so the buffer (and later, any View taken over it)
// can be scanned and merged by shards.
type Buffer[R record.Ordered[R]] struct {
	mu sync.RWMutex

	items []record.Envelope[R] // ring storage, length == hwm
	head  uint64               // oldest live logical position
	tail  uint64               // next free logical position

	hwm uint64
	lwm uint64

	tombstones uint64
	pins       int32 // count of outstanding BufferViews pinning head < their tail snapshot

	maxWeight   float64
	totalWeight float64
	weightOf    func(R) (float64, bool)
}

// New constructs a buffer with the given low and high watermarks.
// weightOf is optional; pass nil if R does not implement
// record.Weighted, or supply a function that type-asserts R to
// record.Weighted for weighted-sampling shards.
func New[R record.Ordered[R]](lwm, hwm uint64, weightOf func(R) (float64, bool)) *Buffer[R] {
	if hwm == 0 || lwm >= hwm {
		panic("dynashard/buffer: require 0 < lwm < hwm")
	}
	return &Buffer[R]{
		items:    make([]record.Envelope[R], hwm),
		hwm:      hwm,
		lwm:      lwm,
		weightOf: weightOf,
	}
}

// Append inserts rec, optionally as a tombstone, at the current tail. It
// succeeds iff the buffer is below its high watermark.
func (b *Buffer[R]) Append(rec R, isTombstone bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tail-b.head >= b.hwm {
		return ErrSaturated
	}
	env := record.New(rec)
	if isTombstone {
		env = record.NewTombstone(rec)
		b.tombstones++
	}
	b.items[b.tail%b.hwm] = env
	b.tail++

	if b.weightOf != nil {
		if w, ok := b.weightOf(rec); ok {
			b.totalWeight += w
			// maxWeight is a running maximum only, never decremented on
			// head advance: an acceptable over-approximation since it's
			// used only as a rejection bound by weighted samplers.
			if w > b.maxWeight {
				b.maxWeight = w
			}
		}
	}
	return nil
}

// View is a pinned snapshot of the buffer's [head, tail) range at the
// moment it was taken. Any number of views may coexist; while one lives,
// Buffer.AdvanceHead cannot move head past the view's Tail.
type View[R record.Ordered[R]] struct {
	buf  *Buffer[R]
	Head uint64
	Tail uint64
}

// View takes a snapshot of the current tail and pins it, preventing head
// from advancing past it until Release is called. pins is incremented
// before the lock is released so AdvanceHead, which takes the write lock
// and then checks pins, can never observe a view that has been
// snapshotted but not yet counted.
func (b *Buffer[R]) View() *View[R] {
	b.mu.RLock()
	v := &View[R]{buf: b, Head: b.head, Tail: b.tail}
	atomic.AddInt32(&b.pins, 1)
	b.mu.RUnlock()

	return v
}

// Release unpins the view. A view must be released exactly once.
func (v *View[R]) Release() {
	atomic.AddInt32(&v.buf.pins, -1)
}

// Len is the number of live records covered by the view.
func (v *View[R]) Len() int { return int(v.Tail - v.Head) }

// At returns the envelope at logical position head+i within the view.
func (v *View[R]) At(i int) record.Envelope[R] {
	pos := v.Head + uint64(i)
	v.buf.mu.RLock()
	defer v.buf.mu.RUnlock()
	return v.buf.items[pos%v.buf.hwm]
}

// All materializes the view's envelopes in insertion order. Shards call
// this from BuildFromView; it is O(view length).
func (v *View[R]) All() []record.Envelope[R] {
	out := make([]record.Envelope[R], v.Len())
	v.buf.mu.RLock()
	for i := range out {
		out[i] = v.buf.items[(v.Head+uint64(i))%v.buf.hwm]
	}
	v.buf.mu.RUnlock()
	return out
}

// PointLookup performs a linear scan of the view for an envelope whose
// record equals target, whatever its header (live, tombstone or tagged),
// returning the most recently inserted match (buffer scan order is
// newest-to-oldest so a fresher insert or tombstone shadows an older one).
func (v *View[R]) PointLookup(target R) (record.Envelope[R], bool) {
	v.buf.mu.RLock()
	defer v.buf.mu.RUnlock()
	for i := v.Tail; i > v.Head; i-- {
		e := v.buf.items[(i-1)%v.buf.hwm]
		if e.Rec.Equal(target) {
			return e, true
		}
	}
	return record.Envelope[R]{}, false
}

// TagDeleted sets the deleted bit on the oldest live envelope matching
// target, used by the tagging deletion policy's buffer-first erase path.
// Reports whether a match was tagged.
func (v *View[R]) TagDeleted(target R) bool {
	v.buf.mu.Lock()
	defer v.buf.mu.Unlock()
	for i := v.Head; i < v.Tail; i++ {
		idx := i % v.buf.hwm
		e := v.buf.items[idx]
		if e.Rec.Equal(target) && e.Live() {
			v.buf.items[idx] = e.WithDeleted()
			return true
		}
	}
	return false
}

// AdvanceHead is called by reconstruction after absorbing [old head,
// newHead). It fails rather than block the scheduler's worker if any view
// still pins a position below newHead.
func (b *Buffer[R]) AdvanceHead(newHead uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if newHead <= b.head || newHead > b.tail {
		return newHead == b.head
	}
	if atomic.LoadInt32(&b.pins) > 0 {
		return false
	}
	b.head = newHead
	return true
}

func (b *Buffer[R]) AtLowWatermark() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tail-b.head >= b.lwm
}

func (b *Buffer[R]) IsFull() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tail-b.head >= b.hwm
}

func (b *Buffer[R]) TombstoneCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tombstones
}

func (b *Buffer[R]) TotalWeight() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.totalWeight
}

func (b *Buffer[R]) MaxWeight() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxWeight
}

func (b *Buffer[R]) RecordCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tail - b.head
}

func (b *Buffer[R]) Capacity() uint64 { return b.hwm }

// Tail returns the current tail position, used by the façade to know
// where a reconstruction started so it can compute AdvanceHead's argument.
func (b *Buffer[R]) Tail() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tail
}
