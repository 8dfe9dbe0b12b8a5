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

package buffer

import (
	"testing"
)

type intRec int

func (r intRec) Less(other intRec) bool  { return r < other }
func (r intRec) Equal(other intRec) bool { return r == other }

func TestAppendAndSaturation(t *testing.T) {
	b := New[intRec](2, 4, nil)
	for i := 0; i < 4; i++ {
		if err := b.Append(intRec(i), false); err != nil {
			t.Fatalf("append %d: unexpected error %v", i, err)
		}
	}
	if err := b.Append(intRec(99), false); err != ErrSaturated {
		t.Fatalf("expected ErrSaturated at hwm, got %v", err)
	}
	if !b.IsFull() {
		t.Fatalf("expected buffer to report full")
	}
}

func TestViewPinsHead(t *testing.T) {
	b := New[intRec](2, 4, nil)
	b.Append(intRec(1), false)
	b.Append(intRec(2), false)

	v := b.View()
	if v.Len() != 2 {
		t.Fatalf("expected view length 2, got %d", v.Len())
	}
	if b.AdvanceHead(2) {
		t.Fatalf("advance_head should fail while a view pins the old head")
	}
	v.Release()
	if !b.AdvanceHead(2) {
		t.Fatalf("advance_head should succeed once the view is released")
	}
}

func TestPointLookupNewestWins(t *testing.T) {
	b := New[intRec](2, 4, nil)
	b.Append(intRec(7), false)
	b.Append(intRec(7), true) // tombstone for the same value

	v := b.View()
	defer v.Release()
	env, ok := v.PointLookup(intRec(7))
	if !ok {
		t.Fatalf("expected a match")
	}
	if !env.IsTombstone() {
		t.Fatalf("expected the newer (tombstone) entry to be returned")
	}
}

func TestTagDeleted(t *testing.T) {
	b := New[intRec](2, 4, nil)
	b.Append(intRec(1), false)

	v := b.View()
	if !v.TagDeleted(intRec(1)) {
		t.Fatalf("expected TagDeleted to find the live record")
	}
	if v.TagDeleted(intRec(1)) {
		t.Fatalf("a second TagDeleted should find no further live match")
	}
	v.Release()
}

func TestMaxWeightIsRunningMaximum(t *testing.T) {
	weightOf := func(r intRec) (float64, bool) { return float64(r), true }
	b := New[intRec](2, 4, weightOf)
	b.Append(intRec(3), false)
	b.Append(intRec(1), false)
	if got := b.MaxWeight(); got != 3 {
		t.Fatalf("expected max weight 3, got %v", got)
	}
	// maxWeight is never decremented, even once the record carrying it is
	// no longer live in [head, tail).
	b.AdvanceHead(1)
	if got := b.MaxWeight(); got != 3 {
		t.Fatalf("max weight should remain an over-approximation after AdvanceHead, got %v", got)
	}
}
