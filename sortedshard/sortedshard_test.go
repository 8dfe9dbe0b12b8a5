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

package sortedshard

import (
	"testing"

	"github.com/latticeds/dynashard/buffer"
)

type intRec int

func (r intRec) Less(other intRec) bool  { return r < other }
func (r intRec) Equal(other intRec) bool { return r == other }

func TestBuildFromViewSortsAndCounts(t *testing.T) {
	b := buffer.New[intRec](2, 8, nil)
	for _, v := range []intRec{5, 1, 3, 2, 4} {
		b.Append(v, false)
	}
	view := b.View()
	defer view.Release()

	s := BuildFromView[intRec](view)
	if s.RecordCount() != 5 {
		t.Fatalf("expected 5 records, got %d", s.RecordCount())
	}
	for i := 0; i < 5; i++ {
		env, ok := s.GetAt(i)
		if !ok || int(env.Rec) != i+1 {
			t.Fatalf("expected sorted record %d at index %d, got %v", i+1, i, env.Rec)
		}
	}
}

func TestBuildFromViewCancelsTombstones(t *testing.T) {
	b := buffer.New[intRec](2, 8, nil)
	b.Append(intRec(1), false)
	b.Append(intRec(2), false)
	b.Append(intRec(1), true) // tombstone cancels the live record(1)

	view := b.View()
	defer view.Release()
	s := BuildFromView[intRec](view)

	if s.RecordCount() != 1 {
		t.Fatalf("expected cancellation to leave 1 record, got %d", s.RecordCount())
	}
	env, ok := s.GetAt(0)
	if !ok || int(env.Rec) != 2 {
		t.Fatalf("expected surviving record 2, got %v", env.Rec)
	}
}

func TestBuildFromShardsMerges(t *testing.T) {
	mk := func(vals ...intRec) *Shard[intRec] {
		b := buffer.New[intRec](1, 8, nil)
		for _, v := range vals {
			b.Append(v, false)
		}
		view := b.View()
		defer view.Release()
		return BuildFromView[intRec](view)
	}
	merged := BuildFromShards[intRec]([]*Shard[intRec]{mk(1, 3, 5), mk(2, 4)})
	if merged.RecordCount() != 5 {
		t.Fatalf("expected 5 merged records, got %d", merged.RecordCount())
	}
	for i := 0; i < 5; i++ {
		env, _ := merged.GetAt(i)
		if int(env.Rec) != i+1 {
			t.Fatalf("expected merged record %d at index %d, got %v", i+1, i, env.Rec)
		}
	}
}

func TestPointLookupAndBounds(t *testing.T) {
	b := buffer.New[intRec](1, 8, nil)
	for _, v := range []intRec{10, 20, 30} {
		b.Append(v, false)
	}
	view := b.View()
	defer view.Release()
	s := BuildFromView[intRec](view)

	if _, ok := s.PointLookup(intRec(20), false); !ok {
		t.Fatalf("expected to find 20")
	}
	if _, ok := s.PointLookup(intRec(25), false); ok {
		t.Fatalf("did not expect to find 25")
	}
	if lo := s.LowerBound(intRec(20)); lo != 1 {
		t.Fatalf("expected lower_bound(20) == 1, got %d", lo)
	}
	if hi := s.UpperBound(intRec(20)); hi != 2 {
		t.Fatalf("expected upper_bound(20) == 2, got %d", hi)
	}
}

func TestTagDeleted(t *testing.T) {
	b := buffer.New[intRec](1, 8, nil)
	b.Append(intRec(1), false)
	view := b.View()
	defer view.Release()
	s := BuildFromView[intRec](view)

	if !s.TagDeleted(intRec(1)) {
		t.Fatalf("expected TagDeleted to find record 1")
	}
	env, _ := s.GetAt(0)
	if env.Live() {
		t.Fatalf("expected record to be tagged deleted")
	}
	if s.TagDeleted(intRec(1)) {
		t.Fatalf("a second TagDeleted should find no further live match")
	}
}
