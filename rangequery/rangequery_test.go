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

package rangequery

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/latticeds/dynashard/buffer"
	"github.com/latticeds/dynashard/record"
	"github.com/latticeds/dynashard/sortedshard"
)

type intRec int

func (r intRec) Less(other intRec) bool  { return r < other }
func (r intRec) Equal(other intRec) bool { return r == other }

func buildShard(vals ...intRec) *sortedshard.Shard[intRec] {
	b := buffer.New[intRec](1, uint64(len(vals)+1), nil)
	for _, v := range vals {
		b.Append(v, false)
	}
	view := b.View()
	defer view.Release()
	return sortedshard.BuildFromView[intRec](view)
}

func TestPreprocShardWindowsToRange(t *testing.T) {
	s := buildShard(1, 3, 5, 7, 9)
	q := Query[intRec]{}
	p := &Params[intRec]{Low: 3, High: 7}

	sq := q.PreprocShard(s, p)
	got := q.ExecuteShard(s, &sq)

	env := func(i int) record.Envelope[intRec] {
		e, _ := s.GetAt(i)
		return e
	}
	want := []Result[intRec]{{Env: env(1)}, {Env: env(2)}, {Env: env(3)}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected shard window (-want +got):\n%s", diff)
	}
}

func TestCombineMergesAndSortsAcrossPartitions(t *testing.T) {
	q := Query[intRec]{}
	partA := []Result[intRec]{{Env: record.New(intRec(5))}, {Env: record.New(intRec(1))}}
	partB := []Result[intRec]{{Env: record.New(intRec(3))}}

	got := q.Combine([][]Result[intRec]{partA, partB}, &Params[intRec]{Low: 0, High: 10})
	want := []intRec{1, 3, 5}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected combined order (-want +got):\n%s", diff)
	}
}

func TestPreprocBufferFiltersToRange(t *testing.T) {
	b := buffer.New[intRec](1, 8, nil)
	for _, v := range []intRec{1, 5, 10, 15} {
		b.Append(v, false)
	}
	view := b.View()
	defer view.Release()

	q := Query[intRec]{}
	p := &Params[intRec]{Low: 4, High: 11}
	out := q.PreprocBuffer(view, p)
	if len(out) != 2 {
		t.Fatalf("expected 2 records in [4,11], got %d", len(out))
	}
	if out[0].Rec != 5 || out[1].Rec != 10 {
		t.Fatalf("unexpected filtered buffer contents: %v", out)
	}
}

func TestQueryNeverRepeats(t *testing.T) {
	q := Query[intRec]{}
	result := []intRec{1, 2, 3}
	if q.Repeat(&Params[intRec]{}, &result, 1) {
		t.Fatalf("a range query should never request a repeat round")
	}
}
