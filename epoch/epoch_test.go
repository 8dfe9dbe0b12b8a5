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

package epoch

import "testing"

type fakeStructure struct{ released int }

func (f *fakeStructure) Release() { f.released++ }

func TestCounterIsStrictlyMonotonic(t *testing.T) {
	var c Counter
	prev := ID(0)
	for i := 0; i < 1000; i++ {
		id := c.Next()
		if id <= prev {
			t.Fatalf("expected strictly increasing ids, got %d after %d", id, prev)
		}
		prev = id
	}
}

func TestNewEpochStartsWithRefcountOne(t *testing.T) {
	e := New[*fakeStructure](1, &fakeStructure{}, 0)
	if got := e.RefCount(); got != 1 {
		t.Fatalf("expected initial refcount 1, got %d", got)
	}
}

func TestAcquireReleaseBalances(t *testing.T) {
	s := &fakeStructure{}
	e := New[*fakeStructure](1, s, 0)

	e.Acquire()
	e.Acquire()
	if e.RefCount() != 3 {
		t.Fatalf("expected refcount 3 after two acquires, got %d", e.RefCount())
	}

	if e.Release() {
		t.Fatalf("release should not report zero with refcount 2 remaining")
	}
	if e.Release() {
		t.Fatalf("release should not report zero with refcount 1 remaining")
	}
	if !e.Release() {
		t.Fatalf("release should report zero on the last reference")
	}
}

func TestRetireReleasesStructureOnlyOnce(t *testing.T) {
	s := &fakeStructure{}
	e := New[*fakeStructure](1, s, 0)

	if !e.Release() {
		t.Fatalf("expected the sole reference's release to report zero")
	}
	e.Retire()
	if s.released != 1 {
		t.Fatalf("expected exactly one Release call on the structure, got %d", s.released)
	}
}

func TestBufferHeadAtCreationIsPreserved(t *testing.T) {
	e := New[*fakeStructure](1, &fakeStructure{}, 42)
	if got := e.BufferHeadAtCreation(); got != 42 {
		t.Fatalf("expected buffer head 42, got %d", got)
	}
	if got := e.ID(); got != 1 {
		t.Fatalf("expected id 1, got %d", got)
	}
}
