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

package extent

import (
	"testing"

	"github.com/latticeds/dynashard/buffer"
	"github.com/latticeds/dynashard/sortedshard"
)

type intRec int

func (r intRec) Less(other intRec) bool  { return r < other }
func (r intRec) Equal(other intRec) bool { return r == other }

func flush(t *testing.T, s *Structure[intRec, *sortedshard.Shard[intRec]], buf *buffer.Buffer[intRec]) {
	t.Helper()
	view := buf.View()
	tail := view.Tail
	s.Apply(view)
	view.Release()
	if !buf.AdvanceHead(tail) {
		t.Fatalf("advance_head unexpectedly blocked")
	}
}

func TestTieringCascadesAfterScaleFactorShards(t *testing.T) {
	buf := buffer.New[intRec](2, 4, nil)
	cfg := Config[intRec]{BufferHWM: 4, ScaleFactor: 2, Layout: Tiering}
	s := New[intRec, *sortedshard.Shard[intRec]](cfg, sortedshard.Builder[intRec]{}, nil)

	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			buf.Append(intRec(round*4+i), false)
		}
		flush(t, s, buf)
	}

	if s.Height() != 2 {
		t.Fatalf("expected tiering to cascade into a second level, height=%d", s.Height())
	}
	if got := s.RecordCount(); got != 12 {
		t.Fatalf("expected 12 records after 3 flushes, got %d", got)
	}
}

func TestLevelingMergesDownOnOverflow(t *testing.T) {
	buf := buffer.New[intRec](2, 4, nil)
	cfg := Config[intRec]{BufferHWM: 4, ScaleFactor: 2, Layout: Leveling}
	s := New[intRec, *sortedshard.Shard[intRec]](cfg, sortedshard.Builder[intRec]{}, nil)

	for round := 0; round < 3; round++ {
		for i := 0; i < 4; i++ {
			buf.Append(intRec(round*4+i), false)
		}
		flush(t, s, buf)
	}

	if s.LevelCount() == 0 {
		t.Fatalf("expected at least one populated level")
	}
	// Leveling never keeps more than one shard per level (a level may be
	// transiently empty right after cascading its contents downward).
	for i := 0; i < s.LevelCount(); i++ {
		if n := len(s.ShardsInLevel(i)); n > 1 {
			t.Fatalf("leveling level %d should hold at most one shard, got %d", i, n)
		}
	}
	if got := s.RecordCount(); got != 12 {
		t.Fatalf("expected 12 records after 3 flushes, got %d", got)
	}
}

func TestTombstoneCompactionRestoresInvariant(t *testing.T) {
	buf := buffer.New[intRec](2, 10, nil)
	cfg := Config[intRec]{BufferHWM: 10, ScaleFactor: 2, Layout: Tiering, MaxDeleteProp: 0.3}
	s := New[intRec, *sortedshard.Shard[intRec]](cfg, sortedshard.Builder[intRec]{}, nil)

	for i := 0; i < 10; i++ {
		buf.Append(intRec(i), false)
	}
	flush(t, s, buf)

	for i := 0; i < 10; i++ {
		buf.Append(intRec(i), true) // tombstone every record just flushed
	}
	flush(t, s, buf)

	if !s.ValidateTombstoneProportion() {
		t.Fatalf("expected compaction to restore the tombstone-proportion invariant")
	}
	if got := s.RecordCount(); got != 0 {
		t.Fatalf("expected compaction's merge to cancel every record, got %d remaining", got)
	}
}

func TestCloneSharesShardsUntilRelease(t *testing.T) {
	buf := buffer.New[intRec](2, 4, nil)
	cfg := Config[intRec]{BufferHWM: 4, ScaleFactor: 2, Layout: Tiering}
	var freed int
	s := New[intRec, *sortedshard.Shard[intRec]](cfg, sortedshard.Builder[intRec]{}, func(*sortedshard.Shard[intRec]) { freed++ })

	for i := 0; i < 4; i++ {
		buf.Append(intRec(i), false)
	}
	flush(t, s, buf)

	clone := s.Clone()
	if clone.RecordCount() != s.RecordCount() {
		t.Fatalf("clone should observe the same records as its source")
	}

	s.Release()
	if freed != 0 {
		t.Fatalf("shard should still be referenced by the clone, got %d frees", freed)
	}
	clone.Release()
	if freed != 1 {
		t.Fatalf("expected exactly 1 shard freed once both structures release, got %d", freed)
	}
}
