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
	"github.com/latticeds/dynashard/buffer"
	"github.com/latticeds/dynashard/internal/bloom"
	"github.com/latticeds/dynashard/record"
	"github.com/latticeds/dynashard/shard"
)

// TaskKind identifies what a Task did, for introspection and for the
// scheduler's statistics dump.
type TaskKind int

const (
	TaskFlushBuffer TaskKind = iota
	TaskMergeLevel
	TaskCompact
)

// Task is a record of one reconstruction step: source shards (possibly
// including the buffer) merged into a destination level. The
// planner and the executor are fused in this implementation because the leveling and BSM policies thread a
// just-built "carry" shard through successive cascade steps; a purely
// declarative plan computed before any execution would have to either
// simulate the merge sizes twice or reify the carry as a task output,
// which is exactly what Apply below does, just without a separate
// planning pass. Task is still the unit the executor reports back, so
// tests and the scheduler's statistics log can observe what happened.
type Task struct {
	Kind         TaskKind
	SourceLevels []int
	DestLevel    int
	RecordsMoved int
}

// Apply absorbs view (if non-nil) and runs whatever cascade of merges the
// structure's layout policy requires, mutating s in place. It is called by
// the scheduler's reconstruction worker on the "next" clone. Compaction is
// folded in: after the layout step, compact runs over every level and
// merges a level's shards into one shard at that same level when the level
// is above MaxDeleteProp (see compact).
func (s *Structure[R, S]) Apply(view *buffer.View[R]) []Task {
	var tasks []Task
	switch s.cfg.Layout {
	case Tiering:
		tasks = s.applyTiering(view)
	case Leveling:
		tasks = s.applyLeveling(view)
	case BSM:
		tasks = s.applyBSM(view)
	default:
		panic("dynashard/extent: unknown layout policy")
	}
	tasks = append(tasks, s.compact()...)
	return tasks
}

func (s *Structure[R, S]) newShardFromView(view *buffer.View[R]) *shardRef[R, S] {
	built := s.builder.BuildFromView(view)
	return s.wrap(built)
}

func (s *Structure[R, S]) newShardFromMerge(sources []S) *shardRef[R, S] {
	built := s.builder.BuildFromShards(sources)
	return s.wrap(built)
}

func (s *Structure[R, S]) wrap(built S) *shardRef[R, S] {
	ref := &shardRef[R, S]{s: built, refs: 1}
	if s.cfg.Delete == TombstonePolicy && s.cfg.BloomEnabled && s.cfg.KeyBytes != nil {
		n := uint64(built.RecordCount())
		if n == 0 {
			n = 1
		}
		f, err := bloom.New(n, s.cfg.BloomFPRate)
		if err != nil {
			return ref
		}
		if sorted, ok := any(built).(shard.Sorted[R]); ok {
			for i := 0; ; i++ {
				env, ok := sorted.GetAt(i)
				if !ok {
					break
				}
				if env.IsTombstone() {
					f.Add(s.cfg.KeyBytes(env.Rec))
				}
			}
		}
		ref.bloom = f
	}
	return ref
}

// ShardBloomFilter exposes the tombstone-probe filter attached to a shard
// wrapped at level i, index j. Returns nil if the shard has none (tagging
// policy, or bloom disabled).
func (s *Structure[R, S]) ShardBloomFilter(level, index int) *bloom.Filter {
	if level < 0 || level >= len(s.levels) {
		return nil
	}
	lvl := s.levels[level]
	if index < 0 || index >= len(lvl.shards) {
		return nil
	}
	return lvl.shards[index].bloom
}

// drain empties a level, returning the shards it held so they can be
// merged and then dropped from the structure's bookkeeping (the caller is
// responsible for releasing the refs once the merge output has replaced
// them).
func (l *Level[R, S]) drain() []*shardRef[R, S] {
	old := l.shards
	l.shards = nil
	return old
}

func refsToShards[R record.Ordered[R], S shard.Shard[R]](refs []*shardRef[R, S]) []S {
	out := make([]S, len(refs))
	for i, r := range refs {
		out[i] = r.s
	}
	return out
}

func releaseAll[R record.Ordered[R], S shard.Shard[R]](refs []*shardRef[R, S]) {
	for _, r := range refs {
		r.release()
	}
}

// ---- tiering ----

func (s *Structure[R, S]) applyTiering(view *buffer.View[R]) []Task {
	var tasks []Task
	// Cascade: make room at level 0 if it's already at scale_factor shards.
	tasks = append(tasks, s.cascadeTiering(0)...)

	lvl := s.ensureLevel(0)
	newRef := s.newShardFromView(view)
	lvl.shards = append(lvl.shards, newRef)
	tasks = append(tasks, Task{Kind: TaskFlushBuffer, DestLevel: 0, RecordsMoved: newRef.s.RecordCount()})
	return tasks
}

// cascadeTiering ensures level i has room for one more shard, recursively
// merging full levels downward: the ScaleFactor shards of level 0 are
// merged into one shard at level 1, recursively if level 1 is also full.
func (s *Structure[R, S]) cascadeTiering(i int) []Task {
	lvl := s.ensureLevel(i)
	if uint64(lvl.count()) < s.cfg.ScaleFactor {
		return nil
	}
	var tasks []Task
	tasks = append(tasks, s.cascadeTiering(i+1)...)

	old := lvl.drain()
	merged := s.newShardFromMerge(refsToShards(old))
	releaseAll(old)

	next := s.ensureLevel(i + 1)
	next.shards = append(next.shards, merged)
	tasks = append(tasks, Task{Kind: TaskMergeLevel, SourceLevels: []int{i}, DestLevel: i + 1, RecordsMoved: merged.s.RecordCount()})
	return tasks
}

// ---- leveling ----

func (s *Structure[R, S]) applyLeveling(view *buffer.View[R]) []Task {
	var tasks []Task
	lvl0 := s.ensureLevel(0)
	old := lvl0.drain()

	var merged *shardRef[R, S]
	if len(old) == 0 {
		merged = s.newShardFromView(view)
	} else {
		// Merge the buffer into a new shard first, then fold the existing
		// level-0 shard in: build_from_shards takes only shards, so the
		// buffer-origin shard is itself built first and merged alongside.
		bufShard := s.newShardFromView(view)
		sources := append(refsToShards(old), bufShard.s)
		merged = s.newShardFromMerge(sources)
		releaseAll(old)
	}
	lvl0.shards = []*shardRef[R, S]{merged}
	tasks = append(tasks, Task{Kind: TaskFlushBuffer, DestLevel: 0, RecordsMoved: merged.s.RecordCount()})

	tasks = append(tasks, s.cascadeLeveling(0)...)
	return tasks
}

// cascadeLeveling merges level i's single shard down into level i+1 while
// level i is over its capacity.
func (s *Structure[R, S]) cascadeLeveling(i int) []Task {
	lvl := s.ensureLevel(i)
	if lvl.count() == 0 {
		return nil
	}
	cap := s.levelCapacity(i)
	if uint64(lvl.shards[0].s.RecordCount()) <= cap {
		return nil
	}
	var tasks []Task
	old := lvl.drain()
	next := s.ensureLevel(i + 1)
	nextOld := next.drain()

	sources := append(refsToShards(old), refsToShards(nextOld)...)
	merged := s.newShardFromMerge(sources)
	releaseAll(old)
	releaseAll(nextOld)

	next.shards = []*shardRef[R, S]{merged}
	tasks = append(tasks, Task{Kind: TaskMergeLevel, SourceLevels: []int{i, i + 1}, DestLevel: i + 1, RecordsMoved: merged.s.RecordCount()})
	tasks = append(tasks, s.cascadeLeveling(i+1)...)
	return tasks
}

// ---- Bentley-Saxe-monotone ----

func (s *Structure[R, S]) applyBSM(view *buffer.View[R]) []Task {
	carry := s.newShardFromView(view)
	tasks := []Task{{Kind: TaskFlushBuffer, DestLevel: -1, RecordsMoved: carry.s.RecordCount()}}
	return append(tasks, s.carryBSM(0, carry)...)
}

// carryBSM places carry at the first level whose occupancy bit is unset,
// merging occupied levels into the carry along the way -- binary-counter
// increment, the parity rule a Bentley-Saxe construction reduces to for a
// single inserted batch.
func (s *Structure[R, S]) carryBSM(i int, carry *shardRef[R, S]) []Task {
	lvl := s.ensureLevel(i)
	if lvl.count() == 0 {
		lvl.shards = []*shardRef[R, S]{carry}
		return []Task{{Kind: TaskMergeLevel, DestLevel: i, RecordsMoved: carry.s.RecordCount()}}
	}
	old := lvl.drain()
	merged := s.newShardFromMerge(append(refsToShards(old), carry.s))
	releaseAll(old)
	carry.release()

	tasks := []Task{{Kind: TaskMergeLevel, SourceLevels: []int{i}, DestLevel: i + 1, RecordsMoved: merged.s.RecordCount()}}
	return append(tasks, s.carryBSM(i+1, merged)...)
}

// ---- compaction ----

// compact restores the tombstone-proportion invariant by merging any
// shard whose tombstones/records ratio exceeds MaxDeleteProp with the
// rest of its level. Tombstone cancellation happens for free inside the
// merge builder, so one pass per violating level is sufficient to bring
// it back into compliance.
func (s *Structure[R, S]) compact() []Task {
	if s.cfg.MaxDeleteProp >= 1.0 {
		return nil
	}
	var tasks []Task
	for i, lvl := range s.levels {
		if !levelViolatesProportion(lvl, s.cfg.MaxDeleteProp) {
			continue
		}
		old := lvl.drain()
		merged := s.newShardFromMerge(refsToShards(old))
		releaseAll(old)
		lvl.shards = []*shardRef[R, S]{merged}
		tasks = append(tasks, Task{Kind: TaskCompact, SourceLevels: []int{i}, DestLevel: i, RecordsMoved: merged.s.RecordCount()})
	}
	return tasks
}

func levelViolatesProportion[R record.Ordered[R], S shard.Shard[R]](lvl *Level[R, S], maxProp float64) bool {
	if lvl.count() < 2 {
		// A single shard merging with itself achieves nothing; only
		// multi-shard levels (tiering) benefit from an eager compaction
		// pass here. Leveling/BSM's single-shard levels are kept in
		// compliance by cascade merges absorbing tombstones instead.
		return false
	}
	var records, tombstones int
	for _, ref := range lvl.shards {
		records += ref.s.RecordCount()
		tombstones += ref.s.TombstoneCount()
	}
	if records == 0 {
		return false
	}
	return float64(tombstones)/float64(records) > maxProp
}
