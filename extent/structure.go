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

// Package extent implements the layered collection of shards: the level
// hierarchy, the reconstruction and compaction planners, and
// clone-on-reconstruction for the epoch protocol. A structure holds an
// arbitrary number of levels growing under a chosen layout policy, rather
// than a single persistent base plus a chain of diffs.
package extent

import (
	"errors"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/latticeds/dynashard/buffer"
	"github.com/latticeds/dynashard/internal/bloom"
	"github.com/latticeds/dynashard/record"
	"github.com/latticeds/dynashard/shard"
)

// headerCacheSize bounds the number of shard headers (see shardHeader) kept
// warm at once. Deep levels are touched far less often than level 0, so a
// modest cache keeps the common case -- repeatedly summing a structure's
// record/tombstone/memory totals between reconstructions -- from re-walking
// shards whose contents, once built, never change.
const headerCacheSize = 256

// shardHeader is the cached summary of one shard's static statistics.
// Tagging delete mutates a record's deleted bit in place but leaves record
// and tombstone counts and memory footprint unchanged, so a shard's header
// is stable for its entire lifetime in the structure once computed.
type shardHeader struct {
	records    int
	tombstones int
	memBytes   int64
	auxBytes   int64
}

// shardRef wraps a shard instance with the auxiliary state the structure
// needs around it (a tombstone-probe bloom filter, and a refcount shared
// by every structure version that still points at it). Cloning a
// structure shares shardRefs rather than copying shard data, which is
// what makes clone-on-reconstruction cheap.
type shardRef[R record.Ordered[R], S shard.Shard[R]] struct {
	s     S
	bloom *bloom.Filter // nil when the delete policy is tagging, or filters are disabled
	refs  int64         // shared by every structure that still references this shard
}

func (r *shardRef[R, S]) acquire() { atomic.AddInt64(&r.refs, 1) }

// release drops one structure's claim on the shard, reporting whether this
// was the last one (the shard is now unreachable from any live epoch and
// may be freed).
func (r *shardRef[R, S]) release() bool {
	return atomic.AddInt64(&r.refs, -1) == 0
}

// Level is an ordered bucket of shards (glossary). Leveling structures
// keep exactly one entry per level; tiering keeps up to ScaleFactor;
// BSM keeps at most one shard per level, carried downward like a binary
// counter.
type Level[R record.Ordered[R], S shard.Shard[R]] struct {
	shards []*shardRef[R, S]
}

func (l *Level[R, S]) count() int { return len(l.shards) }

// Config bundles the construction-time parameters of a Structure:
// BufferHWM sizes level 0's capacity unit, ScaleFactor is the per-level
// growth multiplier, and MaxDeleteProp bounds the tombstone fraction a
// shard may carry before compaction is triggered.
type Config[R any] struct {
	BufferHWM      uint64
	ScaleFactor    uint64
	MaxDeleteProp  float64
	Layout         LayoutPolicy
	Delete         DeletePolicy
	BloomFPRate    float64
	BloomHashCount int // informational; steakknife/bloomfilter derives k from fp-rate and size
	BloomEnabled   bool

	// KeyBytes extracts the byte representation the bloom filter hashes
	// on. Required only when Delete == TombstonePolicy && BloomEnabled.
	KeyBytes func(R) []byte
}

// WithDefaults fills zero-valued fields with their defaults.
func (c Config[R]) WithDefaults() Config[R] {
	if c.ScaleFactor == 0 {
		c.ScaleFactor = 2
	}
	if c.MaxDeleteProp == 0 {
		c.MaxDeleteProp = 1.0
	}
	if c.BloomFPRate == 0 {
		c.BloomFPRate = 0.01
	}
	return c
}

// Builder is the pair of construction primitives a concrete shard type
// must provide; Structure takes it as an explicit value since Go generics
// have no associated-function mechanism.
type Builder[R record.Ordered[R], S shard.Shard[R]] interface {
	shard.Builder[R, S]
}

// Structure is the extension structure: an ordered sequence of levels plus
// the layout policy governing how they grow.
type Structure[R record.Ordered[R], S shard.Shard[R]] struct {
	cfg     Config[R]
	builder Builder[R, S]
	levels  []*Level[R, S]
	onFreed func(S)

	// headers caches per-shardRef shardHeaders, amortizing the aggregate
	// accessors' walk over deep, rarely-touched levels. Shared across
	// Clone()s since a cloned structure's shardRefs (and their immutable
	// shard contents) are the same pointers as the source's.
	headers *lru.Cache
}

// New creates an empty extension structure. onFreed (may be nil) is
// invoked for every shard whose last structure-level reference is dropped
// by Release, letting the façade log the event or evict it from a shared
// lookup cache.
func New[R record.Ordered[R], S shard.Shard[R]](cfg Config[R], builder Builder[R, S], onFreed func(S)) *Structure[R, S] {
	headers, _ := lru.New(headerCacheSize) // only errors on a non-positive size
	return &Structure[R, S]{cfg: cfg.WithDefaults(), builder: builder, onFreed: onFreed, headers: headers}
}

// header returns ref's cached shardHeader, computing and caching it on a
// miss.
func (s *Structure[R, S]) header(ref *shardRef[R, S]) shardHeader {
	if s.headers != nil {
		if v, ok := s.headers.Get(ref); ok {
			return v.(shardHeader)
		}
	}
	h := shardHeader{
		records:    ref.s.RecordCount(),
		tombstones: ref.s.TombstoneCount(),
		memBytes:   ref.s.MemoryUsage(),
		auxBytes:   ref.s.AuxMemoryUsage(),
	}
	if s.headers != nil {
		s.headers.Add(ref, h)
	}
	return h
}

// Clone performs a shallow clone-on-reconstruction: a new Structure
// sharing shard ownership with the receiver. The
// caller installs the clone as the façade's "next" epoch payload and
// mutates it via Apply while the receiver (installed as "current")
// continues serving queries untouched.
func (s *Structure[R, S]) Clone() *Structure[R, S] {
	clone := &Structure[R, S]{cfg: s.cfg, builder: s.builder, onFreed: s.onFreed, headers: s.headers, levels: make([]*Level[R, S], len(s.levels))}
	for i, lvl := range s.levels {
		newShards := make([]*shardRef[R, S], len(lvl.shards))
		for j, ref := range lvl.shards {
			ref.acquire()
			newShards[j] = ref
		}
		clone.levels[i] = &Level[R, S]{shards: newShards}
	}
	return clone
}

// Release drops this structure's claim on every shard it references.
// Shards whose refcount reaches zero are now unreachable from any live
// epoch and s.onFreed, if set, is invoked for each. Release
// satisfies epoch.Structure, letting an *Epoch[*Structure[R,S]] retire its
// payload generically.
func (s *Structure[R, S]) Release() {
	for _, lvl := range s.levels {
		for _, ref := range lvl.shards {
			if ref.release() && s.onFreed != nil {
				s.onFreed(ref.s)
			}
		}
	}
}

// Height is the number of levels, counting any level a cascade has left
// empty.
func (s *Structure[R, S]) Height() int { return len(s.levels) }

func (s *Structure[R, S]) RecordCount() int {
	total := 0
	for _, lvl := range s.levels {
		for _, ref := range lvl.shards {
			total += s.header(ref).records
		}
	}
	return total
}

func (s *Structure[R, S]) TombstoneCount() int {
	total := 0
	for _, lvl := range s.levels {
		for _, ref := range lvl.shards {
			total += s.header(ref).tombstones
		}
	}
	return total
}

func (s *Structure[R, S]) MemoryUsage() int64 {
	var total int64
	for _, lvl := range s.levels {
		for _, ref := range lvl.shards {
			total += s.header(ref).memBytes
		}
	}
	return total
}

func (s *Structure[R, S]) AuxMemoryUsage() int64 {
	var total int64
	for _, lvl := range s.levels {
		for _, ref := range lvl.shards {
			total += s.header(ref).auxBytes
		}
	}
	return total
}

// ForEachShard visits every shard, level 0 first and deepest last, stopping
// early if fn returns false -- the hook the tagging erase path uses to stop
// at its first match.
func (s *Structure[R, S]) ForEachShard(fn func(level int, s S) bool) {
	for i, lvl := range s.levels {
		for _, ref := range lvl.shards {
			if !fn(i, ref.s) {
				return
			}
		}
	}
}

// LevelCount returns the number of levels, including empty ones.
func (s *Structure[R, S]) LevelCount() int { return len(s.levels) }

// ShardsInLevel returns the shards held at level i (empty slice if i is
// out of range), in the order they were placed.
func (s *Structure[R, S]) ShardsInLevel(i int) []S {
	if i < 0 || i >= len(s.levels) {
		return nil
	}
	return refsToShards(s.levels[i].shards)
}

// ErrInvariantViolation is raised by CheckInvariants when compaction has
// failed to restore the tombstone-proportion invariant. It should never
// occur in practice since compact() runs after every Apply; surfacing it
// as an error rather than silently tolerating it treats a broken
// structural invariant as fatal.
var ErrInvariantViolation = errors.New("dynashard/extent: tombstone-proportion invariant violated")

// CheckInvariants reports ErrInvariantViolation if any shard currently
// exceeds max_delete_prop. Called by the reconstruction worker after Apply
// as a sanity check, distinct from the ValidateTombstoneProportion test
// hook in that it returns an error a caller can log.Crit on rather than a
// bare bool for assertions.
func (s *Structure[R, S]) CheckInvariants() error {
	if !s.ValidateTombstoneProportion() {
		return ErrInvariantViolation
	}
	return nil
}

// ValidateTombstoneProportion reports whether every shard satisfies
// tombstones/records <= MaxDeleteProp.
func (s *Structure[R, S]) ValidateTombstoneProportion() bool {
	if s.cfg.MaxDeleteProp >= 1.0 {
		return true
	}
	for _, lvl := range s.levels {
		for _, ref := range lvl.shards {
			h := s.header(ref)
			if h.records == 0 {
				continue
			}
			if float64(h.tombstones)/float64(h.records) > s.cfg.MaxDeleteProp {
				return false
			}
		}
	}
	return true
}

// Snapshot builds one fresh shard covering every record currently live
// across every level plus the given buffer view, without mutating the
// structure. view may be nil, treated as an empty view. Used to seed
// subsidiary structures; it does not splice the result into any level.
func (s *Structure[R, S]) Snapshot(view *buffer.View[R]) S {
	var all []S
	for _, lvl := range s.levels {
		all = append(all, refsToShards(lvl.shards)...)
	}
	if view != nil && view.Len() > 0 {
		all = append(all, s.builder.BuildFromView(view))
	}
	if len(all) == 0 {
		if view == nil {
			return s.builder.BuildFromShards(nil)
		}
		return s.builder.BuildFromView(view)
	}
	return s.builder.BuildFromShards(all)
}

func (s *Structure[R, S]) levelCapacity(i int) uint64 {
	cap := s.cfg.BufferHWM
	for j := 0; j < i; j++ {
		cap *= s.cfg.ScaleFactor
	}
	return cap
}

func (s *Structure[R, S]) ensureLevel(i int) *Level[R, S] {
	for len(s.levels) <= i {
		s.levels = append(s.levels, &Level[R, S]{})
	}
	return s.levels[i]
}
