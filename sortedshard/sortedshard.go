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

// Package sortedshard is a reference shard.Shard implementation backed by
// a sorted slice. It exists to exercise the engine end to end in tests; it
// implements no ISAM index, only binary search plus an optional
// point-lookup cache (see Builder).
package sortedshard

import (
	"encoding/binary"
	"sort"

	"github.com/latticeds/dynashard/buffer"
	"github.com/latticeds/dynashard/internal/shardcache"
	"github.com/latticeds/dynashard/record"
)

// Shard is an immutable sorted array of envelopes. cache, when non-nil,
// accelerates PointLookup by remembering the index a key resolved to last
// time; safe to share since the shard's contents never change once built.
type Shard[R record.Ordered[R]] struct {
	items      []record.Envelope[R]
	tombstones int

	keyBytes func(R) []byte
	cache    *shardcache.Cache
}

// Builder adapts BuildFromView/BuildFromShards to shard.Builder[R,
// *Shard[R]], since Go has no associated functions on type parameters.
// KeyBytes and CacheBytes are optional: supplying both attaches a bounded
// point-lookup cache to every shard this builder produces.
type Builder[R record.Ordered[R]] struct {
	KeyBytes   func(R) []byte
	CacheBytes int
}

func (b Builder[R]) BuildFromView(view *buffer.View[R]) *Shard[R] {
	s := BuildFromView[R](view)
	s.attachCache(b.KeyBytes, b.CacheBytes)
	return s
}

func (b Builder[R]) BuildFromShards(sources []*Shard[R]) *Shard[R] {
	s := BuildFromShards[R](sources)
	s.attachCache(b.KeyBytes, b.CacheBytes)
	return s
}

func (s *Shard[R]) attachCache(keyBytes func(R) []byte, cacheBytes int) {
	if keyBytes == nil || cacheBytes <= 0 {
		return
	}
	s.keyBytes = keyBytes
	s.cache = shardcache.New(cacheBytes)
}

// BuildFromView sorts view's envelopes and collapses cancelling
// live/tombstone pairs.
func BuildFromView[R record.Ordered[R]](view *buffer.View[R]) *Shard[R] {
	items := view.All()
	sort.Slice(items, func(i, j int) bool { return items[i].Less(items[j]) })
	return cancel(items)
}

// BuildFromShards performs a k-way merge of sources by repeated full sort;
// adequate for a reference fixture, not a performance-sensitive shard.
func BuildFromShards[R record.Ordered[R]](sources []*Shard[R]) *Shard[R] {
	var n int
	for _, s := range sources {
		n += len(s.items)
	}
	merged := make([]record.Envelope[R], 0, n)
	for _, s := range sources {
		merged = append(merged, s.items...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Less(merged[j]) })
	return cancel(merged)
}

// cancel drops tagged-deleted records and collapses adjacent
// live-record/tombstone pairs for the same record, matching Envelope.Less'
// tiebreak (live sorts before its tombstone when they compare Equal on the
// inner record).
func cancel[R record.Ordered[R]](sorted []record.Envelope[R]) *Shard[R] {
	out := sorted[:0]
	tombstones := 0
	for i := 0; i < len(sorted); i++ {
		e := sorted[i]
		if e.IsDeleted() {
			continue
		}
		if !e.IsTombstone() && i+1 < len(sorted) && sorted[i+1].IsTombstone() && sorted[i+1].Rec.Equal(e.Rec) {
			i++
			continue
		}
		if e.IsTombstone() {
			tombstones++
		}
		out = append(out, e)
	}
	return &Shard[R]{items: out, tombstones: tombstones}
}

// PointLookup finds target via binary search, first consulting the
// optional index cache if one is attached. The useFilter hook is reserved
// for bloom probing elsewhere; this cache is a separate, shard-local
// acceleration that applies regardless of useFilter.
func (s *Shard[R]) PointLookup(target R, _ bool) (record.Envelope[R], bool) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(s.keyBytes(target)); ok && len(cached) == 4 {
			i := int(binary.BigEndian.Uint32(cached))
			if i < len(s.items) && s.items[i].Rec.Equal(target) {
				return s.items[i], true
			}
		}
	}

	i := s.LowerBound(target)
	if i >= len(s.items) || !s.items[i].Rec.Equal(target) {
		return record.Envelope[R]{}, false
	}
	if s.cache != nil {
		var buf [4]byte
		binary.BigEndian.PutUint32(buf[:], uint32(i))
		s.cache.Set(s.keyBytes(target), buf[:])
	}
	return s.items[i], true
}

func (s *Shard[R]) RecordCount() int      { return len(s.items) }
func (s *Shard[R]) TombstoneCount() int   { return s.tombstones }
func (s *Shard[R]) AuxMemoryUsage() int64 { return 0 }

// MemoryUsage is a rough per-entry estimate; this fixture keeps no
// compact encoding, so it cannot report an exact figure.
func (s *Shard[R]) MemoryUsage() int64 {
	const approxEnvelopeBytes = 64
	return int64(len(s.items)) * approxEnvelopeBytes
}

func (s *Shard[R]) LowerBound(key R) int {
	return sort.Search(len(s.items), func(i int) bool { return !s.items[i].Rec.Less(key) })
}

func (s *Shard[R]) UpperBound(key R) int {
	return sort.Search(len(s.items), func(i int) bool { return key.Less(s.items[i].Rec) })
}

func (s *Shard[R]) GetAt(i int) (record.Envelope[R], bool) {
	if i < 0 || i >= len(s.items) {
		return record.Envelope[R]{}, false
	}
	return s.items[i], true
}

// TagDeleted implements shard.Taggable. Tagging is safe only under
// single-threaded scheduling; this mutates items in place without
// synchronization.
func (s *Shard[R]) TagDeleted(target R) bool {
	i := s.LowerBound(target)
	for ; i < len(s.items) && s.items[i].Rec.Equal(target); i++ {
		if s.items[i].Live() {
			s.items[i] = s.items[i].WithDeleted()
			return true
		}
	}
	return false
}
