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

// Package shard defines the external contract a concrete static structure
// must satisfy to be dynamized: a small public-read surface (PointLookup
// and friends) plus a handful of construction and bookkeeping methods.
// The engine itself never implements a concrete S -- it only consumes
// this interface.
package shard

import (
	"github.com/latticeds/dynashard/buffer"
	"github.com/latticeds/dynashard/record"
)

// Shard is the capability every static structure must provide to be
// dynamized. Implementations must be immutable after construction and
// safe for concurrent reads from multiple goroutines.
type Shard[R record.Ordered[R]] interface {
	// PointLookup finds an envelope equal to target. useFilter lets the
	// caller request the shard consult its own bloom filter (if any)
	// before doing real work, used by the tombstone delete-filter path.
	PointLookup(target R, useFilter bool) (record.Envelope[R], bool)

	RecordCount() int
	TombstoneCount() int
	MemoryUsage() int64
	AuxMemoryUsage() int64
}

// Builder is implemented by a concrete shard type S (not by a shard
// instance) via a package-level function satisfying this signature; Go's
// lack of static/associated functions on generic type parameters means
// the engine takes these as explicit constructor arguments rather than
// methods.
type Builder[R record.Ordered[R], S Shard[R]] interface {
	// BuildFromView sorts and cancels adjacent record/tombstone pairs and
	// tagged-deleted records out of view, then builds a new S.
	BuildFromView(view *buffer.View[R]) S
	// BuildFromShards performs a k-way sorted merge of sources with the
	// same cancellation rules, producing one new S. sources is non-empty on
	// every call except extent.Structure.Snapshot on an empty structure with
	// a nil view, which passes nil.
	BuildFromShards(sources []S) S
}

// Sorted is the additional capability a shard backed by sorted storage
// exposes: ordered indexed access and binary-searchable bounds, used by
// range-style queries and by the engine's own merge/iteration helpers.
type Sorted[R record.Ordered[R]] interface {
	Shard[R]
	// LowerBound returns the index of the first element >= key.
	LowerBound(key R) int
	// UpperBound returns the index of the first element > key.
	UpperBound(key R) int
	GetAt(i int) (record.Envelope[R], bool)
}

// WeightedShard is an optional capability for shards backing
// weighted-sampling queries (IRS/WSS).
type WeightedShard interface {
	TotalWeight() float64
	// WeightedSample draws one index using rnd in [0,1) as the source of
	// randomness, via e.g. an alias table.
	WeightedSample(rnd float64) int
}

// SpatialShard is an optional capability for shards backing kNN queries.
type SpatialShard[R record.Ordered[R]] interface {
	// NearestSearch finds up to k records nearest to point, appending
	// candidates to heap (caller-supplied so the query can share one heap
	// across shards) and returning the updated heap.
	NearestSearch(point []float64, k int, heap []record.Envelope[R]) []record.Envelope[R]
}

// Taggable is an optional capability backing the tagging delete policy:
// in-place marking of a record's deleted bit, requiring mutation of
// existing shard contents. A concrete shard need only implement it if the
// engine is configured with extent.TaggingPolicy. Tagging is safe only
// under single-threaded scheduling, so implementations are not required
// to synchronize TagDeleted against concurrent readers.
type Taggable[R record.Ordered[R]] interface {
	// TagDeleted marks the oldest live record equal to target as deleted
	// in place, reporting whether a match was found.
	TagDeleted(target R) bool
}
