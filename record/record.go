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

// Package record defines the capabilities the dynamization engine requires
// of an application payload type, and the two-bit envelope every record is
// wrapped in once it enters the engine.
package record

// Ordered is the minimal capability the engine requires of an application
// record: a total order and an equality test. Every shard, the buffer, and
// every query operate only through this interface and the optional
// capabilities below (Keyed, Weighted, Spatial) -- the engine never
// inspects a record's fields directly.
type Ordered[R any] interface {
	// Less reports whether the receiver sorts before other.
	Less(other R) bool
	// Equal reports whether the receiver and other represent the same
	// application record (used for exact-value delete matching and for
	// tombstone/record cancellation during merge).
	Equal(other R) bool
}

// Keyed is implemented by record types that expose a key distinct from
// their full ordering, such as key/value-pair records in a point-lookup
// workload. K must itself be ordered so shards can binary-search on it.
type Keyed[K any] interface {
	Key() K
}

// Weighted is implemented by record types that carry a sampling weight,
// required by weighted shards (e.g. alias-table backed) and by
// independent-range-sampling / weighted-set-sampling queries.
type Weighted interface {
	Weight() float64
}

// Spatial is implemented by n-dimensional record types, required by
// vantage-point-tree-backed shards and kNN queries.
type Spatial interface {
	Coordinates() []float64
	CalcDistance(point []float64) float64
}

// Envelope header bits.
const (
	flagTombstone uint8 = 1 << 0
	flagDeleted   uint8 = 1 << 1
)

// Envelope wraps an application record with the two-bit header the engine
// uses to track tombstone and tagged-delete state. Envelope equality is
// equality of the inner record together with the header; Envelope ordering
// is ordering of the inner record with the header as tiebreaker (so that a
// live record and its tombstone, which compare Equal on the inner record,
// still sort adjacently and deterministically during merge).
type Envelope[R Ordered[R]] struct {
	Rec    R
	Header uint8
}

// New wraps rec as a live, non-deleted record.
func New[R Ordered[R]](rec R) Envelope[R] {
	return Envelope[R]{Rec: rec}
}

// NewTombstone wraps rec as a tombstone for a previously-inserted identical
// record.
func NewTombstone[R Ordered[R]](rec R) Envelope[R] {
	return Envelope[R]{Rec: rec, Header: flagTombstone}
}

func (e Envelope[R]) IsTombstone() bool { return e.Header&flagTombstone != 0 }
func (e Envelope[R]) IsDeleted() bool   { return e.Header&flagDeleted != 0 }

// WithDeleted returns a copy of e with the tagged-deleted bit set. Used by
// tagging-policy erase, which mutates a record's header in place within the
// buffer or a shard.
func (e Envelope[R]) WithDeleted() Envelope[R] {
	e.Header |= flagDeleted
	return e
}

// Live reports whether the envelope should still be considered present by
// a query: neither a tombstone nor tagged-deleted.
func (e Envelope[R]) Live() bool {
	return e.Header&(flagTombstone|flagDeleted) == 0
}

// Less orders envelopes by inner record, then by header as a tiebreaker so
// that ties are resolved deterministically: a tombstone sorts after the
// live record it cancels, keeping cancelling pairs adjacent during merge.
func (e Envelope[R]) Less(other Envelope[R]) bool {
	if e.Rec.Equal(other.Rec) {
		return e.Header < other.Header
	}
	return e.Rec.Less(other.Rec)
}

// Equal reports whether two envelopes carry the same record and header.
func (e Envelope[R]) Equal(other Envelope[R]) bool {
	return e.Header == other.Header && e.Rec.Equal(other.Rec)
}
