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

// Package bloom wraps github.com/steakknife/bloomfilter behind the narrow
// interface the engine needs for per-shard tombstone-probe acceleration.
package bloom

import (
	"encoding/binary"
	"hash"

	"github.com/steakknife/bloomfilter"
)

// keyHasher adapts an arbitrary byte key to the hash.Hash64 interface the
// bloomfilter package requires.
type keyHasher []byte

func (k keyHasher) Write(p []byte) (int, error) { panic("not implemented") }
func (k keyHasher) Sum(b []byte) []byte         { panic("not implemented") }
func (k keyHasher) Reset()                      {}
func (k keyHasher) BlockSize() int              { return 1 }
func (k keyHasher) Size() int                   { return 8 }
func (k keyHasher) Sum64() uint64 {
	var buf [8]byte
	n := copy(buf[:], k)
	if n < 8 {
		// Short keys: fold what we have; fnv-ish mix keeps distribution
		// reasonable without pulling in another hash dependency.
		var h uint64 = 1469598103934665603
		for _, c := range k {
			h ^= uint64(c)
			h *= 1099511628211
		}
		return h
	}
	return binary.BigEndian.Uint64(buf[:])
}

var _ hash.Hash64 = keyHasher(nil)

// Filter is a per-shard bloom filter used to short-circuit tombstone
// probes before falling back to a full point lookup.
type Filter struct {
	f *bloomfilter.Filter
}

// New builds a filter sized for the expected number of entries at the
// given false-positive rate. The extension structure passes the record
// count of the shard it has just built from a buffer view or a merge.
func New(expectedEntries uint64, falsePositiveRate float64) (*Filter, error) {
	if expectedEntries == 0 {
		expectedEntries = 1
	}
	f, err := bloomfilter.NewOptimal(expectedEntries, falsePositiveRate)
	if err != nil {
		return nil, err
	}
	return &Filter{f: f}, nil
}

// Add registers key as present.
func (b *Filter) Add(key []byte) {
	b.f.Add(keyHasher(key))
}

// MayContain reports whether key may be present. false is a definite
// answer; true may be a false positive.
func (b *Filter) MayContain(key []byte) bool {
	return b.f.Contains(keyHasher(key))
}
