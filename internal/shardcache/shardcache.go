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

// Package shardcache wraps github.com/VictoriaMetrics/fastcache as an
// optional point-lookup accelerator for sorted shards.
package shardcache

import "github.com/VictoriaMetrics/fastcache"

// Cache is a fixed-size, concurrency-safe byte-keyed cache. A nil *Cache is
// valid and behaves as an always-miss cache, so callers can embed it
// unconditionally and simply skip construction when caching is disabled.
type Cache struct {
	c *fastcache.Cache
}

// New allocates a cache with the given byte budget.
func New(maxBytes int) *Cache {
	if maxBytes <= 0 {
		return nil
	}
	return &Cache{c: fastcache.New(maxBytes)}
}

func (c *Cache) Get(key []byte) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.c.HasGet(nil, key)
	return v, ok
}

func (c *Cache) Set(key, value []byte) {
	if c == nil {
		return
	}
	c.c.Set(key, value)
}

// Reset clears every entry in the cache.
func (c *Cache) Reset() {
	if c == nil {
		return
	}
	c.c.Reset()
}
