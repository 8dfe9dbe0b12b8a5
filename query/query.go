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

// Package query defines the external contract a query implements to be
// fanned out across the buffer and every shard. Every query type nails
// down its own Parameters/LocalShardQuery/LocalBufferQuery/LocalResult/
// Result types as Go type parameters rather than casting an opaque
// pointer, so each instantiation is statically typed end to end.
package query

import (
	"github.com/latticeds/dynashard/buffer"
	"github.com/latticeds/dynashard/record"
	"github.com/latticeds/dynashard/shard"
)

// Query fans a single logical request across every shard and the buffer,
// then merges the partial results. Implementations are typically
// stateless; all per-invocation state lives in Parameters and the local
// query/result types.
type Query[R record.Ordered[R], S shard.Shard[R], Params any, LocalShardQuery any, LocalBufferQuery any, LocalResult any, Result any] interface {
	// EarlyAbort, when true, tells the engine to stop issuing
	// ExecuteShard/ExecuteBuffer calls once a partition has produced a
	// non-empty local result (used by point-like queries).
	EarlyAbort() bool
	// SkipDeleteFilter, when true, tells the façade that LocalResult
	// values carry no per-record deletion state requiring post-filtering
	// (e.g. aggregate counts), so it should skip the filter pass entirely.
	SkipDeleteFilter() bool

	PreprocShard(s S, params *Params) LocalShardQuery
	PreprocBuffer(view *buffer.View[R], params *Params) LocalBufferQuery

	// Distribute coordinates cross-partition state -- for example,
	// allocating sample sizes proportionally to each partition's weight
	// -- before any local execution happens. It is invoked once per
	// Query/Repeat round.
	Distribute(params *Params, shardQueries []LocalShardQuery, bufferQuery *LocalBufferQuery)

	ExecuteShard(s S, lsq *LocalShardQuery) []LocalResult
	ExecuteBuffer(lbq *LocalBufferQuery) []LocalResult

	Combine(results [][]LocalResult, params *Params) Result

	// Repeat lets the façade re-invoke Distribute and execution when a
	// Result is incomplete (used by sampling queries that must retry
	// after deletion-filtering shrank a round's yield below target).
	Repeat(params *Params, result *Result, round int) bool
}

// ResultRecord is implemented by a LocalResult type that wraps a record
// envelope, letting the façade's generic delete-filter operate without
// knowing the concrete LocalResult shape. Queries whose LocalResult does
// not represent a single envelope (e.g. range-count) should set
// SkipDeleteFilter true instead of implementing this.
type ResultRecord[R record.Ordered[R]] interface {
	Envelope() record.Envelope[R]
}
