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

// Package rangequery is a reference query.Query implementation: a closed
// range [Low, High] lookup over sortedshard.Shard. It is a test fixture
// exercising the query trait end to end.
package rangequery

import (
	"sort"

	"github.com/latticeds/dynashard/buffer"
	"github.com/latticeds/dynashard/record"
	"github.com/latticeds/dynashard/sortedshard"
)

// Params bounds a closed range query.
type Params[R record.Ordered[R]] struct {
	Low, High R
}

// Result wraps one matching envelope so the façade's generic delete
// filter can inspect its header via query.ResultRecord.
type Result[R record.Ordered[R]] struct {
	Env record.Envelope[R]
}

func (r Result[R]) Envelope() record.Envelope[R] { return r.Env }

// ShardQuery is the index window within one sorted shard that falls
// inside the requested range.
type ShardQuery struct {
	Lo, Hi int
}

// Query implements query.Query[R, *sortedshard.Shard[R], Params[R],
// ShardQuery, []record.Envelope[R], Result[R], []R].
type Query[R record.Ordered[R]] struct{}

func (Query[R]) EarlyAbort() bool       { return false }
func (Query[R]) SkipDeleteFilter() bool { return false }

func (Query[R]) PreprocShard(s *sortedshard.Shard[R], p *Params[R]) ShardQuery {
	return ShardQuery{Lo: s.LowerBound(p.Low), Hi: s.UpperBound(p.High)}
}

func (Query[R]) PreprocBuffer(view *buffer.View[R], p *Params[R]) []record.Envelope[R] {
	all := view.All()
	out := all[:0]
	for _, e := range all {
		if !e.Rec.Less(p.Low) && !p.High.Less(e.Rec) {
			out = append(out, e)
		}
	}
	return out
}

// Distribute has nothing to coordinate for a range query: each partition's
// window is already fully determined by PreprocShard/PreprocBuffer.
func (Query[R]) Distribute(*Params[R], []ShardQuery, *[]record.Envelope[R]) {}

func (Query[R]) ExecuteShard(s *sortedshard.Shard[R], q *ShardQuery) []Result[R] {
	out := make([]Result[R], 0, q.Hi-q.Lo)
	for i := q.Lo; i < q.Hi; i++ {
		env, ok := s.GetAt(i)
		if !ok {
			break
		}
		out = append(out, Result[R]{Env: env})
	}
	return out
}

func (Query[R]) ExecuteBuffer(lbq *[]record.Envelope[R]) []Result[R] {
	out := make([]Result[R], len(*lbq))
	for i, e := range *lbq {
		out[i] = Result[R]{Env: e}
	}
	return out
}

// Combine flattens every partition's surviving results (the façade has
// already dropped tombstones/tagged-deleted/dominated entries) into one
// ascending list of records.
func (Query[R]) Combine(results [][]Result[R], _ *Params[R]) []R {
	var all []R
	for _, part := range results {
		for _, r := range part {
			all = append(all, r.Env.Rec)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Less(all[j]) })
	return all
}

// Repeat never retries: a range query's result is complete after one
// round.
func (Query[R]) Repeat(*Params[R], *[]R, int) bool { return false }
