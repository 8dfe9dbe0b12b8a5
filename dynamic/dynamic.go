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

// Package dynamic implements the public façade, the type applications
// actually construct. It owns the current/previous/next epoch triplet,
// drives reconstruction scheduling, and performs deletion filtering of
// query results. The triplet is a small set of named epoch slots guarded
// by one mutex rather than lock-free pointer swaps.
package dynamic

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/latticeds/dynashard/buffer"
	"github.com/latticeds/dynashard/epoch"
	"github.com/latticeds/dynashard/extent"
	"github.com/latticeds/dynashard/internal/dlog"
	"github.com/latticeds/dynashard/query"
	"github.com/latticeds/dynashard/record"
	"github.com/latticeds/dynashard/sched"
	"github.com/latticeds/dynashard/shard"
)

// Error taxonomy.
var (
	// ErrNotPresent is returned by tagging-policy erase when no matching
	// live record is found in the buffer or the active structure.
	ErrNotPresent = errors.New("dynashard: record not present")
	// ErrShutdown is returned by any operation submitted after Shutdown has
	// begun.
	ErrShutdown = errors.New("dynashard: shutdown in progress")
)

// Config bundles every constructor parameter.
type Config[R record.Ordered[R]] struct {
	BufferLWM     uint64
	BufferHWM     uint64
	ScaleFactor   uint64
	MaxDeleteProp float64
	MemoryBudget  int64 // bytes; 0 means unbounded
	ThreadCount   int

	BloomFPRate    float64
	BloomHashCount int

	Layout extent.LayoutPolicy
	Delete extent.DeletePolicy

	// KeyBytes is required when Delete == extent.TombstonePolicy and bloom
	// acceleration is desired; see extent.Config.
	KeyBytes func(R) []byte
	// WeightOf is optional; see buffer.New.
	WeightOf func(R) (float64, bool)
	// Affinity is the scheduler's thread-pinning strategy; nil selects
	// sched.NoAffinity.
	Affinity sched.AffinityStrategy
}

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
	if c.ThreadCount == 0 {
		c.ThreadCount = 16
	}
	return c
}

// Extension is the dynamic-extension façade. R is the application record
// type, S the concrete shard type, and the remaining five type parameters
// are the query trait's associated types -- every query this instance can
// serve must share them, since one Extension instance is fixed to one
// query type.
type Extension[R record.Ordered[R], S shard.Shard[R], Params any, LocalShardQuery any, LocalBufferQuery any, LocalResult any, Result any] struct {
	cfg     Config[R]
	buf     *buffer.Buffer[R]
	builder extent.Builder[R, S]
	pool    *sched.Pool
	log     dlog.Logger

	epochs epoch.Counter

	mu       sync.Mutex
	cond     *sync.Cond
	current  *epoch.Epoch[*extent.Structure[R, S]]
	previous *epoch.Epoch[*extent.Structure[R, S]]
	next     *epoch.Epoch[*extent.Structure[R, S]]

	reconstructionScheduled atomic.Bool
	shuttingDown            atomic.Bool
}

// New constructs an extension over an empty buffer and an empty extension
// structure, and starts its worker pool.
func New[R record.Ordered[R], S shard.Shard[R], Params any, LocalShardQuery any, LocalBufferQuery any, LocalResult any, Result any](
	cfg Config[R], builder extent.Builder[R, S],
) *Extension[R, S, Params, LocalShardQuery, LocalBufferQuery, LocalResult, Result] {
	cfg = cfg.WithDefaults()

	d := &Extension[R, S, Params, LocalShardQuery, LocalBufferQuery, LocalResult, Result]{
		cfg:     cfg,
		buf:     buffer.New[R](cfg.BufferLWM, cfg.BufferHWM, cfg.WeightOf),
		builder: builder,
		log:     dlog.New("dynamic"),
	}
	d.cond = sync.NewCond(&d.mu)

	extCfg := extent.Config[R]{
		BufferHWM:      cfg.BufferHWM,
		ScaleFactor:    cfg.ScaleFactor,
		MaxDeleteProp:  cfg.MaxDeleteProp,
		Layout:         cfg.Layout,
		Delete:         cfg.Delete,
		BloomFPRate:    cfg.BloomFPRate,
		BloomHashCount: cfg.BloomHashCount,
		BloomEnabled:   cfg.Delete == extent.TombstonePolicy && cfg.KeyBytes != nil,
		KeyBytes:       cfg.KeyBytes,
	}
	onFreed := func(s S) {
		d.log.Trace("shard unreachable, freeing", "records", s.RecordCount())
	}
	initial := extent.New[R, S](extCfg, builder, onFreed)
	d.current = epoch.New(d.epochs.Next(), initial, 0)
	d.pool = sched.New(cfg.ThreadCount, cfg.MemoryBudget, cfg.Affinity)
	return d
}

// Insert appends rec to the buffer, first scheduling a reconstruction if
// the buffer has reached its low watermark and none is already in flight.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) Insert(rec R) error {
	return d.insert(rec, false)
}

// EraseTombstone implements the tombstone delete policy: equivalent to
// Insert(rec) with the tombstone bit set.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) EraseTombstone(rec R) error {
	return d.insert(rec, true)
}

func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) insert(rec R, tombstone bool) error {
	if d.shuttingDown.Load() {
		return ErrShutdown
	}
	if d.buf.AtLowWatermark() && d.reconstructionScheduled.CompareAndSwap(false, true) {
		d.scheduleReconstruction()
	}
	return d.buf.Append(rec, tombstone)
}

// EraseTagging implements the tagging delete policy: try the
// buffer first (View.TagDeleted tags the oldest matching live record),
// then fall back to a point lookup across the active
// structure via shard.Taggable. Returns ErrNotPresent if no live match
// exists anywhere.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) EraseTagging(rec R) error {
	if d.shuttingDown.Load() {
		return ErrShutdown
	}
	view := d.buf.View()
	tagged := view.TagDeleted(rec)
	view.Release()
	if tagged {
		return nil
	}

	e := d.acquireActive()
	if e == nil {
		return ErrShutdown
	}
	defer d.releaseEpoch(e)

	found := false
	e.Structure().ForEachShard(func(_ int, s S) bool {
		if taggable, ok := any(s).(shard.Taggable[R]); ok && taggable.TagDeleted(rec) {
			found = true
			return false
		}
		return true
	})
	if !found {
		return ErrNotPresent
	}
	return nil
}

// acquireActive pins and returns the active epoch, preferring current and
// falling back to previous while a swap is in progress. Realized with the
// same mutex that guards the epoch slots rather than a lock-free CAS loop.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) acquireActive() *epoch.Epoch[*extent.Structure[R, S]] {
	d.mu.Lock()
	e := d.current
	if e == nil {
		e = d.previous
	}
	if e != nil {
		e.Acquire()
	}
	d.mu.Unlock()
	return e
}

func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) releaseEpoch(e *epoch.Epoch[*extent.Structure[R, S]]) {
	if e == nil {
		return
	}
	if e.Release() {
		e.Retire()
	}
}

// scheduleReconstruction clones the current structure into a new "next"
// epoch (it enters "populating" the moment the façade installs the clone)
// and submits the worker task that will drive it to "ready".
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) scheduleReconstruction() {
	d.mu.Lock()
	base := d.current.Structure()
	cloned := base.Clone()
	next := epoch.New(d.epochs.Next(), cloned, d.buf.Tail())
	d.next = next
	d.mu.Unlock()

	accepted := d.pool.Submit(sched.Job{
		Priority:       sched.PriorityReconstruction,
		MemoryEstimate: d.pendingReconstructionMemory(base),
		Run:            func() { d.runReconstruction(next) },
	})
	if !accepted {
		d.mu.Lock()
		d.next = nil
		d.mu.Unlock()
		d.reconstructionScheduled.Store(false)
		next.Retire()
	}
}

// pendingReconstructionMemory estimates the memory a reconstruction
// beginning right now needs to hold at once: level 0's current shards,
// always touched by a flush and the first rung of any deeper cascade, plus
// the buffer records about to be absorbed, scaled by level 0's observed
// bytes-per-record (or a conservative flat estimate while level 0 is still
// empty). This is an approximation of the task's real sources, not the
// whole structure's footprint.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) pendingReconstructionMemory(structure *extent.Structure[R, S]) int64 {
	const defaultBytesPerRecord = 64

	var level0Mem int64
	var level0Records int
	for _, s := range structure.ShardsInLevel(0) {
		level0Mem += s.MemoryUsage()
		level0Records += s.RecordCount()
	}

	bytesPerRecord := int64(defaultBytesPerRecord)
	if level0Records > 0 {
		bytesPerRecord = level0Mem / int64(level0Records)
	}
	return level0Mem + bytesPerRecord*int64(d.buf.RecordCount())
}

// runReconstruction is the worker callback: apply the planned
// merges/flush to next's structure, absorb the buffer range, advance the
// buffer head, then publish.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) runReconstruction(next *epoch.Epoch[*extent.Structure[R, S]]) {
	structure := next.Structure()
	view := d.buf.View()
	newHead := view.Tail
	tasks := structure.Apply(view)
	view.Release()

	if err := structure.CheckInvariants(); err != nil {
		d.log.Crit("structural invariant broken after reconstruction", "epoch", next.ID(), "err", err)
	}

	for !d.buf.AdvanceHead(newHead) {
		// A view taken before the reconstruction began still pins a
		// position below newHead. AdvanceHead returns false rather than
		// block, but since this worker has nothing else useful to do until
		// the head moves, it yields and retries rather than returning to
		// the scheduler.
		runtime.Gosched()
	}

	d.publish(next)
	d.log.Debug("reconstruction published", "epoch", next.ID(), "tasks", len(tasks))
	d.reconstructionScheduled.Store(false)
}

// publish installs next as current, demotes current to previous, and
// retires the epoch previous held before this call.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) publish(next *epoch.Epoch[*extent.Structure[R, S]]) {
	d.mu.Lock()
	evicted := d.previous
	d.previous = d.current
	d.current = next
	d.next = nil
	d.cond.Broadcast()
	d.mu.Unlock()

	d.releaseEpoch(evicted)
}

// AwaitNextEpoch blocks until any in-flight reconstruction has been
// published. A no-op if none is in flight.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) AwaitNextEpoch() {
	d.mu.Lock()
	for d.next != nil {
		d.cond.Wait()
	}
	d.mu.Unlock()
}

// Query runs q against the active epoch and returns its merged result.
// ctx governs only how long the caller waits for the result; there is no
// user-level cancellation of an in-flight query, so a canceled ctx
// abandons the wait without affecting the worker.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) Query(ctx context.Context, params Params, q query.Query[R, S, Params, LSQ, LBQ, LR, Result]) (Result, error) {
	var zero Result
	if d.shuttingDown.Load() {
		return zero, ErrShutdown
	}

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	accepted := d.pool.Submit(sched.Job{
		Priority: sched.PriorityQuery,
		Run: func() {
			res, err := d.runQuery(params, q)
			done <- outcome{res, err}
		},
	})
	if !accepted {
		return zero, ErrShutdown
	}

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type partition[R record.Ordered[R], S shard.Shard[R]] struct {
	level int // -1 denotes the buffer partition
	s     S
}

func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) runQuery(params Params, q query.Query[R, S, Params, LSQ, LBQ, LR, Result]) (Result, error) {
	var zero Result
	e := d.acquireActive()
	if e == nil {
		return zero, ErrShutdown
	}
	defer d.releaseEpoch(e)

	structure := e.Structure()
	view := d.buf.View()
	defer view.Release()

	var parts []partition[R, S]
	structure.ForEachShard(func(level int, s S) bool {
		parts = append(parts, partition[R, S]{level: level, s: s})
		return true
	})

	var result Result
	for round := 1; ; round++ {
		bufQuery := q.PreprocBuffer(view, &params)
		shardQueries := make([]LSQ, len(parts))
		for i, p := range parts {
			shardQueries[i] = q.PreprocShard(p.s, &params)
		}
		q.Distribute(&params, shardQueries, &bufQuery)

		// Fan-out order: buffer first, then level 0, then deeper levels,
		// enabling EarlyAbort to stop at the freshest partition carrying a
		// result.
		localResults := make([][]LR, len(parts)+1)
		levels := make([]int, len(parts)+1)
		levels[0] = -1
		localResults[0] = q.ExecuteBuffer(&bufQuery)
		earlyAbort := q.EarlyAbort() && len(localResults[0]) > 0
		for i, p := range parts {
			levels[i+1] = p.level
		}
		if !earlyAbort {
			if q.EarlyAbort() {
				// EarlyAbort queries stop at the first non-empty partition,
				// so fan-out must stay strictly ordered (buffer, level 0,
				// deeper levels): parallelizing would risk executing a
				// deeper shard the result was never meant to reach.
				for i, p := range parts {
					r := q.ExecuteShard(p.s, &shardQueries[i])
					localResults[i+1] = r
					if len(r) > 0 {
						localResults = localResults[:i+2]
						levels = levels[:i+2]
						break
					}
				}
			} else {
				// No EarlyAbort: every partition runs regardless of the
				// others' outcome, so they fan out concurrently.
				g, _ := errgroup.WithContext(context.Background())
				for i, p := range parts {
					i, p := i, p
					g.Go(func() error {
						localResults[i+1] = q.ExecuteShard(p.s, &shardQueries[i])
						return nil
					})
				}
				_ = g.Wait()
			}
		}

		if !q.SkipDeleteFilter() {
			d.filterDeletes(localResults, levels, structure, view)
		}

		result = q.Combine(localResults, &params)
		if !q.Repeat(&params, &result, round) {
			break
		}
	}
	return result, nil
}

// filterDeletes implements the delete-filtering pass. levels[i] is the
// level that produced localResults[i] (-1 for the buffer partition). The
// inner tombstone-dominance search only looks at partitions fresher than
// the one that produced a surviving result (buffer, then shallower
// levels), since a tombstone can only shadow a record inserted before it.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) filterDeletes(localResults [][]LR, levels []int, structure *extent.Structure[R, S], view *buffer.View[R]) {
	for i, results := range localResults {
		level := levels[i]
		kept := results[:0]
		for _, item := range results {
			rr, ok := any(item).(query.ResultRecord[R])
			if !ok {
				kept = append(kept, item)
				continue
			}
			env := rr.Envelope()
			switch d.cfg.Delete {
			case extent.TaggingPolicy:
				if env.IsDeleted() {
					continue
				}
			default:
				if env.IsTombstone() || d.dominatedByTombstone(env.Rec, level, structure, view) {
					continue
				}
			}
			kept = append(kept, item)
		}
		localResults[i] = kept
	}
}

// dominatedByTombstone reports whether a tombstone for rec shadows a result
// from producedLevel. The buffer view is probed for every result: its
// newest matching entry is fresher than any shard, and for a result the
// buffer itself produced (producedLevel -1) a later tombstone in the buffer
// is the only fresher one. Levels are probed only above producedLevel.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) dominatedByTombstone(rec R, producedLevel int, structure *extent.Structure[R, S], view *buffer.View[R]) bool {
	if env, ok := view.PointLookup(rec); ok && env.IsTombstone() {
		return true
	}
	for lvl := 0; lvl < producedLevel; lvl++ {
		shards := structure.ShardsInLevel(lvl)
		for idx, s := range shards {
			if bf := structure.ShardBloomFilter(lvl, idx); bf != nil && d.cfg.KeyBytes != nil {
				if !bf.MayContain(d.cfg.KeyBytes(rec)) {
					continue
				}
			}
			if env, found := s.PointLookup(rec, false); found && env.IsTombstone() {
				return true
			}
		}
	}
	return false
}

// Snapshot builds one fresh shard covering every record currently live,
// without installing it into any level.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) Snapshot() S {
	e := d.acquireActive()
	defer d.releaseEpoch(e)
	view := d.buf.View()
	defer view.Release()
	return e.Structure().Snapshot(view)
}

func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) RecordCount() int {
	e := d.acquireActive()
	defer d.releaseEpoch(e)
	return e.Structure().RecordCount() + int(d.buf.RecordCount())
}

func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) TombstoneCount() int {
	e := d.acquireActive()
	defer d.releaseEpoch(e)
	return e.Structure().TombstoneCount() + int(d.buf.TombstoneCount())
}

func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) Height() int {
	e := d.acquireActive()
	defer d.releaseEpoch(e)
	return e.Structure().Height()
}

func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) MemoryUsage() int64 {
	e := d.acquireActive()
	defer d.releaseEpoch(e)
	return e.Structure().MemoryUsage()
}

func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) AuxMemoryUsage() int64 {
	e := d.acquireActive()
	defer d.releaseEpoch(e)
	return e.Structure().AuxMemoryUsage()
}

func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) BufferCapacity() uint64 {
	return d.buf.Capacity()
}

// ValidateTombstoneProportion is a test hook exposing the active
// structure's invariant check.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) ValidateTombstoneProportion() bool {
	e := d.acquireActive()
	defer d.releaseEpoch(e)
	return e.Structure().ValidateTombstoneProportion()
}

// PrintSchedulerStatistics logs the worker pool's current load.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) PrintSchedulerStatistics() {
	d.pool.LogStatistics(d.log)
}

// Shutdown stops accepting new work, waits for any in-flight
// reconstruction to publish, and drains the worker pool once outstanding
// queries complete.
func (d *Extension[R, S, Params, LSQ, LBQ, LR, Result]) Shutdown() {
	d.shuttingDown.Store(true)
	d.AwaitNextEpoch()
	d.pool.Shutdown()
}
