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

// Package sched implements the job queue and fixed worker pool: two
// priority classes (query, reconstruction), a memory-budget gate on
// reconstruction jobs, and a pluggable thread-affinity strategy. The
// backpressure shape -- bounded queues a submitter can be turned away from
// rather than blocked on indefinitely -- gives a "bounded in-flight
// window, producer must back off" protocol. The memory budget is
// golang.org/x/sync/semaphore.Weighted.
package sched

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/latticeds/dynashard/internal/dlog"
)

// Priority is the job's scheduling class.
type Priority int

const (
	PriorityQuery Priority = iota
	PriorityReconstruction
)

func (p Priority) String() string {
	if p == PriorityReconstruction {
		return "reconstruction"
	}
	return "query"
}

// JobID identifies a submitted job for logging and statistics.
type JobID = uuid.UUID

// Job is the unit of work the pool runs: a priority class, a memory
// estimate (meaningful only for PriorityReconstruction: its expected
// additional allocation), and the function to run.
type Job struct {
	ID             JobID
	Priority       Priority
	MemoryEstimate int64
	Run            func()
}

// AffinityStrategy pins a worker goroutine to a resource (typically an OS
// thread/core). Affinity is pluggable and optional so platforms without
// affinity support can substitute a no-op. The default NoAffinity does
// exactly that.
type AffinityStrategy interface {
	Pin(workerIndex int)
}

// NoAffinity is the default AffinityStrategy: it does nothing.
type NoAffinity struct{}

func (NoAffinity) Pin(int) {}

// Stats is a point-in-time snapshot of the pool's load, used by the
// façade's scheduler-statistics accessor.
type Stats struct {
	Workers              int
	QueryQueueDepth       int
	ReconstructionQueueDepth int
	InFlightReconstructions  int64
	Submitted               int64
	Completed               int64
	Dropped                 int64
	MemoryBudget            int64 // 0 means unbounded
}

type entry struct {
	job Job
}

// Pool is a fixed worker pool servicing two priority queues. Query jobs are
// preferred over reconstruction jobs whenever both are ready: queries
// never block behind other queries or behind reconstructions.
type Pool struct {
	log dlog.Logger

	mu        sync.Mutex
	closed    bool
	queryCh   chan entry
	reconCh   chan entry
	shutdown  chan struct{}

	mem          *semaphore.Weighted
	memoryBudget int64
	workers      int

	affinity AffinityStrategy
	wg       sync.WaitGroup

	submitted     int64
	completed     int64
	dropped       int64
	inFlightRecon int64
}

// New starts a pool of the given worker count (default 16 if zero or
// negative). memoryBudget of 0 disables reconstruction memory gating.
// affinity may be nil, in which case NoAffinity is used.
func New(workers int, memoryBudget int64, affinity AffinityStrategy) *Pool {
	if workers <= 0 {
		workers = 16
	}
	if affinity == nil {
		affinity = NoAffinity{}
	}
	p := &Pool{
		log:          dlog.New("sched"),
		queryCh:      make(chan entry, 4096),
		reconCh:      make(chan entry, 64),
		shutdown:     make(chan struct{}),
		affinity:     affinity,
		memoryBudget: memoryBudget,
		workers:      workers,
	}
	if memoryBudget > 0 {
		p.mem = semaphore.NewWeighted(memoryBudget)
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

// Submit enqueues a job, returning false (and logging the drop) if the pool
// has begun shutdown or the relevant queue is saturated.
func (p *Pool) Submit(j Job) bool {
	if j.ID == (uuid.UUID{}) {
		j.ID = uuid.New()
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.log.Warn("job submitted after shutdown", "job", j.ID, "priority", j.Priority)
		atomic.AddInt64(&p.dropped, 1)
		return false
	}
	p.mu.Unlock()

	ch := p.queryCh
	if j.Priority == PriorityReconstruction {
		ch = p.reconCh
	}
	select {
	case ch <- entry{job: j}:
		atomic.AddInt64(&p.submitted, 1)
		return true
	default:
		p.log.Warn("job queue saturated, dropping job", "job", j.ID, "priority", j.Priority)
		atomic.AddInt64(&p.dropped, 1)
		return false
	}
}

func (p *Pool) worker(idx int) {
	defer p.wg.Done()
	p.affinity.Pin(idx)
	for {
		// Queries are drained preferentially: a non-blocking check here
		// means a worker never parks on the reconstruction queue while a
		// query is ready.
		select {
		case e := <-p.queryCh:
			p.runQuery(e.job)
			continue
		default:
		}

		select {
		case e := <-p.queryCh:
			p.runQuery(e.job)
		case e := <-p.reconCh:
			p.runReconstruction(e.job)
		case <-p.shutdown:
			return
		}
	}
}

func (p *Pool) runQuery(j Job) {
	defer atomic.AddInt64(&p.completed, 1)
	j.Run()
}

func (p *Pool) runReconstruction(j Job) {
	if p.mem != nil {
		if j.MemoryEstimate > p.memoryBudget {
			// semaphore.Weighted.Acquire can never succeed for a request
			// larger than the semaphore's total capacity: with ctx set to
			// context.Background() it would block this worker forever
			// instead of returning an error. Fail fast so an oversized
			// estimate drops the job instead of wedging the pool.
			p.log.Error("reconstruction memory estimate exceeds budget, dropping job",
				"job", j.ID, "estimate", j.MemoryEstimate, "budget", p.memoryBudget)
			atomic.AddInt64(&p.dropped, 1)
			return
		}
		if err := p.mem.Acquire(context.Background(), j.MemoryEstimate); err != nil {
			p.log.Error("reconstruction memory acquire failed", "job", j.ID, "err", err)
			atomic.AddInt64(&p.dropped, 1)
			return
		}
		defer p.mem.Release(j.MemoryEstimate)
	}
	atomic.AddInt64(&p.inFlightRecon, 1)
	defer atomic.AddInt64(&p.inFlightRecon, -1)
	defer atomic.AddInt64(&p.completed, 1)
	j.Run()
}

// Shutdown closes the pool: no further jobs are accepted, every worker is
// signaled via the closed shutdown channel, any job still queued is
// logged as dropped, and Shutdown blocks until every worker has returned.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.shutdown)
	p.mu.Unlock()

	p.wg.Wait()

	for {
		select {
		case e := <-p.queryCh:
			p.log.Warn("dropping unrun job at shutdown", "job", e.job.ID, "priority", e.job.Priority)
			atomic.AddInt64(&p.dropped, 1)
		case e := <-p.reconCh:
			p.log.Warn("dropping unrun job at shutdown", "job", e.job.ID, "priority", e.job.Priority)
			atomic.AddInt64(&p.dropped, 1)
		default:
			return
		}
	}
}

// Stats snapshots the pool's current load.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:                  p.workers,
		QueryQueueDepth:          len(p.queryCh),
		ReconstructionQueueDepth: len(p.reconCh),
		InFlightReconstructions:  atomic.LoadInt64(&p.inFlightRecon),
		Submitted:                atomic.LoadInt64(&p.submitted),
		Completed:                atomic.LoadInt64(&p.completed),
		Dropped:                  atomic.LoadInt64(&p.dropped),
		MemoryBudget:             p.memoryBudget,
	}
}

// LogStatistics dumps the pool's statistics through log.
func (p *Pool) LogStatistics(log dlog.Logger) {
	s := p.Stats()
	log.Info("scheduler statistics",
		"queryQueue", s.QueryQueueDepth,
		"reconQueue", s.ReconstructionQueueDepth,
		"inFlightRecon", s.InFlightReconstructions,
		"submitted", s.Submitted,
		"completed", s.Completed,
		"dropped", s.Dropped,
		"memoryBudget", s.MemoryBudget,
	)
}
