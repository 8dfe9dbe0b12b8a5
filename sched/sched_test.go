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

package sched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsQueryJob(t *testing.T) {
	p := New(2, 0, nil)
	defer p.Shutdown()

	done := make(chan struct{})
	if !p.Submit(Job{Priority: PriorityQuery, Run: func() { close(done) }}) {
		t.Fatalf("expected query job to be accepted")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("query job never ran")
	}
}

func TestReconstructionJobRunsUnderMemoryBudget(t *testing.T) {
	p := New(1, 1024, nil)
	defer p.Shutdown()

	done := make(chan struct{})
	ok := p.Submit(Job{Priority: PriorityReconstruction, MemoryEstimate: 512, Run: func() { close(done) }})
	if !ok {
		t.Fatalf("expected reconstruction job to be accepted")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reconstruction job never ran")
	}

	stats := p.Stats()
	if stats.Completed != 1 {
		t.Fatalf("expected 1 completed job, got %d", stats.Completed)
	}
	if stats.InFlightReconstructions != 0 {
		t.Fatalf("expected no in-flight reconstructions after completion, got %d", stats.InFlightReconstructions)
	}
}

func TestQueriesPreferredOverReconstructions(t *testing.T) {
	// Two workers, one of them held by a slow reconstruction job already in
	// flight: a query submitted afterward must still run on the other worker
	// since the pool's two queues are serviced by separate select arms, not
	// a single FIFO.
	p := New(2, 0, nil)
	defer p.Shutdown()

	reconStarted := make(chan struct{})
	releaseRecon := make(chan struct{})
	p.Submit(Job{Priority: PriorityReconstruction, Run: func() {
		close(reconStarted)
		<-releaseRecon
	}})
	<-reconStarted

	queryDone := make(chan struct{})
	if !p.Submit(Job{Priority: PriorityQuery, Run: func() { close(queryDone) }}) {
		t.Fatalf("expected query job to be accepted")
	}
	select {
	case <-queryDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("query job starved behind an in-flight reconstruction")
	}
	close(releaseRecon)
}

func TestSubmitAfterShutdownIsRejected(t *testing.T) {
	p := New(1, 0, nil)
	p.Shutdown()

	if p.Submit(Job{Priority: PriorityQuery, Run: func() {}}) {
		t.Fatalf("expected submit after shutdown to be rejected")
	}
	if got := p.Stats().Dropped; got == 0 {
		t.Fatalf("expected the rejected submit to be counted as dropped")
	}
}

func TestShutdownWaitsForInFlightJobs(t *testing.T) {
	p := New(1, 0, nil)
	var ran int32
	release := make(chan struct{})
	p.Submit(Job{Priority: PriorityQuery, Run: func() {
		<-release
		atomic.AddInt32(&ran, 1)
	}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.Shutdown()
	}()

	close(release)
	wg.Wait()
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected the in-flight job to complete before shutdown returned")
	}
}

func TestStatsReportsWorkerCount(t *testing.T) {
	p := New(4, 0, nil)
	defer p.Shutdown()
	if got := p.Stats().Workers; got != 4 {
		t.Fatalf("expected 4 workers, got %d", got)
	}
}

type countingAffinity struct {
	mu    sync.Mutex
	pinned []int
}

func (c *countingAffinity) Pin(workerIndex int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = append(c.pinned, workerIndex)
}

func TestAffinityStrategyPinnedOncePerWorker(t *testing.T) {
	aff := &countingAffinity{}
	p := New(3, 0, aff)
	defer p.Shutdown()

	// Give the worker goroutines a moment to call Pin before we inspect it.
	time.Sleep(50 * time.Millisecond)
	aff.mu.Lock()
	defer aff.mu.Unlock()
	if len(aff.pinned) != 3 {
		t.Fatalf("expected 3 Pin calls, got %d", len(aff.pinned))
	}
}
