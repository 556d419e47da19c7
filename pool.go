// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"context"
	"sync"

	"github.com/gammazero/deque"
)

// workItem describes one replication to run: its identity and the
// deterministic seed assigned from the batch seed table.
type workItem struct {
	variantID int
	replicID  int
	seed      int64
}

// workerPool runs a fixed number of long-lived worker goroutines fed
// from a shared pending queue. The worker count is computed once at
// batch start; as the queue drains the pool simply shrinks toward zero
// active workers, never rebalancing.
type workerPool struct {
	mu      sync.Mutex
	pending deque.Deque[workItem]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	run     func(ctx context.Context, item workItem)
	stopped func(item workItem)
}

// startWorkerPool enqueues every item and launches numWorkers
// goroutines to drain them. run executes one item; stopped is invoked
// for items that terminate drained before any worker picked them up.
// Items are enqueued in the order given, so dispatch order is
// deterministic even though completion order is not.
func startWorkerPool(numWorkers int, items []workItem,
	run func(ctx context.Context, item workItem),
	stopped func(item workItem),
) *workerPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &workerPool{
		ctx:     ctx,
		cancel:  cancel,
		run:     run,
		stopped: stopped,
	}
	for _, item := range items {
		p.pending.PushBack(item)
	}
	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

func (p *workerPool) next() (workItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Len() == 0 {
		return workItem{}, false
	}
	return p.pending.PopFront(), true
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for p.ctx.Err() == nil {
		item, ok := p.next()
		if !ok {
			return
		}
		// run is responsible for noticing cancellation that lands
		// between the pop and here; an item either runs its course or
		// reports itself stopped.
		p.run(p.ctx, item)
	}
}

// terminate cancels in-flight work and reports every item that was
// never dispatched through the stopped callback. It does not wait for
// in-flight workers; use wait for that.
func (p *workerPool) terminate() {
	p.cancel()
	p.mu.Lock()
	drained := make([]workItem, 0, p.pending.Len())
	for p.pending.Len() > 0 {
		drained = append(drained, p.pending.PopFront())
	}
	p.mu.Unlock()
	for _, item := range drained {
		p.stopped(item)
	}
}

// wait blocks until every worker goroutine has exited.
func (p *workerPool) wait() {
	p.wg.Wait()
}
