// Package async provides the worker pools query execution moves onto:
// a reader pool for queries, a writer pool for ingestion and a utility
// pool, each with a two-level priority queue.
package async

import (
	"context"
	"sync"

	"github.com/Aman-CERP/kvsearch/internal/config"
)

// Priority orders queued tasks; High drains before Low per the pool's
// configured weight.
type Priority int

const (
	High Priority = iota
	Low
)

// Task is one unit of queued work.
type Task func()

// Pool is a fixed-size worker pool with two priority queues. Dispatch is
// weighted: out of every 100 picks, weight go to the high queue first
// (default 100/0, strict priority).
type Pool struct {
	name   string
	weight int

	mu   sync.Mutex
	cond *sync.Cond
	high []Task
	low  []Task

	stopped bool
	wg      sync.WaitGroup
	picks   int
}

// NewPool starts workers goroutines draining the queues.
func NewPool(name string, workers, weight int) *Pool {
	p := &Pool{name: name, weight: weight}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a task at the given priority. Returns false after Stop.
func (p *Pool) Submit(pri Priority, t Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return false
	}
	if pri == High {
		p.high = append(p.high, t)
	} else {
		p.low = append(p.low, t)
	}
	p.cond.Signal()
	return true
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for !p.stopped && len(p.high) == 0 && len(p.low) == 0 {
			p.cond.Wait()
		}
		if p.stopped && len(p.high) == 0 && len(p.low) == 0 {
			p.mu.Unlock()
			return
		}
		t := p.pick()
		p.mu.Unlock()
		t()
	}
}

// pick chooses the next task by the weighted schedule; the starving queue
// is always served when the preferred one is empty.
func (p *Pool) pick() Task {
	p.picks = (p.picks + 1) % 100
	preferHigh := p.picks < p.weight || len(p.low) == 0
	if preferHigh && len(p.high) > 0 {
		t := p.high[0]
		p.high = p.high[1:]
		return t
	}
	t := p.low[0]
	p.low = p.low[1:]
	return t
}

// Stop drains the queues and joins the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// Pools bundles the three process pools.
type Pools struct {
	Reader  *Pool
	Writer  *Pool
	Utility *Pool
}

// NewPools sizes the pools from the thread-count config keys.
func NewPools() *Pools {
	return &Pools{
		Reader:  NewPool("reader", int(config.ReaderThreads.Get()), 100),
		Writer:  NewPool("writer", int(config.WriterThreads.Get()), 100),
		Utility: NewPool("utility", int(config.UtilityThreads.Get()), 100),
	}
}

// Stop stops all three pools.
func (p *Pools) Stop() {
	p.Reader.Stop()
	p.Writer.Stop()
	p.Utility.Stop()
}

// SubmitWait runs a task on the pool and blocks until it finishes or the
// context is done; the task itself is not interrupted (cancellation is
// cooperative through the query token).
func (p *Pool) SubmitWait(ctx context.Context, pri Priority, t Task) error {
	done := make(chan struct{})
	if !p.Submit(pri, func() {
		defer close(done)
		t()
	}) {
		t()
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
