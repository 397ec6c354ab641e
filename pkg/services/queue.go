package services

import (
	"context"
	"errors"
	"sync"

	"github.com/phuslu/log"
)

// ErrPoolClosed is returned by Submit after shutdown. Fail fast, never block
// a producer on a dead pool.
var ErrPoolClosed = errors.New("worker pool is shut down")

// Job is one unit of fetch work. Created at enqueue time, gone once Run
// returns; Run owns all bookkeeping (ledger transition, readiness).
type Job struct {
	Kind JobKind
	Ref  string
	Run  func(ctx context.Context)
}

// Pool is a fixed-size worker pool over a bounded queue. Workers pull in
// arrival order; there is no priority within a pool.
type Pool struct {
	name    string
	workers int
	queue   chan *Job
	wg      sync.WaitGroup
	logger  log.Logger

	mu     sync.RWMutex
	closed bool
}

func NewPool(name string, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers {
		queueSize = workers
	}
	return &Pool{
		name:    name,
		workers: workers,
		queue:   make(chan *Job, queueSize),
		logger:  log.DefaultLogger,
	}
}

// Start launches the workers. They exit when the pool is shut down and the
// queue has drained; a cancelled ctx makes every remaining job a fast no-op
// through the job's own Run path, so accounting always settles.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for job := range p.queue {
				job.Run(ctx)
			}
		}(i)
	}
}

func (p *Pool) Submit(job *Job) error {
	// The read lock spans the send so Shutdown cannot close the channel
	// under an in-flight Submit.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue <- job
	return nil
}

// Shutdown stops accepting jobs. Queued jobs still run (or no-op on a dead
// ctx). Safe to call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// Wait blocks until every worker has exited. Call Shutdown first.
func (p *Pool) Wait() {
	p.wg.Wait()
}
