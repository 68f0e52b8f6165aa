package relay

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Submit after Stop.
var ErrPoolClosed = errors.New("relay pool closed")

// Task is one unit of relay work.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed set of workers. Tasks with the same key always
// land on the same worker and therefore run in submission order.
type Pool struct {
	queues  []chan Task
	timeout time.Duration
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	g      *errgroup.Group
}

// NewPool creates a pool of workers, each with a queue of queueSize tasks.
// A task runs with a context bounded by timeout when timeout is positive.
func NewPool(workers, queueSize int, timeout time.Duration, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	queues := make([]chan Task, workers)
	for i := range queues {
		queues[i] = make(chan Task, queueSize)
	}
	return &Pool{
		queues:  queues,
		timeout: timeout,
		logger:  logger,
	}
}

// Start launches the workers. Tasks run with contexts derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	for i, q := range p.queues {
		g.Go(func() error {
			for task := range q {
				p.run(ctx, i, task)
			}
			return nil
		})
	}
	p.mu.Lock()
	p.g = g
	p.mu.Unlock()
}

// Submit queues task on the worker owning key. It blocks while that worker's
// queue is full.
func (p *Pool) Submit(key string, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queues[p.shard(key)] <- task
	return nil
}

// Stop refuses new tasks, lets the queued ones finish and waits for the workers.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, q := range p.queues {
		close(q)
	}
	g := p.g
	p.mu.Unlock()

	if g == nil {
		return nil
	}
	return g.Wait()
}

func (p *Pool) shard(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

func (p *Pool) run(ctx context.Context, worker int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("relay task panicked",
				zap.Int("worker", worker),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	task(ctx)
}
