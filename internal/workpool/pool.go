// Package workpool runs blocking storage and inference work on a bounded set of goroutines and
// hands results back through futures.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hyperjump/ruiji/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("worker pool closed")

// Pool bounds the number of jobs running at once.
type Pool struct {
	sem    *semaphore.Weighted
	size   int64
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger *zap.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets a logger for job panics.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New returns a pool running at most size jobs concurrently. size <= 0 means 1.
func New(size int, opts ...Option) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.OrNop(p.logger)
	return p
}

// Size returns the concurrency limit.
func (p *Pool) Size() int { return int(p.size) }

// Future is the pending result of a job.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed when the job has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the job finishes or ctx is done. Abandoning a future does not stop the job.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Go schedules fn on the pool. fn receives jobCtx, which the caller chooses: pass the request
// context for work that should stop with the caller (scans), or a context.WithoutCancel copy for
// work that must run to completion once started (writes). Waiting for a worker slot honours
// jobCtx as well.
func Go[T any](jobCtx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		f.err = ErrClosed
		close(f.done)
		return f
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	go func() {
		defer p.wg.Done()
		defer close(f.done)
		if err := p.sem.Acquire(jobCtx, 1); err != nil {
			f.err = err
			return
		}
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker job panicked", zap.Any("panic", r))
				f.err = fmt.Errorf("worker job panicked: %v", r)
			}
		}()
		f.value, f.err = fn(jobCtx)
	}()
	return f
}

// Run schedules fn and waits for it under ctx.
func Run[T any](ctx, jobCtx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	return Go(jobCtx, p, fn).Wait(ctx)
}

// Close stops accepting work and waits for in-flight jobs to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
