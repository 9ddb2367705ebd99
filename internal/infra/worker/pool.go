// File: internal/infra/worker/pool.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/domain"
	"splitmate-scan/internal/infra/logging"
)

type Task func(ctx context.Context) error

// Pool runs each submitted task on its own goroutine, bounded by maxInFlight
// when positive. Tasks share the pool's context, which outlives any request
// and is only cancelled when Shutdown runs out of grace time.
type Pool struct {
	mu     sync.Mutex
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	slots  chan struct{}
	closed bool
	log    *zerolog.Logger
}

func NewPool(maxInFlight int, logger *zerolog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, cancel: cancel, log: logging.Component(logger, "WorkerPool")}
	if maxInFlight > 0 {
		p.slots = make(chan struct{}, maxInFlight)
	}
	return p
}

func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrPoolClosed
	}
	if p.slots != nil {
		select {
		case p.slots <- struct{}{}:
		default:
			return domain.ErrQueueFull
		}
	}
	p.wg.Add(1)
	go p.run(task)
	return nil
}

func (p *Pool) run(task Task) {
	defer p.wg.Done()
	if p.slots != nil {
		defer func() { <-p.slots }()
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("task panicked")
		}
	}()
	if err := task(p.ctx); err != nil {
		p.log.Error().Err(err).Msg("task error")
	}
}

// InFlight reports the number of running tasks when the pool is bounded.
func (p *Pool) InFlight() int {
	if p.slots == nil {
		return -1
	}
	return len(p.slots)
}

// Shutdown stops accepting tasks and waits for running ones. When ctx ends
// first, the tasks' context is cancelled and Shutdown waits for them to
// return before reporting ctx.Err().
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.log.Warn().Msg("grace period over, cancelling in-flight tasks")
		p.cancel()
		<-done
		return ctx.Err()
	}
}
