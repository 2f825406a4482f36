package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nukeguard/internal/logging"
)

// Handler executes commands taken off the queue.
type Handler interface {
	Execute(ctx context.Context, cmd Command) Result
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) Result

func (f HandlerFunc) Execute(ctx context.Context, cmd Command) Result {
	return f(ctx, cmd)
}

// Pool runs a fixed number of workers draining a JobQueue.
type Pool struct {
	queue   *JobQueue
	handler Handler
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewPool(queue *JobQueue, handler Handler, timeout time.Duration) *Pool {
	return &Pool{queue: queue, handler: handler, timeout: timeout}
}

// Start launches n workers. They exit once ctx is cancelled; a command
// already taken off the queue runs to completion first.
func (p *Pool) Start(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for {
		cmd, ok := p.queue.Dequeue(ctx)
		if !ok {
			return
		}
		p.execute(workerID, cmd)
	}
}

func (p *Pool) execute(workerID int, cmd Command) {
	// Detached from the pool context so shutdown does not cut a
	// half-applied restore short.
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	res := p.safeExecute(ctx, cmd)
	if res.Err != nil {
		logging.Warn("worker %d: %s/%s for %s in %s failed: %v",
			workerID, cmd.Action, cmd.Subject, cmd.Principal, cmd.Community, res.Err)
	} else {
		logging.Info("worker %d: %s/%s for %s in %s by %s",
			workerID, cmd.Action, cmd.Subject, cmd.Principal, cmd.Community, cmd.Actor)
	}

	if cmd.Reply != nil {
		cmd.Reply(res)
	}
}

func (p *Pool) safeExecute(ctx context.Context, cmd Command) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return p.handler.Execute(ctx, cmd)
}
