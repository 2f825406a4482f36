package dispatcher

import (
	"context"
)

// JobQueue is a bounded FIFO of commands.
type JobQueue struct {
	jobs chan Command
}

func NewJobQueue(size int) *JobQueue {
	return &JobQueue{jobs: make(chan Command, size)}
}

// Enqueue returns false without blocking when the queue is full.
func (jq *JobQueue) Enqueue(cmd Command) bool {
	select {
	case jq.jobs <- cmd:
		return true
	default:
		return false
	}
}

// Dequeue blocks until a command is available or ctx ends.
func (jq *JobQueue) Dequeue(ctx context.Context) (Command, bool) {
	select {
	case cmd := <-jq.jobs:
		return cmd, true
	case <-ctx.Done():
		return Command{}, false
	}
}

func (jq *JobQueue) Len() int {
	return len(jq.jobs)
}
