// internal/engine/pool.go
package engine

import (
	"context"
	"errors"
)

// Pool leases runners to tasks. Each runner owns one browser session, so a
// lease gives the task exclusive use of that session.
type Pool struct {
	idle chan Runner
	size int
}

// NewPool returns a pool holding the given runners.
func NewPool(runners ...Runner) (*Pool, error) {
	if len(runners) == 0 {
		return nil, errors.New("pool requires at least one runner")
	}
	p := &Pool{idle: make(chan Runner, len(runners)), size: len(runners)}
	for _, r := range runners {
		if r == nil {
			return nil, errors.New("pool runner cannot be nil")
		}
		p.idle <- r
	}
	return p, nil
}

// Acquire blocks until a runner is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (Runner, error) {
	select {
	case r := <-p.idle:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a leased runner.
func (p *Pool) Release(r Runner) {
	p.idle <- r
}

func (p *Pool) Size() int { return p.size }

// Idle reports how many runners are free.
func (p *Pool) Idle() int { return len(p.idle) }
