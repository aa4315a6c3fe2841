// Package memory provides an in-process Deliverer used in tests and for
// offline development. Failures can be scripted to exercise retry paths.
package memory

import (
	"context"
	"sync"

	"conti/internal/remote"
)

type Deliverer struct {
	mu        sync.Mutex
	delivered []remote.Mutation
	failNext  int
	failErr   error
	failAll   error
}

func New() *Deliverer {
	return &Deliverer{}
}

// FailNext makes the next n deliveries fail with err.
func (d *Deliverer) FailNext(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
	d.failErr = err
}

// FailAlways makes every delivery fail with err until reset with nil.
func (d *Deliverer) FailAlways(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAll = err
}

func (d *Deliverer) Deliver(ctx context.Context, m remote.Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failAll != nil {
		return d.failAll
	}
	if d.failNext > 0 {
		d.failNext--
		return d.failErr
	}

	d.delivered = append(d.delivered, m)
	return nil
}

func (d *Deliverer) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Delivered returns a copy of everything accepted so far.
func (d *Deliverer) Delivered() []remote.Mutation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]remote.Mutation, len(d.delivered))
	copy(out, d.delivered)
	return out
}

var _ remote.Deliverer = (*Deliverer)(nil)
