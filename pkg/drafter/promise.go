package drafter

import (
	"context"
)

// Callback receives the outcome of a call. Exactly one of err and res is
// non-nil, except for validate without findings where both are nil.
type Callback func(err error, res *Result)

// Promise delivers the outcome of a call started with Parse or Validate.
type Promise struct {
	done chan struct{}
	res  *Result
	err  error
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

func (p *Promise) settle(res *Result, err error) {
	p.res, p.err = res, err
	close(p.done)
}

// Done returns a channel closed once the promise settles.
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the promise settles or ctx is done.
func (p *Promise) Await(ctx context.Context) (*Result, error) {
	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then calls cb on a new goroutine once the promise settles. The returned
// channel is closed after cb returns.
func (p *Promise) Then(cb Callback) <-chan struct{} {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		<-p.done
		cb(p.err, p.res)
	}()
	return finished
}
