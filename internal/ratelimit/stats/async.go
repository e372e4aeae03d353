package stats

import (
	"context"
	"sync/atomic"
	"time"
)

// DefaultWriteTimeout bounds each write Async makes to its recorder.
const DefaultWriteTimeout = 2 * time.Second

// Async hands events to a background worker so the request path never waits
// on the underlying recorder. Events are dropped when the queue is full.
type Async struct {
	next    Recorder
	events  chan Event
	dropped atomic.Int64
	onError func(error)
	timeout time.Duration
}

type AsyncOption func(*Async)

// WithWriteTimeout bounds each forwarded write. Non-positive values keep
// the default.
func WithWriteTimeout(d time.Duration) AsyncOption {
	return func(a *Async) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAsync queues up to size events for next. onError may be nil.
func NewAsync(next Recorder, size int, onError func(error), opts ...AsyncOption) *Async {
	if size <= 0 {
		size = 1024
	}
	a := &Async{
		next:    next,
		events:  make(chan Event, size),
		onError: onError,
		timeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Record enqueues ev and always returns nil.
func (a *Async) Record(_ context.Context, ev Event) error {
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Run forwards queued events until ctx is done.
func (a *Async) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.events:
			if err := a.forward(ctx, ev); err != nil && a.onError != nil {
				a.onError(err)
			}
		}
	}
}

func (a *Async) forward(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.next.Record(ctx, ev)
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }
