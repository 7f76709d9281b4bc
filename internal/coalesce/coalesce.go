// Package coalesce de-duplicates concurrent identical fetches.
//
// A Group keeps at most one pending Call per request key. Callers that arrive while
// a call is pending join it and observe the same result. The registry entry is removed
// as soon as the call settles, whatever the outcome, so a failed call never blocks a
// retry.
package coalesce

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// Func performs the underlying work of a call.
type Func[T any] func(ctx context.Context) (T, error)

// Call is a pending or settled unit of work shared by every caller of the same key.
type Call[T any] struct {
	key     string
	done    chan struct{}
	val     T
	err     error
	waiters atomic.Int32
}

// Key returns the request key the call was registered under.
func (c *Call[T]) Key() string {
	return c.key
}

// Done is closed once the call settles.
func (c *Call[T]) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call settles or ctx is done. Abandoning a wait never
// cancels the call itself.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Waiters returns how many callers joined the call after it was started.
func (c *Call[T]) Waiters() int {
	return int(c.waiters.Load())
}

// Group is a registry of in-flight calls keyed by request key.
type Group[T any] struct {
	calls *xsync.MapOf[string, *Call[T]]
}

// NewGroup creates an empty group. Each cache owns its own group.
func NewGroup[T any]() *Group[T] {
	return &Group[T]{calls: xsync.NewMapOf[string, *Call[T]]()}
}

// Go returns the pending call for key, or starts fn on a new goroutine and
// registers it. joined reports whether an existing call was returned.
// fn runs on ctx detached from cancellation, since other callers may join.
func (g *Group[T]) Go(ctx context.Context, key string, fn Func[T]) (call *Call[T], joined bool) {
	fresh := &Call[T]{key: key, done: make(chan struct{})}

	call, loaded := g.calls.LoadOrStore(key, fresh)
	if loaded {
		call.waiters.Add(1)
		return call, true
	}

	go g.run(context.WithoutCancel(ctx), fresh, fn)
	return fresh, false
}

// Do runs fn through the group and waits for its result.
func (g *Group[T]) Do(ctx context.Context, key string, fn Func[T]) (T, error) {
	call, _ := g.Go(ctx, key, fn)
	return call.Wait(ctx)
}

// Lookup returns the pending call for key, if any.
func (g *Group[T]) Lookup(key string) (*Call[T], bool) {
	return g.calls.Load(key)
}

// Forget drops the registration for key so the next caller starts a new call.
// Callers already waiting on the old call still receive its result.
func (g *Group[T]) Forget(key string) {
	g.calls.Delete(key)
}

// InFlight returns the number of pending calls.
func (g *Group[T]) InFlight() int {
	return g.calls.Size()
}

func (g *Group[T]) run(ctx context.Context, call *Call[T], fn Func[T]) {
	defer func() {
		if r := recover(); r != nil {
			call.err = fmt.Errorf("coalesce: call %q panicked: %v", call.key, r)
		}
		// only remove our own registration; Forget may already have
		// replaced it with a newer call
		g.calls.Compute(call.key, func(cur *Call[T], loaded bool) (*Call[T], bool) {
			if !loaded {
				return cur, true
			}
			return cur, cur == call
		})
		close(call.done)
	}()

	call.val, call.err = fn(ctx)
}
