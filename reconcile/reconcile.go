// Package reconcile runs optimistic mutations: apply locally, call the
// server, then confirm with the server value or roll every change back.
//
// A mutation is a list of Steps. Each Step applies its own change and returns
// the function that undoes it, so every cached structure rolls back to what it
// held before the mutation, independently of the others:
//
//	updated, err := reconcile.Run(ctx, tracker, ad.ID, callServer,
//		reconcile.Step[Ad]{
//			Name:    "detail",
//			Apply:   func() func() { prev := detail[ad.ID]; detail[ad.ID] = ad; return func() { detail[ad.ID] = prev } },
//			Confirm: func(v Ad) { detail[v.ID] = v },
//		},
//	)
package reconcile

import (
	"context"
	"fmt"
)

// Call is the server side of a mutation.
type Call[T any] func(ctx context.Context) (T, error)

// Step is one optimistic change.
type Step[T any] struct {
	// Name identifies the step in logs.
	Name string

	// Apply performs the optimistic change and returns its undo. Either may be nil.
	Apply func() (undo func())

	// Confirm receives the server confirmed value. May be nil.
	Confirm func(confirmed T)

	// Fail runs after the undos when the call fails. May be nil.
	Fail func(err error)
}

// Run applies every step, issues call and settles the steps. On success the
// Confirm hooks run in order and the confirmed value is returned. On failure
// the undos run in reverse order and the call error is returned unchanged. A
// panicking call fails like any other. tracker may be nil.
func Run[T any](ctx context.Context, tracker *Tracker, id string, call Call[T], steps ...Step[T]) (T, error) {
	var zero T
	if call == nil {
		return zero, fmt.Errorf("reconcile: nil call for %q", id)
	}

	undos := make([]func(), 0, len(steps))
	for _, step := range steps {
		if step.Apply == nil {
			continue
		}
		if undo := step.Apply(); undo != nil {
			undos = append(undos, undo)
		}
	}

	tracker.begin(id)
	confirmed, err := invoke(ctx, id, call)
	if err != nil {
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
		for _, step := range steps {
			if step.Fail != nil {
				step.Fail(err)
			}
		}
		tracker.end(id, err)
		return zero, err
	}

	for _, step := range steps {
		if step.Confirm != nil {
			step.Confirm(confirmed)
		}
	}
	tracker.end(id, nil)
	return confirmed, nil
}

// invoke runs call, turning a panic into an error so the undos and the
// tracker still settle.
func invoke[T any](ctx context.Context, id string, call Call[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v, err = zero, fmt.Errorf("reconcile: call for %q panicked: %v", id, r)
		}
	}()
	return call(ctx)
}
