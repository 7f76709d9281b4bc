package reconcile

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type record struct {
	ID    string
	Title string
}

func TestRun_ConfirmsOnSuccess(t *testing.T) {
	state := map[string]record{"a": {ID: "a", Title: "old"}}
	tracker := NewTracker()

	var pendingDuringCall bool
	call := func(ctx context.Context) (record, error) {
		pendingDuringCall = tracker.Pending("a")
		if state["a"].Title != "optimistic" {
			t.Errorf("optimistic value not applied before call: %+v", state["a"])
		}
		return record{ID: "a", Title: "server"}, nil
	}

	got, err := Run(context.Background(), tracker, "a", call, Step[record]{
		Name: "state",
		Apply: func() func() {
			prev := state["a"]
			state["a"] = record{ID: "a", Title: "optimistic"}
			return func() { state["a"] = prev }
		},
		Confirm: func(v record) { state[v.ID] = v },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != "server" || state["a"].Title != "server" {
		t.Errorf("expected server value, got %+v / %+v", got, state["a"])
	}
	if !pendingDuringCall {
		t.Error("expected id to be pending while the call runs")
	}
	if tracker.Pending("a") || tracker.Err("a") != nil {
		t.Error("expected tracker to be clear after success")
	}
}

func TestRun_RollsBackInReverseOrder(t *testing.T) {
	state := map[string]record{"a": {ID: "a", Title: "old"}}
	before := map[string]record{"a": state["a"]}
	tracker := NewTracker()
	boom := errors.New("rejected")

	var order []string
	step := func(name string) Step[record] {
		return Step[record]{
			Name: name,
			Apply: func() func() {
				prev := state["a"]
				state["a"] = record{ID: "a", Title: name}
				return func() {
					order = append(order, name)
					state["a"] = prev
				}
			},
			Confirm: func(record) { t.Errorf("confirm %s must not run", name) },
		}
	}

	var failed error
	last := step("second")
	last.Fail = func(err error) { failed = err }

	_, err := Run(context.Background(), tracker, "a", func(context.Context) (record, error) {
		return record{}, boom
	}, step("first"), last)

	if !errors.Is(err, boom) {
		t.Fatalf("expected call error, got %v", err)
	}
	if !reflect.DeepEqual(order, []string{"second", "first"}) {
		t.Errorf("undo order = %v", order)
	}
	if !reflect.DeepEqual(state, before) {
		t.Errorf("state not restored: %+v", state)
	}
	if failed != boom {
		t.Errorf("fail hook got %v", failed)
	}
	if tracker.Pending("a") {
		t.Error("expected pending flag cleared")
	}
	if !errors.Is(tracker.Err("a"), boom) {
		t.Errorf("expected tracked error, got %v", tracker.Err("a"))
	}
}

func TestRun_SuccessClearsPreviousError(t *testing.T) {
	tracker := NewTracker()
	fail := func(context.Context) (int, error) { return 0, errors.New("x") }
	ok := func(context.Context) (int, error) { return 1, nil }

	Run(context.Background(), tracker, "id", fail)
	if tracker.Err("id") == nil {
		t.Fatal("expected error to be recorded")
	}
	if _, err := Run(context.Background(), tracker, "id", ok); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracker.Err("id") != nil {
		t.Error("expected error to be cleared")
	}
}

func TestRun_PanickingCallRollsBack(t *testing.T) {
	state := map[string]record{"a": {ID: "a", Title: "old"}}
	tracker := NewTracker()
	var failed error

	_, err := Run(context.Background(), tracker, "a",
		func(context.Context) (record, error) { panic("decoder blew up") },
		Step[record]{
			Name: "state",
			Apply: func() func() {
				prev := state["a"]
				state["a"] = record{ID: "a", Title: "optimistic"}
				return func() { state["a"] = prev }
			},
			Fail: func(err error) { failed = err },
		},
	)
	if err == nil || !strings.Contains(err.Error(), "decoder blew up") {
		t.Fatalf("expected the panic as an error, got %v", err)
	}
	if state["a"].Title != "old" {
		t.Errorf("expected rollback, got %+v", state["a"])
	}
	if failed == nil {
		t.Error("expected Fail hooks to run")
	}
	if tracker.Pending("a") {
		t.Error("a panicking call must not stay pending")
	}
	if tracker.Err("a") == nil {
		t.Error("expected the error recorded")
	}
}

func TestRun_NilStepsAndTracker(t *testing.T) {
	got, err := Run(context.Background(), nil, "id", func(context.Context) (string, error) {
		return "ok", nil
	}, Step[string]{Name: "empty"})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}

	if _, err := Run[string](context.Background(), nil, "id", nil); err == nil {
		t.Error("expected error for nil call")
	}
}

func TestTracker_Nil(t *testing.T) {
	var tr *Tracker
	if tr.Pending("x") || tr.Err("x") != nil {
		t.Error("nil tracker must report nothing")
	}
	tr.Clear("x")
}
