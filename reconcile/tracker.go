package reconcile

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// Tracker holds the per id loading and error flags of running mutations.
// A nil *Tracker is valid and tracks nothing.
type Tracker struct {
	pending *xsync.MapOf[string, int]
	errs    *xsync.MapOf[string, error]
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending: xsync.NewMapOf[string, int](),
		errs:    xsync.NewMapOf[string, error](),
	}
}

// Pending reports whether a mutation on id is awaiting the server.
func (t *Tracker) Pending(id string) bool {
	if t == nil {
		return false
	}
	n, ok := t.pending.Load(id)
	return ok && n > 0
}

// Err returns the error of the last failed mutation on id. It is cleared
// when a later mutation on id succeeds.
func (t *Tracker) Err(id string) error {
	if t == nil {
		return nil
	}
	err, _ := t.errs.Load(id)
	return err
}

// Clear drops the error recorded for id.
func (t *Tracker) Clear(id string) {
	if t == nil {
		return
	}
	t.errs.Delete(id)
}

func (t *Tracker) begin(id string) {
	if t == nil {
		return
	}
	t.pending.Compute(id, func(n int, _ bool) (int, bool) {
		return n + 1, false
	})
}

func (t *Tracker) end(id string, err error) {
	if t == nil {
		return
	}
	t.pending.Compute(id, func(n int, _ bool) (int, bool) {
		n--
		return n, n <= 0
	})
	if err != nil {
		t.errs.Store(id, err)
		return
	}
	t.errs.Delete(id)
}
