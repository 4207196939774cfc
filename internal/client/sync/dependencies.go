package sync

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

// Outcome is the terminal state of a processed child, reported back to the
// dependency graph.
type Outcome int

const (
	OutcomeSucceed Outcome = iota
	OutcomeFail
	OutcomeRetry
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceed:
		return "succeed"
	case OutcomeFail:
		return "fail"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// ItemDependencies tracks parent-waits-for-child relations. Edges only
// point from a folder to items strictly beneath it, so the graph is
// acyclic by construction. It is the only gate for deletion ordering:
// a folder deletion is processed only when IsReady reports true.
type ItemDependencies struct {
	mu      sync.Mutex
	pending map[string]mapset.Set[string]
	failed  map[string]mapset.Set[string]
	retry   map[string]mapset.Set[string]
}

func NewItemDependencies() *ItemDependencies {
	return &ItemDependencies{
		pending: make(map[string]mapset.Set[string]),
		failed:  make(map[string]mapset.Set[string]),
		retry:   make(map[string]mapset.Set[string]),
	}
}

// Add inserts the edge parent→child. Idempotent.
func (d *ItemDependencies) Add(parent, child string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.pending[parent]
	if !ok {
		set = mapset.NewThreadUnsafeSet[string]()
		d.pending[parent] = set
	}
	set.Add(child)
}

// Remove drops the edge parent→child, recording the child's outcome.
// A FAIL outcome poisons the parent (it must be skipped). A RETRY outcome
// clears the edge without poisoning the parent; it is recorded but no
// method reports it, so the graph does not requeue the parent. Removing
// an absent edge is a no-op.
func (d *ItemDependencies) Remove(parent, child string, outcome Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.pending[parent]
	if !ok || !set.Contains(child) {
		return
	}
	set.Remove(child)
	if set.IsEmpty() {
		delete(d.pending, parent)
	}

	switch outcome {
	case OutcomeFail:
		d.mark(d.failed, parent, child)
	case OutcomeRetry:
		d.mark(d.retry, parent, child)
	}
}

// RemoveAll drops every edge of parent as if each child had succeeded.
// Used when the parent turns out not to be processed in this run.
func (d *ItemDependencies) RemoveAll(parent string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, parent)
}

func (d *ItemDependencies) mark(m map[string]mapset.Set[string], parent, child string) {
	set, ok := m[parent]
	if !ok {
		set = mapset.NewThreadUnsafeSet[string]()
		m[parent] = set
	}
	set.Add(child)
}

// DependenciesOf returns the pending children of parent.
func (d *ItemDependencies) DependenciesOf(parent string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.pending[parent]
	if !ok {
		return nil
	}
	return set.ToSlice()
}

// IsReady reports whether parent has no pending children.
func (d *ItemDependencies) IsReady(parent string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.pending[parent]
	return !ok || set.IsEmpty()
}

// HasFailed reports whether any child of parent failed. The parent must
// then be skipped and the failure propagated upward.
func (d *ItemDependencies) HasFailed(parent string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.failed[parent]
	return ok && !set.IsEmpty()
}

// Empty reports whether no pending edges remain anywhere in the graph.
func (d *ItemDependencies) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, set := range d.pending {
		if !set.IsEmpty() {
			return false
		}
	}
	return true
}
