// Package sync keeps local entities and the remote snapshot store
// convergent: a change tracker records mutated ids between passes and
// the engine pushes them out inside a bounded focus window.
package sync

import (
	stdsync "sync"
	"time"

	"growlog/internal/events"
	"growlog/internal/models"
)

// ChangeSet is one entity kind's pending changes at a point in time.
type ChangeSet struct {
	Updated []int64
	Deleted []int64
}

// ChangeTracker accumulates entity ids mutated since the last
// successful sync. When disabled every Track call is a no-op, which is
// how incremental sync is switched off without touching callers.
type ChangeTracker struct {
	mu       stdsync.Mutex
	enabled  bool
	changed  map[string]map[int64]string // kind -> id -> last op
	lastSync time.Time
}

func NewChangeTracker(enabled bool) *ChangeTracker {
	return &ChangeTracker{
		enabled: enabled,
		changed: make(map[string]map[int64]string),
	}
}

func (t *ChangeTracker) track(kind string, id int64, op string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	if t.changed[kind] == nil {
		t.changed[kind] = make(map[int64]string)
	}
	// A delete supersedes any earlier update for the same entity.
	if t.changed[kind][id] != models.ChangeDelete {
		t.changed[kind][id] = op
	}
}

func (t *ChangeTracker) TrackTaskChange(id int64, op string)     { t.track(models.KindTask, id, op) }
func (t *ChangeTracker) TrackReminderChange(id int64, op string) { t.track(models.KindReminder, id, op) }
func (t *ChangeTracker) TrackPlantChange(id int64, op string)    { t.track(models.KindPlant, id, op) }

// pendingSnapshot is the detached pending state one sync pass works
// from while new changes keep accumulating in the tracker.
type pendingSnapshot map[string]map[int64]string

func (s pendingSnapshot) changes(kind string) ChangeSet {
	var set ChangeSet
	for id, op := range s[kind] {
		if op == models.ChangeDelete {
			set.Deleted = append(set.Deleted, id)
		} else {
			set.Updated = append(set.Updated, id)
		}
	}
	return set
}

// Changes returns the pending set for one kind.
func (t *ChangeTracker) Changes(kind string) ChangeSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return pendingSnapshot(t.changed).changes(kind)
}

// begin detaches the current pending sets for one pass. Ids tracked
// after this point land in fresh sets and are never wiped by the pass's
// outcome.
func (t *ChangeTracker) begin() pendingSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	detached := t.changed
	t.changed = make(map[string]map[int64]string)
	return pendingSnapshot(detached)
}

// commit records the sync timestamp for a pass that fully covered its
// snapshot. The detached sets are simply discarded.
func (t *ChangeTracker) commit(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSync = at
}

// rollback merges a failed pass's snapshot back into the pending sets
// so every uncovered id is retried. An entry tracked during the pass
// wins over the snapshot's, except that a delete always supersedes.
func (t *ChangeTracker) rollback(snapshot pendingSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for kind, ids := range snapshot {
		if t.changed[kind] == nil {
			t.changed[kind] = make(map[int64]string)
		}
		for id, op := range ids {
			current, tracked := t.changed[kind][id]
			if !tracked || (op == models.ChangeDelete && current != models.ChangeDelete) {
				t.changed[kind][id] = op
			}
		}
	}
}

// HasChanges reports whether any kind has pending entries.
func (t *ChangeTracker) HasChanges() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ids := range t.changed {
		if len(ids) > 0 {
			return true
		}
	}
	return false
}

// Count returns the total number of pending entries across kinds.
func (t *ChangeTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, ids := range t.changed {
		total += len(ids)
	}
	return total
}

// Clear drops all pending sets and records the sync timestamp in the
// same critical section. This is an explicit reset, not the per-pass
// path; passes detach their snapshot via begin instead.
func (t *ChangeTracker) Clear(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.changed = make(map[string]map[int64]string)
	t.lastSync = at
}

// LastSync returns when the tracker was last cleared.
func (t *ChangeTracker) LastSync() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSync
}

// Enabled reports whether tracking is active.
func (t *ChangeTracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

// SubscribeTo wires the tracker to the processor's entity-change
// events so every persisted mutation lands in the pending sets.
func (t *ChangeTracker) SubscribeTo(bus *events.EventBus) {
	if bus == nil {
		return
	}
	handler := func(ev *events.Event) error {
		payload, err := events.DecodeEntityChange(ev)
		if err != nil {
			return err
		}
		t.track(payload.Kind, payload.EntityID, payload.Operation)
		return nil
	}
	for _, eventType := range []string{
		events.EventTaskChanged, events.EventTaskDeleted,
		events.EventReminderChanged, events.EventReminderDeleted,
		events.EventPlantChanged, events.EventPlantDeleted,
	} {
		bus.Subscribe(eventType, handler)
	}
}
