package sync

import (
	"sort"
	"testing"
	"time"

	"growlog/internal/events"
	"growlog/internal/models"
)

func TestTrackerCollectsChangesByKind(t *testing.T) {
	tr := NewChangeTracker(true)

	tr.TrackTaskChange(1, models.ChangeUpdate)
	tr.TrackTaskChange(2, models.ChangeUpdate)
	tr.TrackTaskChange(1, models.ChangeUpdate) // duplicate collapses
	tr.TrackReminderChange(7, models.ChangeDelete)
	tr.TrackPlantChange(3, models.ChangeUpdate)

	tasks := tr.Changes(models.KindTask)
	sort.Slice(tasks.Updated, func(i, j int) bool { return tasks.Updated[i] < tasks.Updated[j] })
	if len(tasks.Updated) != 2 || tasks.Updated[0] != 1 || tasks.Updated[1] != 2 {
		t.Fatalf("unexpected task updates: %+v", tasks)
	}
	if len(tasks.Deleted) != 0 {
		t.Fatalf("unexpected task deletes: %+v", tasks)
	}

	reminders := tr.Changes(models.KindReminder)
	if len(reminders.Deleted) != 1 || reminders.Deleted[0] != 7 {
		t.Fatalf("unexpected reminder changes: %+v", reminders)
	}

	if tr.Count() != 4 {
		t.Fatalf("expected 4 pending entries, got %d", tr.Count())
	}
}

func TestTrackerDeleteSupersedesUpdate(t *testing.T) {
	tr := NewChangeTracker(true)

	tr.TrackTaskChange(1, models.ChangeUpdate)
	tr.TrackTaskChange(1, models.ChangeDelete)
	tr.TrackTaskChange(1, models.ChangeUpdate) // delete must stick

	set := tr.Changes(models.KindTask)
	if len(set.Deleted) != 1 || len(set.Updated) != 0 {
		t.Fatalf("expected single delete, got %+v", set)
	}
}

func TestTrackerDisabledIsNoOp(t *testing.T) {
	tr := NewChangeTracker(false)

	tr.TrackTaskChange(1, models.ChangeUpdate)
	tr.TrackReminderChange(2, models.ChangeUpdate)
	tr.TrackPlantChange(3, models.ChangeDelete)

	if tr.HasChanges() {
		t.Fatalf("disabled tracker must record nothing")
	}
}

func TestTrackerClearIsAtomic(t *testing.T) {
	tr := NewChangeTracker(true)
	tr.TrackTaskChange(1, models.ChangeUpdate)

	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	tr.Clear(at)

	if tr.HasChanges() {
		t.Fatalf("expected empty tracker after clear")
	}
	if !tr.LastSync().Equal(at) {
		t.Fatalf("expected last sync %s, got %s", at, tr.LastSync())
	}
}

func TestBeginDetachesPendingForThePass(t *testing.T) {
	tr := NewChangeTracker(true)
	tr.TrackTaskChange(1, models.ChangeUpdate)

	snapshot := tr.begin()
	set := snapshot.changes(models.KindTask)
	if len(set.Updated) != 1 || set.Updated[0] != 1 {
		t.Fatalf("expected detached snapshot with task 1, got %+v", set)
	}

	// Tracked after begin: belongs to the next pass, not this one.
	tr.TrackTaskChange(2, models.ChangeUpdate)

	at := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	tr.commit(at)

	after := tr.Changes(models.KindTask)
	if len(after.Updated) != 1 || after.Updated[0] != 2 {
		t.Fatalf("change tracked during the pass must survive commit, got %+v", after)
	}
	if !tr.LastSync().Equal(at) {
		t.Fatalf("expected last sync %s, got %s", at, tr.LastSync())
	}
}

func TestRollbackMergesSnapshotWithoutMaskingNewer(t *testing.T) {
	tr := NewChangeTracker(true)
	tr.TrackTaskChange(1, models.ChangeUpdate)
	tr.TrackTaskChange(2, models.ChangeUpdate)

	snapshot := tr.begin()

	// While the failed pass ran: 2 was deleted and 3 updated.
	tr.TrackTaskChange(2, models.ChangeDelete)
	tr.TrackTaskChange(3, models.ChangeUpdate)

	tr.rollback(snapshot)

	set := tr.Changes(models.KindTask)
	sort.Slice(set.Updated, func(i, j int) bool { return set.Updated[i] < set.Updated[j] })
	if len(set.Updated) != 2 || set.Updated[0] != 1 || set.Updated[1] != 3 {
		t.Fatalf("expected updates for 1 and 3 after rollback, got %+v", set)
	}
	if len(set.Deleted) != 1 || set.Deleted[0] != 2 {
		t.Fatalf("delete tracked mid-pass must stick through rollback, got %+v", set)
	}
}

func TestTrackerSubscribesToEntityChanges(t *testing.T) {
	tr := NewChangeTracker(true)
	bus := events.NewEventBus()
	tr.SubscribeTo(bus)

	bus.PublishEntityChange(events.EventTaskChanged, models.KindTask, 11, models.ChangeUpdate)
	bus.PublishEntityChange(events.EventTaskDeleted, models.KindTask, 12, models.ChangeDelete)
	bus.PublishEntityChange(events.EventPlantChanged, models.KindPlant, 5, models.ChangeUpdate)

	tasks := tr.Changes(models.KindTask)
	if len(tasks.Updated) != 1 || tasks.Updated[0] != 11 {
		t.Fatalf("expected tracked update from bus, got %+v", tasks)
	}
	if len(tasks.Deleted) != 1 || tasks.Deleted[0] != 12 {
		t.Fatalf("expected tracked delete from bus, got %+v", tasks)
	}
	plants := tr.Changes(models.KindPlant)
	if len(plants.Updated) != 1 {
		t.Fatalf("expected tracked plant change, got %+v", plants)
	}
}

func TestComputeWindowFiveDayFocus(t *testing.T) {
	focus := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	w := ComputeWindow(focus, true)

	if !w.Start.Equal(focus.AddDate(0, 0, -7)) {
		t.Fatalf("expected start focus-7d, got %s", w.Start)
	}
	if !w.End.Equal(focus.AddDate(0, 0, 14)) {
		t.Fatalf("expected end focus+14d, got %s", w.End)
	}
	if !w.FocusStart.Equal(focus) || !w.FocusEnd.Equal(focus.AddDate(0, 0, 4)) {
		t.Fatalf("unexpected focus bounds: %+v", w)
	}
	if !w.Valid() {
		t.Fatalf("five-day window must be valid: %+v", w)
	}
}

func TestComputeWindowFullMode(t *testing.T) {
	focus := time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	w := ComputeWindow(focus, false)

	if !w.Start.Equal(focus.AddDate(0, 0, -30)) || !w.End.Equal(focus.AddDate(0, 0, 30)) {
		t.Fatalf("expected symmetric 30d window, got %+v", w)
	}
	if !w.Valid() {
		t.Fatalf("full window must be valid: %+v", w)
	}
}
