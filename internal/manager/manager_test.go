package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"growlog/internal/clock"
	"growlog/internal/config"
	"growlog/internal/database"
	"growlog/internal/events"
	"growlog/internal/models"
	"growlog/internal/notify"
	"growlog/internal/queue"
	"growlog/internal/remote"
	synceng "growlog/internal/sync"

	"github.com/rs/zerolog"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manager.db")
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestManager(t *testing.T, clk clock.Clock, target remote.Target, validator PerformanceValidator) (*Manager, *database.DB) {
	t.Helper()
	db := newTestDB(t)
	bus := events.NewEventBus()

	batcher := notify.NewBatcher(notify.NewLogChannel(nil), clk, 100, 100, 20, time.Second, 2, nil)
	processor := queue.NewProcessor(db, batcher, bus, clk,
		queue.RetryPolicy{MaxRetries: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}, 50, 30*time.Second, nil)

	tracker := synceng.NewChangeTracker(true)
	tracker.SubscribeTo(bus)
	engine := synceng.NewEngine(db, target, tracker, clk, true, true, 25, nil)

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Exports.Path = filepath.Join(t.TempDir(), "exports")

	m := New(processor, batcher, engine, db, clk, cfg, validator, nil)
	t.Cleanup(func() {
		if m.State() == StateRunning {
			m.Stop()
		}
	})
	return m, db
}

func TestLifecycleTransitions(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, fc, remote.NewMemoryTarget(), nil)

	if m.State() != StateStopped {
		t.Fatalf("expected stopped initial state")
	}
	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if m.State() != StateRunning {
		t.Fatalf("expected running after start")
	}

	// Double start is a logged lifecycle error, never a crash.
	var lifecycle *LifecycleError
	if err := m.Start(); !errors.As(err, &lifecycle) {
		t.Fatalf("expected LifecycleError on double start, got %v", err)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if m.State() != StateStopped {
		t.Fatalf("expected stopped after stop")
	}
	if err := m.Stop(); !errors.As(err, &lifecycle) {
		t.Fatalf("expected LifecycleError on double stop, got %v", err)
	}

	if err := m.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if m.State() != StateRunning {
		t.Fatalf("expected running after restart")
	}
}

func TestStopClearsPendingWork(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, fc, remote.NewMemoryTarget(), nil)

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.batcher.QueueNotification(models.NotificationRequest{TaskID: 1, Priority: models.PriorityLow})

	if err := m.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stats := m.batcher.Stats(); stats.Pending != 0 {
		t.Fatalf("expected pending notifications cleared on stop, got %d", stats.Pending)
	}
}

func TestScheduleTasksForPlants(t *testing.T) {
	m, db := newTestManager(t, clock.New(), remote.NewMemoryTarget(), nil)
	ctx := context.Background()

	plants := []models.Plant{
		{ID: 1, Name: "Northern Lights"},
		{ID: 2, Name: "Blue Dream"},
		{Name: "unsaved seedling"}, // no id, must be reported
	}
	due := time.Now().UTC().Add(24 * time.Hour)

	result := m.ScheduleTasksForPlants(ctx, plants, models.TaskTypeWatering, due, ScheduleOptions{Priority: models.PriorityHigh})
	if result.Processed != 2 || result.Failed != 1 {
		t.Fatalf("expected 2 scheduled and 1 failed, got %+v", result)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected one reported error, got %v", result.Errors)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		count, _ := db.CountCareTasksByStatus(ctx, models.TaskStatusPending)
		if count == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("tasks never persisted, have %d", count)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCompleteTaskWithoutReschedule(t *testing.T) {
	m, db := newTestManager(t, clock.New(), remote.NewMemoryTarget(), nil)
	ctx := context.Background()

	task := &models.CareTask{PlantID: 1, Type: models.TaskTypeWatering, DueAt: time.Now().UTC(), RecurrenceDays: 3}
	if err := database.CreateCareTask(ctx, db, task); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := m.CompleteTask(ctx, *task, false); err != nil {
		t.Fatalf("complete: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		completed, _ := db.CountCareTasksByStatus(ctx, models.TaskStatusCompleted)
		if completed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("completion never processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// rescheduleNext=false suppresses the recurring follow-up.
	pending, _ := db.CountCareTasksByStatus(ctx, models.TaskStatusPending)
	if pending != 0 {
		t.Fatalf("expected no next occurrence, got %d pending", pending)
	}
}

func TestUpdateFocusWindowTriggersSync(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, fc, remote.NewMemoryTarget(), nil)
	ctx := context.Background()

	result := m.UpdateFocusWindow(ctx, fc.Now().AddDate(0, 0, 5))
	if !result.Success {
		t.Fatalf("expected successful sync after focus update, got %+v", result)
	}
	if m.engine.Stats().TotalRuns != 1 {
		t.Fatalf("expected one sync run, got %+v", m.engine.Stats())
	}
}

type fixedValidator struct {
	score float64
	err   error
}

func (v fixedValidator) Validate(ctx context.Context) (float64, error) {
	return v.score, v.err
}

func TestRunPerformanceTests(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m, _ := newTestManager(t, fc, remote.NewMemoryTarget(), fixedValidator{score: 0.85})
	ctx := context.Background()

	score, err := m.RunPerformanceTests(ctx)
	if err != nil || score != 0.85 {
		t.Fatalf("expected score 0.85, got %v, %v", score, err)
	}
	if got := m.Metrics().AvgPerformanceScore; got != 0.85 {
		t.Fatalf("expected score folded into metrics, got %v", got)
	}
}

func TestRunPerformanceTestsWithoutValidator(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m, _ := newTestManager(t, fc, remote.NewMemoryTarget(), nil)

	if _, err := m.RunPerformanceTests(context.Background()); err == nil {
		t.Fatalf("expected error without validator")
	}
}

func TestStatusSnapshot(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, fc, remote.NewMemoryTarget(), nil)

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	status := m.Status()
	if status.State != "running" {
		t.Fatalf("expected running state, got %q", status.State)
	}
	if status.Queue.QueueSize != 0 || status.Notifications.Pending != 0 {
		t.Fatalf("expected idle component stats, got %+v", status)
	}
}
