package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"growlog/internal/clock"
	"growlog/internal/database"
	"growlog/internal/models"
	"growlog/internal/remote"
)

type downTarget struct {
	*remote.MemoryTarget
}

func (d *downTarget) Push(ctx context.Context, snap remote.Snapshot) error {
	return errors.New("remote unavailable")
}

func (d *downTarget) Pull(ctx context.Context, kind string, entityID int64) (*remote.Snapshot, error) {
	return nil, errors.New("remote unavailable")
}

func TestHealthHealthyWhenRunningAndIdle(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC))
	m, _ := newTestManager(t, fc, remote.NewMemoryTarget(), nil)

	if err := m.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	report := m.CheckHealth(context.Background())
	if report.Status != HealthHealthy {
		t.Fatalf("expected healthy, got %+v", report)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("expected no issues, got %v", report.Issues)
	}
}

func TestHealthWarnsWhenStopped(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	m, _ := newTestManager(t, fc, remote.NewMemoryTarget(), nil)

	report := m.CheckHealth(context.Background())
	if report.Status != HealthWarning {
		t.Fatalf("expected warning for stopped loops, got %+v", report)
	}
}

func TestCriticalSyncFailuresTriggerRecovery(t *testing.T) {
	fc := clock.NewFake(time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC))
	m, db := newTestManager(t, fc, &downTarget{MemoryTarget: remote.NewMemoryTarget()}, nil)
	ctx := context.Background()

	task := &models.CareTask{PlantID: 1, Type: models.TaskTypeWatering, DueAt: fc.Now().Add(24 * time.Hour)}
	if err := database.CreateCareTask(ctx, db, task); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m.engine.Tracker().TrackTaskChange(task.ID, models.ChangeUpdate)

	// Two failed passes push the sync success ratio to zero.
	if r := m.engine.PerformIncrementalSync(ctx); r.Success {
		t.Fatalf("expected failed sync pass")
	}
	m.engine.PerformIncrementalSync(ctx)

	m.batcher.QueueNotification(models.NotificationRequest{TaskID: 1, Priority: models.PriorityLow})

	report := m.CheckHealth(ctx)
	if report.Status != HealthCritical {
		t.Fatalf("expected critical verdict, got %+v", report)
	}

	// Recovery cleared pending work and restarted the stopped manager.
	if stats := m.batcher.Stats(); stats.Pending != 0 {
		t.Fatalf("expected pending notifications cleared, got %d", stats.Pending)
	}
	if m.State() != StateRunning {
		t.Fatalf("expected manager restarted by recovery")
	}
}

func TestRunHealthLoopChecksOnTick(t *testing.T) {
	m, _ := newTestManager(t, clock.New(), remote.NewMemoryTarget(), nil)
	m.checkInterval = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.RunHealthLoop(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for {
		if !m.Status().Health.CheckedAt.IsZero() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("health loop never ran a check")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
