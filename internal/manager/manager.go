// Package manager owns the background subsystem's lifecycle: it starts
// and stops the periodic loops, watches component health, and exposes
// the scheduling API the rest of the application calls.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"growlog/internal/clock"
	"growlog/internal/config"
	"growlog/internal/database"
	"growlog/internal/models"
	"growlog/internal/notify"
	"growlog/internal/queue"
	synceng "growlog/internal/sync"

	"github.com/rs/zerolog"
)

// State is the manager's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// LifecycleError marks an invalid state transition. Callers log and
// ignore it; the manager never panics on a double start or stop.
type LifecycleError struct {
	Op    string
	State State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
}

// PerformanceValidator scores the subsystem under synthetic load.
// Injected so tests and deployments can swap the workload.
type PerformanceValidator interface {
	Validate(ctx context.Context) (float64, error)
}

// Manager coordinates the processor, the notification batcher and the
// sync engine behind a Stopped/Running state machine.
type Manager struct {
	processor *queue.Processor
	batcher   *notify.Batcher
	engine    *synceng.Engine
	db        *database.DB
	clk       clock.Clock
	logger    *zerolog.Logger
	validator PerformanceValidator

	syncInterval        time.Duration
	maintenanceInterval time.Duration
	checkInterval       time.Duration
	retentionDays       int
	exportPath          string

	mu         sync.Mutex
	state      State
	startedAt  time.Time
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	perfScores []float64
	lastHealth HealthReport
}

func New(processor *queue.Processor, batcher *notify.Batcher, engine *synceng.Engine, db *database.DB, clk clock.Clock, cfg *config.Config, validator PerformanceValidator, logger *zerolog.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{
		processor:           processor,
		batcher:             batcher,
		engine:              engine,
		db:                  db,
		clk:                 clk,
		logger:              logger,
		validator:           validator,
		syncInterval:        cfg.Sync.Interval(),
		maintenanceInterval: cfg.Health.MaintenanceInterval(),
		checkInterval:       cfg.Health.CheckInterval(),
		retentionDays:       cfg.Health.RetentionDays,
		exportPath:          cfg.Exports.Path,
	}
}

// Start launches the periodic sync and maintenance loops plus the
// notification flush loop. Starting a running manager is a logged
// LifecycleError, not a crash.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.state == StateRunning {
		m.mu.Unlock()
		err := &LifecycleError{Op: "start", State: StateRunning}
		m.logger.Warn().Err(err).Msg("Ignoring invalid lifecycle transition")
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.state = StateRunning
	m.startedAt = m.clk.Now()
	m.mu.Unlock()

	m.wg.Add(3)
	go func() {
		defer m.wg.Done()
		m.syncLoop(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.maintenanceLoop(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.batcher.Run(ctx)
	}()

	m.logger.Info().
		Dur("sync_interval", m.syncInterval).
		Dur("maintenance_interval", m.maintenanceInterval).
		Msg("Processing manager started")
	return nil
}

// Stop halts the loops and discards pending queue and notification
// state. Stopping a stopped manager is a logged LifecycleError.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state != StateRunning {
		m.mu.Unlock()
		err := &LifecycleError{Op: "stop", State: m.state}
		m.logger.Warn().Err(err).Msg("Ignoring invalid lifecycle transition")
		return err
	}
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	droppedBatches := m.processor.Clear()
	droppedNotifications := m.batcher.Clear()

	m.mu.Lock()
	m.state = StateStopped
	m.mu.Unlock()

	m.logger.Info().
		Int("dropped_batches", droppedBatches).
		Int("dropped_notifications", droppedNotifications).
		Msg("Processing manager stopped")
	return nil
}

// Restart cycles the loops. A stopped manager is simply started.
func (m *Manager) Restart() error {
	if m.State() == StateRunning {
		if err := m.Stop(); err != nil {
			return err
		}
	}
	return m.Start()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) syncLoop(ctx context.Context) {
	ticker := m.clk.NewTicker(m.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.engine.PerformIncrementalSync(ctx)
		}
	}
}

func (m *Manager) maintenanceLoop(ctx context.Context) {
	ticker := m.clk.NewTicker(m.maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.PerformMaintenance(ctx)
		}
	}
}

// EnqueueTaskBatch hands a mutation batch to the processor.
func (m *Manager) EnqueueTaskBatch(ctx context.Context, tasks []models.CareTask, op models.Operation, priority models.Priority) (string, error) {
	return m.processor.Enqueue(ctx, tasks, op, priority)
}

// ScheduleOptions tunes ScheduleTasksForPlants.
type ScheduleOptions struct {
	Priority       models.Priority
	RecurrenceDays int
	Notes          string
}

// ScheduleTasksForPlants builds one care task per plant and enqueues
// them as a single create batch. Plants that cannot be scheduled are
// reported individually, never silently skipped.
func (m *Manager) ScheduleTasksForPlants(ctx context.Context, plants []models.Plant, taskType string, due time.Time, opts ScheduleOptions) models.ScheduleResult {
	var result models.ScheduleResult
	tasks := make([]models.CareTask, 0, len(plants))

	for _, plant := range plants {
		if plant.ID <= 0 {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("plant %q has no id", plant.Name))
			continue
		}
		tasks = append(tasks, models.CareTask{
			PlantID:        plant.ID,
			Type:           taskType,
			DueAt:          due,
			Priority:       opts.Priority,
			RecurrenceDays: opts.RecurrenceDays,
			Notes:          opts.Notes,
		})
	}

	if len(tasks) == 0 {
		return result
	}

	if _, err := m.processor.Enqueue(ctx, tasks, models.OpCreate, opts.Priority); err != nil {
		result.Failed += len(tasks)
		result.Errors = append(result.Errors, fmt.Sprintf("enqueue: %v", err))
		return result
	}
	result.Processed = len(tasks)
	return result
}

// CompleteTask enqueues a completion. With rescheduleNext false a
// recurring task completes without spawning its next occurrence.
func (m *Manager) CompleteTask(ctx context.Context, task models.CareTask, rescheduleNext bool) (string, error) {
	if !rescheduleNext {
		task.RecurrenceDays = 0
	}
	return m.processor.Enqueue(ctx, []models.CareTask{task}, models.OpComplete, task.Priority)
}

// UpdateFocusWindow shifts the sync window and triggers an immediate
// pass.
func (m *Manager) UpdateFocusWindow(ctx context.Context, focus time.Time) models.SyncResult {
	return m.engine.UpdateFocusWindow(ctx, focus)
}

// Status is the structured snapshot served by the status endpoint.
type Status struct {
	State         string        `json:"state"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Queue         queue.Stats   `json:"queue"`
	Notifications notify.Stats  `json:"notifications"`
	Sync          synceng.Stats `json:"sync"`
	Health        HealthReport  `json:"health"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	state := m.state
	startedAt := m.startedAt
	health := m.lastHealth
	m.mu.Unlock()

	var uptime float64
	if state == StateRunning {
		uptime = m.clk.Now().Sub(startedAt).Seconds()
	}
	return Status{
		State:         state.String(),
		UptimeSeconds: uptime,
		Queue:         m.processor.Stats(),
		Notifications: m.batcher.Stats(),
		Sync:          m.engine.Stats(),
		Health:        health,
	}
}

// Metrics aggregates the subsystem counters into one report.
type Metrics struct {
	UptimeSeconds       float64 `json:"uptime_seconds"`
	TotalProcessed      int64   `json:"total_processed"`
	TotalFailed         int64   `json:"total_failed"`
	PermanentFailures   int64   `json:"permanent_failures"`
	ErrorRate           float64 `json:"error_rate"`
	AvgProcessingMs     float64 `json:"avg_processing_ms"`
	SyncRuns            int64   `json:"sync_runs"`
	SyncSuccesses       int64   `json:"sync_successes"`
	SyncConflicts       int64   `json:"sync_conflicts"`
	AvgPerformanceScore float64 `json:"avg_performance_score"`
}

func (m *Manager) Metrics() Metrics {
	qs := m.processor.Stats()
	ss := m.engine.Stats()

	m.mu.Lock()
	state := m.state
	startedAt := m.startedAt
	var avgScore float64
	if len(m.perfScores) > 0 {
		var sum float64
		for _, s := range m.perfScores {
			sum += s
		}
		avgScore = sum / float64(len(m.perfScores))
	}
	m.mu.Unlock()

	var uptime float64
	if state == StateRunning {
		uptime = m.clk.Now().Sub(startedAt).Seconds()
	}

	var errorRate float64
	if total := qs.TotalProcessed + qs.TotalFailed; total > 0 {
		errorRate = float64(qs.TotalFailed) / float64(total)
	}

	return Metrics{
		UptimeSeconds:       uptime,
		TotalProcessed:      qs.TotalProcessed,
		TotalFailed:         qs.TotalFailed,
		PermanentFailures:   qs.PermanentFailures,
		ErrorRate:           errorRate,
		AvgProcessingMs:     qs.AvgProcessingMs,
		SyncRuns:            ss.TotalRuns,
		SyncSuccesses:       ss.SuccessfulRuns,
		SyncConflicts:       ss.TotalConflicts,
		AvgPerformanceScore: avgScore,
	}
}

// RunPerformanceTests delegates to the injected validator and folds
// the score into the rolling metrics.
func (m *Manager) RunPerformanceTests(ctx context.Context) (float64, error) {
	if m.validator == nil {
		return 0, fmt.Errorf("no performance validator configured")
	}
	score, err := m.validator.Validate(ctx)
	if err != nil {
		return 0, fmt.Errorf("performance validation failed: %w", err)
	}

	m.mu.Lock()
	m.perfScores = append(m.perfScores, score)
	m.mu.Unlock()

	m.logger.Info().Float64("score", score).Msg("Performance validation finished")
	return score, nil
}
