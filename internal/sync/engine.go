package sync

import (
	"context"
	"encoding/json"
	"fmt"
	stdsync "sync"
	"time"

	"growlog/internal/clock"
	"growlog/internal/database"
	"growlog/internal/metrics"
	"growlog/internal/models"
	"growlog/internal/remote"

	"github.com/rs/zerolog"
)

const conflictTypeVersionMismatch = "version_mismatch"
const resolutionPreferLocal = "prefer_local"

// Stats is the engine's cumulative run tally, consumed by health
// checks.
type Stats struct {
	TotalRuns      int64     `json:"total_runs"`
	SuccessfulRuns int64     `json:"successful_runs"`
	NoOpRuns       int64     `json:"noop_runs"`
	TotalConflicts int64     `json:"total_conflicts"`
	LastRunAt      time.Time `json:"last_run_at"`
	LastSuccess    time.Time `json:"last_success"`
	PendingChanges int       `json:"pending_changes"`
}

// Engine pushes local entity state to the remote target one bounded
// window at a time. Exactly one pass runs at a time; a second caller
// gets an empty successful no-op result instead of blocking.
type Engine struct {
	db           *database.DB
	target       remote.Target
	tracker      *ChangeTracker
	clk          clock.Clock
	logger       *zerolog.Logger
	batchSize    int
	fiveDayFocus bool
	incremental  bool

	mu        stdsync.Mutex
	isSyncing bool
	focus     time.Time
	window    models.SyncWindow

	totalRuns      int64
	successfulRuns int64
	noopRuns       int64
	totalConflicts int64
	lastRunAt      time.Time
	lastSuccess    time.Time
}

func NewEngine(db *database.DB, target remote.Target, tracker *ChangeTracker, clk clock.Clock, fiveDayFocus, incremental bool, batchSize int, logger *zerolog.Logger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if batchSize <= 0 {
		batchSize = models.DefaultBatchSize
	}
	if tracker == nil {
		tracker = NewChangeTracker(incremental)
	}

	focus := clk.Now()
	return &Engine{
		db:           db,
		target:       target,
		tracker:      tracker,
		clk:          clk,
		logger:       logger,
		batchSize:    batchSize,
		fiveDayFocus: fiveDayFocus,
		incremental:  incremental,
		focus:        focus,
		window:       ComputeWindow(focus, fiveDayFocus),
	}
}

// Tracker exposes the engine's change tracker for event-bus wiring.
func (e *Engine) Tracker() *ChangeTracker { return e.tracker }

// Window returns the current sync window.
func (e *Engine) Window() models.SyncWindow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window
}

// PerformIncrementalSync runs one pass over the tracker's pending
// changes. With incremental sync disabled it degrades to a full pass.
func (e *Engine) PerformIncrementalSync(ctx context.Context) models.SyncResult {
	return e.run(ctx, !e.incremental)
}

// PerformFullSync pushes every entity inside the window regardless of
// the tracker state.
func (e *Engine) PerformFullSync(ctx context.Context) models.SyncResult {
	return e.run(ctx, true)
}

// UpdateFocusWindow recomputes the window around the new focus date
// and immediately syncs so the remote reflects the shifted bounds.
func (e *Engine) UpdateFocusWindow(ctx context.Context, focus time.Time) models.SyncResult {
	e.mu.Lock()
	e.focus = focus
	e.window = ComputeWindow(focus, e.fiveDayFocus)
	window := e.window
	e.mu.Unlock()

	e.logger.Info().
		Time("focus", focus).
		Time("window_start", window.Start).
		Time("window_end", window.End).
		Msg("Focus window updated")

	return e.PerformIncrementalSync(ctx)
}

func (e *Engine) run(ctx context.Context, full bool) models.SyncResult {
	e.mu.Lock()
	if e.isSyncing {
		e.noopRuns++
		e.mu.Unlock()
		metrics.IncSyncRun("noop")
		return models.SyncResult{Success: true, NoOp: true}
	}
	e.isSyncing = true
	window := e.window
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.isSyncing = false
		e.mu.Unlock()
	}()

	started := e.clk.Now()
	result := models.SyncResult{Full: full, Window: window}

	// Detach the pending sets up front: ids tracked while the pass runs
	// accumulate separately and survive whatever this pass settles to.
	snapshot := e.tracker.begin()

	if !window.Valid() {
		result.Errors = append(result.Errors, fmt.Sprintf("invalid sync window: %+v", window))
		e.finishRun(&result, snapshot, started)
		return result
	}

	result.SyncedTasks = e.syncTasks(ctx, window, full, snapshot, &result)
	result.SyncedReminders = e.syncReminders(ctx, window, full, snapshot, &result)
	result.SyncedPlants = e.syncPlants(ctx, full, snapshot, &result)

	e.finishRun(&result, snapshot, started)
	return result
}

// finishRun settles bookkeeping for one pass. A clean pass commits its
// snapshot; a failed one merges it back so every uncovered id retries.
func (e *Engine) finishRun(result *models.SyncResult, snapshot pendingSnapshot, started time.Time) {
	result.Success = len(result.Errors) == 0
	result.Duration = e.clk.Now().Sub(started)

	e.mu.Lock()
	e.totalRuns++
	e.lastRunAt = e.clk.Now()
	e.totalConflicts += int64(result.Conflicts)
	if result.Success {
		e.successfulRuns++
		e.lastSuccess = e.lastRunAt
	}
	e.mu.Unlock()

	if result.Success {
		e.tracker.commit(e.clk.Now())
		metrics.IncSyncRun("success")
	} else {
		e.tracker.rollback(snapshot)
		metrics.IncSyncRun("failure")
	}

	e.logger.Info().
		Bool("success", result.Success).
		Bool("full", result.Full).
		Int("tasks", result.SyncedTasks).
		Int("reminders", result.SyncedReminders).
		Int("plants", result.SyncedPlants).
		Int("conflicts", result.Conflicts).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("Sync pass finished")
}

func (e *Engine) syncTasks(ctx context.Context, window models.SyncWindow, full bool, snapshot pendingSnapshot, result *models.SyncResult) int {
	var tasks []models.CareTask
	var err error

	if full {
		tasks, err = e.db.GetCareTasksInRange(ctx, window.Start, window.End)
	} else {
		set := snapshot.changes(models.KindTask)
		e.deleteRemote(ctx, models.KindTask, set.Deleted, result)
		tasks, err = e.db.GetCareTasksByIDs(ctx, set.Updated)
	}
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load tasks: %v", err))
		return 0
	}

	synced := 0
	for _, chunk := range chunkRange(len(tasks), e.batchSize) {
		for _, task := range tasks[chunk.lo:chunk.hi] {
			local, jerr := json.Marshal(task)
			if jerr != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("marshal task %d: %v", task.ID, jerr))
				continue
			}
			if e.pushEntity(ctx, models.KindTask, task.ID, task.Version, task.UpdatedAt, task, local, result) {
				synced++
			}
		}
	}
	return synced
}

func (e *Engine) syncReminders(ctx context.Context, window models.SyncWindow, full bool, snapshot pendingSnapshot, result *models.SyncResult) int {
	var reminders []models.Reminder
	var err error

	if full {
		reminders, err = e.db.GetRemindersInRange(ctx, window.Start, window.End)
	} else {
		set := snapshot.changes(models.KindReminder)
		e.deleteRemote(ctx, models.KindReminder, set.Deleted, result)
		reminders, err = e.db.GetRemindersByIDs(ctx, set.Updated)
	}
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load reminders: %v", err))
		return 0
	}

	synced := 0
	for _, chunk := range chunkRange(len(reminders), e.batchSize) {
		for _, r := range reminders[chunk.lo:chunk.hi] {
			local, jerr := json.Marshal(r)
			if jerr != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("marshal reminder %d: %v", r.ID, jerr))
				continue
			}
			if e.pushEntity(ctx, models.KindReminder, r.ID, r.Version, r.UpdatedAt, r, local, result) {
				synced++
			}
		}
	}
	return synced
}

func (e *Engine) syncPlants(ctx context.Context, full bool, snapshot pendingSnapshot, result *models.SyncResult) int {
	var plants []models.Plant
	var err error

	if full {
		plants, err = e.db.GetAllPlants(ctx)
	} else {
		set := snapshot.changes(models.KindPlant)
		e.deleteRemote(ctx, models.KindPlant, set.Deleted, result)
		plants, err = e.db.GetPlantsByIDs(ctx, set.Updated)
	}
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("load plants: %v", err))
		return 0
	}

	synced := 0
	for _, chunk := range chunkRange(len(plants), e.batchSize) {
		for _, p := range plants[chunk.lo:chunk.hi] {
			local, jerr := json.Marshal(p)
			if jerr != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("marshal plant %d: %v", p.ID, jerr))
				continue
			}
			if e.pushEntity(ctx, models.KindPlant, p.ID, p.Version, p.UpdatedAt, p, local, result) {
				synced++
			}
		}
	}
	return synced
}

// pushEntity reconciles one local entity against the remote snapshot.
// A remote version ahead of the local one is a conflict: local wins,
// and the divergence is written to the audit table before the
// overwrite.
func (e *Engine) pushEntity(ctx context.Context, kind string, id, version int64, updatedAt time.Time, entity interface{}, local []byte, result *models.SyncResult) bool {
	remoteSnap, err := e.target.Pull(ctx, kind, id)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("pull %s %d: %v", kind, id, err))
		return false
	}

	if remoteSnap != nil && remoteSnap.Version > version {
		record := &models.ConflictRecord{
			EntityKind:     kind,
			EntityID:       id,
			ConflictType:   conflictTypeVersionMismatch,
			LocalSnapshot:  string(local),
			RemoteSnapshot: string(remoteSnap.Payload),
			Resolution:     resolutionPreferLocal,
			ResolvedAt:     e.clk.Now(),
		}
		if err := e.db.InsertConflict(ctx, record); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("record conflict for %s %d: %v", kind, id, err))
			return false
		}
		result.Conflicts++
		metrics.IncSyncConflict()
		e.logger.Warn().
			Str("kind", kind).
			Int64("entity_id", id).
			Int64("local_version", version).
			Int64("remote_version", remoteSnap.Version).
			Msg("Sync conflict resolved, local state kept")
	}

	snap, err := remote.NewSnapshot(kind, id, version, updatedAt, entity)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("snapshot %s %d: %v", kind, id, err))
		return false
	}
	if err := e.target.Push(ctx, snap); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("push %s %d: %v", kind, id, err))
		return false
	}
	return true
}

func (e *Engine) deleteRemote(ctx context.Context, kind string, ids []int64, result *models.SyncResult) {
	for _, id := range ids {
		if err := e.target.Delete(ctx, kind, id); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("delete %s %d: %v", kind, id, err))
		}
	}
}

type span struct{ lo, hi int }

func chunkRange(n, size int) []span {
	if n == 0 {
		return nil
	}
	var spans []span
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		spans = append(spans, span{lo, hi})
	}
	return spans
}

// ClearCaches wipes the remote snapshot store. Used by maintenance and
// critical-health recovery.
func (e *Engine) ClearCaches(ctx context.Context) error {
	return e.target.Clear(ctx)
}

// Stats returns the cumulative run tally.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		TotalRuns:      e.totalRuns,
		SuccessfulRuns: e.successfulRuns,
		NoOpRuns:       e.noopRuns,
		TotalConflicts: e.totalConflicts,
		LastRunAt:      e.lastRunAt,
		LastSuccess:    e.lastSuccess,
		PendingChanges: e.tracker.Count(),
	}
}
