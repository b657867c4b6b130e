package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"growlog/internal/models"

	"github.com/xuri/excelize/v2"
)

// CleanupResult tallies one retention pruning pass.
type CleanupResult struct {
	PrunedTasks     int64    `json:"pruned_tasks"`
	PrunedConflicts int64    `json:"pruned_conflicts"`
	PrunedHistory   int64    `json:"pruned_history"`
	Errors          []string `json:"errors,omitempty"`
}

// OptimizationResult reports the cache reset step.
type OptimizationResult struct {
	CachesCleared bool     `json:"caches_cleared"`
	Errors        []string `json:"errors,omitempty"`
}

// MaintenanceResult is one full maintenance pass.
type MaintenanceResult struct {
	Cleanup      CleanupResult      `json:"cleanup"`
	Sync         models.SyncResult  `json:"sync"`
	Optimization OptimizationResult `json:"optimization"`
	Duration     time.Duration      `json:"duration"`
}

// PerformMaintenance prunes aged rows, resets the remote snapshot
// cache and rebuilds it with a full sync pass. Step failures are
// reported in the result; the pass never aborts early.
func (m *Manager) PerformMaintenance(ctx context.Context) MaintenanceResult {
	started := m.clk.Now()
	var result MaintenanceResult

	cutoff := m.clk.Now().AddDate(0, 0, -m.retentionDays)

	if pruned, err := m.db.PruneCareTasks(ctx, cutoff); err != nil {
		result.Cleanup.Errors = append(result.Cleanup.Errors, fmt.Sprintf("prune tasks: %v", err))
	} else {
		result.Cleanup.PrunedTasks = pruned
	}
	if pruned, err := m.db.PruneConflicts(ctx, cutoff); err != nil {
		result.Cleanup.Errors = append(result.Cleanup.Errors, fmt.Sprintf("prune conflicts: %v", err))
	} else {
		result.Cleanup.PrunedConflicts = pruned
	}
	if pruned, err := m.db.PruneBatchHistory(ctx, cutoff); err != nil {
		result.Cleanup.Errors = append(result.Cleanup.Errors, fmt.Sprintf("prune history: %v", err))
	} else {
		result.Cleanup.PrunedHistory = pruned
	}

	// Cache reset runs before the full sync so the pass rebuilds the
	// remote store from current local state.
	if err := m.engine.ClearCaches(ctx); err != nil {
		result.Optimization.Errors = append(result.Optimization.Errors, fmt.Sprintf("clear caches: %v", err))
	} else {
		result.Optimization.CachesCleared = true
	}

	result.Sync = m.engine.PerformFullSync(ctx)

	result.Duration = m.clk.Now().Sub(started)
	m.logger.Info().
		Int64("pruned_tasks", result.Cleanup.PrunedTasks).
		Int64("pruned_conflicts", result.Cleanup.PrunedConflicts).
		Int64("pruned_history", result.Cleanup.PrunedHistory).
		Bool("sync_success", result.Sync.Success).
		Dur("duration", result.Duration).
		Msg("Maintenance finished")
	return result
}

// ExportHistory writes the batch audit trail and resolved conflicts to
// an xlsx file under the configured export directory.
func (m *Manager) ExportHistory(ctx context.Context) (string, error) {
	if err := os.MkdirAll(m.exportPath, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	history, err := m.db.GetBatchHistory(ctx, "", 10000)
	if err != nil {
		return "", fmt.Errorf("error getting batch history: %v", err)
	}
	conflicts, err := m.db.GetConflicts(ctx, "", 10000)
	if err != nil {
		return "", fmt.Errorf("error getting conflicts: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	historySheet := "Batches"
	index, err := f.NewSheet(historySheet)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"Batch ID", "Operation", "Priority", "Processed", "Failed", "Retries", "Outcome", "Last Error", "Recorded At"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(historySheet, cell, header)
	}
	for i, rec := range history {
		row := i + 2
		_ = f.SetCellValue(historySheet, fmt.Sprintf("A%d", row), rec.BatchID)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("B%d", row), string(rec.Operation))
		_ = f.SetCellValue(historySheet, fmt.Sprintf("C%d", row), rec.Priority.String())
		_ = f.SetCellValue(historySheet, fmt.Sprintf("D%d", row), rec.Processed)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("E%d", row), rec.Failed)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("F%d", row), rec.RetryCount)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("G%d", row), rec.Outcome)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("H%d", row), rec.LastError)
		_ = f.SetCellValue(historySheet, fmt.Sprintf("I%d", row), rec.RecordedAt.Format("02.01.2006 15:04"))
	}
	_ = f.SetColWidth(historySheet, "A", "A", 38)
	_ = f.SetColWidth(historySheet, "B", "G", 12)
	_ = f.SetColWidth(historySheet, "H", "H", 40)
	_ = f.SetColWidth(historySheet, "I", "I", 18)

	conflictSheet := "Conflicts"
	if _, err := f.NewSheet(conflictSheet); err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	conflictHeaders := []string{"Kind", "Entity ID", "Type", "Resolution", "Resolved At"}
	for i, header := range conflictHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(conflictSheet, cell, header)
	}
	for i, c := range conflicts {
		row := i + 2
		_ = f.SetCellValue(conflictSheet, fmt.Sprintf("A%d", row), c.EntityKind)
		_ = f.SetCellValue(conflictSheet, fmt.Sprintf("B%d", row), c.EntityID)
		_ = f.SetCellValue(conflictSheet, fmt.Sprintf("C%d", row), c.ConflictType)
		_ = f.SetCellValue(conflictSheet, fmt.Sprintf("D%d", row), c.Resolution)
		_ = f.SetCellValue(conflictSheet, fmt.Sprintf("E%d", row), c.ResolvedAt.Format("02.01.2006 15:04"))
	}
	_ = f.SetColWidth(conflictSheet, "A", "E", 16)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("history_export_%s.xlsx", m.clk.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(m.exportPath, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	m.logger.Info().Str("file_path", filePath).Msg("History export created")
	return filePath, nil
}
