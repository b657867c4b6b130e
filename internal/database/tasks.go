package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"growlog/internal/models"
)

// Task helpers are defined against Querier so the processor can run a
// whole chunk of them inside one transaction via WithTx.

func CreateCareTask(ctx context.Context, q Querier, task *models.CareTask) error {
	now := time.Now().UTC()
	if task.Status == "" {
		task.Status = models.TaskStatusPending
	}
	if task.Version == 0 {
		task.Version = 1
	}

	result, err := q.ExecContext(ctx, `
        INSERT INTO care_tasks (plant_id, type, due_at, priority, status, retry_count, recurrence_days, notes, version, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.PlantID, task.Type, task.DueAt, int(task.Priority), task.Status,
		task.RetryCount, task.RecurrenceDays, task.Notes, task.Version, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create care task: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	task.ID = id
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

func UpdateCareTask(ctx context.Context, q Querier, task *models.CareTask) error {
	if task.ID == 0 {
		return fmt.Errorf("care task id is required")
	}
	now := time.Now().UTC()

	result, err := q.ExecContext(ctx, `
        UPDATE care_tasks
        SET plant_id = ?, type = ?, due_at = ?, priority = ?, status = ?, retry_count = ?,
            recurrence_days = ?, notes = ?, version = version + 1, updated_at = ?
        WHERE id = ? AND deleted_at IS NULL`,
		task.PlantID, task.Type, task.DueAt, int(task.Priority), task.Status,
		task.RetryCount, task.RecurrenceDays, task.Notes, now, task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update care task %d: %w", task.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("care task %d not found", task.ID)
	}
	task.Version++
	task.UpdatedAt = now
	return nil
}

func CompleteCareTask(ctx context.Context, q Querier, id int64, completedAt time.Time) error {
	result, err := q.ExecContext(ctx, `
        UPDATE care_tasks
        SET status = ?, completed_at = ?, version = version + 1, updated_at = ?
        WHERE id = ? AND deleted_at IS NULL`,
		models.TaskStatusCompleted, completedAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete care task %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("care task %d not found", id)
	}
	return nil
}

// DeleteCareTask soft-deletes: deletion is a tracked operation, the row
// stays for sync and audit until maintenance prunes it.
func DeleteCareTask(ctx context.Context, q Querier, id int64) error {
	now := time.Now().UTC()
	result, err := q.ExecContext(ctx, `
        UPDATE care_tasks SET deleted_at = ?, version = version + 1, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete care task %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("care task %d not found", id)
	}
	return nil
}

const careTaskColumns = `id, plant_id, type, due_at, priority, status, retry_count, recurrence_days,
       COALESCE(notes, ''), version, completed_at, created_at, updated_at`

func scanCareTask(scan func(dest ...any) error) (models.CareTask, error) {
	var t models.CareTask
	var priority int
	var completedAt sql.NullTime
	err := scan(
		&t.ID, &t.PlantID, &t.Type, &t.DueAt, &priority, &t.Status, &t.RetryCount,
		&t.RecurrenceDays, &t.Notes, &t.Version, &completedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.Priority = models.Priority(priority)
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

func (db *DB) GetCareTask(ctx context.Context, id int64) (*models.CareTask, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+careTaskColumns+` FROM care_tasks WHERE id = ? AND deleted_at IS NULL`, id)
	t, err := scanCareTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get care task %d: %w", id, err)
	}
	return &t, nil
}

func (db *DB) GetCareTasksByIDs(ctx context.Context, ids []int64) ([]models.CareTask, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + careTaskColumns + ` FROM care_tasks WHERE deleted_at IS NULL AND id IN (`
	args := make([]any, 0, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, id)
	}
	query += ")"

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get care tasks by ids: %w", err)
	}
	defer rows.Close()

	var tasks []models.CareTask
	for rows.Next() {
		t, err := scanCareTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan care task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetCareTasksInRange returns non-deleted tasks due inside [start, end].
func (db *DB) GetCareTasksInRange(ctx context.Context, start, end time.Time) ([]models.CareTask, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+careTaskColumns+` FROM care_tasks
         WHERE deleted_at IS NULL AND due_at >= ? AND due_at <= ?
         ORDER BY due_at ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get care tasks in range: %w", err)
	}
	defer rows.Close()

	var tasks []models.CareTask
	for rows.Next() {
		t, err := scanCareTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan care task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// PruneCareTasks physically removes completed or soft-deleted rows
// older than the cutoff. Returns the number of rows removed.
func (db *DB) PruneCareTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.db.ExecContext(ctx, `
        DELETE FROM care_tasks
        WHERE (status = ? AND completed_at IS NOT NULL AND completed_at < ?)
           OR (deleted_at IS NOT NULL AND deleted_at < ?)`,
		models.TaskStatusCompleted, cutoff.UTC(), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune care tasks: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) CountCareTasksByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM care_tasks WHERE status = ? AND deleted_at IS NULL`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count care tasks: %w", err)
	}
	return count, nil
}
