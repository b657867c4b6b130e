package database

import (
	"context"
	"fmt"
	"time"

	"growlog/internal/models"
)

// BatchRecord is the durable shadow of a processed batch: enough to
// audit permanently failed work after the in-memory queue is gone.
type BatchRecord struct {
	ID         int64
	BatchID    string
	Operation  models.Operation
	Priority   models.Priority
	Processed  int
	Failed     int
	RetryCount int
	Outcome    string
	LastError  string
	RecordedAt time.Time
}

const (
	BatchOutcomeCompleted = "completed"
	BatchOutcomeRetried   = "retried"
	BatchOutcomeFailed    = "failed"
)

func (db *DB) RecordBatch(ctx context.Context, rec *BatchRecord) error {
	now := time.Now().UTC()
	result, err := db.db.ExecContext(ctx, `
        INSERT INTO batch_history (batch_id, operation, priority, processed, failed, retry_count, outcome, last_error, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchID, string(rec.Operation), int(rec.Priority), rec.Processed,
		rec.Failed, rec.RetryCount, rec.Outcome, rec.LastError, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record batch: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rec.ID = id
	rec.RecordedAt = now
	return nil
}

func (db *DB) GetBatchHistory(ctx context.Context, outcome string, limit int) ([]BatchRecord, error) {
	query := `SELECT id, batch_id, operation, priority, processed, failed, retry_count, outcome, COALESCE(last_error, ''), recorded_at
              FROM batch_history`
	args := []any{}
	if outcome != "" {
		query += ` WHERE outcome = ?`
		args = append(args, outcome)
	}
	query += ` ORDER BY recorded_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch history: %w", err)
	}
	defer rows.Close()

	var records []BatchRecord
	for rows.Next() {
		var rec BatchRecord
		var op string
		var priority int
		if err := rows.Scan(&rec.ID, &rec.BatchID, &op, &priority, &rec.Processed,
			&rec.Failed, &rec.RetryCount, &rec.Outcome, &rec.LastError, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch record: %w", err)
		}
		rec.Operation = models.Operation(op)
		rec.Priority = models.Priority(priority)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (db *DB) PruneBatchHistory(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.db.ExecContext(ctx,
		`DELETE FROM batch_history WHERE recorded_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune batch history: %w", err)
	}
	return result.RowsAffected()
}
