package database

import (
	"context"
	"fmt"
	"time"

	"growlog/internal/models"
)

// InsertConflict writes an audit row for a resolved sync conflict.
// Rows are immutable once written; there is no update path.
func (db *DB) InsertConflict(ctx context.Context, c *models.ConflictRecord) error {
	if c.ResolvedAt.IsZero() {
		c.ResolvedAt = time.Now().UTC()
	}
	result, err := db.db.ExecContext(ctx, `
        INSERT INTO sync_conflicts (entity_kind, entity_id, conflict_type, local_snapshot, remote_snapshot, resolution, resolved_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.EntityKind, c.EntityID, c.ConflictType, c.LocalSnapshot, c.RemoteSnapshot, c.Resolution, c.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert conflict record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	c.ID = id
	return nil
}

func (db *DB) GetConflicts(ctx context.Context, entityKind string, limit int) ([]models.ConflictRecord, error) {
	query := `SELECT id, entity_kind, entity_id, conflict_type, local_snapshot, remote_snapshot, resolution, resolved_at
              FROM sync_conflicts`
	args := []any{}
	if entityKind != "" {
		query += ` WHERE entity_kind = ?`
		args = append(args, entityKind)
	}
	query += ` ORDER BY resolved_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict records: %w", err)
	}
	defer rows.Close()

	var records []models.ConflictRecord
	for rows.Next() {
		var c models.ConflictRecord
		if err := rows.Scan(&c.ID, &c.EntityKind, &c.EntityID, &c.ConflictType,
			&c.LocalSnapshot, &c.RemoteSnapshot, &c.Resolution, &c.ResolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict record: %w", err)
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

// PruneConflicts removes audit rows older than the cutoff.
func (db *DB) PruneConflicts(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.db.ExecContext(ctx,
		`DELETE FROM sync_conflicts WHERE resolved_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune conflict records: %w", err)
	}
	return result.RowsAffected()
}
