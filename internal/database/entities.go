package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"growlog/internal/models"
)

func (db *DB) CreateReminder(ctx context.Context, r *models.Reminder) error {
	now := time.Now().UTC()
	if r.Version == 0 {
		r.Version = 1
	}
	result, err := db.db.ExecContext(ctx,
		`INSERT INTO reminders (plant_id, message, remind_at, version, updated_at) VALUES (?, ?, ?, ?, ?)`,
		r.PlantID, r.Message, r.RemindAt, r.Version, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create reminder: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	r.UpdatedAt = now
	return nil
}

func (db *DB) GetReminder(ctx context.Context, id int64) (*models.Reminder, error) {
	var r models.Reminder
	err := db.db.QueryRowContext(ctx,
		`SELECT id, plant_id, message, remind_at, version, updated_at FROM reminders WHERE id = ?`, id).
		Scan(&r.ID, &r.PlantID, &r.Message, &r.RemindAt, &r.Version, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder %d: %w", id, err)
	}
	return &r, nil
}

func (db *DB) GetRemindersByIDs(ctx context.Context, ids []int64) ([]models.Reminder, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, plant_id, message, remind_at, version, updated_at FROM reminders WHERE id IN (`
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
		return nil, fmt.Errorf("failed to get reminders by ids: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		var r models.Reminder
		if err := rows.Scan(&r.ID, &r.PlantID, &r.Message, &r.RemindAt, &r.Version, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (db *DB) GetRemindersInRange(ctx context.Context, start, end time.Time) ([]models.Reminder, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, plant_id, message, remind_at, version, updated_at FROM reminders
         WHERE remind_at >= ? AND remind_at <= ? ORDER BY remind_at ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get reminders in range: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		var r models.Reminder
		if err := rows.Scan(&r.ID, &r.PlantID, &r.Message, &r.RemindAt, &r.Version, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

func (db *DB) CreatePlant(ctx context.Context, p *models.Plant) error {
	now := time.Now().UTC()
	if p.Version == 0 {
		p.Version = 1
	}
	result, err := db.db.ExecContext(ctx,
		`INSERT INTO plants (name, strain, stage, planted_at, version, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.Strain, p.Stage, p.PlantedAt, p.Version, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create plant: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	p.UpdatedAt = now
	return nil
}

func (db *DB) GetPlant(ctx context.Context, id int64) (*models.Plant, error) {
	var p models.Plant
	err := db.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(strain, ''), COALESCE(stage, ''), planted_at, version, updated_at FROM plants WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Strain, &p.Stage, &p.PlantedAt, &p.Version, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plant %d: %w", id, err)
	}
	return &p, nil
}

func (db *DB) GetPlantsByIDs(ctx context.Context, ids []int64) ([]models.Plant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT id, name, COALESCE(strain, ''), COALESCE(stage, ''), planted_at, version, updated_at FROM plants WHERE id IN (`
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
		return nil, fmt.Errorf("failed to get plants by ids: %w", err)
	}
	defer rows.Close()

	var plants []models.Plant
	for rows.Next() {
		var p models.Plant
		if err := rows.Scan(&p.ID, &p.Name, &p.Strain, &p.Stage, &p.PlantedAt, &p.Version, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plant: %w", err)
		}
		plants = append(plants, p)
	}
	return plants, rows.Err()
}

func (db *DB) GetAllPlants(ctx context.Context) ([]models.Plant, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(strain, ''), COALESCE(stage, ''), planted_at, version, updated_at FROM plants ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get plants: %w", err)
	}
	defer rows.Close()

	var plants []models.Plant
	for rows.Next() {
		var p models.Plant
		if err := rows.Scan(&p.ID, &p.Name, &p.Strain, &p.Stage, &p.PlantedAt, &p.Version, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plant: %w", err)
		}
		plants = append(plants, p)
	}
	return plants, rows.Err()
}
