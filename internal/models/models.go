package models

import (
	"fmt"
	"time"
)

// Priority orders batches and notification bands. Higher value wins.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority maps a config/API string to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority: %q", s)
	}
}

// Operation is the kind of mutation a ProcessingBatch carries.
type Operation string

const (
	OpCreate   Operation = "create"
	OpUpdate   Operation = "update"
	OpComplete Operation = "complete"
	OpDelete   Operation = "delete"
)

// CareTask is a scheduled plant-care action (watering, feeding, ...).
// Tasks are created by scheduling callers; the processor only mutates
// status and retry bookkeeping. Deletion is a tracked operation, not a
// physical removal by this subsystem.
type CareTask struct {
	ID             int64      `json:"id"`
	PlantID        int64      `json:"plant_id"`
	Type           string     `json:"type"`
	DueAt          time.Time  `json:"due_at"`
	Priority       Priority   `json:"priority"`
	Status         string     `json:"status"`
	RetryCount     int        `json:"retry_count"`
	RecurrenceDays int        `json:"recurrence_days,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	Version        int64      `json:"version"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsRecurring reports whether completing the task spawns a follow-up.
func (t *CareTask) IsRecurring() bool {
	return t.RecurrenceDays > 0
}

// NextOccurrence returns a copy scheduled RecurrenceDays after DueAt.
func (t *CareTask) NextOccurrence() CareTask {
	next := *t
	next.ID = 0
	next.Status = TaskStatusPending
	next.RetryCount = 0
	next.Version = 0
	next.CompletedAt = nil
	next.DueAt = t.DueAt.AddDate(0, 0, t.RecurrenceDays)
	return next
}

// Reminder is a free-form note attached to a plant with a fire time.
type Reminder struct {
	ID       int64     `json:"id"`
	PlantID  int64     `json:"plant_id"`
	Message  string    `json:"message"`
	RemindAt time.Time `json:"remind_at"`
	Version  int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Plant carries the metadata the scheduler and sync care about.
type Plant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Strain    string    `json:"strain"`
	Stage     string    `json:"stage"`
	PlantedAt time.Time `json:"planted_at"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotificationRequest asks the notification channel to (re)schedule a
// push for a task. Cancelled when the task is deleted.
type NotificationRequest struct {
	TaskID   int64         `json:"task_id"`
	PlantID  int64         `json:"plant_id"`
	Type     string        `json:"type"`
	DueAt    time.Time     `json:"due_at"`
	Priority Priority      `json:"priority"`
	LeadTime time.Duration `json:"lead_time"`
}

// LeadTimeFor returns how far ahead of the due time a notification for
// the given priority should fire.
func LeadTimeFor(p Priority) time.Duration {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return time.Hour
	case PriorityMedium:
		return 4 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// SyncWindow bounds one sync pass. Focus bounds nest inside the outer
// bounds; Valid enforces both invariants.
type SyncWindow struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	FocusStart time.Time `json:"focus_start"`
	FocusEnd   time.Time `json:"focus_end"`
}

func (w SyncWindow) Valid() bool {
	if w.End.Before(w.Start) {
		return false
	}
	if w.FocusStart.Before(w.Start) || w.FocusEnd.After(w.End) {
		return false
	}
	return !w.FocusEnd.Before(w.FocusStart)
}

// Contains reports whether ts falls inside the outer bounds.
func (w SyncWindow) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.End)
}

// ConflictRecord is the immutable audit entry written when a sync pass
// detects a local/remote version mismatch.
type ConflictRecord struct {
	ID             int64     `json:"id"`
	EntityKind     string    `json:"entity_kind"`
	EntityID       int64     `json:"entity_id"`
	ConflictType   string    `json:"conflict_type"`
	LocalSnapshot  string    `json:"local_snapshot"`
	RemoteSnapshot string    `json:"remote_snapshot"`
	Resolution     string    `json:"resolution"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

// BatchResult aggregates per-task outcomes of one processed batch.
// Per-task failures land in Failed/Errors instead of being thrown.
type BatchResult struct {
	BatchID   string        `json:"batch_id"`
	Operation Operation     `json:"operation"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Errors    []string      `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// SyncResult aggregates one sync pass. Success means an empty error
// list; NoOp marks the empty result returned when a pass was already
// in flight.
type SyncResult struct {
	Success         bool          `json:"success"`
	NoOp            bool          `json:"no_op,omitempty"`
	Full            bool          `json:"full,omitempty"`
	SyncedTasks     int           `json:"synced_tasks"`
	SyncedReminders int           `json:"synced_reminders"`
	SyncedPlants    int           `json:"synced_plants"`
	Conflicts       int           `json:"conflicts"`
	Errors          []string      `json:"errors,omitempty"`
	Window          SyncWindow    `json:"window"`
	Duration        time.Duration `json:"duration"`
}

// ScheduleResult reports the outcome of scheduling tasks for a set of
// plants through the produced API.
type ScheduleResult struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}
