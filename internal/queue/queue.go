package queue

import (
	"errors"
	"time"

	"growlog/internal/models"

	"github.com/google/uuid"
)

// Validation errors rejected before a batch ever reaches the queue.
var (
	ErrEmptyBatch       = errors.New("batch contains no tasks")
	ErrUnknownOperation = errors.New("unknown batch operation")
)

// Batch is one queued unit of work: an ordered set of tasks sharing an
// operation and a priority. Destroyed when fully processed or
// permanently failed.
type Batch struct {
	ID         string
	Tasks      []models.CareTask
	Operation  models.Operation
	Priority   models.Priority
	CreatedAt  time.Time
	RetryCount int
}

func newBatch(tasks []models.CareTask, op models.Operation, priority models.Priority, now time.Time) *Batch {
	return &Batch{
		ID:        uuid.NewString(),
		Tasks:     tasks,
		Operation: op,
		Priority:  priority,
		CreatedAt: now,
	}
}

func validOperation(op models.Operation) bool {
	switch op {
	case models.OpCreate, models.OpUpdate, models.OpComplete, models.OpDelete:
		return true
	default:
		return false
	}
}

// insertLocked places the batch immediately before the first queued
// batch of strictly lower priority, keeping arrival order within the
// same priority. Caller holds p.mu.
func (p *Processor) insertLocked(batch *Batch) {
	pos := len(p.queue)
	for i, queued := range p.queue {
		if queued.Priority < batch.Priority {
			pos = i
			break
		}
	}
	p.queue = append(p.queue, nil)
	copy(p.queue[pos+1:], p.queue[pos:])
	p.queue[pos] = batch
}

// requeueFrontLocked puts a retrying batch at the head of the queue so
// it runs before anything enqueued while it was waiting out its
// backoff. Caller holds p.mu.
func (p *Processor) requeueFrontLocked(batch *Batch) {
	p.queue = append([]*Batch{batch}, p.queue...)
}

// popLocked removes and returns the head batch. Caller holds p.mu.
func (p *Processor) popLocked() *Batch {
	if len(p.queue) == 0 {
		return nil
	}
	head := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	return head
}
