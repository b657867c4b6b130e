package queue

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"growlog/internal/clock"
	"growlog/internal/database"
	"growlog/internal/events"
	"growlog/internal/metrics"
	"growlog/internal/models"

	"github.com/rs/zerolog"
)

// NotificationScheduler is the batcher-facing contract: the processor
// emits schedule requests per mutation and cancellations per deletion.
type NotificationScheduler interface {
	QueueNotification(req models.NotificationRequest)
	Cancel(taskID int64)
}

// Stats is the rolling counter snapshot updated after every batch.
type Stats struct {
	TotalProcessed    int64   `json:"total_processed"`
	TotalFailed       int64   `json:"total_failed"`
	PermanentFailures int64   `json:"permanent_failures"`
	AvgProcessingMs   float64 `json:"avg_processing_ms"`
	QueueSize         int     `json:"queue_size"`
}

// Processor drains the priority queue: one drain loop at a time,
// chunked atomic writes, exponential backoff on partial failure.
type Processor struct {
	db           *database.DB
	notifier     NotificationScheduler
	bus          *events.EventBus
	clk          clock.Clock
	logger       *zerolog.Logger
	retry        RetryPolicy
	chunkSize    int
	chunkTimeout time.Duration

	mu           sync.Mutex
	queue        []*Batch
	isProcessing bool

	totalProcessed    int64
	totalFailed       int64
	permanentFailures int64
	batchesDone       int64
	totalDuration     time.Duration
}

// NewProcessor builds a processor with sane defaults.
func NewProcessor(db *database.DB, notifier NotificationScheduler, bus *events.EventBus, clk clock.Clock, retry RetryPolicy, chunkSize int, chunkTimeout time.Duration, logger *zerolog.Logger) *Processor {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = models.DefaultMaxRetries
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if chunkSize <= 0 {
		chunkSize = models.DefaultBatchSize
	}
	if chunkTimeout <= 0 {
		chunkTimeout = 30 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &Processor{
		db:           db,
		notifier:     notifier,
		bus:          bus,
		clk:          clk,
		logger:       logger,
		retry:        retry,
		chunkSize:    chunkSize,
		chunkTimeout: chunkTimeout,
	}
}

// Enqueue builds a ProcessingBatch, inserts it by priority and starts
// the drain loop if no drain is running.
func (p *Processor) Enqueue(ctx context.Context, tasks []models.CareTask, op models.Operation, priority models.Priority) (string, error) {
	if len(tasks) == 0 {
		return "", ErrEmptyBatch
	}
	if !validOperation(op) {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}

	batch := newBatch(tasks, op, priority, p.clk.Now())

	p.mu.Lock()
	p.insertLocked(batch)
	depth := len(p.queue)
	start := !p.isProcessing
	if start {
		p.isProcessing = true
	}
	p.mu.Unlock()

	metrics.SetQueueDepth(depth)
	p.logger.Debug().
		Str("batch_id", batch.ID).
		Str("operation", string(op)).
		Str("priority", priority.String()).
		Int("tasks", len(tasks)).
		Int("queue_depth", depth).
		Msg("Batch enqueued")

	if start {
		go p.drain(ctx)
	}
	return batch.ID, nil
}

// drain pops head batches until the queue is observed empty. Only one
// drain runs at a time; the isProcessing flag is the re-entrancy guard.
func (p *Processor) drain(ctx context.Context) {
	for {
		p.mu.Lock()
		if ctx.Err() != nil || len(p.queue) == 0 {
			p.isProcessing = false
			p.mu.Unlock()
			return
		}
		batch := p.popLocked()
		depth := len(p.queue)
		p.mu.Unlock()

		metrics.SetQueueDepth(depth)
		p.processBatch(ctx, batch)
	}
}

// processBatch runs one batch: fixed-size chunks, each inside one
// store transaction. Per-task failures are counted without aborting
// the chunk; a transaction failure fails the whole chunk.
func (p *Processor) processBatch(ctx context.Context, batch *Batch) models.BatchResult {
	start := p.clk.Now()
	result := models.BatchResult{BatchID: batch.ID, Operation: batch.Operation}

	for _, chunk := range chunkTasks(batch.Tasks, p.chunkSize) {
		chunkOK := 0
		chunkFailed := 0
		var chunkErrors []string
		var effects []func()

		// Each chunk gets its own processing deadline so one stuck
		// transaction cannot wedge the drain loop.
		chunkCtx, cancel := context.WithTimeout(ctx, p.chunkTimeout)
		txErr := p.db.WithTx(chunkCtx, func(tx *sql.Tx) error {
			for i := range chunk {
				effect, err := p.applyTask(chunkCtx, tx, batch.Operation, &chunk[i])
				if err != nil {
					chunkFailed++
					chunkErrors = append(chunkErrors, fmt.Sprintf("task %d: %v", chunk[i].ID, err))
					continue
				}
				chunkOK++
				if effect != nil {
					effects = append(effects, effect)
				}
			}
			return nil
		})
		cancel()

		if txErr != nil {
			// The transaction itself failed: nothing in this chunk
			// survived, side effects must not run.
			result.Failed += len(chunk)
			result.Errors = append(result.Errors, fmt.Sprintf("chunk of %d: %v", len(chunk), txErr))
			p.logger.Warn().Err(txErr).Str("batch_id", batch.ID).Int("chunk_size", len(chunk)).Msg("Chunk transaction failed")
			continue
		}

		result.Processed += chunkOK
		result.Failed += chunkFailed
		result.Errors = append(result.Errors, chunkErrors...)
		for _, effect := range effects {
			effect()
		}
	}

	result.Duration = p.clk.Now().Sub(start)
	p.finishBatch(ctx, batch, result)
	return result
}

func (p *Processor) finishBatch(ctx context.Context, batch *Batch, result models.BatchResult) {
	p.mu.Lock()
	p.totalProcessed += int64(result.Processed)
	p.totalFailed += int64(result.Failed)
	p.batchesDone++
	p.totalDuration += result.Duration
	p.mu.Unlock()

	metrics.ObserveBatchDuration(result.Duration.Seconds())
	for i := 0; i < result.Processed; i++ {
		metrics.IncTask(string(batch.Operation), "success")
	}
	for i := 0; i < result.Failed; i++ {
		metrics.IncTask(string(batch.Operation), "failure")
	}

	rec := &database.BatchRecord{
		BatchID:    batch.ID,
		Operation:  batch.Operation,
		Priority:   batch.Priority,
		Processed:  result.Processed,
		Failed:     result.Failed,
		RetryCount: batch.RetryCount,
	}
	if len(result.Errors) > 0 {
		rec.LastError = result.Errors[len(result.Errors)-1]
	}

	switch {
	case result.Failed == 0:
		rec.Outcome = database.BatchOutcomeCompleted
		metrics.IncBatch("completed")
		p.logger.Info().
			Str("batch_id", batch.ID).
			Str("operation", string(batch.Operation)).
			Int("processed", result.Processed).
			Dur("duration", result.Duration).
			Msg("Batch completed")

	case batch.RetryCount < p.retry.MaxRetries:
		batch.RetryCount++
		delay := p.retry.NextDelay(batch.RetryCount)
		rec.Outcome = database.BatchOutcomeRetried
		rec.RetryCount = batch.RetryCount
		metrics.IncBatch("retried")
		p.logger.Warn().
			Str("batch_id", batch.ID).
			Int("failed", result.Failed).
			Int("retry_count", batch.RetryCount).
			Dur("delay", delay).
			Msg("Batch scheduled for retry")
		p.clk.AfterFunc(delay, func() { p.requeue(ctx, batch) })

	default:
		rec.Outcome = database.BatchOutcomeFailed
		metrics.IncBatch("failed")
		p.mu.Lock()
		p.permanentFailures++
		p.mu.Unlock()
		p.logger.Error().
			Str("batch_id", batch.ID).
			Str("operation", string(batch.Operation)).
			Int("failed", result.Failed).
			Int("retry_count", batch.RetryCount).
			Strs("errors", result.Errors).
			Msg("Batch permanently failed")
	}

	if err := p.db.RecordBatch(ctx, rec); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("Failed to record batch history")
	}
}

// requeue puts a retrying batch at the queue head and restarts the
// drain if it went idle while the batch waited out its backoff.
func (p *Processor) requeue(ctx context.Context, batch *Batch) {
	p.mu.Lock()
	p.requeueFrontLocked(batch)
	depth := len(p.queue)
	start := !p.isProcessing
	if start {
		p.isProcessing = true
	}
	p.mu.Unlock()

	metrics.SetQueueDepth(depth)
	if start {
		go p.drain(ctx)
	}
}

// applyTask persists one mutation and returns the side effect to run
// after the chunk commits. Side effects never run for rolled-back work.
func (p *Processor) applyTask(ctx context.Context, tx *sql.Tx, op models.Operation, task *models.CareTask) (func(), error) {
	switch op {
	case models.OpCreate:
		if err := database.CreateCareTask(ctx, tx, task); err != nil {
			return nil, err
		}
		created := *task
		return func() {
			p.notifier.QueueNotification(notificationFor(&created))
			_ = p.bus.PublishEntityChange(events.EventTaskChanged, models.KindTask, created.ID, models.ChangeUpdate)
		}, nil

	case models.OpUpdate:
		if err := database.UpdateCareTask(ctx, tx, task); err != nil {
			return nil, err
		}
		updated := *task
		return func() {
			p.notifier.QueueNotification(notificationFor(&updated))
			_ = p.bus.PublishEntityChange(events.EventTaskChanged, models.KindTask, updated.ID, models.ChangeUpdate)
		}, nil

	case models.OpComplete:
		if err := database.CompleteCareTask(ctx, tx, task.ID, p.clk.Now()); err != nil {
			return nil, err
		}
		completed := *task

		var next *models.CareTask
		if task.IsRecurring() {
			candidate := task.NextOccurrence()
			horizon := p.clk.Now().AddDate(0, 0, models.ExtendedHorizonDays)
			if !candidate.DueAt.After(horizon) {
				if err := database.CreateCareTask(ctx, tx, &candidate); err != nil {
					return nil, err
				}
				next = &candidate
			}
		}

		return func() {
			p.notifier.Cancel(completed.ID)
			_ = p.bus.PublishEntityChange(events.EventTaskChanged, models.KindTask, completed.ID, models.ChangeUpdate)
			if next != nil {
				p.notifier.QueueNotification(notificationFor(next))
				_ = p.bus.PublishEntityChange(events.EventTaskChanged, models.KindTask, next.ID, models.ChangeUpdate)
			}
		}, nil

	case models.OpDelete:
		if err := database.DeleteCareTask(ctx, tx, task.ID); err != nil {
			return nil, err
		}
		deleted := *task
		return func() {
			p.notifier.Cancel(deleted.ID)
			_ = p.bus.PublishEntityChange(events.EventTaskDeleted, models.KindTask, deleted.ID, models.ChangeDelete)
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
}

func notificationFor(task *models.CareTask) models.NotificationRequest {
	return models.NotificationRequest{
		TaskID:   task.ID,
		PlantID:  task.PlantID,
		Type:     task.Type,
		DueAt:    task.DueAt,
		Priority: task.Priority,
		LeadTime: models.LeadTimeFor(task.Priority),
	}
}

// Clear discards all queued batches without waiting for an in-flight
// drain; the loop observes the empty queue on its next iteration.
func (p *Processor) Clear() int {
	p.mu.Lock()
	dropped := len(p.queue)
	p.queue = nil
	p.mu.Unlock()

	metrics.SetQueueDepth(0)
	if dropped > 0 {
		p.logger.Info().Int("dropped", dropped).Msg("Processing queue cleared")
	}
	return dropped
}

// Stats returns the rolling counter snapshot.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var avg float64
	if p.batchesDone > 0 {
		avg = float64(p.totalDuration.Milliseconds()) / float64(p.batchesDone)
	}
	return Stats{
		TotalProcessed:    p.totalProcessed,
		TotalFailed:       p.totalFailed,
		PermanentFailures: p.permanentFailures,
		AvgProcessingMs:   avg,
		QueueSize:         len(p.queue),
	}
}

func chunkTasks(tasks []models.CareTask, size int) [][]models.CareTask {
	if size <= 0 || len(tasks) == 0 {
		return nil
	}
	chunks := make([][]models.CareTask, 0, (len(tasks)+size-1)/size)
	for start := 0; start < len(tasks); start += size {
		end := start + size
		if end > len(tasks) {
			end = len(tasks)
		}
		chunks = append(chunks, tasks[start:end])
	}
	return chunks
}
