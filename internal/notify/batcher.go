package notify

import (
	"context"
	"sync"
	"time"

	"growlog/internal/clock"
	"growlog/internal/metrics"
	"growlog/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// FlushResult is the tally of one ProcessBatches pass. Deferred
// requests stay pending for the next flush; nothing is dropped.
type FlushResult struct {
	Scheduled int `json:"scheduled"`
	Failed    int `json:"failed"`
	Deferred  int `json:"deferred"`
}

// Stats is the batcher's cumulative counter snapshot.
type Stats struct {
	TotalScheduled int64 `json:"total_scheduled"`
	TotalFailed    int64 `json:"total_failed"`
	TotalDeferred  int64 `json:"total_deferred"`
	TotalCancelled int64 `json:"total_cancelled"`
	Pending        int   `json:"pending"`
}

// Batcher accumulates notification requests into per-priority bands
// and flushes them on size threshold or timeout, whichever first.
// Critical requests bypass batching entirely.
type Batcher struct {
	channel      Channel
	limiter      *rate.Limiter
	clk          clock.Clock
	logger       *zerolog.Logger
	maxBatchSize int
	batchTimeout time.Duration
	maxRetries   int

	mu         sync.Mutex
	pending    map[models.Priority][]models.NotificationRequest
	bandSince  map[models.Priority]time.Time
	scheduled  int64
	failed     int64
	deferred   int64
	cancelled  int64
}

// bands in flush order. Critical requests dispatch immediately and only
// land in their band when the quota defers them; that band flushes
// first, threshold and timeout ignored.
var bands = []models.Priority{models.PriorityHigh, models.PriorityMedium, models.PriorityLow}

func NewBatcher(channel Channel, clk clock.Clock, ratePerSecond float64, burst, maxBatchSize int, batchTimeout time.Duration, maxRetries int, logger *zerolog.Logger) *Batcher {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if maxBatchSize <= 0 {
		maxBatchSize = 20
	}
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	if burst <= 0 {
		burst = int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &Batcher{
		channel:      channel,
		limiter:      rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		clk:          clk,
		logger:       logger,
		maxBatchSize: maxBatchSize,
		batchTimeout: batchTimeout,
		maxRetries:   maxRetries,
		pending:      make(map[models.Priority][]models.NotificationRequest),
		bandSince:    make(map[models.Priority]time.Time),
	}
}

// QueueNotification appends a request to its priority band. Critical
// requests are dispatched immediately instead of waiting for a flush.
func (b *Batcher) QueueNotification(req models.NotificationRequest) {
	if req.Priority == models.PriorityCritical {
		result := b.dispatch(context.Background(), []models.NotificationRequest{req}, models.PriorityCritical)
		if result.Deferred > 0 {
			b.logger.Warn().Int64("task_id", req.TaskID).Msg("Critical notification deferred by quota")
		}
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending[req.Priority]) == 0 {
		b.bandSince[req.Priority] = b.clk.Now()
	}
	b.pending[req.Priority] = append(b.pending[req.Priority], req)
}

// ProcessBatches flushes every band whose size threshold or timeout
// has elapsed and returns the combined tally. Quota-deferred critical
// requests flush first and unconditionally.
func (b *Batcher) ProcessBatches(ctx context.Context) FlushResult {
	type flush struct {
		band   models.Priority
		queued []models.NotificationRequest
	}
	var flushes []flush

	b.mu.Lock()
	now := b.clk.Now()
	if queued := b.pending[models.PriorityCritical]; len(queued) > 0 {
		b.pending[models.PriorityCritical] = nil
		flushes = append(flushes, flush{models.PriorityCritical, queued})
	}
	for _, band := range bands {
		queued := b.pending[band]
		if len(queued) == 0 {
			continue
		}
		if len(queued) < b.maxBatchSize && now.Sub(b.bandSince[band]) < b.batchTimeout {
			continue
		}
		b.pending[band] = nil
		flushes = append(flushes, flush{band, queued})
	}
	b.mu.Unlock()

	var total FlushResult
	for _, f := range flushes {
		result := b.dispatch(ctx, f.queued, f.band)
		total.Scheduled += result.Scheduled
		total.Failed += result.Failed
		total.Deferred += result.Deferred
	}
	return total
}

// dispatch sends requests through the rate limiter without holding b.mu
// across channel sends, so queueing never blocks behind a slow channel.
// Requests beyond the current quota window go back to the band front,
// order preserved, to be retried on the next flush.
func (b *Batcher) dispatch(ctx context.Context, queued []models.NotificationRequest, band models.Priority) FlushResult {
	var result FlushResult
	var rest []models.NotificationRequest

	for i, req := range queued {
		if !b.limiter.Allow() {
			rest = queued[i:]
			break
		}

		if b.scheduleWithRetry(ctx, req) {
			result.Scheduled++
			metrics.IncNotification("scheduled")
		} else {
			result.Failed++
			metrics.IncNotification("failed")
			b.logger.Error().
				Int64("task_id", req.TaskID).
				Str("band", band.String()).
				Msg("Notification permanently failed")
		}
	}

	b.mu.Lock()
	b.scheduled += int64(result.Scheduled)
	b.failed += int64(result.Failed)
	if len(rest) > 0 {
		result.Deferred = len(rest)
		b.deferred += int64(len(rest))
		b.pending[band] = append(append([]models.NotificationRequest(nil), rest...), b.pending[band]...)
		b.bandSince[band] = b.clk.Now()
	}
	b.mu.Unlock()

	if len(rest) > 0 {
		for range rest {
			metrics.IncNotification("deferred")
		}
		b.logger.Debug().
			Str("band", band.String()).
			Int("deferred", len(rest)).
			Msg("Notification quota exhausted, deferring remainder")
	}
	return result
}

func (b *Batcher) scheduleWithRetry(ctx context.Context, req models.NotificationRequest) bool {
	attempts := b.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if _, err := b.channel.Schedule(ctx, req); err == nil {
			return true
		} else if attempt < attempts {
			b.logger.Warn().Err(err).
				Int64("task_id", req.TaskID).
				Int("attempt", attempt).
				Msg("Notification dispatch failed, retrying")
		}
	}
	return false
}

// Cancel drops any pending requests for the task and cancels at the
// channel so an already-scheduled push does not fire.
func (b *Batcher) Cancel(taskID int64) {
	b.mu.Lock()
	for band, queued := range b.pending {
		kept := queued[:0]
		for _, req := range queued {
			if req.TaskID != taskID {
				kept = append(kept, req)
			}
		}
		b.pending[band] = kept
	}
	b.cancelled++
	b.mu.Unlock()

	metrics.IncNotification("cancelled")
	if err := b.channel.Cancel(context.Background(), taskID); err != nil {
		b.logger.Warn().Err(err).Int64("task_id", taskID).Msg("Channel cancel failed")
	}
}

// Clear discards all pending requests. This is the only path that
// drops work, and it is always caller-initiated.
func (b *Batcher) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for band := range b.pending {
		dropped += len(b.pending[band])
		b.pending[band] = nil
	}
	if dropped > 0 {
		b.logger.Info().Int("dropped", dropped).Msg("Notification batches cleared")
	}
	return dropped
}

// Run drives timer-based flushes until ctx is done. Flush points are
// checked at a quarter of the batch timeout so a band never waits much
// past its window.
func (b *Batcher) Run(ctx context.Context) {
	interval := b.batchTimeout / 4
	if interval < 50*time.Millisecond {
		interval = 50 * time.Millisecond
	}
	ticker := b.clk.NewTicker(interval)
	defer ticker.Stop()

	b.logger.Info().Dur("interval", interval).Msg("Notification batcher started")
	defer b.logger.Info().Msg("Notification batcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			b.ProcessBatches(ctx)
		}
	}
}

// Stats returns the cumulative tally snapshot.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := 0
	for _, queued := range b.pending {
		pending += len(queued)
	}
	return Stats{
		TotalScheduled: b.scheduled,
		TotalFailed:    b.failed,
		TotalDeferred:  b.deferred,
		TotalCancelled: b.cancelled,
		Pending:        pending,
	}
}
