package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"growlog/internal/clock"
	"growlog/internal/models"
)

type fakeChannel struct {
	mu         sync.Mutex
	scheduled  []models.NotificationRequest
	cancelled  []int64
	failUntil  map[int64]int // task ID -> remaining failures
	alwaysFail bool
}

func (f *fakeChannel) Schedule(ctx context.Context, req models.NotificationRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.alwaysFail {
		return "", errors.New("channel down")
	}
	if remaining := f.failUntil[req.TaskID]; remaining > 0 {
		f.failUntil[req.TaskID] = remaining - 1
		return "", errors.New("transient send error")
	}
	f.scheduled = append(f.scheduled, req)
	return "fake-handle", nil
}

func (f *fakeChannel) Cancel(ctx context.Context, taskID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	return nil
}

func (f *fakeChannel) scheduledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

func newTestBatcher(channel Channel, clk clock.Clock, ratePerSecond float64, maxBatchSize int, timeout time.Duration) *Batcher {
	return NewBatcher(channel, clk, ratePerSecond, int(ratePerSecond), maxBatchSize, timeout, 2, nil)
}

func requestFor(taskID int64, priority models.Priority) models.NotificationRequest {
	return models.NotificationRequest{
		TaskID:   taskID,
		PlantID:  taskID,
		Type:     models.TaskTypeWatering,
		DueAt:    time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		Priority: priority,
		LeadTime: models.LeadTimeFor(priority),
	}
}

func TestFlushOnSizeThreshold(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	channel := &fakeChannel{}
	b := newTestBatcher(channel, fc, 100, 3, time.Minute)

	b.QueueNotification(requestFor(1, models.PriorityMedium))
	b.QueueNotification(requestFor(2, models.PriorityMedium))
	if result := b.ProcessBatches(context.Background()); result.Scheduled != 0 {
		t.Fatalf("band under threshold and timeout should not flush, got %+v", result)
	}

	b.QueueNotification(requestFor(3, models.PriorityMedium))
	result := b.ProcessBatches(context.Background())
	if result.Scheduled != 3 {
		t.Fatalf("expected full band flushed, got %+v", result)
	}
	if channel.scheduledCount() != 3 {
		t.Fatalf("expected 3 channel sends, got %d", channel.scheduledCount())
	}
}

func TestFlushOnTimeout(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	channel := &fakeChannel{}
	b := newTestBatcher(channel, fc, 100, 50, 5*time.Second)

	b.QueueNotification(requestFor(1, models.PriorityLow))
	fc.Advance(4 * time.Second)
	if result := b.ProcessBatches(context.Background()); result.Scheduled != 0 {
		t.Fatalf("timeout not elapsed yet, got %+v", result)
	}

	fc.Advance(time.Second)
	if result := b.ProcessBatches(context.Background()); result.Scheduled != 1 {
		t.Fatalf("expected timeout flush, got %+v", result)
	}
}

func TestCriticalBypassesBatching(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	channel := &fakeChannel{}
	b := newTestBatcher(channel, fc, 100, 50, time.Minute)

	b.QueueNotification(requestFor(7, models.PriorityCritical))

	if channel.scheduledCount() != 1 {
		t.Fatalf("expected immediate dispatch for critical, got %d", channel.scheduledCount())
	}
	if stats := b.Stats(); stats.Pending != 0 {
		t.Fatalf("critical request should not sit in a band, got %d pending", stats.Pending)
	}
}

func TestQuotaDefersExcessWithoutDropping(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	channel := &fakeChannel{}
	// Quota of 5/s with burst 5; queue 12, well past one window.
	b := newTestBatcher(channel, fc, 5, 1, time.Minute)

	const n = 12
	for i := 1; i <= n; i++ {
		b.QueueNotification(requestFor(int64(i), models.PriorityHigh))
	}

	first := b.ProcessBatches(context.Background())
	if first.Scheduled != 5 {
		t.Fatalf("expected burst worth scheduled, got %+v", first)
	}
	if first.Deferred != n-5 {
		t.Fatalf("expected %d deferred, got %+v", n-5, first)
	}
	if stats := b.Stats(); stats.Pending != n-5 {
		t.Fatalf("deferred requests must remain pending, got %d", stats.Pending)
	}

	// Tokens refill over subsequent windows; everything eventually lands.
	total := first.Scheduled
	for i := 0; i < 10 && total < n; i++ {
		fc.Advance(time.Second)
		// The real limiter runs on wall time, so wait out the refill.
		time.Sleep(1100 * time.Millisecond)
		result := b.ProcessBatches(context.Background())
		total += result.Scheduled
	}
	if total != n {
		t.Fatalf("expected all %d eventually scheduled, got %d", n, total)
	}
	if channel.scheduledCount() != n {
		t.Fatalf("expected %d channel sends, got %d", n, channel.scheduledCount())
	}

	// Order within the band survives deferral.
	channel.mu.Lock()
	defer channel.mu.Unlock()
	for i, req := range channel.scheduled {
		if req.TaskID != int64(i+1) {
			t.Fatalf("deferral reordered requests: position %d has task %d", i, req.TaskID)
		}
	}
}

func TestDeferredCriticalFlushedOnNextPass(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	channel := &fakeChannel{}
	// Quota of 1/s with burst 1: the second critical cannot take a token.
	b := newTestBatcher(channel, fc, 1, 50, time.Minute)

	b.QueueNotification(requestFor(1, models.PriorityCritical))
	b.QueueNotification(requestFor(2, models.PriorityCritical))

	if channel.scheduledCount() != 1 {
		t.Fatalf("expected one immediate dispatch, got %d", channel.scheduledCount())
	}
	if stats := b.Stats(); stats.Pending != 1 || stats.TotalDeferred != 1 {
		t.Fatalf("expected deferred critical pending, got %+v", stats)
	}

	// The deferred critical flushes once the quota refills, no size
	// threshold or band timeout required.
	deadline := time.Now().Add(5 * time.Second)
	for channel.scheduledCount() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("deferred critical never flushed: %+v", b.Stats())
		}
		time.Sleep(200 * time.Millisecond)
		b.ProcessBatches(context.Background())
	}
	if stats := b.Stats(); stats.Pending != 0 {
		t.Fatalf("expected nothing pending after flush, got %+v", stats)
	}
}

type blockingChannel struct {
	entered chan struct{}
	release chan struct{}
}

func (c *blockingChannel) Schedule(ctx context.Context, req models.NotificationRequest) (string, error) {
	c.entered <- struct{}{}
	<-c.release
	return "blocked-handle", nil
}

func (c *blockingChannel) Cancel(ctx context.Context, taskID int64) error { return nil }

func TestQueueNotificationNotBlockedByInFlightDispatch(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	channel := &blockingChannel{entered: make(chan struct{}), release: make(chan struct{})}
	b := newTestBatcher(channel, fc, 100, 1, time.Minute)

	b.QueueNotification(requestFor(1, models.PriorityHigh))
	go b.ProcessBatches(context.Background())
	<-channel.entered // dispatch is now stuck inside the channel send

	queued := make(chan struct{})
	go func() {
		b.QueueNotification(requestFor(2, models.PriorityMedium))
		close(queued)
	}()

	select {
	case <-queued:
	case <-time.After(2 * time.Second):
		t.Fatalf("QueueNotification blocked behind an in-flight dispatch")
	}
	close(channel.release)
}

func TestDispatchRetryThenSuccess(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	channel := &fakeChannel{failUntil: map[int64]int{1: 2}}
	b := newTestBatcher(channel, fc, 100, 1, time.Minute)

	b.QueueNotification(requestFor(1, models.PriorityHigh))
	result := b.ProcessBatches(context.Background())

	// maxRetries=2 allows 3 attempts; two transient failures still succeed.
	if result.Scheduled != 1 || result.Failed != 0 {
		t.Fatalf("expected retried request to succeed, got %+v", result)
	}
}

func TestDispatchExhaustionCountsFailed(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	channel := &fakeChannel{alwaysFail: true}
	b := newTestBatcher(channel, fc, 100, 1, time.Minute)

	b.QueueNotification(requestFor(1, models.PriorityHigh))
	result := b.ProcessBatches(context.Background())

	if result.Failed != 1 || result.Scheduled != 0 {
		t.Fatalf("expected permanent failure, got %+v", result)
	}
	if stats := b.Stats(); stats.TotalFailed != 1 || stats.Pending != 0 {
		t.Fatalf("failed request must not linger, got %+v", stats)
	}
}

func TestCancelRemovesPendingAndNotifiesChannel(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	channel := &fakeChannel{}
	b := newTestBatcher(channel, fc, 100, 50, time.Minute)

	b.QueueNotification(requestFor(1, models.PriorityMedium))
	b.QueueNotification(requestFor(2, models.PriorityMedium))
	b.Cancel(1)

	if len(channel.cancelled) != 1 || channel.cancelled[0] != 1 {
		t.Fatalf("expected channel cancel for task 1, got %v", channel.cancelled)
	}
	if stats := b.Stats(); stats.Pending != 1 {
		t.Fatalf("expected one request left pending, got %d", stats.Pending)
	}

	fc.Advance(2 * time.Minute)
	b.ProcessBatches(context.Background())
	if channel.scheduledCount() != 1 {
		t.Fatalf("cancelled request must not be sent, got %d sends", channel.scheduledCount())
	}
}

func TestClearDiscardsAllPending(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	channel := &fakeChannel{}
	b := newTestBatcher(channel, fc, 100, 50, time.Minute)

	b.QueueNotification(requestFor(1, models.PriorityLow))
	b.QueueNotification(requestFor(2, models.PriorityHigh))

	if dropped := b.Clear(); dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
	if stats := b.Stats(); stats.Pending != 0 {
		t.Fatalf("expected nothing pending after clear, got %d", stats.Pending)
	}
}

func TestRunFlushesOnTicker(t *testing.T) {
	channel := &fakeChannel{}
	b := newTestBatcher(channel, clock.New(), 100, 50, 200*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.QueueNotification(requestFor(1, models.PriorityMedium))

	deadline := time.Now().Add(3 * time.Second)
	for channel.scheduledCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("timer-driven flush never happened")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
