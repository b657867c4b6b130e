package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestFakeAfterFunc(t *testing.T) {
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	fc := NewFake(start)

	var fired atomic.Int32
	fc.AfterFunc(2*time.Second, func() { fired.Add(1) })

	fc.Advance(time.Second)
	if fired.Load() != 0 {
		t.Fatalf("timer fired early")
	}

	fc.Advance(time.Second)
	if fired.Load() != 1 {
		t.Fatalf("expected timer fired once, got %d", fired.Load())
	}

	fc.Advance(10 * time.Second)
	if fired.Load() != 1 {
		t.Fatalf("timer fired again, got %d", fired.Load())
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))

	var fired atomic.Int32
	timer := fc.AfterFunc(time.Second, func() { fired.Add(1) })

	if !timer.Stop() {
		t.Fatalf("expected Stop to report active timer")
	}
	if timer.Stop() {
		t.Fatalf("expected second Stop to report stopped timer")
	}

	fc.Advance(5 * time.Second)
	if fired.Load() != 0 {
		t.Fatalf("stopped timer fired")
	}
}

func TestFakeTimerOrdering(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))

	var order []int
	fc.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fc.AfterFunc(time.Second, func() { order = append(order, 1) })
	fc.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fc.Advance(5 * time.Second)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("timers fired out of order: %v", order)
	}
}

func TestFakeTicker(t *testing.T) {
	fc := NewFake(time.Unix(0, 0))
	ticker := fc.NewTicker(time.Minute)
	defer ticker.Stop()

	fc.Advance(3 * time.Minute)

	ticks := 0
	for {
		select {
		case <-ticker.C():
			ticks++
			continue
		default:
		}
		break
	}
	if ticks != 3 {
		t.Fatalf("expected 3 ticks, got %d", ticks)
	}
}

func TestRealClockNow(t *testing.T) {
	c := New()
	before := time.Now()
	got := c.Now()
	if got.Before(before.Add(-time.Second)) || got.After(before.Add(time.Second)) {
		t.Fatalf("real clock drifted: %v vs %v", got, before)
	}
}
