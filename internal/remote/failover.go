package remote

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"growlog/internal/clock"

	"github.com/rs/zerolog"
)

const recoveryProbeAfter = time.Minute

// FailoverTarget routes to the primary target until it fails, then to
// the fallback. The primary is probed again after a minute so a
// recovered redis takes traffic back without a restart.
type FailoverTarget struct {
	primary  Target
	fallback Target
	clk      clock.Clock
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverTarget(primary, fallback Target, clk clock.Clock, logger *zerolog.Logger) *FailoverTarget {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverTarget{
		primary:  primary,
		fallback: fallback,
		clk:      clk,
		logger:   logger,
	}
}

func (f *FailoverTarget) markDown(err error) {
	f.logger.Error().Err(err).Msg("Primary sync target failed, falling back to memory")
	f.isDown.Store(true)
	f.mu.Lock()
	f.lastCheck = f.clk.Now()
	f.mu.Unlock()
}

// shouldProbe reports whether enough time has passed since the last
// failure to try the primary again, and resets the probe window.
func (f *FailoverTarget) shouldProbe() bool {
	if !f.isDown.Load() {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clk.Now().Sub(f.lastCheck) <= recoveryProbeAfter {
		return false
	}
	f.lastCheck = f.clk.Now()
	return true
}

func (f *FailoverTarget) recover() {
	f.logger.Info().Msg("Primary sync target recovered")
	f.isDown.Store(false)
}

func (f *FailoverTarget) Push(ctx context.Context, snap Snapshot) error {
	if !f.isDown.Load() {
		if err := f.primary.Push(ctx, snap); err == nil {
			return nil
		} else {
			f.markDown(err)
		}
	} else if f.shouldProbe() {
		if err := f.primary.Push(ctx, snap); err == nil {
			f.recover()
			return nil
		}
	}
	return f.fallback.Push(ctx, snap)
}

func (f *FailoverTarget) Pull(ctx context.Context, kind string, entityID int64) (*Snapshot, error) {
	if !f.isDown.Load() {
		snap, err := f.primary.Pull(ctx, kind, entityID)
		if err == nil {
			return snap, nil
		}
		f.markDown(err)
	} else if f.shouldProbe() {
		snap, err := f.primary.Pull(ctx, kind, entityID)
		if err == nil {
			f.recover()
			return snap, nil
		}
	}
	return f.fallback.Pull(ctx, kind, entityID)
}

func (f *FailoverTarget) Delete(ctx context.Context, kind string, entityID int64) error {
	if !f.isDown.Load() {
		if err := f.primary.Delete(ctx, kind, entityID); err == nil {
			return nil
		} else {
			f.markDown(err)
		}
	} else if f.shouldProbe() {
		if err := f.primary.Delete(ctx, kind, entityID); err == nil {
			f.recover()
			return nil
		}
	}
	return f.fallback.Delete(ctx, kind, entityID)
}

func (f *FailoverTarget) Clear(ctx context.Context) error {
	// Clear both sides so a later recovery cannot resurrect snapshots.
	var primaryErr error
	if !f.isDown.Load() {
		if primaryErr = f.primary.Clear(ctx); primaryErr != nil {
			f.markDown(primaryErr)
		}
	}
	if err := f.fallback.Clear(ctx); err != nil {
		return err
	}
	return primaryErr
}
