package manager

import (
	"context"
	"time"
)

type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// Failure-ratio thresholds for the task processor and the sync engine.
const (
	taskFailureWarn     = 0.2
	taskFailureCritical = 0.5
	syncSuccessWarn     = 0.9
	syncSuccessCritical = 0.5
)

// HealthReport is one health verdict with the issues behind it.
type HealthReport struct {
	Status    HealthStatus `json:"status"`
	Issues    []string     `json:"issues,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// CheckHealth evaluates the subsystem and triggers local recovery on a
// critical verdict. Safe to call at any lifecycle state.
func (m *Manager) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{Status: HealthHealthy, CheckedAt: m.clk.Now()}
	raise := func(to HealthStatus, issue string) {
		report.Issues = append(report.Issues, issue)
		if to == HealthCritical || (to == HealthWarning && report.Status == HealthHealthy) {
			report.Status = to
		}
	}

	qs := m.processor.Stats()
	if total := qs.TotalProcessed + qs.TotalFailed; total > 0 {
		ratio := float64(qs.TotalFailed) / float64(total)
		switch {
		case ratio >= taskFailureCritical:
			raise(HealthCritical, "task failure ratio above critical threshold")
		case ratio >= taskFailureWarn:
			raise(HealthWarning, "task failure ratio elevated")
		}
	}

	ss := m.engine.Stats()
	if effective := ss.TotalRuns - ss.NoOpRuns; effective > 0 {
		ratio := float64(ss.SuccessfulRuns) / float64(effective)
		switch {
		case ratio < syncSuccessCritical:
			raise(HealthCritical, "sync success ratio below critical threshold")
		case ratio < syncSuccessWarn:
			raise(HealthWarning, "sync success ratio degraded")
		}
	}

	if m.State() != StateRunning {
		raise(HealthWarning, "processing loops are stopped")
	}

	m.mu.Lock()
	m.lastHealth = report
	m.mu.Unlock()

	if report.Status == HealthCritical {
		m.logger.Error().Strs("issues", report.Issues).Msg("Health check critical, starting recovery")
		m.recover(ctx)
	} else if report.Status == HealthWarning {
		m.logger.Warn().Strs("issues", report.Issues).Msg("Health check warning")
	}
	return report
}

// recover resets local state after a critical verdict: pending work is
// dropped, remote caches wiped, and a stopped manager restarted.
func (m *Manager) recover(ctx context.Context) {
	dropped := m.processor.Clear()
	cleared := m.batcher.Clear()
	if err := m.engine.ClearCaches(ctx); err != nil {
		m.logger.Error().Err(err).Msg("Failed to clear sync caches during recovery")
	}

	restarted := false
	if m.State() == StateStopped {
		if err := m.Start(); err == nil {
			restarted = true
		}
	}

	m.logger.Info().
		Int("dropped_batches", dropped).
		Int("dropped_notifications", cleared).
		Bool("restarted", restarted).
		Msg("Recovery finished")
}

// RunHealthLoop drives periodic health checks. It runs independently
// of Start/Stop so a stopped manager can still be recovered.
func (m *Manager) RunHealthLoop(ctx context.Context) {
	ticker := m.clk.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.logger.Info().Dur("interval", m.checkInterval).Msg("Health loop started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.CheckHealth(ctx)
		}
	}
}
