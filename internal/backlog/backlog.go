// Package backlog periodically counts messages still waiting to be
// delivered or seen and publishes them as gauges.
package backlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"courier/pkg/logger"
	"courier/pkg/metrics"
	"courier/pkg/store"
	"courier/pkg/timeutil"
)

// Counter reports pending rows.
type Counter interface {
	CountPending(ctx context.Context) (store.PendingCounts, error)
}

// Manager runs the count on a cron schedule.
type Manager struct {
	cron    string
	counter Counter
	clock   timeutil.Clock

	mu      sync.Mutex
	running bool
	last    store.PendingCounts
}

// New builds a manager. A nil clock uses the wall clock.
func New(cron string, counter Counter, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.Real()
	}
	return &Manager{cron: cron, counter: counter, clock: clock}
}

// Start runs one count immediately and schedules the rest. The returned
// cancel stops the loop.
func (m *Manager) Start(ctx context.Context) (context.CancelFunc, error) {
	if !gronx.IsValid(m.cron) {
		return nil, fmt.Errorf("invalid backlog cron %q", m.cron)
	}
	ctx, cancel := context.WithCancel(ctx)
	logger.Info("backlog_enabled", "cron", m.cron)
	m.runJob(ctx)
	go m.scheduleLoop(ctx)
	return cancel, nil
}

// Last returns the most recent counts.
func (m *Manager) Last() store.PendingCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	for {
		now := m.clock.Now()
		next, err := gronx.NextTickAfter(m.cron, now, false)
		if err != nil {
			logger.Error("backlog_nexttick_failed", "cron", m.cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := next.Sub(now)
		if wait <= 0 {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			m.runJob(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runJob counts once unless a previous run is still going.
func (m *Manager) runJob(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if _, err := m.RunImmediate(ctx); err != nil {
		logger.Error("backlog_run_error", "error", err)
	}
}

// RunImmediate counts now and updates the gauges.
func (m *Manager) RunImmediate(ctx context.Context) (store.PendingCounts, error) {
	start := m.clock.Now()
	counts, err := m.counter.CountPending(ctx)
	if err != nil {
		return store.PendingCounts{}, fmt.Errorf("count pending: %w", err)
	}
	metrics.Pending.WithLabelValues("delivered").Set(float64(counts.Delivered))
	metrics.Pending.WithLabelValues("seen").Set(float64(counts.Seen))

	m.mu.Lock()
	m.last = counts
	m.mu.Unlock()
	logger.Info("backlog_counted", "pending_delivery", counts.Delivered, "pending_seen", counts.Seen, "took", m.clock.Now().Sub(start))
	return counts, nil
}
