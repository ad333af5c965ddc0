package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/choisimo/newsinsight-monitor/internal/common"
)

// Refresher drives periodic authoritative refresh sweeps over the tracked
// job set. Streams are the primary signal; the sweep catches jobs whose
// stream silently missed a transition.
type Refresher struct {
	monitor  *Monitor
	cron     *cron.Cron
	logger   arbor.ILogger
	schedule string

	mu           sync.Mutex
	isRefreshing bool
	running      bool
	lastRun      *time.Time
}

// NewRefresher creates a refresher for the given monitor
func NewRefresher(m *Monitor, schedule string, logger arbor.ILogger) *Refresher {
	if logger == nil {
		logger = common.GetLogger()
	}
	return &Refresher{
		monitor:  m,
		cron:     cron.New(),
		logger:   logger,
		schedule: schedule,
	}
}

// Start begins the scheduled sweep. An empty schedule disables it.
func (r *Refresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("refresher already running")
	}

	if r.schedule == "" {
		r.logger.Info().Msg("Scheduled refresh disabled (no schedule configured)")
		return nil
	}

	if _, err := r.cron.AddFunc(r.schedule, r.runSweep); err != nil {
		return fmt.Errorf("failed to add refresh schedule: %w", err)
	}

	r.cron.Start()
	r.running = true

	r.logger.Info().
		Str("schedule", r.schedule).
		Msg("Scheduled refresh started")

	return nil
}

// Stop halts the scheduled sweep
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	ctx := r.cron.Stop()
	<-ctx.Done()
	r.running = false

	r.logger.Info().Msg("Scheduled refresh stopped")
}

// TriggerNow runs one sweep immediately in the background
func (r *Refresher) TriggerNow() {
	go r.runSweep()
}

// LastRun reports when the most recent sweep completed
func (r *Refresher) LastRun() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

// runSweep executes one refresh pass, skipping if one is already in flight
func (r *Refresher) runSweep() {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("panic", fmt.Sprintf("%v", rec)).
				Msg("PANIC RECOVERED in refresh sweep")
		}
	}()

	r.mu.Lock()
	if r.isRefreshing {
		r.mu.Unlock()
		r.logger.Debug().Msg("Refresh sweep already in progress, skipping cycle")
		return
	}
	r.isRefreshing = true
	r.mu.Unlock()

	defer func() {
		completed := time.Now()
		r.mu.Lock()
		r.isRefreshing = false
		r.lastRun = &completed
		r.mu.Unlock()
	}()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	r.monitor.RefreshAll(ctx)

	r.logger.Debug().
		Dur("duration", time.Since(start)).
		Msg("Refresh sweep completed")
}
