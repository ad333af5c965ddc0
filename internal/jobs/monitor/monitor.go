// -----------------------------------------------------------------------
// Job Monitor - Tracks live jobs and reconciles their streamed state
// -----------------------------------------------------------------------

package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/choisimo/newsinsight-monitor/internal/common"
	"github.com/choisimo/newsinsight-monitor/internal/interfaces"
	"github.com/choisimo/newsinsight-monitor/internal/jobs/state"
	"github.com/choisimo/newsinsight-monitor/internal/models"
)

// DefaultIdleTimeout is the no-event window after which a non-terminal
// job is treated as a lost connection
const DefaultIdleTimeout = 5 * time.Minute

// StreamHandle is the monitor's view of one open event channel
type StreamHandle interface {
	Events() <-chan *models.StreamEvent
	Err() <-chan error
	Close()
}

// StreamOpener opens an event channel for a job ID
type StreamOpener interface {
	Open(ctx context.Context, jobID string) (StreamHandle, error)
}

// OpenerFunc adapts a function to the StreamOpener interface
type OpenerFunc func(ctx context.Context, jobID string) (StreamHandle, error)

// Open implements StreamOpener
func (f OpenerFunc) Open(ctx context.Context, jobID string) (StreamHandle, error) {
	return f(ctx, jobID)
}

// Options configures a Monitor
type Options struct {
	Opener StreamOpener
	API    interfaces.JobAPI       // Optional: enables authoritative fetches
	Events interfaces.EventService // Optional: job updates published here
	Cache  interfaces.RecordCache  // Optional: terminal records written through
	Logger arbor.ILogger

	IdleTimeout       time.Duration // Default: DefaultIdleTimeout
	RefetchOnTerminal bool          // Replace streamed state with GET /jobs/{id} on terminal
}

// trackedJob pairs a record with its stream plumbing. The generation token
// fences every asynchronous continuation: a late callback whose captured
// generation no longer matches the tracked entry is discarded.
type trackedJob struct {
	generation uint64
	record     *models.JobRecord
	handle     StreamHandle
}

// Monitor owns one event stream and one reconciled record per tracked job.
// All record mutation flows through the monitor's event-handling path; UI
// readers only ever see cloned snapshots.
type Monitor struct {
	opener            StreamOpener
	api               interfaces.JobAPI
	events            interfaces.EventService
	cache             interfaces.RecordCache
	logger            arbor.ILogger
	idleTimeout       time.Duration
	refetchOnTerminal bool

	mu         sync.RWMutex
	tracked    map[string]*trackedJob
	generation uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ interfaces.JobTracker = (*Monitor)(nil)

// New creates a job monitor
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = common.GetLogger()
	}

	idleTimeout := opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		opener:            opts.Opener,
		api:               opts.API,
		events:            opts.Events,
		cache:             opts.Cache,
		logger:            logger,
		idleTimeout:       idleTimeout,
		refetchOnTerminal: opts.RefetchOnTerminal,
		tracked:           make(map[string]*trackedJob),
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Track begins tracking a job ID with a fresh pending record.
// No-op if the ID is already tracked.
func (m *Monitor) Track(jobID string, kind models.JobKind) {
	m.TrackRecord(models.NewJobRecord(jobID, kind))
}

// TrackRecord begins tracking a job seeded with an existing record,
// typically the start-job response. No-op if the ID is already tracked.
func (m *Monitor) TrackRecord(record *models.JobRecord) {
	if record == nil || record.ID == "" {
		return
	}

	m.mu.Lock()
	if _, ok := m.tracked[record.ID]; ok {
		m.mu.Unlock()
		return
	}

	m.generation++
	gen := m.generation
	tj := &trackedJob{
		generation: gen,
		record:     record.Clone(),
	}
	m.tracked[record.ID] = tj
	m.mu.Unlock()

	m.logger.Info().
		Str("job_id", record.ID).
		Str("kind", string(record.Kind)).
		Str("status", string(record.Status)).
		Msg("Tracking job")

	m.publish(interfaces.EventJobTracked, record.Clone())

	// A job that arrives already terminal needs no stream
	if record.IsTerminal() {
		m.writeThrough(record)
		return
	}

	m.wg.Add(1)
	go m.run(record.ID, gen)
}

// Untrack closes the job's stream and drops its record. Idempotent.
func (m *Monitor) Untrack(jobID string) {
	m.mu.Lock()
	tj, ok := m.tracked[jobID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.tracked, jobID)
	handle := tj.handle
	m.mu.Unlock()

	if handle != nil {
		handle.Close()
	}

	m.logger.Debug().Str("job_id", jobID).Msg("Untracked job")
	m.publish(interfaces.EventJobUntracked, jobID)
}

// Get returns a snapshot of a single tracked record
func (m *Monitor) Get(jobID string) (*models.JobRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tj, ok := m.tracked[jobID]
	if !ok {
		return nil, false
	}
	return tj.record.Clone(), true
}

// Snapshot returns read-only copies of all tracked records keyed by job ID
func (m *Monitor) Snapshot() map[string]*models.JobRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]*models.JobRecord, len(m.tracked))
	for id, tj := range m.tracked {
		snapshot[id] = tj.record.Clone()
	}
	return snapshot
}

// Stop untracks everything and waits for stream goroutines to finish
func (m *Monitor) Stop() {
	m.cancel()

	m.mu.Lock()
	for _, tj := range m.tracked {
		if tj.handle != nil {
			tj.handle.Close()
		}
	}
	m.tracked = make(map[string]*trackedJob)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("Job monitor stopped")
}

// run owns one job's stream from open to terminal status
func (m *Monitor) run(jobID string, gen uint64) {
	defer m.wg.Done()

	handle, err := m.opener.Open(m.ctx, jobID)
	if err != nil {
		m.logger.Warn().
			Str("job_id", jobID).
			Err(err).
			Msg("Failed to open event stream")
		m.failJob(jobID, gen, "connection lost")
		return
	}

	// The job may have been untracked while the handshake was in flight
	if !m.attachHandle(jobID, gen, handle) {
		handle.Close()
		return
	}

	defer handle.Close()

	idle := time.NewTimer(m.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case event := <-handle.Events():
			if event == nil {
				continue
			}

			// Any traffic counts against the idle window, including pings
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(m.idleTimeout)

			switch event.Type {
			case models.StreamEventPing, models.StreamEventUnknown:
				continue
			}

			current, terminal := m.applyEvent(jobID, gen, event)
			if !current {
				return
			}
			if terminal {
				m.finalize(jobID, gen)
				return
			}

		case <-handle.Err():
			m.failJob(jobID, gen, "connection lost")
			return

		case <-idle.C:
			m.logger.Warn().
				Str("job_id", jobID).
				Dur("idle_timeout", m.idleTimeout).
				Msg("No stream events within idle window")
			m.failJob(jobID, gen, "timeout")
			return
		}
	}
}

// attachHandle stores the open handle if the tracked entry is still the
// one that requested it
func (m *Monitor) attachHandle(jobID string, gen uint64, handle StreamHandle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tj, ok := m.tracked[jobID]
	if !ok || tj.generation != gen {
		return false
	}
	tj.handle = handle
	return true
}

// applyEvent folds one stream event into the tracked record.
// Returns (still current, reached terminal).
func (m *Monitor) applyEvent(jobID string, gen uint64, event *models.StreamEvent) (bool, bool) {
	m.mu.Lock()
	tj, ok := m.tracked[jobID]
	if !ok || tj.generation != gen {
		m.mu.Unlock()
		return false, false
	}

	next := state.Reduce(tj.record, event)
	changed := next != tj.record
	tj.record = next
	snapshot := next.Clone()
	m.mu.Unlock()

	if changed {
		m.publish(interfaces.EventJobUpdated, snapshot)
		if snapshot.IsTerminal() {
			m.publish(interfaces.EventJobTerminal, snapshot.Clone())
		}
	}
	return true, snapshot.IsTerminal()
}

// failJob folds a transport-level failure into job state. Terminal records
// are left untouched - a late connection error cannot un-complete a job.
func (m *Monitor) failJob(jobID string, gen uint64, message string) {
	m.mu.Lock()
	tj, ok := m.tracked[jobID]
	if !ok || tj.generation != gen {
		m.mu.Unlock()
		return
	}

	next := state.Fail(tj.record, message)
	if next == tj.record {
		m.mu.Unlock()
		return
	}
	tj.record = next
	snapshot := next.Clone()
	m.mu.Unlock()

	m.publish(interfaces.EventJobUpdated, snapshot)
	m.publish(interfaces.EventJobTerminal, snapshot.Clone())
	m.writeThrough(snapshot)
}

// finalize runs after a job reaches terminal status via the stream:
// optional authoritative re-fetch, then cache write-through
func (m *Monitor) finalize(jobID string, gen uint64) {
	if m.refetchOnTerminal && m.api != nil {
		ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
		fresh, err := m.api.GetJob(ctx, jobID)
		cancel()

		if err != nil {
			m.logger.Warn().
				Str("job_id", jobID).
				Err(err).
				Msg("Terminal authoritative fetch failed, keeping streamed state")
		} else if m.replaceRecord(jobID, gen, fresh) {
			m.writeThrough(fresh)
			return
		}
	}

	if record, ok := m.Get(jobID); ok {
		m.writeThrough(record)
	}
}

// replaceRecord swaps in an authoritative record wholesale, bypassing the
// reducer. Only the authoritative fetch path may do this.
func (m *Monitor) replaceRecord(jobID string, gen uint64, record *models.JobRecord) bool {
	if record == nil {
		return false
	}

	m.mu.Lock()
	tj, ok := m.tracked[jobID]
	if !ok || tj.generation != gen {
		m.mu.Unlock()
		return false
	}
	tj.record = record.Clone()
	snapshot := tj.record.Clone()
	m.mu.Unlock()

	m.publish(interfaces.EventJobUpdated, snapshot)
	return true
}

// RefreshAll performs an authoritative fetch for every non-terminal tracked
// job and reconciles the responses. Used by the scheduled refresh sweep as
// a fallback when streams are degraded.
func (m *Monitor) RefreshAll(ctx context.Context) {
	if m.api == nil {
		return
	}

	type target struct {
		id  string
		gen uint64
	}

	m.mu.RLock()
	targets := make([]target, 0, len(m.tracked))
	for id, tj := range m.tracked {
		if !tj.record.IsTerminal() {
			targets = append(targets, target{id: id, gen: tj.generation})
		}
	}
	m.mu.RUnlock()

	for _, tgt := range targets {
		fresh, err := m.api.GetJob(ctx, tgt.id)
		if err != nil {
			m.logger.Debug().
				Str("job_id", tgt.id).
				Err(err).
				Msg("Refresh fetch failed")
			continue
		}

		if !fresh.IsTerminal() {
			// Non-terminal responses reconcile through the reducer: the
			// server-reported status is adopted, but a lagging fetch can
			// never roll back progress the stream has already delivered.
			m.applyEvent(tgt.id, tgt.gen, refreshEvent(fresh))
			continue
		}

		if m.replaceRecord(tgt.id, tgt.gen, fresh) {
			// The stream missed the terminal transition; close it
			m.mu.Lock()
			tj, ok := m.tracked[tgt.id]
			var handle StreamHandle
			if ok && tj.generation == tgt.gen {
				handle = tj.handle
			}
			m.mu.Unlock()

			if handle != nil {
				handle.Close()
			}
			m.publish(interfaces.EventJobTerminal, fresh.Clone())
			m.writeThrough(fresh)
		}
	}
}

// refreshEvent shapes an authoritative fetch response as a stream event
// so the sweep folds it through the same reducer path as live updates
func refreshEvent(record *models.JobRecord) *models.StreamEvent {
	status := record.Status
	progress := record.Progress

	event := &models.StreamEvent{
		Type:     models.StreamEventStatus,
		JobID:    record.ID,
		Status:   &status,
		Progress: &progress,
		Metrics:  record.Metrics,
	}
	if len(record.Result) > 0 {
		event.Result = record.Result
	}
	if record.Error != "" {
		msg := record.Error
		event.Error = &msg
	}
	return event
}

// writeThrough persists a terminal record to the cache
func (m *Monitor) writeThrough(record *models.JobRecord) {
	if m.cache == nil || record == nil || !record.IsTerminal() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := interfaces.RecordKey(record.Kind, record.ID)
	if err := m.cache.Set(ctx, key, record); err != nil {
		m.logger.Warn().
			Str("job_id", record.ID).
			Err(err).
			Msg("Failed to cache terminal job record")
	}
}

func (m *Monitor) publish(eventType interfaces.EventType, payload interface{}) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(m.ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		m.logger.Warn().
			Str("event_type", string(eventType)).
			Err(err).
			Msg("Failed to publish monitor event")
	}
}
