// Package resourcemgr implements the process-wide resource-reclamation
// registry spec.md §4.7 describes: every codec instance registers on
// creation, records activity on every emitted output, and becomes eligible
// for reclamation once it has been inactive past a threshold — subject to
// the protection rules for active foreground instances, active background
// encoders, and transcoding-pair grouping.
//
// The registry's single-lock-then-snapshot read pattern and its periodic
// sweep are grounded on the teacher's scheduler.Scheduler (cron-driven
// periodic work over a registry protected by one sync.RWMutex); the sweep
// itself uses robfig/cron instead of a bare time.Ticker so its cadence is
// configurable the same way the teacher configures its sync interval.
package resourcemgr

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sync/errgroup"

	"github.com/codecbridge/webcodecs/internal/codecerr"
	"github.com/codecbridge/webcodecs/internal/resourcemgr/activitylog"
)

// maxConcurrentReclaims bounds how many eligible instances are torn down at
// once during a sweep, so a sweep over a large registry doesn't spin up one
// goroutine per instance.
const maxConcurrentReclaims = 8

// InactivityThreshold is the spec's fixed 10-second "active" window
// (spec.md §4.7, §5 "not a timeout on any operation").
const InactivityThreshold = 10 * time.Second

// Kind classifies a registered instance for the protection rules.
type Kind string

const (
	KindVideoEncoder Kind = "video-encoder"
	KindVideoDecoder Kind = "video-decoder"
	KindAudioEncoder Kind = "audio-encoder"
	KindAudioDecoder Kind = "audio-decoder"
)

func (k Kind) isEncoder() bool {
	return k == KindVideoEncoder || k == KindAudioEncoder
}

// Registrable is the subset of codecore.Instance the manager needs. Using
// an interface (rather than importing codecore directly) keeps this package
// free to register instances of any of the four facades without a cyclic
// import, and lets tests substitute a fake.
type Registrable interface {
	ID() string
	GroupID() string
	Kind() string
	Background() bool
	StateIsClosed() bool
	Saturated() bool
	QueueSize() int
	LastActivity() time.Time
	Reclaim() error
	// BackendPID returns the OS process ID of the instance's active backend,
	// if any, for the admin surface's process stats.
	BackendPID() (int, bool)
}

type entry struct {
	instance Registrable
	kind     Kind
}

// Manager is the single process-wide registry. It is addressed through this
// type, not ambient package-level statics, so tests can construct an
// isolated instance (spec.md §5 "Global state").
type Manager struct {
	mu      sync.Mutex
	entries map[string]entry
	logger  *slog.Logger
	journal *activitylog.Journal

	cronScheduler *cron.Cron
	sweepEntryID  cron.EntryID
	sweepRunning  bool
}

// SetJournal attaches an optional durable activity journal (SPEC_FULL.md
// §11); every Register and Reclaim call after this records an event to it.
// Passing nil detaches any previously attached journal.
func (m *Manager) SetJournal(j *activitylog.Journal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.journal = j
}

// New constructs an empty Manager.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		entries: make(map[string]entry),
		logger:  logger,
		cronScheduler: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
		)),
	}
}

// Register adds a live instance to the registry (spec.md §4.7 "each
// instance registers on creation"). It returns an unregister func the
// instance's owner should call exactly once, typically bound via
// codecore.Instance.BindResourceManager.
func (m *Manager) Register(inst Registrable) (unregister func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := inst.ID()
	m.entries[id] = entry{instance: inst, kind: Kind(inst.Kind())}
	if m.journal != nil {
		m.journal.Record(context.Background(), id, inst.GroupID(), inst.Kind(), activitylog.ActionRegistered, "")
	}

	return func() {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
	}
}

// Count returns the number of currently registered instances.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// InstanceView is a point-in-time snapshot of one registered instance, for
// the admin HTTP surface (SPEC_FULL.md §12.5).
type InstanceView struct {
	ID           string
	GroupID      string
	Kind         string
	Background   bool
	Closed       bool
	Saturated    bool
	QueueSize    int
	LastActivity time.Time

	// ProcessCPUPercent and ProcessRSSBytes report the backend subprocess's
	// own resource usage, sampled via gopsutil at snapshot time. HasProcessStats
	// is false when the instance has no active backend or the backend
	// doesn't expose a PID (e.g. a fake in tests).
	HasProcessStats   bool
	ProcessCPUPercent float64
	ProcessRSSBytes   uint64
}

// Instances returns a snapshot of every registered instance, in no
// particular order.
func (m *Manager) Instances() []InstanceView {
	m.mu.Lock()
	all := make([]entry, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e)
	}
	m.mu.Unlock()

	views := make([]InstanceView, 0, len(all))
	for _, e := range all {
		view := InstanceView{
			ID:           e.instance.ID(),
			GroupID:      e.instance.GroupID(),
			Kind:         e.instance.Kind(),
			Background:   e.instance.Background(),
			Closed:       e.instance.StateIsClosed(),
			Saturated:    e.instance.Saturated(),
			QueueSize:    e.instance.QueueSize(),
			LastActivity: e.instance.LastActivity(),
		}
		if pid, ok := e.instance.BackendPID(); ok {
			if cpu, rss, ok := processStats(pid); ok {
				view.HasProcessStats = true
				view.ProcessCPUPercent = cpu
				view.ProcessRSSBytes = rss
			}
		}
		views = append(views, view)
	}
	return views
}

// StartPeriodicSweep begins an automatic reclaim sweep on the given cron
// schedule (e.g. "@every 30s"). It is optional; an embedder under memory
// pressure can call Reclaim directly instead (spec.md §4.7 "triggered by an
// explicit API on the manager or by the host under memory pressure").
func (m *Manager) StartPeriodicSweep(cronSchedule string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sweepRunning {
		return nil
	}

	entryID, err := m.cronScheduler.AddFunc(cronSchedule, func() {
		n := m.Reclaim()
		if n > 0 {
			m.logger.Info("resource manager reclaimed instances", slog.Int("count", n))
		}
	})
	if err != nil {
		return err
	}
	m.sweepEntryID = entryID
	m.sweepRunning = true
	m.cronScheduler.Start()
	return nil
}

// StopPeriodicSweep stops the cron-driven sweep, if running.
func (m *Manager) StopPeriodicSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sweepRunning {
		return
	}
	m.cronScheduler.Remove(m.sweepEntryID)
	stopCtx := m.cronScheduler.Stop()
	<-stopCtx.Done()
	m.sweepRunning = false
}

// Reclaim closes every eligible instance and returns the count actually
// reclaimed (spec.md §4.7 protection rules 1-5). Eligible instances are torn
// down concurrently, bounded by maxConcurrentReclaims, since each instance's
// Reclaim is independent and may block on backend teardown.
func (m *Manager) Reclaim() int {
	snapshot := m.snapshotEligible()

	m.mu.Lock()
	journal := m.journal
	m.mu.Unlock()

	var reclaimed atomic.Int64
	var group errgroup.Group
	group.SetLimit(maxConcurrentReclaims)

	for _, e := range snapshot {
		group.Go(func() error {
			if err := e.instance.Reclaim(); err != nil {
				m.logger.Warn("reclaim failed", slog.String("instance_id", e.instance.ID()), slog.Any("error", err))
				return nil
			}
			if journal != nil {
				journal.Record(context.Background(), e.instance.ID(), e.instance.GroupID(), e.instance.Kind(), activitylog.ActionReclaimed, "")
			}
			reclaimed.Add(1)
			return nil
		})
	}
	_ = group.Wait()
	return int(reclaimed.Load())
}

// snapshotEligible copies the registry under lock, then evaluates
// eligibility lock-free (spec.md §5 "read paths used during reclamation
// copy-under-lock then operate lock-free on the snapshot").
func (m *Manager) snapshotEligible() []entry {
	m.mu.Lock()
	all := make([]entry, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e)
	}
	m.mu.Unlock()

	now := time.Now()
	groupHasActiveEncoder := make(map[string]bool)
	for _, e := range all {
		if e.kind.isEncoder() && isActive(e.instance, now) {
			groupHasActiveEncoder[e.instance.GroupID()] = true
		}
	}

	var eligible []entry
	for _, e := range all {
		if e.instance.StateIsClosed() {
			continue // rule 4
		}
		if !isActive(e.instance, now) {
			eligible = append(eligible, e)
			continue
		}
		// Active: apply protection rules 1-3.
		if !e.instance.Background() {
			continue // rule 1
		}
		if e.kind.isEncoder() {
			continue // rule 2
		}
		if groupHasActiveEncoder[e.instance.GroupID()] {
			continue // rule 3
		}
		eligible = append(eligible, e)
	}
	return eligible
}

// processStats samples CPU percent and resident set size for a backend's OS
// process. Failures (process already exited, permission denied) are
// reported as ok=false rather than propagated; admin snapshots are
// best-effort.
func processStats(pid int) (cpuPercent float64, rssBytes uint64, ok bool) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, 0, false
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		return 0, 0, false
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return 0, 0, false
	}
	return cpu, mem.RSS, true
}

func isActive(inst Registrable, now time.Time) bool {
	last := inst.LastActivity()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) < InactivityThreshold
}

// ErrNotRegistered is returned by operations against an instance ID the
// manager has no record of.
var ErrNotRegistered = codecerr.New(codecerr.KindInvalidState, "", "instance is not registered with the resource manager")
