package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/filter"
	"github.com/openmined/syftsync/internal/utils"
)

const lockFileName = "sync.lock"

// Recorder persists finished passes.
type Recorder interface {
	Record(ctx context.Context, result *PassResult) error
}

// SyncOptions are per-pass overrides for a manual pass.
type SyncOptions struct {
	DryRun    bool
	Backends  []string
	Direction config.SyncDirection
	Mode      config.SyncMode
}

// ManagerStatus is a point-in-time view of the manager.
type ManagerStatus struct {
	Running   bool            `json:"running"`
	Trigger   Trigger         `json:"trigger,omitempty"`
	StartedAt *time.Time      `json:"startedAt,omitempty"`
	Last      *PassResult     `json:"last,omitempty"`
	Backends  []BackendStatus `json:"backends"`
}

type activePass struct {
	gen      uint64
	trigger  Trigger
	started  time.Time
	cancel   context.CancelFunc
	watchdog clockwork.Timer
	timedOut bool
}

// Manager owns the pass lock. At most one pass runs at a time: concurrent
// triggers are rejected, and a watchdog frees the lock from a pass that
// overruns its timeout.
type Manager struct {
	engine   *Engine
	clock    clockwork.Clock
	recorder Recorder

	mu       sync.Mutex
	settings *config.Settings
	pass     *activePass
	gen      uint64
	last     *PassResult
	fileLock *flock.Flock

	watcher    *FileWatcher
	debounce   *Debouncer
	reschedule chan struct{}
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

type ManagerOption func(*Manager)

func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

func WithManagerClock(c clockwork.Clock) ManagerOption {
	return func(m *Manager) { m.clock = c }
}

func NewManager(s *config.Settings, engine *Engine, opts ...ManagerOption) *Manager {
	m := &Manager{
		engine:     engine,
		clock:      clockwork.NewRealClock(),
		settings:   s.Clone(),
		reschedule: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	config.Repair(m.settings)
	return m
}

// Settings returns a copy of the current settings.
func (m *Manager) Settings() *config.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.Clone()
}

// UpdateSettings repairs and applies new settings from the next pass on.
func (m *Manager) UpdateSettings(s *config.Settings) []string {
	next := s.Clone()
	notes := config.Repair(next)

	m.mu.Lock()
	m.settings = next
	m.mu.Unlock()

	select {
	case m.reschedule <- struct{}{}:
	default:
	}
	return notes
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pass != nil
}

func (m *Manager) Status() ManagerStatus {
	m.mu.Lock()
	st := ManagerStatus{Last: m.last}
	if m.pass != nil {
		started := m.pass.started
		st.Running = true
		st.Trigger = m.pass.trigger
		st.StartedAt = &started
	}
	m.mu.Unlock()

	st.Backends = m.engine.Status().All()
	return st
}

// Subscribe streams backend state transitions. Callers must Unsubscribe.
func (m *Manager) Subscribe() <-chan *StatusEvent { return m.engine.Status().Subscribe() }

func (m *Manager) Unsubscribe(ch <-chan *StatusEvent) { m.engine.Status().Unsubscribe(ch) }

// SyncNow runs a manual pass and returns its errors.
func (m *Manager) SyncNow(ctx context.Context, opts SyncOptions) (*PassResult, error) {
	if opts.Direction != "" {
		d, ok := config.ParseDirection(string(opts.Direction))
		if !ok {
			return nil, fmt.Errorf("unknown direction %q", opts.Direction)
		}
		opts.Direction = d
	}
	if opts.Mode != "" {
		mode, ok := config.ParseSyncMode(string(opts.Mode))
		if !ok {
			return nil, fmt.Errorf("unknown mode %q", opts.Mode)
		}
		opts.Mode = mode
	}
	override := func(s *config.Settings) {
		if opts.Direction != "" {
			s.SyncDirection = opts.Direction
		}
		if opts.Mode != "" {
			s.SyncMode = opts.Mode
		}
	}
	return m.run(ctx, TriggerManual, RunOptions{DryRun: opts.DryRun, Backends: opts.Backends}, override)
}

// runAutomatic is used by every non-manual trigger: failures are logged, not returned.
func (m *Manager) runAutomatic(ctx context.Context, trigger Trigger) {
	if ctx.Err() != nil {
		return
	}
	result, err := m.run(ctx, trigger, RunOptions{}, nil)
	switch {
	case errors.Is(err, ErrSyncAlreadyRunning):
		slog.Debug("sync pass skipped", "trigger", trigger, "reason", err)
	case errors.Is(err, ErrNoBackends):
		slog.Debug("sync pass skipped", "trigger", trigger, "reason", err)
	case err != nil:
		slog.Error("sync pass failed", "trigger", trigger, "error", err)
	case result != nil:
		slog.Debug("sync pass done", "trigger", trigger, "id", result.ID, "took", result.FinishedAt.Sub(result.StartedAt))
	}
}

func (m *Manager) run(ctx context.Context, trigger Trigger, opts RunOptions, override func(*config.Settings)) (*PassResult, error) {
	p, passCtx, s, err := m.acquire(ctx, trigger, override)
	if err != nil {
		return nil, err
	}

	opts.Trigger = trigger
	result := m.engine.Run(passCtx, s, opts)
	m.finish(p, result)

	if m.recorder != nil && !opts.DryRun {
		if err := m.recorder.Record(context.WithoutCancel(ctx), result); err != nil {
			slog.Warn("sync history not recorded", "id", result.ID, "error", err)
		}
	}
	return result, result.Err()
}

// acquire takes the in-process and cross-process locks and arms the
// watchdog in one step.
func (m *Manager) acquire(ctx context.Context, trigger Trigger, override func(*config.Settings)) (*activePass, context.Context, *config.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pass != nil {
		return nil, nil, nil, ErrSyncAlreadyRunning
	}

	// settings were repaired when they were set; overrides are pre-validated
	s := m.settings.Clone()
	if override != nil {
		override(s)
	}
	if err := s.Validate(); err != nil {
		if errors.Is(err, config.ErrNoBackends) {
			return nil, nil, nil, ErrNoBackends
		}
		return nil, nil, nil, err
	}
	if err := utils.EnsureDir(s.LocalDir); err != nil {
		return nil, nil, nil, fmt.Errorf("local dir: %w", err)
	}
	if err := utils.EnsureDir(s.DataDir); err != nil {
		return nil, nil, nil, fmt.Errorf("data dir: %w", err)
	}

	lockPath := filepath.Join(s.DataDir, lockFileName)
	if m.fileLock == nil || m.fileLock.Path() != lockPath {
		m.fileLock = flock.New(lockPath)
	}
	locked, err := m.fileLock.TryLock()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	if !locked {
		// held by another process
		return nil, nil, nil, ErrSyncAlreadyRunning
	}

	m.gen++
	// the caller cannot cancel a started pass, only the watchdog and Stop can
	passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &activePass{gen: m.gen, trigger: trigger, started: m.clock.Now(), cancel: cancel}
	p.watchdog = m.clock.AfterFunc(s.PassTimeout, func() { m.expire(p) })
	m.pass = p

	slog.Debug("sync pass start", "trigger", trigger, "gen", p.gen)
	return p, passCtx, s, nil
}

// expire frees the lock held by an overrunning pass and cancels it.
func (m *Manager) expire(p *activePass) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pass != p {
		return
	}
	slog.Error("sync pass timed out, releasing lock", "trigger", p.trigger, "gen", p.gen, "running", m.clock.Since(p.started))
	p.timedOut = true
	p.cancel()
	m.releaseLocked()
}

// finish releases the lock only if it still belongs to p.
func (m *Manager) finish(p *activePass, result *PassResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.watchdog.Stop()
	p.cancel()
	if p.timedOut {
		result.TimedOut = true
	}
	if m.pass == p {
		m.releaseLocked()
	}
	m.last = result
}

func (m *Manager) releaseLocked() {
	m.pass = nil
	if m.fileLock != nil {
		if err := m.fileLock.Unlock(); err != nil {
			slog.Warn("sync lock release", "error", err)
		}
	}
}

// Start runs a startup pass, then passes on the schedule and on local changes.
func (m *Manager) Start(ctx context.Context) error {
	slog.Info("sync manager start")
	ctx, m.cancel = context.WithCancel(ctx)
	s := m.Settings()

	// settings read here are current
	select {
	case <-m.reschedule:
	default:
	}

	if s.Watch {
		if err := m.startWatcher(ctx, s); err != nil {
			m.cancel()
			return fmt.Errorf("failed to start watcher: %w", err)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runAutomatic(ctx, TriggerStartup)
		m.schedule(ctx)
	}()
	return nil
}

func (m *Manager) Stop() {
	slog.Info("sync manager stop")
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Lock()
	if m.pass != nil {
		m.pass.cancel()
	}
	m.mu.Unlock()
	if m.debounce != nil {
		m.debounce.Stop()
	}
	if m.watcher != nil {
		m.watcher.Stop()
	}
	m.wg.Wait()
}

// schedule runs a pass every sync_interval. A timer rather than a ticker, so
// slow passes never queue up ticks.
func (m *Manager) schedule(ctx context.Context) {
	for {
		interval := m.Settings().Interval()
		if interval <= 0 {
			select {
			case <-ctx.Done():
				return
			case <-m.reschedule:
				continue
			}
		}

		timer := m.clock.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.reschedule:
			timer.Stop()
		case <-timer.Chan():
			m.runAutomatic(ctx, TriggerScheduled)
		}
	}
}

func (m *Manager) startWatcher(ctx context.Context, s *config.Settings) error {
	root := s.LocalDir
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	flt := filter.New(s)

	watcher := NewFileWatcher(root, m.clock, func(rel string) bool {
		return flt.Exclude(rel, false)
	})
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	m.engine.OnLocalWrite(watcher.ExpectWrite)

	m.watcher = watcher
	m.debounce = NewDebouncer(m.clock, s.Debounce, func() {
		m.runAutomatic(ctx, TriggerWatcher)
	})

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.handleLocalChanges(ctx, watcher.Changes())
	}()
	return nil
}

func (m *Manager) handleLocalChanges(ctx context.Context, changes <-chan LocalChange) {
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			slog.Debug("local change", "op", change.Op, "path", change.Path)
			m.debounce.Touch()
		}
	}
}
