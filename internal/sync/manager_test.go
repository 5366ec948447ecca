package sync

import (
	"context"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/syftsync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRecorder struct {
	mu     gosync.Mutex
	passes []*PassResult
}

func (r *memRecorder) Record(_ context.Context, result *PassResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passes = append(r.passes, result)
	return nil
}

func (r *memRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.passes)
}

// gatedConnect makes the nth connect wait for gates[n].
func gatedConnect(h *harness, gates ...chan struct{}) {
	queue := make(chan chan struct{}, len(gates))
	for _, g := range gates {
		queue <- g
	}
	h.remote.OnConnect(func() error {
		select {
		case g := <-queue:
			<-g
		default:
		}
		return nil
	})
}

func newManagerHarness(t *testing.T, opts ...ManagerOption) (*harness, *Manager) {
	t.Helper()
	h := newHarness(t)
	h.settings.LocalDir = t.TempDir()
	h.settings.DataDir = t.TempDir()
	return h, NewManager(h.settings, h.engine, opts...)
}

type syncReturn struct {
	result *PassResult
	err    error
}

func syncAsync(m *Manager) <-chan syncReturn {
	out := make(chan syncReturn, 1)
	go func() {
		r, err := m.SyncNow(context.Background(), SyncOptions{})
		out <- syncReturn{r, err}
	}()
	return out
}

func TestManagerSyncNow(t *testing.T) {
	rec := &memRecorder{}
	h, m := newManagerHarness(t, WithRecorder(rec))
	h.putLocal("a.md", "a", older)

	result, err := m.SyncNow(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, TriggerManual, result.Trigger)
	assert.Equal(t, 1, result.Total(OpUpload))
	assert.False(t, m.IsRunning())
	assert.Equal(t, 1, rec.count())

	st := m.Status()
	assert.False(t, st.Running)
	require.NotNil(t, st.Last)
	assert.Equal(t, result.ID, st.Last.ID)
	require.Len(t, st.Backends, 1)
	assert.Equal(t, StateDone, st.Backends[0].State)
}

func TestManagerDryRunIsNotRecorded(t *testing.T) {
	rec := &memRecorder{}
	h, m := newManagerHarness(t, WithRecorder(rec))
	h.putLocal("a.md", "a", older)

	result, err := m.SyncNow(context.Background(), SyncOptions{DryRun: true})
	require.NoError(t, err)
	assert.Len(t, result.Backends[0].Operations, 1)
	assert.Zero(t, rec.count())
	assert.False(t, h.remote.Exists("a.md"))
}

func TestManagerOverridesApplyToOnePass(t *testing.T) {
	h, m := newManagerHarness(t)
	h.putLocal("a.md", "a", older)

	result, err := m.SyncNow(context.Background(), SyncOptions{Direction: config.DirectionDownloadOnly})
	require.NoError(t, err)
	assert.Empty(t, result.Backends[0].Operations)
	assert.Equal(t, config.DirectionBidirectional, m.Settings().SyncDirection)
}

func TestManagerOverridesAreParsed(t *testing.T) {
	h, m := newManagerHarness(t)
	h.putLocal("a.md", "a", older)

	_, err := m.SyncNow(context.Background(), SyncOptions{Direction: "sideways"})
	require.ErrorContains(t, err, "unknown direction")
	_, err = m.SyncNow(context.Background(), SyncOptions{Mode: "sometimes"})
	require.ErrorContains(t, err, "unknown mode")
	assert.Zero(t, h.remote.CountCalls("connect"), "invalid overrides never start a pass")

	result, err := m.SyncNow(context.Background(), SyncOptions{Direction: "up"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total(OpUpload))
}

func TestManagerCallerCannotCancelPass(t *testing.T) {
	h, m := newManagerHarness(t)
	h.putLocal("a.md", "a", older)
	gate := make(chan struct{})
	gatedConnect(h, gate)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan syncReturn, 1)
	go func() {
		r, err := m.SyncNow(ctx, SyncOptions{})
		done <- syncReturn{r, err}
	}()
	assert.Eventually(t, m.IsRunning, time.Second, 5*time.Millisecond)

	// the client went away mid-pass
	cancel()
	close(gate)

	ret := <-done
	require.NoError(t, ret.err)
	assert.Equal(t, 1, ret.result.Total(OpUpload))
	assert.Equal(t, "a", h.remoteContent("a.md"))
}

func TestManagerStopCancelsActivePass(t *testing.T) {
	h, m := newManagerHarness(t)
	h.putLocal("a.md", "a", older)
	gate := make(chan struct{})
	gatedConnect(h, gate)

	pass := syncAsync(m)
	assert.Eventually(t, m.IsRunning, time.Second, 5*time.Millisecond)

	m.Stop()
	close(gate)

	ret := <-pass
	assert.Error(t, ret.err)
	assert.False(t, h.remote.Exists("a.md"))
	assert.False(t, m.IsRunning())
}

func TestManagerRejectsConcurrentPass(t *testing.T) {
	h, m := newManagerHarness(t)
	gate := make(chan struct{})
	gatedConnect(h, gate)

	first := syncAsync(m)
	assert.Eventually(t, m.IsRunning, time.Second, 5*time.Millisecond)

	_, err := m.SyncNow(context.Background(), SyncOptions{})
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)

	close(gate)
	ret := <-first
	require.NoError(t, ret.err)
	assert.False(t, m.IsRunning())

	_, err = m.SyncNow(context.Background(), SyncOptions{})
	assert.NoError(t, err, "the lock is free again")
}

func TestManagerRespectsProcessLock(t *testing.T) {
	h, m := newManagerHarness(t)

	other := flock.New(filepath.Join(h.settings.DataDir, lockFileName))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	_, err = m.SyncNow(context.Background(), SyncOptions{})
	assert.ErrorIs(t, err, ErrSyncAlreadyRunning)

	require.NoError(t, other.Unlock())
	_, err = m.SyncNow(context.Background(), SyncOptions{})
	assert.NoError(t, err)
}

func TestManagerWatchdogReleasesLock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h, m := newManagerHarness(t, WithManagerClock(clock))
	h.settings.PassTimeout = time.Minute
	m.UpdateSettings(h.settings)

	firstGate, secondGate := make(chan struct{}), make(chan struct{})
	gatedConnect(h, firstGate, secondGate)

	first := syncAsync(m)
	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
	clock.Advance(2 * time.Minute)
	assert.Eventually(t, func() bool { return !m.IsRunning() }, time.Second, 5*time.Millisecond)

	// a new pass can start while the expired one is still stuck
	second := syncAsync(m)
	assert.Eventually(t, m.IsRunning, time.Second, 5*time.Millisecond)

	close(firstGate)
	ret := <-first
	require.NotNil(t, ret.result)
	assert.True(t, ret.result.TimedOut)
	assert.ErrorIs(t, ret.err, ErrPassTimeout)
	assert.True(t, m.IsRunning(), "a stale pass never releases a newer pass's lock")

	close(secondGate)
	ret = <-second
	require.NoError(t, ret.err)
	assert.False(t, ret.result.TimedOut)
	assert.False(t, m.IsRunning())
}

func TestManagerUpdateSettingsRepairs(t *testing.T) {
	h, m := newManagerHarness(t)
	h.settings.SyncMode = "sometimes"
	h.settings.SyncInterval = -5

	notes := m.UpdateSettings(h.settings)
	assert.Len(t, notes, 2)

	s := m.Settings()
	assert.Equal(t, config.SyncModeIncremental, s.SyncMode)
	assert.Zero(t, s.SyncInterval)
}

func TestManagerNoBackends(t *testing.T) {
	h, m := newManagerHarness(t)
	h.settings.Backends = nil
	m.UpdateSettings(h.settings)

	_, err := m.SyncNow(context.Background(), SyncOptions{})
	assert.ErrorIs(t, err, ErrNoBackends)
	assert.False(t, m.IsRunning())
}

func TestManagerStartRunsStartupPass(t *testing.T) {
	rec := &memRecorder{}
	h, m := newManagerHarness(t, WithRecorder(rec))
	h.putLocal("a.md", "a", older)

	require.NoError(t, m.Start(t.Context()))
	defer m.Stop()

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	st := m.Status()
	require.NotNil(t, st.Last)
	assert.Equal(t, TriggerStartup, st.Last.Trigger)
	assert.True(t, h.remote.Exists("a.md"))
}

func TestManagerScheduledPass(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &memRecorder{}
	h, m := newManagerHarness(t, WithManagerClock(clock), WithRecorder(rec))
	h.settings.SyncInterval = 5
	m.UpdateSettings(h.settings)

	require.NoError(t, m.Start(t.Context()))
	defer m.Stop()

	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// scheduler timer
	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
	h.putLocal("later.md", "l", older)
	clock.Advance(5 * time.Minute)

	assert.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, TriggerScheduled, m.Status().Last.Trigger)
	assert.Eventually(t, func() bool { return h.remote.Exists("later.md") }, time.Second, 10*time.Millisecond)
}

func TestManagerWatcherTriggersPass(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &memRecorder{}
	h, m := newManagerHarness(t, WithManagerClock(clock), WithRecorder(rec))
	h.settings.Watch = true
	h.settings.Debounce = time.Second
	m.UpdateSettings(h.settings)

	require.NoError(t, m.Start(t.Context()))
	defer m.Stop()
	assert.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.putLocal("typed.md", "t", older)
	require.NoError(t, os.WriteFile(filepath.Join(h.settings.LocalDir, "typed.md"), []byte("t"), 0o644))

	// debounce timer
	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
	clock.Advance(time.Second)

	assert.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, TriggerWatcher, m.Status().Last.Trigger)
	assert.True(t, h.remote.Exists("typed.md"))
}
