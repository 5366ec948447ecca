package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/openmined/syftsync/internal/backends"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/filter"
	"github.com/openmined/syftsync/internal/localfs"
	"github.com/openmined/syftsync/internal/provider"
	"github.com/openmined/syftsync/internal/transform"
)

const connectBackoff = time.Second

// RunOptions shape a single pass.
type RunOptions struct {
	Trigger Trigger
	DryRun  bool
	// Backends limits the pass to these ids. Empty means every enabled backend.
	Backends []string
}

// Engine runs one pass over every enabled backend, one backend at a time.
type Engine struct {
	open    backends.Factory
	newTree func(dir string) *localfs.Tree
	clock   clockwork.Clock
	status  *Status
	retry   provider.RetryPolicy

	onLocalWrite func(rel string)
}

type EngineOption func(*Engine)

func WithFactory(f backends.Factory) EngineOption {
	return func(e *Engine) { e.open = f }
}

func WithTree(fn func(dir string) *localfs.Tree) EngineOption {
	return func(e *Engine) { e.newTree = fn }
}

func WithClock(c clockwork.Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

func WithRetry(p provider.RetryPolicy) EngineOption {
	return func(e *Engine) { e.retry = p }
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		open:    backends.Open,
		newTree: localfs.NewTree,
		clock:   clockwork.NewRealClock(),
		retry:   provider.DefaultRetry,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.status == nil {
		e.status = NewStatus(e.clock)
	}
	e.retry.Clock = e.clock
	return e
}

func (e *Engine) Status() *Status { return e.status }

// OnLocalWrite registers fn to be called before a pass changes a local path.
// Set it before the first pass.
func (e *Engine) OnLocalWrite(fn func(rel string)) { e.onLocalWrite = fn }

// Run performs one pass. Per-backend failures are reported in the result,
// they never stop the other backends.
func (e *Engine) Run(ctx context.Context, s *config.Settings, opts RunOptions) *PassResult {
	result := &PassResult{
		ID:        uuid.NewString(),
		Trigger:   opts.Trigger,
		StartedAt: e.clock.Now(),
	}
	defer func() { result.FinishedAt = e.clock.Now() }()

	targets := s.EnabledBackends()
	if len(opts.Backends) > 0 {
		targets = slices.DeleteFunc(targets, func(b config.BackendConfig) bool {
			return !slices.Contains(opts.Backends, b.ID)
		})
	}
	if len(targets) == 0 {
		result.err = ErrNoBackends
		return result
	}

	pipeline, err := transform.NewPipeline(s)
	if err != nil {
		result.err = fmt.Errorf("content pipeline: %w", err)
		return result
	}

	tree := e.newTree(s.LocalDir)
	extra, err := filter.LoadIgnoreFile(tree.Fs())
	if err != nil {
		slog.Warn("ignore file unreadable", "error", err)
	}
	flt := filter.New(s, extra...)

	for _, b := range targets {
		if ctx.Err() != nil {
			break
		}
		br := e.runBackend(ctx, s, b, result.ID, tree, flt, pipeline, opts)
		result.Backends = append(result.Backends, br)
	}
	return result
}

func (e *Engine) runBackend(
	ctx context.Context,
	s *config.Settings,
	cfg config.BackendConfig,
	passID string,
	tree *localfs.Tree,
	flt *filter.Filter,
	pipeline *transform.Pipeline,
	opts RunOptions,
) *BackendResult {
	br := &BackendResult{Backend: cfg.ID, StartedAt: e.clock.Now(), DryRun: opts.DryRun}
	setState := func(state EngineState) {
		br.State = state
		e.status.SetState(cfg.ID, passID, state, nil)
	}
	fail := func(err error) *BackendResult {
		br.fail(err)
		br.FinishedAt = e.clock.Now()
		br.Duration = br.FinishedAt.Sub(br.StartedAt)
		e.status.SetState(cfg.ID, passID, StateFailed, err)
		return br
	}

	setState(StateConnecting)
	prov, err := e.connect(ctx, s, cfg)
	if err != nil {
		if opts.Trigger.Automatic() {
			br.Skipped = true
			slog.Warn("backend unavailable, skipping", "backend", cfg.ID, "error", provider.Describe(err))
		}
		return fail(fmt.Errorf("connect %s: %w", cfg.ID, err))
	}

	setState(StateListingLocal)
	localEntries, err := tree.List(ctx)
	if err != nil {
		return fail(err)
	}

	folders := newFolderEnsurer(prov)
	basePath := s.RemoteBasePath(cfg.ID)

	setState(StateEnsuringRemoteRoot)
	if opts.DryRun {
		if _, err := prov.FolderExists(ctx, basePath); provider.IsAuth(err) {
			return fail(err)
		}
	} else if err := folders.ensure(ctx, basePath); err != nil {
		return fail(fmt.Errorf("ensure remote root %q: %w", basePath, err))
	}

	setState(StateListingRemote)
	x := &executor{
		backend:  cfg.ID,
		prov:     prov,
		tree:     tree,
		pipeline: pipeline,
		folders:  folders,
		retry:    e.retry,
		result:   br,

		localWrite: e.onLocalWrite,
	}
	remoteEntries, err := e.listRemote(ctx, x, basePath)
	if err != nil {
		return fail(err)
	}
	for _, re := range remoteEntries {
		if re.IsFolder {
			folders.seed(re.Path)
		}
	}

	snap := NewSnapshot(localEntries, remoteEntries, basePath, flt)
	x.snap = snap
	strategy := StrategyFor(s.SyncDirection)
	plan := strategy.Plan(snap, s)
	br.Unchanged = plan.Unchanged
	br.Conflicts = plan.Conflicts
	for _, rel := range plan.Mismatched {
		slog.Warn("file and folder share a path, skipping", "backend", cfg.ID, "path", rel)
	}
	for _, rel := range plan.KeptRemoteFolders {
		slog.Info("remote folder holds excluded entries, not deleting", "backend", cfg.ID, "path", rel)
	}

	slog.Debug("sync plan", "backend", cfg.ID, "strategy", strategy.Name(), "mode", s.SyncMode,
		"local", len(snap.Local), "remote", len(snap.Remote), "excluded", snap.Excluded,
		"uploads", len(plan.Uploads), "downloads", len(plan.Downloads),
		"remoteDeletes", len(plan.RemoteDeletes)+len(plan.RemoteFolderDeletes),
		"localDeletes", len(plan.LocalDeletes)+len(plan.LocalFolderDeletes))

	if opts.DryRun {
		br.Operations = plan.Operations()
		setState(StateDone)
		br.FinishedAt = e.clock.Now()
		br.Duration = br.FinishedAt.Sub(br.StartedAt)
		return br
	}

	phases := []struct {
		state EngineState
		run   func(context.Context, *Plan) error
	}{
		{StateSyncingFolders, x.syncFolders},
		{StateSyncingFiles, x.syncFiles},
		{StateSyncingDeletions, x.syncDeletions},
	}
	for _, phase := range phases {
		setState(phase.state)
		if err := phase.run(ctx, plan); err != nil {
			return fail(err)
		}
	}

	setState(StateDone)
	br.FinishedAt = e.clock.Now()
	br.Duration = br.FinishedAt.Sub(br.StartedAt)
	if plan.HasChanges() {
		slog.Info("backend synced", "backend", cfg.ID,
			"uploads", br.Count(OpUpload), "downloads", br.Count(OpDownload),
			"remoteDeletes", br.Count(OpDeleteRemote)+br.Count(OpDeleteRemoteFolder),
			"localDeletes", br.Count(OpDeleteLocal)+br.Count(OpDeleteLocalFolder),
			"failed", len(br.Failed()), "unchanged", br.Unchanged, "took", br.Duration)
	}
	return br
}

// connect opens the backend and retries everything but auth failures.
func (e *Engine) connect(ctx context.Context, s *config.Settings, cfg config.BackendConfig) (provider.Provider, error) {
	prov, err := e.open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	policy := provider.RetryPolicy{
		Attempts: max(s.ConnectRetries, 1),
		Base:     connectBackoff,
		Max:      10 * connectBackoff,
		Clock:    e.clock,
	}
	err = provider.RetryIf(ctx, policy, func(err error) bool {
		return !provider.IsAuth(err) && ctx.Err() == nil
	}, prov.Connect)
	if err != nil {
		return nil, err
	}
	return prov, nil
}

// listRemote lists under basePath. A missing base path is an empty remote;
// an auth failure gets one credential refresh.
func (e *Engine) listRemote(ctx context.Context, x *executor, basePath string) ([]provider.Entry, error) {
	var entries []provider.Entry
	list := func(ctx context.Context) (err error) {
		entries, err = x.prov.ListFiles(ctx, basePath)
		return err
	}

	err := provider.Retry(ctx, e.retry, list)
	if err != nil && provider.IsAuth(err) && x.refresh(ctx) {
		err = provider.Retry(ctx, e.retry, list)
	}
	switch {
	case err == nil:
		return entries, nil
	case provider.IsNotFound(err):
		return nil, nil
	case provider.IsAuth(err):
		return nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	return nil, fmt.Errorf("list remote %q: %w", basePath, err)
}

// IsAuthFailure reports whether a backend stopped on credentials.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrAuthFailed) || provider.IsAuth(err)
}
