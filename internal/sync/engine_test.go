package sync

import (
	"context"
	"path"
	"testing"
	"time"

	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/localfs"
	"github.com/openmined/syftsync/internal/provider"
	"github.com/openmined/syftsync/internal/provider/providertest"
	"github.com/openmined/syftsync/internal/transform"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	older = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	newer = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
)

type harness struct {
	t        *testing.T
	local    afero.Fs
	tree     *localfs.Tree
	remote   *providertest.Fake
	engine   *Engine
	settings *config.Settings
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		local:  afero.NewMemMapFs(),
		remote: providertest.New("fake"),
	}
	h.tree = localfs.NewTreeWithFs(h.local)

	h.settings = config.Default()
	h.settings.LocalDir = "/vault"
	h.settings.ConnectRetries = 1
	h.settings.Backends = []config.BackendConfig{{
		ID:       "fake",
		Type:     config.BackendLocalDir,
		Enabled:  true,
		LocalDir: &config.LocalDirConfig{Path: "/remote"},
	}}

	h.engine = NewEngine(
		WithTree(func(string) *localfs.Tree { return h.tree }),
		WithFactory(func(context.Context, config.BackendConfig) (provider.Provider, error) { return h.remote, nil }),
		WithRetry(provider.RetryPolicy{Attempts: 1}),
	)
	return h
}

func (h *harness) putLocal(p, content string, mtime time.Time) {
	h.t.Helper()
	require.NoError(h.t, h.local.MkdirAll("/"+path.Dir(p), 0o755))
	require.NoError(h.t, afero.WriteFile(h.local, "/"+p, []byte(content), 0o644))
	require.NoError(h.t, h.local.Chtimes("/"+p, mtime, mtime))
}

func (h *harness) readLocal(p string) string {
	h.t.Helper()
	b, err := afero.ReadFile(h.local, "/"+p)
	require.NoError(h.t, err)
	return string(b)
}

func (h *harness) localExists(p string) bool {
	ok, _ := afero.Exists(h.local, "/"+p)
	return ok
}

func (h *harness) remoteContent(p string) string {
	h.t.Helper()
	b, ok := h.remote.Content(p)
	require.True(h.t, ok, "remote %s missing", p)
	return string(b)
}

func (h *harness) run(opts RunOptions) *PassResult {
	h.t.Helper()
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	return h.engine.Run(context.Background(), h.settings, opts)
}

func (h *harness) backend(r *PassResult) *BackendResult {
	h.t.Helper()
	require.Len(h.t, r.Backends, 1)
	return r.Backends[0]
}

func TestEngineUploadThenIdle(t *testing.T) {
	h := newHarness(t)
	h.putLocal("a.md", "alpha", older)
	h.putLocal("notes/b.md", "beta", older)

	first := h.run(RunOptions{})
	require.NoError(t, first.Err())
	assert.Equal(t, 2, first.Total(OpUpload))
	assert.Equal(t, "alpha", h.remoteContent("a.md"))
	assert.Equal(t, "beta", h.remoteContent("notes/b.md"))

	// the folder went through the marker fallback
	assert.True(t, h.remote.Exists("notes/"+MarkerFile))

	second := h.run(RunOptions{})
	require.NoError(t, second.Err())
	assert.Empty(t, h.backend(second).Operations, "a pass right after a pass has nothing to do")

	st, ok := h.engine.Status().Get("fake")
	require.True(t, ok)
	assert.Equal(t, StateDone, st.State)
}

func TestEngineDownloadsNewerRemote(t *testing.T) {
	h := newHarness(t)
	h.putLocal("a.md", "local", older)
	h.remote.Put("a.md", []byte("remote"), newer)

	r := h.run(RunOptions{})
	require.NoError(t, r.Err())

	assert.Equal(t, 1, r.Total(OpDownload))
	assert.Equal(t, "remote", h.readLocal("a.md"))

	info, err := h.local.Stat("/a.md")
	require.NoError(t, err)
	assert.Equal(t, newer.UnixMilli(), info.ModTime().UnixMilli())

	again := h.run(RunOptions{})
	assert.Empty(t, h.backend(again).Operations)
}

func TestEngineUploadsNewerLocal(t *testing.T) {
	h := newHarness(t)
	h.putLocal("a.md", "local", newer)
	h.remote.Put("a.md", []byte("remote"), older)

	r := h.run(RunOptions{})
	require.NoError(t, r.Err())
	assert.Equal(t, 1, r.Total(OpUpload))
	assert.Equal(t, "local", h.remoteContent("a.md"))
}

func TestEngineKeepRemotePolicy(t *testing.T) {
	h := newHarness(t)
	h.settings.ConflictPolicy = config.PolicyKeepRemote
	h.putLocal("a.md", "local", newer)
	h.remote.Put("a.md", []byte("remote"), older)

	r := h.run(RunOptions{})
	require.NoError(t, r.Err())
	assert.Empty(t, h.backend(r).Operations)
	assert.Equal(t, "remote", h.remoteContent("a.md"))
	assert.Equal(t, "local", h.readLocal("a.md"))
}

func TestEngineDirectionGatesDeletes(t *testing.T) {
	t.Run("download only keeps remote extras", func(t *testing.T) {
		h := newHarness(t)
		h.settings.SyncDirection = config.DirectionDownloadOnly
		h.settings.DeleteRemoteExtraFiles = true
		h.putLocal("local-only.md", "x", older)
		h.remote.Put("shared.md", []byte("s"), older)

		r := h.run(RunOptions{})
		require.NoError(t, r.Err())
		assert.True(t, h.remote.Exists("shared.md"))
		assert.False(t, h.remote.Exists("local-only.md"))
		assert.Zero(t, h.remote.CountCalls("delete"))
		assert.True(t, h.localExists("local-only.md"))
	})

	t.Run("upload only keeps local files", func(t *testing.T) {
		h := newHarness(t)
		h.settings.SyncDirection = config.DirectionUploadOnly
		h.settings.DeleteLocalExtraFiles = true
		h.putLocal("mine.md", "x", older)
		h.remote.Put("theirs.md", []byte("y"), older)

		r := h.run(RunOptions{})
		require.NoError(t, r.Err())
		assert.True(t, h.localExists("mine.md"))
		assert.False(t, h.localExists("theirs.md"))
		assert.True(t, h.remote.Exists("theirs.md"), "incremental upload does not prune")
	})
}

func TestEngineFullUploadPrunesRemote(t *testing.T) {
	h := newHarness(t)
	h.settings.SyncDirection = config.DirectionUploadOnly
	h.settings.SyncMode = config.SyncModeFull
	h.putLocal("keep.md", "k", older)
	h.remote.Put("stale/gone.md", []byte("g"), older)

	r := h.run(RunOptions{})
	require.NoError(t, r.Err())
	assert.True(t, h.remote.Exists("keep.md"))
	assert.False(t, h.remote.Exists("stale/gone.md"))
	assert.False(t, h.remote.Exists("stale"))
}

func TestEngineRemotePruneKeepsExcludedContent(t *testing.T) {
	h := newHarness(t)
	h.settings.SyncDirection = config.DirectionUploadOnly
	h.settings.SyncMode = config.SyncModeFull
	h.settings.IgnoreExtensions = []string{"bak"}
	h.putLocal("keep.md", "k", older)
	h.remote.Put("old/note.md", []byte("n"), older)
	h.remote.Put("old/.private", []byte("p"), older)
	h.remote.Put("old/keep.bak", []byte("b"), older)

	r := h.run(RunOptions{})
	require.NoError(t, r.Err())

	assert.False(t, h.remote.Exists("old/note.md"))
	assert.True(t, h.remote.Exists("old/.private"), "hidden files are outside sync")
	assert.True(t, h.remote.Exists("old/keep.bak"), "ignored files are outside sync")
	for _, op := range h.backend(r).Operations {
		assert.NotEqual(t, OpDeleteRemoteFolder, op.Type, op.Path)
	}
}

func TestEngineLocalFolderDeleteIsNotRecursive(t *testing.T) {
	h := newHarness(t)
	h.settings.SyncDirection = config.DirectionDownloadOnly
	h.settings.DeleteLocalExtraFiles = true
	h.putLocal("old.md", "o", older)
	h.putLocal("drafts/.private", "hidden", older)
	h.putLocal("empty/x.md", "x", older)

	r := h.run(RunOptions{})

	assert.False(t, h.localExists("old.md"))
	assert.False(t, h.localExists("empty"))
	assert.True(t, h.localExists("drafts/.private"), "excluded files are never removed")

	failed := h.backend(r).Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, OpDeleteLocalFolder, failed[0].Type)
	assert.Equal(t, "drafts", failed[0].Path)
	assert.NotEqual(t, StateFailed, h.backend(r).State, "single entry failures do not fail the backend")
}

func TestEngineRemoteBasePath(t *testing.T) {
	h := newHarness(t)
	h.remote.NativeFolders = true
	h.settings.Backends[0].BasePath = "/vaults/main/"
	h.putLocal("a.md", "alpha", older)

	r := h.run(RunOptions{})
	require.NoError(t, r.Err())
	assert.Equal(t, "alpha", h.remoteContent("vaults/main/a.md"))
	assert.False(t, h.remote.Exists("vaults/main/"+MarkerFile))

	again := h.run(RunOptions{})
	require.NoError(t, again.Err())
	assert.Empty(t, h.backend(again).Operations, "the base path is the root, not an entry")
}

func TestEngineEncryptedRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.settings.Encryption = config.EncryptionConfig{Enabled: true, Key: "correct horse"}
	h.putLocal("secret.md", "plain text", older)

	r := h.run(RunOptions{})
	require.NoError(t, r.Err())

	stored := h.remoteContent("secret.md")
	assert.NotContains(t, stored, "plain text")
	cipher, err := transform.NewCipher("correct horse")
	require.NoError(t, err)
	assert.True(t, cipher.IsEncrypted([]byte(stored)))

	require.NoError(t, h.local.Remove("/secret.md"))
	r = h.run(RunOptions{})
	require.NoError(t, r.Err())
	assert.Equal(t, 1, r.Total(OpDownload))
	assert.Equal(t, "plain text", h.readLocal("secret.md"))
}

func TestEngineEmptyFolderUsesNativeCreate(t *testing.T) {
	h := newHarness(t)
	h.remote.NativeFolders = true
	require.NoError(t, h.local.MkdirAll("/empty", 0o755))

	r := h.run(RunOptions{})
	require.NoError(t, r.Err())
	assert.Equal(t, 1, r.Total(OpCreateRemoteFolder))
	assert.True(t, h.remote.Exists("empty"))
	assert.False(t, h.remote.Exists("empty/"+MarkerFile))
}

func TestEngineAuthRefreshesOnceThenAborts(t *testing.T) {
	h := newHarness(t)
	h.putLocal("a.md", "a", older)
	h.putLocal("b.md", "b", older)
	h.remote.FailOn("upload", "*", provider.NewError(provider.KindAuth, "upload", "", nil))

	r := h.run(RunOptions{})

	br := h.backend(r)
	assert.Equal(t, StateFailed, br.State)
	assert.True(t, IsAuthFailure(br.Err))
	assert.Equal(t, 1, h.remote.Refreshes())
	assert.Equal(t, 2, h.remote.CountCalls("upload"), "one attempt before and one after the refresh")
	assert.Error(t, r.Err())
}

func TestEngineEntryFailureDoesNotStopPass(t *testing.T) {
	h := newHarness(t)
	h.putLocal("a.md", "a", older)
	h.putLocal("b.md", "b", older)
	h.remote.FailOn("upload", "a.md", provider.NewError(provider.KindQuota, "upload", "a.md", nil))

	r := h.run(RunOptions{})

	br := h.backend(r)
	assert.Equal(t, StateDone, br.State)
	assert.Equal(t, 1, r.FailedOps())
	assert.Equal(t, 1, r.Total(OpUpload))
	assert.True(t, h.remote.Exists("b.md"))
	assert.Zero(t, h.remote.Refreshes())
}

func TestEngineMissingRemoteRootIsEmpty(t *testing.T) {
	h := newHarness(t)
	h.putLocal("a.md", "a", older)
	h.remote.FailOn("list", "*", provider.NewError(provider.KindNotFound, "list", "", nil))

	r := h.run(RunOptions{})
	require.NoError(t, r.Err())
	assert.True(t, h.remote.Exists("a.md"))
}

func TestEngineDryRun(t *testing.T) {
	h := newHarness(t)
	h.putLocal("new.md", "n", older)
	h.remote.Put("down.md", []byte("d"), older)

	r := h.run(RunOptions{DryRun: true})
	require.NoError(t, r.Err())

	br := h.backend(r)
	assert.True(t, br.DryRun)
	assert.ElementsMatch(t, []Operation{
		{Type: OpUpload, Path: "new.md"},
		{Type: OpDownload, Path: "down.md"},
	}, br.Operations)
	assert.Zero(t, h.remote.CountCalls("upload"))
	assert.Zero(t, h.remote.CountCalls("download"))
	assert.False(t, h.localExists("down.md"))
}

func TestEngineUnreachableBackend(t *testing.T) {
	h := newHarness(t)
	h.remote.OnConnect(func() error {
		return provider.NewError(provider.KindTransient, "connect", "", nil)
	})

	auto := h.run(RunOptions{Trigger: TriggerScheduled})
	assert.True(t, h.backend(auto).Skipped)
	assert.NoError(t, auto.Err(), "automatic passes skip unreachable backends")

	manual := h.run(RunOptions{Trigger: TriggerManual})
	assert.False(t, h.backend(manual).Skipped)
	assert.Error(t, manual.Err())
}

func TestEngineSelectsBackends(t *testing.T) {
	h := newHarness(t)
	r := h.run(RunOptions{Backends: []string{"other"}})
	assert.ErrorIs(t, r.Err(), ErrNoBackends)
	assert.Empty(t, r.Backends)
}

func TestEngineReportsLocalWrites(t *testing.T) {
	h := newHarness(t)
	var written []string
	h.engine.OnLocalWrite(func(rel string) { written = append(written, rel) })
	h.remote.Put("inbox/new.md", []byte("n"), older)

	r := h.run(RunOptions{})
	require.NoError(t, r.Err())
	assert.Contains(t, written, "inbox")
	assert.Contains(t, written, "inbox/new.md")
}
