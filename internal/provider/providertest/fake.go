// Package providertest has an in-memory backend with failure injection.
package providertest

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/openmined/syftsync/internal/provider"
	"github.com/openmined/syftsync/internal/provider/localdir"
	"github.com/spf13/afero"
)

// Fake is an in-memory backend. It has no native folder creation unless
// NativeFolders is set, and no move capability.
type Fake struct {
	NativeFolders bool

	inner *localdir.Provider
	fs    afero.Fs

	mu        sync.Mutex
	calls     []string
	failures  map[string]error
	refreshes int
	connectFn func() error
}

var (
	_ provider.Provider            = (*Fake)(nil)
	_ provider.ContentDownloader   = (*Fake)(nil)
	_ provider.CredentialRefresher = (*Fake)(nil)
)

func New(name string) *Fake {
	fsys := afero.NewMemMapFs()
	return &Fake{
		inner:    localdir.NewWithFs(name, fsys),
		fs:       fsys,
		failures: make(map[string]error),
	}
}

func (f *Fake) Fs() afero.Fs { return f.fs }

// Put seeds a file with a fixed modified time, creating parents.
func (f *Fake) Put(p string, content []byte, mtime time.Time) {
	_ = f.fs.MkdirAll("/"+path.Dir(p), 0o755)
	_ = afero.WriteFile(f.fs, "/"+p, content, 0o644)
	_ = f.fs.Chtimes("/"+p, mtime, mtime)
}

func (f *Fake) Content(p string) ([]byte, bool) {
	b, err := afero.ReadFile(f.fs, "/"+p)
	return b, err == nil
}

func (f *Fake) Exists(p string) bool {
	ok, _ := afero.Exists(f.fs, "/"+p)
	return ok
}

// FailOn makes op on p return err until cleared. p "*" matches every path.
func (f *Fake) FailOn(op, p string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, op+":"+p)
		return
	}
	f.failures[op+":"+p] = err
}

// OnConnect overrides the connect result.
func (f *Fake) OnConnect(fn func() error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectFn = fn
}

// Calls returns "op:path" for every operation performed so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *Fake) CountCalls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) > len(op) && c[:len(op)+1] == op+":" {
			n++
		}
	}
	return n
}

func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) Refreshes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}

// record logs the call and returns the injected failure, if any. Like a
// network backend, a done context fails the call.
func (f *Fake) record(ctx context.Context, op, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+":"+p)
	if err, ok := f.failures[op+":"+p]; ok {
		return err
	}
	return f.failures[op+":*"]
}

func (f *Fake) Name() string      { return f.inner.Name() }
func (f *Fake) IsConnected() bool { return f.inner.IsConnected() }

func (f *Fake) Connect(ctx context.Context) error {
	if err := f.record(ctx, "connect", ""); err != nil {
		return err
	}
	f.mu.Lock()
	fn := f.connectFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(); err != nil {
			return err
		}
	}
	return f.inner.Connect(ctx)
}

func (f *Fake) ListFiles(ctx context.Context, p string) ([]provider.Entry, error) {
	if err := f.record(ctx, "list", p); err != nil {
		return nil, err
	}
	return f.inner.ListFiles(ctx, p)
}

func (f *Fake) UploadFile(ctx context.Context, p string, content []byte) (*provider.Entry, error) {
	if err := f.record(ctx, "upload", p); err != nil {
		return nil, err
	}
	if !f.NativeFolders {
		// object stores have implicit parents
		_ = f.fs.MkdirAll("/"+path.Dir(p), 0o755)
	}
	return f.inner.UploadFile(ctx, p, content)
}

func (f *Fake) DownloadFileContent(ctx context.Context, p string) ([]byte, error) {
	if err := f.record(ctx, "download", p); err != nil {
		return nil, err
	}
	return f.inner.DownloadFileContent(ctx, p)
}

func (f *Fake) DeleteFile(ctx context.Context, p string) error {
	if err := f.record(ctx, "delete", p); err != nil {
		return err
	}
	return f.inner.DeleteFile(ctx, p)
}

func (f *Fake) DeleteFolder(ctx context.Context, p string) error {
	if err := f.record(ctx, "deleteFolder", p); err != nil {
		return err
	}
	return f.inner.DeleteFolder(ctx, p)
}

func (f *Fake) CreateFolder(ctx context.Context, p string) error {
	if err := f.record(ctx, "mkdir", p); err != nil {
		return err
	}
	if !f.NativeFolders {
		return provider.NewError(provider.KindNotSupported, "create folder", p, nil)
	}
	return f.inner.CreateFolder(ctx, p)
}

func (f *Fake) FolderExists(ctx context.Context, p string) (bool, error) {
	if err := f.record(ctx, "exists", p); err != nil {
		return false, err
	}
	return f.inner.FolderExists(ctx, p)
}

func (f *Fake) RefreshCredentials(ctx context.Context) error {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	return f.record(ctx, "refresh", "")
}
