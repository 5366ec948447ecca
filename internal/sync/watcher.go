package sync

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rjeczalik/notify"
)

const (
	// how long a write made by a pass suppresses the matching event
	ownWriteWindow = 2 * time.Second
	changeBuffer   = 64
)

type ChangeOp string

const (
	ChangeCreate ChangeOp = "create"
	ChangeWrite  ChangeOp = "write"
	ChangeRemove ChangeOp = "remove"
	ChangeRename ChangeOp = "rename"
)

// LocalChange is one change under the local root that passed the filter.
type LocalChange struct {
	Path string   `json:"path"` // relative, slash separated
	Op   ChangeOp `json:"op"`
	At   time.Time `json:"at"`
}

// FileWatcher turns notify events under root into LocalChanges. Excluded
// paths and writes the engine announced through ExpectWrite are dropped.
type FileWatcher struct {
	root    string
	clock   clockwork.Clock
	exclude func(rel string) bool

	raw     chan notify.EventInfo
	changes chan LocalChange

	mu        sync.Mutex
	ownWrites map[string]time.Time

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFileWatcher watches root recursively. exclude may be nil.
func NewFileWatcher(root string, clock clockwork.Clock, exclude func(rel string) bool) *FileWatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FileWatcher{
		root:      filepath.Clean(root),
		clock:     clock,
		exclude:   exclude,
		ownWrites: make(map[string]time.Time),
		done:      make(chan struct{}),
	}
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", fw.root)

	fw.raw = make(chan notify.EventInfo, changeBuffer)
	fw.changes = make(chan LocalChange, changeBuffer)

	if err := notify.Watch(filepath.Join(fw.root, "..."), fw.raw, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.run(ctx)
	return nil
}

func (fw *FileWatcher) Stop() {
	fw.stopOnce.Do(func() {
		close(fw.done)
		if fw.raw != nil {
			notify.Stop(fw.raw)
		}
		fw.wg.Wait()
		slog.Info("file watcher stopped")
	})
}

// Changes is closed once the watcher stops.
func (fw *FileWatcher) Changes() <-chan LocalChange {
	return fw.changes
}

// ExpectWrite marks rel as about to be written by a pass. Changes reported
// for it within ownWriteWindow are dropped.
func (fw *FileWatcher) ExpectWrite(rel string) {
	now := fw.clock.Now()

	fw.mu.Lock()
	defer fw.mu.Unlock()
	for p, expiry := range fw.ownWrites {
		if now.After(expiry) {
			delete(fw.ownWrites, p)
		}
	}
	fw.ownWrites[rel] = now.Add(ownWriteWindow)
}

// expected reports whether rel is inside an ExpectWrite window. A single
// write usually raises several events, so the window is not consumed.
func (fw *FileWatcher) expected(rel string) bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	expiry, ok := fw.ownWrites[rel]
	if !ok {
		return false
	}
	if fw.clock.Now().After(expiry) {
		delete(fw.ownWrites, rel)
		return false
	}
	return true
}

// relPath maps an absolute event path into the watched tree.
func (fw *FileWatcher) relPath(abs string) (string, bool) {
	rel, err := filepath.Rel(fw.root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func changeOp(e notify.Event) ChangeOp {
	switch e {
	case notify.Create:
		return ChangeCreate
	case notify.Remove:
		return ChangeRemove
	case notify.Rename:
		return ChangeRename
	default:
		return ChangeWrite
	}
}

// accept converts a raw event, or reports false if it must be dropped.
func (fw *FileWatcher) accept(abs string, e notify.Event) (LocalChange, bool) {
	rel, ok := fw.relPath(abs)
	if !ok {
		return LocalChange{}, false
	}
	if fw.exclude != nil && fw.exclude(rel) {
		return LocalChange{}, false
	}
	if fw.expected(rel) {
		slog.Debug("file watcher skipped own write", "path", rel)
		return LocalChange{}, false
	}
	return LocalChange{Path: rel, Op: changeOp(e), At: fw.clock.Now()}, true
}

func (fw *FileWatcher) run(ctx context.Context) {
	defer fw.wg.Done()
	defer close(fw.changes)

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case ev, ok := <-fw.raw:
			if !ok {
				return
			}
			change, ok := fw.accept(ev.Path(), ev.Event())
			if !ok {
				continue
			}
			select {
			case fw.changes <- change:
			default:
				// changes are coalesced downstream
				slog.Debug("file watcher dropped change", "path", change.Path)
			}
		}
	}
}
