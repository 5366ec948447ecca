// Package localfs reads and writes the local file tree being synced.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openmined/syftsync/internal/pathmap"
	"github.com/spf13/afero"
)

// tmpMarker is part of every staged write name. Staged files start with a
// dot, so the filter never syncs them.
const tmpMarker = ".syftsync.tmp."

// Entry is one file or folder in the local tree.
type Entry struct {
	Path         string `json:"path"` // slash separated, relative to the root
	IsFolder     bool   `json:"isFolder"`
	Size         int64  `json:"size"`
	ModifiedTime int64  `json:"modifiedTime"` // unix ms
}

// Tree is the local root. All paths are relative to it.
type Tree struct {
	fs   afero.Fs
	root string
}

// NewTree roots a tree at dir on the host filesystem.
func NewTree(dir string) *Tree {
	return &Tree{fs: afero.NewBasePathFs(afero.NewOsFs(), dir), root: dir}
}

// NewTreeWithFs uses fsys as-is, mostly for tests with afero.NewMemMapFs.
func NewTreeWithFs(fsys afero.Fs) *Tree {
	return &Tree{fs: fsys, root: "/"}
}

func (t *Tree) Root() string  { return t.root }
func (t *Tree) Fs() afero.Fs { return t.fs }

func abs(rel string) string {
	return "/" + pathmap.Normalize(rel)
}

// List walks the whole tree, skipping staged writes.
func (t *Tree) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := afero.Walk(t.fs, "/", func(full string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// removed while walking
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := pathmap.Normalize(filepath.ToSlash(full))
		if rel == "" {
			return nil
		}
		if strings.Contains(path.Base(rel), tmpMarker) {
			return nil
		}
		e := Entry{Path: rel, IsFolder: info.IsDir(), ModifiedTime: info.ModTime().UnixMilli()}
		if !e.IsFolder {
			e.Size = info.Size()
		}
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list local tree: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (t *Tree) ReadFile(rel string) ([]byte, error) {
	return afero.ReadFile(t.fs, abs(rel))
}

// WriteFile stages content next to the target and renames it into place,
// so a crash never leaves a half-written file.
func (t *Tree) WriteFile(rel string, content []byte) error {
	target := abs(rel)
	dir := path.Dir(target)
	if err := t.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure parent: %w", err)
	}

	tmp, err := afero.TempFile(t.fs, dir, "."+path.Base(target)+tmpMarker+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			t.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := t.fs.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	success = true
	return nil
}

func (t *Tree) Exists(rel string) bool {
	ok, _ := afero.Exists(t.fs, abs(rel))
	return ok
}

func (t *Tree) Stat(rel string) (*Entry, error) {
	info, err := t.fs.Stat(abs(rel))
	if err != nil {
		return nil, err
	}
	e := &Entry{Path: pathmap.Normalize(rel), IsFolder: info.IsDir(), ModifiedTime: info.ModTime().UnixMilli()}
	if !e.IsFolder {
		e.Size = info.Size()
	}
	return e, nil
}

func (t *Tree) Mkdir(rel string) error {
	return t.fs.MkdirAll(abs(rel), 0o755)
}

// Remove deletes a file. A missing file is not an error.
func (t *Tree) Remove(rel string) error {
	if err := t.fs.Remove(abs(rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveDir deletes a folder, refusing non-empty ones unless recursive.
func (t *Tree) RemoveDir(rel string, recursive bool) error {
	if pathmap.Normalize(rel) == "" {
		return errors.New("refusing to remove the sync root")
	}
	if recursive {
		return t.fs.RemoveAll(abs(rel))
	}
	empty, err := afero.IsEmpty(t.fs, abs(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("folder %q is not empty", rel)
	}
	return t.fs.Remove(abs(rel))
}

func (t *Tree) Rename(from, to string) error {
	if err := t.fs.MkdirAll(path.Dir(abs(to)), 0o755); err != nil {
		return err
	}
	return t.fs.Rename(abs(from), abs(to))
}

// Chtimes sets the modified time, used to align with the remote copy after a transfer.
func (t *Tree) Chtimes(rel string, mtime time.Time) error {
	return t.fs.Chtimes(abs(rel), mtime, mtime)
}
