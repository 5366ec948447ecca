// Package localdir is a backend rooted at another directory, such as a
// mounted NAS share or a second disk.
package localdir

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"

	"github.com/openmined/syftsync/internal/provider"
	"github.com/spf13/afero"
)

type Provider struct {
	name      string
	fs        afero.Fs
	connected atomic.Bool
}

var (
	_ provider.Provider          = (*Provider)(nil)
	_ provider.ContentDownloader = (*Provider)(nil)
	_ provider.StreamDownloader  = (*Provider)(nil)
	_ provider.Mover             = (*Provider)(nil)
	_ provider.Statter           = (*Provider)(nil)
)

// New roots the backend at dir on the host filesystem.
func New(name, dir string) *Provider {
	return NewWithFs(name, afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// NewWithFs roots the backend at the top of fsys.
func NewWithFs(name string, fsys afero.Fs) *Provider {
	return &Provider{name: name, fs: fsys}
}

func (p *Provider) Name() string      { return p.name }
func (p *Provider) IsConnected() bool { return p.connected.Load() }

func (p *Provider) Connect(ctx context.Context) error {
	info, err := p.fs.Stat("/")
	if err != nil {
		return wrap("connect", "", err)
	}
	if !info.IsDir() {
		return provider.NewError(provider.KindNotFound, "connect", "", errors.New("root is not a directory"))
	}
	p.connected.Store(true)
	return nil
}

func (p *Provider) ListFiles(ctx context.Context, dir string) ([]provider.Entry, error) {
	root := "/" + dir
	if _, err := p.fs.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return []provider.Entry{}, nil
	}

	entries := make([]provider.Entry, 0)
	err := afero.Walk(p.fs, root, func(fullPath string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel := toRel(fullPath)
		if rel == dir {
			return nil
		}
		entries = append(entries, entryFor(rel, info))
		return nil
	})
	if err != nil {
		return nil, wrap("list", dir, err)
	}
	return entries, nil
}

func (p *Provider) UploadFile(ctx context.Context, filePath string, content []byte) (*provider.Entry, error) {
	full := "/" + filePath
	if _, err := p.fs.Stat(path.Dir(full)); err != nil {
		// parent folders are created by the caller first
		return nil, wrap("upload", filePath, err)
	}
	if err := afero.WriteFile(p.fs, full, content, 0o644); err != nil {
		return nil, wrap("upload", filePath, err)
	}
	return p.Stat(ctx, filePath)
}

func (p *Provider) Stat(ctx context.Context, filePath string) (*provider.Entry, error) {
	info, err := p.fs.Stat("/" + filePath)
	if err != nil {
		return nil, wrap("stat", filePath, err)
	}
	e := entryFor(filePath, info)
	return &e, nil
}

func (p *Provider) DownloadFileContent(ctx context.Context, filePath string) ([]byte, error) {
	content, err := afero.ReadFile(p.fs, "/"+filePath)
	if err != nil {
		return nil, wrap("download", filePath, err)
	}
	return content, nil
}

func (p *Provider) OpenFile(ctx context.Context, filePath string) (io.ReadCloser, error) {
	f, err := p.fs.Open("/" + filePath)
	if err != nil {
		return nil, wrap("open", filePath, err)
	}
	return f, nil
}

func (p *Provider) DeleteFile(ctx context.Context, filePath string) error {
	if err := p.fs.Remove("/" + filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return wrap("delete", filePath, err)
	}
	return nil
}

func (p *Provider) DeleteFolder(ctx context.Context, dir string) error {
	if dir == "" {
		return provider.NewError(provider.KindNotSupported, "delete folder", dir, errors.New("refusing to delete root"))
	}
	if err := p.fs.RemoveAll("/" + dir); err != nil {
		return wrap("delete folder", dir, err)
	}
	return nil
}

func (p *Provider) CreateFolder(ctx context.Context, dir string) error {
	full := "/" + dir
	info, err := p.fs.Stat(full)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		return provider.NewError(provider.KindConflict, "create folder", dir, errors.New("a file exists at this path"))
	}
	if _, err := p.fs.Stat(path.Dir(full)); err != nil {
		return provider.NewError(provider.KindConflict, "create folder", dir, errors.New("parent folder missing"))
	}
	if err := p.fs.Mkdir(full, 0o755); err != nil {
		return wrap("create folder", dir, err)
	}
	return nil
}

func (p *Provider) FolderExists(ctx context.Context, dir string) (bool, error) {
	info, err := p.fs.Stat("/" + dir)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, wrap("stat", dir, err)
	}
	return info.IsDir(), nil
}

func (p *Provider) Move(ctx context.Context, from, to string) error {
	if err := p.fs.Rename("/"+from, "/"+to); err != nil {
		return wrap("move", from, err)
	}
	return nil
}

func entryFor(rel string, info fs.FileInfo) provider.Entry {
	e := provider.Entry{
		Path:         rel,
		Name:         path.Base(rel),
		IsFolder:     info.IsDir(),
		ModifiedTime: info.ModTime(),
	}
	if !e.IsFolder {
		e.Size = info.Size()
	}
	return e
}

func toRel(fullPath string) string {
	rel := filepath.ToSlash(fullPath)
	for len(rel) > 0 && rel[0] == '/' {
		rel = rel[1:]
	}
	return rel
}

func wrap(op, p string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return provider.NewError(provider.KindNotFound, op, p, err)
	case errors.Is(err, fs.ErrPermission):
		return provider.NewError(provider.KindAuth, op, p, err)
	case errors.Is(err, fs.ErrExist):
		return provider.NewError(provider.KindConflict, op, p, err)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return provider.NewError(provider.KindTimeout, op, p, err)
	}
	return fmt.Errorf("%s %q: %w", op, p, err)
}
