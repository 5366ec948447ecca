package provider

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
)

// abortOnAuth stops a chain on credential failures, which no other strategy can fix.
func abortOnAuth(err error) Action {
	if IsAuth(err) {
		return Abort
	}
	return Next
}

// Download fetches an object through whichever read capability the backend offers.
func Download(ctx context.Context, p Provider, remotePath string) ([]byte, error) {
	var content []byte
	var steps []Step

	if d, ok := p.(ContentDownloader); ok {
		steps = append(steps, Step{
			Name: "content",
			Run: func(ctx context.Context) (err error) {
				content, err = d.DownloadFileContent(ctx, remotePath)
				return err
			},
			OnError: abortOnAuth,
		})
	}
	if s, ok := p.(StreamDownloader); ok {
		steps = append(steps, Step{
			Name: "stream",
			Run: func(ctx context.Context) error {
				rc, err := s.OpenFile(ctx, remotePath)
				if err != nil {
					return err
				}
				defer rc.Close()
				content, err = io.ReadAll(rc)
				return err
			},
			OnError: abortOnAuth,
		})
	}
	if len(steps) == 0 {
		return nil, NewError(KindNotSupported, "download", remotePath, fmt.Errorf("%s has no read capability", p.Name()))
	}

	if _, err := (Chain{Name: "download " + remotePath, Steps: steps}).Run(ctx); err != nil {
		return nil, err
	}
	return content, nil
}

// Upload writes content, going through a hidden temporary name and a rename
// when the backend can move objects so readers never see a partial file.
func Upload(ctx context.Context, p Provider, remotePath string, content []byte) (*Entry, error) {
	var entry *Entry
	var steps []Step

	if m, ok := p.(Mover); ok {
		steps = append(steps, Step{
			Name: "atomic",
			Run: func(ctx context.Context) error {
				tmp := TempName(remotePath)
				if _, err := p.UploadFile(ctx, tmp, content); err != nil {
					return err
				}
				if err := m.Move(ctx, tmp, remotePath); err != nil {
					_ = p.DeleteFile(ctx, tmp)
					return err
				}
				return nil
			},
			OnError: abortOnAuth,
		})
	}
	steps = append(steps, Step{
		Name: "direct",
		Run: func(ctx context.Context) (err error) {
			entry, err = p.UploadFile(ctx, remotePath, content)
			return err
		},
	})

	used, err := (Chain{Name: "upload " + remotePath, Steps: steps}).Run(ctx)
	if err != nil {
		return nil, err
	}
	if used == "atomic" {
		return Stat(ctx, p, remotePath)
	}
	return entry, nil
}

// Stat finds the entry for a single object, listing its parent when the
// backend cannot stat directly.
func Stat(ctx context.Context, p Provider, remotePath string) (*Entry, error) {
	if s, ok := p.(Statter); ok {
		return s.Stat(ctx, remotePath)
	}
	dir := path.Dir(remotePath)
	if dir == "." {
		dir = ""
	}
	entries, err := p.ListFiles(ctx, dir)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Path == remotePath {
			return &entries[i], nil
		}
	}
	return nil, NewError(KindNotFound, "stat", remotePath, nil)
}

// TempName is a hidden sibling of remotePath used for staged uploads.
func TempName(remotePath string) string {
	dir, base := path.Split(remotePath)
	return dir + "." + base + ".syftsync-" + uuid.NewString()[:8] + ".tmp"
}

// DeleteFile removes a file and treats an already-missing file as deleted.
func DeleteFile(ctx context.Context, p Provider, remotePath string) error {
	if err := p.DeleteFile(ctx, remotePath); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}

// DeleteFolder removes a folder and treats an already-missing folder as deleted.
func DeleteFolder(ctx context.Context, p Provider, remotePath string) error {
	if err := p.DeleteFolder(ctx, remotePath); err != nil && !IsNotFound(err) {
		return err
	}
	return nil
}
