// Package provider defines the capability contract every storage backend
// implements, plus the fallback chains that cover optional capabilities.
package provider

import (
	"context"
	"io"
	"time"
)

// Entry describes one remote object in backend-native path form.
type Entry struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	IsFolder     bool      `json:"isFolder"`
	Size         int64     `json:"size"`
	ModifiedTime time.Time `json:"modifiedTime"`
	ETag         string    `json:"etag,omitempty"`
}

// ModifiedMillis is the comparison key used by the sync strategies.
func (e *Entry) ModifiedMillis() int64 {
	if e.ModifiedTime.IsZero() {
		return 0
	}
	return e.ModifiedTime.UnixMilli()
}

// Provider is the required surface of a storage backend.
//
// Contract:
//   - ListFiles is recursive and returns an empty list for a missing directory
//     when the backend allows it, otherwise an error wrapping ErrNotFound.
//   - DeleteFile succeeds when the file is already gone.
//   - CreateFolder succeeds (or returns ErrAlreadyExists) when the folder exists,
//     and returns ErrNotSupported on backends without native folders.
//   - UploadFile returns the entry as stored, with the backend's modified time.
type Provider interface {
	Name() string
	Connect(ctx context.Context) error
	IsConnected() bool

	ListFiles(ctx context.Context, path string) ([]Entry, error)
	UploadFile(ctx context.Context, path string, content []byte) (*Entry, error)
	DeleteFile(ctx context.Context, path string) error
	DeleteFolder(ctx context.Context, path string) error
	CreateFolder(ctx context.Context, path string) error
	FolderExists(ctx context.Context, path string) (bool, error)
}

// ContentDownloader returns the whole object in one call.
type ContentDownloader interface {
	DownloadFileContent(ctx context.Context, path string) ([]byte, error)
}

// StreamDownloader opens the object for streaming reads.
type StreamDownloader interface {
	OpenFile(ctx context.Context, path string) (io.ReadCloser, error)
}

// Statter returns metadata for a single object.
type Statter interface {
	Stat(ctx context.Context, path string) (*Entry, error)
}

// Mover renames an object within the backend.
type Mover interface {
	Move(ctx context.Context, from, to string) error
}

// CredentialRefresher re-acquires credentials after an auth failure.
type CredentialRefresher interface {
	RefreshCredentials(ctx context.Context) error
}
