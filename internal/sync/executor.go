package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/openmined/syftsync/internal/localfs"
	"github.com/openmined/syftsync/internal/pathmap"
	"github.com/openmined/syftsync/internal/provider"
	"github.com/openmined/syftsync/internal/transform"
)

// ErrAuthFailed aborts a backend: no later operation can succeed either.
var ErrAuthFailed = errors.New("backend authentication failed")

// executor applies a plan to one backend. Failures of single entries are
// recorded and the pass moves on; only auth failures stop it.
type executor struct {
	backend  string
	prov     provider.Provider
	tree     *localfs.Tree
	pipeline *transform.Pipeline
	snap     *Snapshot
	folders  *folderEnsurer
	retry    provider.RetryPolicy
	result   *BackendResult
	// localWrite is told about every local path the pass changes
	localWrite func(rel string)

	refreshed bool
}

// apply runs fn with transient retries and a single credential refresh.
// The returned error is fatal for the backend.
func (x *executor) apply(ctx context.Context, op OpType, rel string, fn func(context.Context) error) error {
	err := x.attempt(ctx, fn)
	if err != nil && provider.IsAuth(err) && x.refresh(ctx) {
		err = x.attempt(ctx, fn)
	}

	record := Operation{Type: op, Path: rel}
	if err != nil {
		record.Error = err.Error()
		slog.Warn("sync operation failed", "backend", x.backend, "op", op, "path", rel, "error", provider.Describe(err))
	} else {
		slog.Debug("sync operation", "backend", x.backend, "op", op, "path", rel)
	}
	x.result.Operations = append(x.result.Operations, record)

	switch {
	case err == nil:
		return nil
	case provider.IsAuth(err):
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return nil
}

func (x *executor) attempt(ctx context.Context, fn func(context.Context) error) error {
	return provider.Retry(ctx, x.retry, fn)
}

// refresh re-acquires credentials once per pass, if the backend can.
func (x *executor) refresh(ctx context.Context) bool {
	r, ok := x.prov.(provider.CredentialRefresher)
	if !ok || x.refreshed {
		return false
	}
	x.refreshed = true
	if err := r.RefreshCredentials(ctx); err != nil {
		slog.Error("credential refresh failed", "backend", x.backend, "error", err)
		return false
	}
	slog.Info("credentials refreshed", "backend", x.backend)
	return true
}

func (x *executor) syncFolders(ctx context.Context, plan *Plan) error {
	for _, rel := range plan.RemoteFolders {
		remote := x.snap.RemotePath(rel)
		if err := x.apply(ctx, OpCreateRemoteFolder, rel, func(ctx context.Context) error {
			return x.folders.ensure(ctx, remote)
		}); err != nil {
			return err
		}
	}
	for _, rel := range plan.LocalFolders {
		if err := x.apply(ctx, OpCreateLocalFolder, rel, func(context.Context) error {
			x.touched(rel)
			return x.tree.Mkdir(rel)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (x *executor) syncFiles(ctx context.Context, plan *Plan) error {
	for _, rel := range plan.Uploads {
		if err := x.apply(ctx, OpUpload, rel, func(ctx context.Context) error {
			return x.upload(ctx, rel)
		}); err != nil {
			return err
		}
	}
	for _, rel := range plan.Downloads {
		if err := x.apply(ctx, OpDownload, rel, func(ctx context.Context) error {
			return x.download(ctx, rel)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (x *executor) syncDeletions(ctx context.Context, plan *Plan) error {
	for _, rel := range plan.RemoteDeletes {
		remote := x.snap.RemotePath(rel)
		if err := x.apply(ctx, OpDeleteRemote, rel, func(ctx context.Context) error {
			return provider.DeleteFile(ctx, x.prov, remote)
		}); err != nil {
			return err
		}
	}
	for _, rel := range plan.RemoteFolderDeletes {
		remote := x.snap.RemotePath(rel)
		if err := x.apply(ctx, OpDeleteRemoteFolder, rel, func(ctx context.Context) error {
			return provider.DeleteFolder(ctx, x.prov, remote)
		}); err != nil {
			return err
		}
	}
	for _, rel := range plan.LocalDeletes {
		if err := x.apply(ctx, OpDeleteLocal, rel, func(context.Context) error {
			x.touched(rel)
			return x.tree.Remove(rel)
		}); err != nil {
			return err
		}
	}
	for _, rel := range plan.LocalFolderDeletes {
		// not recursive: excluded files inside the folder stay put
		if err := x.apply(ctx, OpDeleteLocalFolder, rel, func(context.Context) error {
			x.touched(rel)
			return x.tree.RemoveDir(rel, false)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (x *executor) touched(rel string) {
	if x.localWrite != nil {
		x.localWrite(rel)
	}
}

// upload pushes one file and aligns the local modified time with the stored
// copy, so the next pass sees both sides as equal.
func (x *executor) upload(ctx context.Context, rel string) error {
	remote := x.snap.RemotePath(rel)
	if err := x.folders.ensure(ctx, pathmap.Parent(remote)); err != nil {
		return err
	}

	content, err := x.tree.ReadFile(rel)
	if err != nil {
		return fmt.Errorf("read local: %w", err)
	}
	entry, err := x.pipeline.Upload(ctx, x.prov, remote, content)
	if err != nil {
		return err
	}
	x.result.BytesUp += int64(len(content))

	if entry != nil && !entry.ModifiedTime.IsZero() {
		x.touched(rel)
		if err := x.tree.Chtimes(rel, entry.ModifiedTime); err != nil {
			return fmt.Errorf("align local time: %w", err)
		}
	}
	slog.Info("uploaded", "backend", x.backend, "path", rel, "size", humanize.Bytes(uint64(len(content))))
	return nil
}

// download pulls one file and stamps it with the remote modified time.
func (x *executor) download(ctx context.Context, rel string) error {
	remote := x.snap.Remote[rel]
	content, err := x.pipeline.Download(ctx, x.prov, remote.Path)
	if err != nil {
		return err
	}
	x.touched(rel)
	if err := x.tree.WriteFile(rel, content); err != nil {
		return fmt.Errorf("write local: %w", err)
	}
	x.result.BytesDown += int64(len(content))

	if !remote.ModifiedTime.IsZero() {
		if err := x.tree.Chtimes(rel, remote.ModifiedTime); err != nil {
			return fmt.Errorf("align local time: %w", err)
		}
	}
	slog.Info("downloaded", "backend", x.backend, "path", rel, "size", humanize.Bytes(uint64(len(content))))
	return nil
}
