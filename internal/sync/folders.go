package sync

import (
	"context"
	"errors"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/syftsync/internal/pathmap"
	"github.com/openmined/syftsync/internal/provider"
)

const (
	knownFoldersSize = 4096
	// MarkerFile stands in for a folder on backends without native folders.
	MarkerFile = ".keep"
)

var errFolderMissing = errors.New("folder missing")

// folderEnsurer creates remote folders through whichever capability the
// backend has, remembering what is known to exist.
type folderEnsurer struct {
	prov  provider.Provider
	known *lru.Cache[string, struct{}]
}

func newFolderEnsurer(prov provider.Provider) *folderEnsurer {
	known, _ := lru.New[string, struct{}](knownFoldersSize)
	return &folderEnsurer{prov: prov, known: known}
}

// seed records folders already seen in a listing.
func (f *folderEnsurer) seed(remoteDir string) {
	f.known.Add(remoteDir, struct{}{})
}

func (f *folderEnsurer) ensure(ctx context.Context, remoteDir string) error {
	remoteDir = pathmap.Normalize(remoteDir)
	if remoteDir == "" || f.known.Contains(remoteDir) {
		return nil
	}

	chain := provider.Chain{
		Name: "ensure folder " + remoteDir,
		Steps: []provider.Step{
			{
				Name: "exists",
				Run: func(ctx context.Context) error {
					ok, err := f.prov.FolderExists(ctx, remoteDir)
					if err != nil {
						return err
					}
					if !ok {
						return errFolderMissing
					}
					return nil
				},
				OnError: nextUnlessAuth,
			},
			{
				Name:    "create",
				Run:     func(ctx context.Context) error { return f.create(ctx, remoteDir) },
				OnError: nextIfUnsupported,
			},
			{
				Name: "marker",
				Run: func(ctx context.Context) error {
					_, err := f.prov.UploadFile(ctx, pathmap.Join(remoteDir, MarkerFile), nil)
					return err
				},
				OnError: func(error) provider.Action { return provider.Abort },
			},
		},
	}

	used, err := chain.Run(ctx)
	if err != nil {
		return err
	}
	if used != "exists" {
		slog.Debug("remote folder created", "backend", f.prov.Name(), "path", remoteDir, "via", used)
	}
	f.known.Add(remoteDir, struct{}{})
	return nil
}

// create makes remoteDir natively. A conflict means it already exists or its
// parent is missing: re-check, create the parent, then try once more.
func (f *folderEnsurer) create(ctx context.Context, remoteDir string) error {
	err := f.prov.CreateFolder(ctx, remoteDir)
	if err == nil || !provider.IsConflict(err) {
		return err
	}

	if ok, exErr := f.prov.FolderExists(ctx, remoteDir); exErr == nil && ok {
		return nil
	}
	if parent := pathmap.Parent(remoteDir); parent != "" {
		if perr := f.ensure(ctx, parent); perr != nil {
			return perr
		}
	}
	err = f.prov.CreateFolder(ctx, remoteDir)
	if provider.IsConflict(err) {
		if ok, exErr := f.prov.FolderExists(ctx, remoteDir); exErr == nil && ok {
			return nil
		}
	}
	return err
}

func nextUnlessAuth(err error) provider.Action {
	if provider.IsAuth(err) {
		return provider.Abort
	}
	return provider.Next
}

func nextIfUnsupported(err error) provider.Action {
	if provider.IsNotSupported(err) {
		return provider.Next
	}
	return provider.Abort
}
