// Package backends builds providers from backend settings.
package backends

import (
	"context"
	"fmt"

	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/provider"
	"github.com/openmined/syftsync/internal/provider/localdir"
	"github.com/openmined/syftsync/internal/provider/s3"
	"github.com/openmined/syftsync/internal/provider/webdav"
)

// Factory builds a provider for one backend entry.
type Factory func(ctx context.Context, cfg config.BackendConfig) (provider.Provider, error)

// Open is the default Factory.
func Open(ctx context.Context, cfg config.BackendConfig) (provider.Provider, error) {
	switch cfg.Type {
	case config.BackendS3:
		if cfg.S3 == nil {
			return nil, fmt.Errorf("backend %s: %w", cfg.ID, config.ErrMissingEndpoint)
		}
		return s3.New(ctx, cfg.ID, *cfg.S3)
	case config.BackendWebDAV:
		if cfg.WebDAV == nil {
			return nil, fmt.Errorf("backend %s: %w", cfg.ID, config.ErrMissingEndpoint)
		}
		return webdav.New(cfg.ID, *cfg.WebDAV)
	case config.BackendLocalDir:
		if cfg.LocalDir == nil || cfg.LocalDir.Path == "" {
			return nil, fmt.Errorf("backend %s: %w", cfg.ID, config.ErrMissingEndpoint)
		}
		return localdir.New(cfg.ID, cfg.LocalDir.Path), nil
	}
	return nil, fmt.Errorf("backend %s: %w %q", cfg.ID, config.ErrUnknownBackend, cfg.Type)
}
