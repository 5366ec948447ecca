package backends

import (
	"testing"

	"github.com/openmined/syftsync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	ctx := t.Context()

	p, err := Open(ctx, config.BackendConfig{
		ID:       "nas",
		Type:     config.BackendLocalDir,
		LocalDir: &config.LocalDirConfig{Path: t.TempDir()},
	})
	require.NoError(t, err)
	assert.Equal(t, "nas", p.Name())
	require.NoError(t, p.Connect(ctx))

	p, err = Open(ctx, config.BackendConfig{
		ID:     "dav",
		Type:   config.BackendWebDAV,
		WebDAV: &config.WebDAVConfig{URL: "https://dav.example.com/remote.php/webdav"},
	})
	require.NoError(t, err)
	assert.Equal(t, "dav", p.Name())

	_, err = Open(ctx, config.BackendConfig{ID: "s3", Type: config.BackendS3})
	assert.ErrorIs(t, err, config.ErrMissingEndpoint)

	_, err = Open(ctx, config.BackendConfig{ID: "x", Type: "ftp"})
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
}
