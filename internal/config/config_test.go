package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
local_dir: %s
sync_mode: FULL
sync_direction: both
conflict_policy: keepRemote
delete_remote_extra_files: true
ignore_folders: ["node_*", " ", "node_*"]
ignore_extensions: [".png", "png", "pdf"]
encryption:
  enabled: true
  key: ""
sync_interval: -5
pass_timeout: 90s
backends:
  - type: LocalDir
    enabled: true
    base_path: /vault//notes/
    localdir:
      path: /mnt/nas
  - id: s3-main
    type: s3
    enabled: false
    s3:
      bucket: notes
      region: us-east-1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndRepair(t *testing.T) {
	localDir := t.TempDir()
	path := writeConfig(t, fmt.Sprintf(sampleConfig, localDir))

	s, err := Load(NewViper(path))
	require.NoError(t, err)

	assert.Equal(t, path, s.Path)
	assert.Equal(t, localDir, s.LocalDir)
	assert.Equal(t, SyncModeFull, s.SyncMode)
	assert.Equal(t, DirectionBidirectional, s.SyncDirection)
	assert.Equal(t, PolicyKeepRemote, s.ConflictPolicy)
	assert.True(t, s.DeleteRemoteExtraFiles)
	assert.Equal(t, []string{"node_*"}, s.IgnoreFolders)
	assert.Equal(t, []string{"png", "pdf"}, s.IgnoreExtensions)
	assert.False(t, s.Encryption.Enabled, "encryption without a key is disabled")
	assert.Equal(t, 0, s.SyncInterval)
	assert.Equal(t, 90*time.Second, s.PassTimeout)
	assert.Equal(t, DefaultDebounce, s.Debounce)
	assert.Equal(t, DefaultConnectRetries, s.ConnectRetries)

	require.Len(t, s.Backends, 2)
	assert.Equal(t, "localdir-1", s.Backends[0].ID)
	assert.Equal(t, BackendLocalDir, s.Backends[0].Type)
	assert.Equal(t, "vault/notes", s.RemoteBasePath("localdir-1"))
	assert.Equal(t, "", s.RemoteBasePath("missing"))

	enabled := s.EnabledBackends()
	require.Len(t, enabled, 1)
	assert.Equal(t, "localdir-1", enabled[0].ID)

	require.NoError(t, s.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(NewViper(filepath.Join(t.TempDir(), "nope.yaml")))
	require.NoError(t, err)
	assert.Equal(t, SyncModeIncremental, s.SyncMode)
	assert.ErrorIs(t, s.Validate(), ErrNoLocalDir)
}

func TestRepairInvalidEnums(t *testing.T) {
	s := Default()
	s.SyncMode = "sometimes"
	s.SyncDirection = "sideways"
	s.ConflictPolicy = "coinflip"
	s.ConnectRetries = 99

	notes := Repair(s)
	assert.Len(t, notes, 4)
	assert.Equal(t, SyncModeIncremental, s.SyncMode)
	assert.Equal(t, DirectionBidirectional, s.SyncDirection)
	assert.Equal(t, PolicyMerge, s.ConflictPolicy)
	assert.Equal(t, maxConnectRetries, s.ConnectRetries)

	// a second pass is a no-op
	assert.Empty(t, Repair(s))
}

func TestValidate(t *testing.T) {
	s := Default()
	s.LocalDir = "/tmp/vault"
	assert.ErrorIs(t, s.Validate(), ErrNoBackends)

	s.Backends = []BackendConfig{{ID: "a", Type: BackendWebDAV}}
	assert.ErrorIs(t, s.Validate(), ErrMissingEndpoint)

	s.Backends = []BackendConfig{
		{ID: "a", Type: BackendLocalDir, LocalDir: &LocalDirConfig{Path: "/x"}},
		{ID: "a", Type: BackendLocalDir, LocalDir: &LocalDirConfig{Path: "/y"}},
	}
	assert.ErrorIs(t, s.Validate(), ErrDuplicateID)

	s.Backends = []BackendConfig{{ID: "a", Type: "ftp"}}
	assert.ErrorIs(t, s.Validate(), ErrUnknownBackend)
}

func TestClone(t *testing.T) {
	s := Default()
	s.IgnoreFiles = []string{"a"}
	s.Backends = []BackendConfig{{ID: "a", Type: BackendS3, S3: &S3Config{Bucket: "b"}}}

	c := s.Clone()
	c.IgnoreFiles[0] = "changed"
	c.Backends[0].S3.Bucket = "changed"

	assert.Equal(t, "a", s.IgnoreFiles[0])
	assert.Equal(t, "b", s.Backends[0].S3.Bucket)
}
