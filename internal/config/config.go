package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openmined/syftsync/internal/pathmap"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigDir  = filepath.Join(home, ".syftsync")
	DefaultConfigPath = filepath.Join(DefaultConfigDir, "config.yaml")
	DefaultDataDir    = filepath.Join(DefaultConfigDir, "data")
	DefaultLogPath    = filepath.Join(DefaultConfigDir, "logs", "syftsync.log")
)

const (
	DefaultPassTimeout    = 5 * time.Minute
	DefaultDebounce       = 2 * time.Second
	DefaultConnectRetries = 3
	DefaultControlAddr    = "localhost:7939"
	maxSyncInterval       = 24 * 60
)

var (
	ErrNoLocalDir      = errors.New("config: local_dir is required")
	ErrNoBackends      = errors.New("config: no backends configured")
	ErrDuplicateID     = errors.New("config: duplicate backend id")
	ErrUnknownBackend  = errors.New("config: unknown backend type")
	ErrMissingEndpoint = errors.New("config: backend is missing its connection settings")
)

type EncryptionConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Key     string `mapstructure:"key" yaml:"key" json:"-"`
}

type S3Config struct {
	Bucket       string `mapstructure:"bucket" yaml:"bucket"`
	Region       string `mapstructure:"region" yaml:"region"`
	Endpoint     string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKey    string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey    string `mapstructure:"secret_key" yaml:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style" yaml:"use_path_style"`
}

type WebDAVConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

type LocalDirConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type BackendConfig struct {
	ID       string          `mapstructure:"id" yaml:"id"`
	Type     BackendType     `mapstructure:"type" yaml:"type"`
	Enabled  bool            `mapstructure:"enabled" yaml:"enabled"`
	BasePath string          `mapstructure:"base_path" yaml:"base_path"`
	S3       *S3Config       `mapstructure:"s3" yaml:"s3,omitempty"`
	WebDAV   *WebDAVConfig   `mapstructure:"webdav" yaml:"webdav,omitempty"`
	LocalDir *LocalDirConfig `mapstructure:"localdir" yaml:"localdir,omitempty"`
}

type ControlPlaneConfig struct {
	Addr  string `mapstructure:"addr" yaml:"addr"`
	Token string `mapstructure:"token" yaml:"token"`
}

// Settings is the explicit settings value handed to every component. It is
// never mutated outside Repair.
type Settings struct {
	LocalDir               string             `mapstructure:"local_dir" yaml:"local_dir"`
	DataDir                string             `mapstructure:"data_dir" yaml:"data_dir"`
	SyncMode               SyncMode           `mapstructure:"sync_mode" yaml:"sync_mode"`
	SyncDirection          SyncDirection      `mapstructure:"sync_direction" yaml:"sync_direction"`
	ConflictPolicy         ConflictPolicy     `mapstructure:"conflict_policy" yaml:"conflict_policy"`
	DeleteLocalExtraFiles  bool               `mapstructure:"delete_local_extra_files" yaml:"delete_local_extra_files"`
	DeleteRemoteExtraFiles bool               `mapstructure:"delete_remote_extra_files" yaml:"delete_remote_extra_files"`
	IgnoreFolders          []string           `mapstructure:"ignore_folders" yaml:"ignore_folders"`
	IgnoreFiles            []string           `mapstructure:"ignore_files" yaml:"ignore_files"`
	IgnoreExtensions       []string           `mapstructure:"ignore_extensions" yaml:"ignore_extensions"`
	ReservedDirs           []string           `mapstructure:"reserved_dirs" yaml:"reserved_dirs"`
	RewriteLinks           bool               `mapstructure:"rewrite_links" yaml:"rewrite_links"`
	Encryption             EncryptionConfig   `mapstructure:"encryption" yaml:"encryption"`
	SyncInterval           int                `mapstructure:"sync_interval" yaml:"sync_interval"`
	Watch                  bool               `mapstructure:"watch" yaml:"watch"`
	Debounce               time.Duration      `mapstructure:"debounce" yaml:"debounce"`
	PassTimeout            time.Duration      `mapstructure:"pass_timeout" yaml:"pass_timeout"`
	ConnectRetries         int                `mapstructure:"connect_retries" yaml:"connect_retries"`
	Backends               []BackendConfig    `mapstructure:"backends" yaml:"backends"`
	ControlPlane           ControlPlaneConfig `mapstructure:"control_plane" yaml:"control_plane"`
	Path                   string             `mapstructure:"-" yaml:"-"`
}

// Default returns settings with every optional field at its default.
func Default() *Settings {
	return &Settings{
		DataDir:        DefaultDataDir,
		SyncMode:       SyncModeIncremental,
		SyncDirection:  DirectionBidirectional,
		ConflictPolicy: PolicyMerge,
		RewriteLinks:   false,
		Debounce:       DefaultDebounce,
		PassTimeout:    DefaultPassTimeout,
		ConnectRetries: DefaultConnectRetries,
		ControlPlane:   ControlPlaneConfig{Addr: DefaultControlAddr},
	}
}

// RemoteBasePath returns the root prefix configured for a backend, or "".
func (s *Settings) RemoteBasePath(backendID string) string {
	if b := s.Backend(backendID); b != nil {
		return pathmap.Normalize(b.BasePath)
	}
	return ""
}

// Backend looks up a backend by ID.
func (s *Settings) Backend(id string) *BackendConfig {
	for i := range s.Backends {
		if s.Backends[i].ID == id {
			return &s.Backends[i]
		}
	}
	return nil
}

// EnabledBackends returns the backends taking part in a pass, in config order.
func (s *Settings) EnabledBackends() []BackendConfig {
	var out []BackendConfig
	for _, b := range s.Backends {
		if b.Enabled {
			out = append(out, b)
		}
	}
	return out
}

// Interval converts SyncInterval (minutes) to a duration; zero disables scheduling.
func (s *Settings) Interval() time.Duration {
	return time.Duration(s.SyncInterval) * time.Minute
}

// Clone returns a deep copy so per-pass overrides never leak back.
func (s *Settings) Clone() *Settings {
	c := *s
	c.IgnoreFolders = append([]string(nil), s.IgnoreFolders...)
	c.IgnoreFiles = append([]string(nil), s.IgnoreFiles...)
	c.IgnoreExtensions = append([]string(nil), s.IgnoreExtensions...)
	c.ReservedDirs = append([]string(nil), s.ReservedDirs...)
	c.Backends = make([]BackendConfig, len(s.Backends))
	for i, b := range s.Backends {
		nb := b
		if b.S3 != nil {
			v := *b.S3
			nb.S3 = &v
		}
		if b.WebDAV != nil {
			v := *b.WebDAV
			nb.WebDAV = &v
		}
		if b.LocalDir != nil {
			v := *b.LocalDir
			nb.LocalDir = &v
		}
		c.Backends[i] = nb
	}
	return &c
}

// Validate rejects settings Repair cannot fix.
func (s *Settings) Validate() error {
	if s.LocalDir == "" {
		return ErrNoLocalDir
	}
	if len(s.Backends) == 0 {
		return ErrNoBackends
	}
	seen := make(map[string]struct{}, len(s.Backends))
	for _, b := range s.Backends {
		if _, ok := seen[b.ID]; ok {
			return fmt.Errorf("%w: %q", ErrDuplicateID, b.ID)
		}
		seen[b.ID] = struct{}{}

		switch b.Type {
		case BackendS3:
			if b.S3 == nil || b.S3.Bucket == "" {
				return fmt.Errorf("%w: %s needs s3.bucket", ErrMissingEndpoint, b.ID)
			}
		case BackendWebDAV:
			if b.WebDAV == nil || b.WebDAV.URL == "" {
				return fmt.Errorf("%w: %s needs webdav.url", ErrMissingEndpoint, b.ID)
			}
		case BackendLocalDir:
			if b.LocalDir == nil || b.LocalDir.Path == "" {
				return fmt.Errorf("%w: %s needs localdir.path", ErrMissingEndpoint, b.ID)
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownBackend, b.Type)
		}
	}
	return nil
}
