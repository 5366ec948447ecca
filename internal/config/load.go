package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const EnvPrefix = "SYFTSYNC"

// NewViper returns a viper instance wired for syftsync config files and env vars.
func NewViper(configPath string) *viper.Viper {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(DefaultConfigDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (a missing file is not an error), applies env
// overrides, unmarshals over the defaults and runs Repair once.
func Load(v *viper.Viper) (*Settings, error) {
	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	// AutomaticEnv only applies to keys viper already knows about
	for _, key := range []string{"local_dir", "data_dir", "sync_mode", "sync_direction", "conflict_policy", "encryption.enabled", "encryption.key", "sync_interval", "control_plane.token"} {
		_ = v.BindEnv(key)
	}

	s := Default()
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	s.Path = v.ConfigFileUsed()
	Repair(s)
	return s, nil
}
