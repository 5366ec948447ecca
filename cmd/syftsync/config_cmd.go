package main

import (
	"fmt"

	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	rootCmd.AddCommand(newConfigCmd())
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	configCmd.AddCommand(newConfigShowCmd(), newConfigPathCmd())
	return configCmd
}

func newConfigShowCmd() *cobra.Command {
	var showSecrets bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the repaired settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if !showSecrets {
				s = maskSettings(s)
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(s); err != nil {
				return fmt.Errorf("config encode: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print keys and passwords in full")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			path := s.Path
			if path == "" {
				path = config.DefaultConfigPath
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

// maskSettings returns a copy safe to print.
func maskSettings(s *config.Settings) *config.Settings {
	c := s.Clone()
	c.Encryption.Key = utils.MaskSecret(c.Encryption.Key)
	c.ControlPlane.Token = utils.MaskSecret(c.ControlPlane.Token)
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.S3 != nil {
			b.S3.AccessKey = utils.MaskSecret(b.S3.AccessKey)
			b.S3.SecretKey = utils.MaskSecret(b.S3.SecretKey)
		}
		if b.WebDAV != nil {
			b.WebDAV.Password = utils.MaskSecret(b.WebDAV.Password)
		}
	}
	return c
}
