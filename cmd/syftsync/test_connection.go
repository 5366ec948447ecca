package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/openmined/syftsync/internal/backends"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/provider"
	"github.com/spf13/cobra"
)

const connectionTimeout = 30 * time.Second

var errConnectionFailed = errors.New("connection test failed")

func init() {
	rootCmd.AddCommand(newTestConnectionCmd())
}

func newTestConnectionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection [backend-id...]",
		Short: "Connect to each backend and list its base path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			targets := s.Backends
			if len(args) > 0 {
				targets = nil
				for _, id := range args {
					b := s.Backend(id)
					if b == nil {
						return fmt.Errorf("unknown backend %q", id)
					}
					targets = append(targets, *b)
				}
			}
			if len(targets) == 0 {
				return config.ErrNoBackends
			}

			failed := 0
			for _, b := range targets {
				if !testBackend(cmd.Context(), cmd.OutOrStdout(), s, b) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%w: %d of %d backends", errConnectionFailed, failed, len(targets))
			}
			return nil
		},
	}
}

func testBackend(ctx context.Context, w io.Writer, s *config.Settings, b config.BackendConfig) bool {
	ctx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	label := fmt.Sprintf("%s (%s)", bold.Render(b.ID), b.Type)
	if !b.Enabled {
		label += gray.Render(" disabled")
	}

	err := checkBackend(ctx, s, b)
	if err != nil {
		fmt.Fprintf(w, "%s %s\n  %s\n", red.Render("✗"), label, provider.Describe(err))
		return false
	}
	fmt.Fprintf(w, "%s %s\n", green.Render("✓"), label)
	return true
}

func checkBackend(ctx context.Context, s *config.Settings, b config.BackendConfig) error {
	p, err := backends.Open(ctx, b)
	if err != nil {
		return err
	}
	if err := p.Connect(ctx); err != nil {
		return err
	}

	basePath := s.RemoteBasePath(b.ID)
	if _, err := p.ListFiles(ctx, basePath); err != nil && !provider.IsNotFound(err) {
		return err
	}
	return nil
}
