package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/controlplane"
	"github.com/openmined/syftsync/internal/history"
	"github.com/openmined/syftsync/internal/sync"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/openmined/syftsync/internal/version"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const tokenFileName = "control.token"

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	var addr string

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run scheduled and watched sync passes with the local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, addr)
		},
	}
	daemonCmd.Flags().StringVarP(&addr, "http-addr", "a", "", "address of the control API (default "+config.DefaultControlAddr+")")
	return daemonCmd
}

func runDaemon(cmd *cobra.Command, addr string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	slog.Info(version.AppName, "version", version.Version, "revision", version.Revision, "build", version.BuildDate)

	s, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	if addr != "" {
		s.ControlPlane.Addr = addr
	}
	if err := s.Validate(); err != nil {
		return err
	}
	slog.Info("daemon using config", "path", s.Path, "local", s.LocalDir, "backends", len(s.EnabledBackends()))

	if err := utils.EnsureDir(s.DataDir); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if s.ControlPlane.Token == "" {
		token, err := loadOrCreateToken(s.DataDir)
		if err != nil {
			return err
		}
		s.ControlPlane.Token = token
	}

	store, err := history.Open(ctx, filepath.Join(s.DataDir, history.FileName))
	if err != nil {
		return err
	}
	defer store.Close()

	mgr := sync.NewManager(s, sync.NewEngine(), sync.WithRecorder(store))
	cps := controlplane.NewServer(s.ControlPlane, controlplane.NewHandler(mgr, store))

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := mgr.Start(egCtx); err != nil {
			return fmt.Errorf("failed to start sync manager: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := cps.Start(egCtx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("received interrupt signal, stopping daemon")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		mgr.Stop()
		if err := cps.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to stop control plane: %w", err)
		}
		return nil
	})

	defer slog.Info("Bye!")
	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon failure", "error", err)
		return err
	}
	return nil
}

// loadOrCreateToken returns the control API token kept in the data dir,
// generating one on first use.
func loadOrCreateToken(dataDir string) (string, error) {
	path := filepath.Join(dataDir, tokenFileName)
	if raw, err := os.ReadFile(path); err == nil {
		if token := strings.TrimSpace(string(raw)); token != "" {
			return token, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read control token: %w", err)
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write control token: %w", err)
	}
	slog.Info("control token created", "path", path)
	return token, nil
}

// readToken finds the token a running daemon expects, without creating one.
func readToken(s *config.Settings) string {
	if s.ControlPlane.Token != "" {
		return s.ControlPlane.Token
	}
	raw, err := os.ReadFile(filepath.Join(s.DataDir, tokenFileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}
