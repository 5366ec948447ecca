package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/history"
	"github.com/openmined/syftsync/internal/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	var (
		dryRun    bool
		asJSON    bool
		direction string
		mode      string
		backends  []string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := sync.SyncOptions{DryRun: dryRun, Backends: splitList(backends)}
			if direction != "" {
				d, ok := config.ParseDirection(direction)
				if !ok {
					return fmt.Errorf("unknown direction %q", direction)
				}
				opts.Direction = d
			}
			if mode != "" {
				m, ok := config.ParseSyncMode(mode)
				if !ok {
					return fmt.Errorf("unknown mode %q", mode)
				}
				opts.Mode = m
			}
			cmd.SilenceUsage = true

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			var managerOpts []sync.ManagerOption
			if !dryRun {
				store, err := history.Open(cmd.Context(), filepath.Join(s.DataDir, history.FileName))
				if err != nil {
					return err
				}
				defer store.Close()
				managerOpts = append(managerOpts, sync.WithRecorder(store))
			}

			mgr := sync.NewManager(s, sync.NewEngine(), managerOpts...)
			result, err := mgr.SyncNow(cmd.Context(), opts)
			if errors.Is(err, sync.ErrSyncAlreadyRunning) {
				return fmt.Errorf("%w: another pass holds the lock in %s", err, s.DataDir)
			}
			if result == nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if jerr := writeJSON(out, result); jerr != nil {
					return jerr
				}
			} else {
				printPassResult(out, result)
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "plan the pass without changing either side")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the pass result as JSON")
	cmd.Flags().StringVarP(&direction, "direction", "d", "", "override sync_direction for this pass (up, down, both)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "override sync_mode for this pass (incremental, full)")
	cmd.Flags().StringSliceVarP(&backends, "backend", "b", nil, "only sync these backend ids")
	return cmd
}
