package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/imroc/req/v3"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/controlplane"
	"github.com/openmined/syftsync/internal/history"
	"github.com/openmined/syftsync/internal/utils"
	"github.com/spf13/cobra"
)

const daemonProbeTimeout = 2 * time.Second

// statusReport is what `status --json` prints.
type statusReport struct {
	Daemon  *controlplane.StatusResponse `json:"daemon,omitempty"`
	History []history.Pass               `json:"history"`
}

func init() {
	rootCmd.AddCommand(newStatusCmd())
}

func newStatusCmd() *cobra.Command {
	var (
		asJSON bool
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon and the latest passes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			report := statusReport{}
			if st, err := probeDaemon(cmd.Context(), s); err == nil {
				report.Daemon = st
			}

			dbPath := filepath.Join(s.DataDir, history.FileName)
			if utils.FileExists(dbPath) {
				store, err := history.Open(cmd.Context(), dbPath)
				if err != nil {
					return err
				}
				defer store.Close()
				if report.History, err = store.Recent(cmd.Context(), limit); err != nil {
					return err
				}
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printStatus(cmd.OutOrStdout(), s, report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "number of passes to show")
	return cmd
}

// probeDaemon asks a running daemon for its live status.
func probeDaemon(ctx context.Context, s *config.Settings) (*controlplane.StatusResponse, error) {
	var (
		st     controlplane.StatusResponse
		errRes controlplane.ErrorResponse
	)
	resp, err := req.C().
		SetTimeout(daemonProbeTimeout).
		SetBaseURL("http://"+s.ControlPlane.Addr).
		R().
		SetContext(ctx).
		SetBearerAuthToken(readToken(s)).
		SetSuccessResult(&st).
		SetErrorResult(&errRes).
		Get("/v1/status")
	if err != nil {
		return nil, err
	}
	if resp.IsErrorState() {
		return nil, fmt.Errorf("daemon status: %s", errRes.Error)
	}
	return &st, nil
}

func printStatus(w io.Writer, s *config.Settings, report statusReport) {
	fmt.Fprintf(w, "%s %s\n", cyan.Render("local"), s.LocalDir)

	if report.Daemon == nil {
		fmt.Fprintf(w, "%s %s\n", cyan.Render("daemon"), gray.Render("not running at "+s.ControlPlane.Addr))
	} else {
		state := green.Render("idle")
		if report.Daemon.Running && report.Daemon.StartedAt != nil {
			state = cyan.Render(fmt.Sprintf("running %s pass since %s", report.Daemon.Trigger, humanize.Time(*report.Daemon.StartedAt)))
		}
		if p := report.Daemon.Process; p != nil {
			state += lightGray.Render(fmt.Sprintf("  pid %d, %s rss, up %s", p.PID,
				humanize.Bytes(p.RSS), time.Duration(p.Uptime)*time.Millisecond))
		}
		fmt.Fprintf(w, "%s %s\n", cyan.Render("daemon"), state)
		for _, b := range report.Daemon.Backends {
			line := fmt.Sprintf("  %-16s %s", bold.Render(b.Backend), b.State)
			if b.Error != "" {
				line += " " + red.Render(b.Error)
			}
			fmt.Fprintln(w, line)
		}
	}

	if len(report.History) == 0 {
		fmt.Fprintln(w, gray.Render("no passes recorded"))
		return
	}
	fmt.Fprintln(w, cyan.Render("recent passes"))
	for _, p := range report.History {
		state := green.Render("ok")
		if p.Error != "" {
			state = red.Render(p.Error)
		}
		fmt.Fprintf(w, "  %s %-9s ↑%d ↓%d ✗%d  %s\n",
			lightGray.Render(humanize.Time(p.FinishedAt)), p.Trigger, p.Uploads, p.Downloads, p.Deletes, state)
	}
}
