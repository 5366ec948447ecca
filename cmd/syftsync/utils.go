package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/openmined/syftsync/internal/provider"
	"github.com/openmined/syftsync/internal/sync"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	lightGray = lipgloss.NewStyle().Foreground(lipgloss.Color("248"))
	bold      = lipgloss.NewStyle().Bold(true)
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// backendLine renders one backend outcome on a single line.
func backendLine(b *sync.BackendResult) string {
	var state string
	switch {
	case b.Skipped:
		state = gray.Render("skipped")
	case b.Err != nil:
		state = red.Render(provider.Describe(b.Err))
	case b.Error != "":
		state = red.Render(b.Error)
	case b.DryRun:
		state = cyan.Render("dry run")
	default:
		state = green.Render("ok")
	}

	deletes := b.Count(sync.OpDeleteRemote) + b.Count(sync.OpDeleteRemoteFolder) +
		b.Count(sync.OpDeleteLocal) + b.Count(sync.OpDeleteLocalFolder)
	counts := fmt.Sprintf("↑%d ↓%d ✗%d", b.Count(sync.OpUpload), b.Count(sync.OpDownload), deletes)
	if b.DryRun {
		counts = fmt.Sprintf("%d planned", len(b.Operations))
	}

	line := fmt.Sprintf("  %-16s %-10s %s", bold.Render(b.Backend), counts, state)
	if b.BytesUp > 0 || b.BytesDown > 0 {
		line += lightGray.Render(fmt.Sprintf("  (%s up, %s down)",
			humanize.Bytes(uint64(b.BytesUp)), humanize.Bytes(uint64(b.BytesDown))))
	}
	return line
}

func printPassResult(w io.Writer, r *sync.PassResult) {
	fmt.Fprintf(w, "%s %s %s\n", cyan.Render("pass"), r.ID,
		gray.Render(fmt.Sprintf("%s, %s", r.Trigger, r.FinishedAt.Sub(r.StartedAt).Round(1e6))))
	for _, b := range r.Backends {
		fmt.Fprintln(w, backendLine(b))
		for _, op := range b.Failed() {
			fmt.Fprintf(w, "    %s %s %s\n", red.Render(string(op.Type)), op.Path, gray.Render(op.Error))
		}
		if b.DryRun {
			for _, op := range b.Operations {
				fmt.Fprintf(w, "    %s %s\n", lightGray.Render(string(op.Type)), op.Path)
			}
		}
	}
	if r.TimedOut {
		fmt.Fprintln(w, red.Render("  pass timed out"))
	}
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
