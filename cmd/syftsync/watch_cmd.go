package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/mattn/go-isatty"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/sync"
	"github.com/spf13/cobra"
)

const txtWatchHelp = "Press 'q' or 'Ctrl+C' to quit."

var (
	titleStyle   = cyan.Bold(true)
	spinnerStyle = cyan
	helpStyle    = gray
)

func init() {
	rootCmd.AddCommand(newWatchCmd())
}

func newWatchCmd() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow backend state changes from the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			conn, err := dialEvents(ctx, s)
			if err != nil {
				return fmt.Errorf("daemon not reachable at %s: %w", s.ControlPlane.Addr, err)
			}
			defer conn.CloseNow()

			events := make(chan *sync.StatusEvent)
			go readEvents(ctx, conn, events)

			if plain || !isatty.IsTerminal(os.Stdout.Fd()) {
				return printEvents(ctx, cmd.OutOrStdout(), events)
			}

			var initial []sync.BackendStatus
			if st, err := probeDaemon(ctx, s); err == nil {
				initial = st.Backends
			}

			p := tea.NewProgram(newWatchModel(s.ControlPlane.Addr, initial),
				tea.WithContext(ctx),
				tea.WithOutput(cmd.OutOrStdout()),
			)
			go func() {
				for ev := range events {
					p.Send(eventMsg{ev})
				}
				p.Send(disconnectedMsg{})
			}()

			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "print one line per event instead of the live view")
	return cmd
}

func dialEvents(ctx context.Context, s *config.Settings) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, "ws://"+s.ControlPlane.Addr+"/v1/events", &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + readToken(s)}},
	})
	return conn, err
}

// readEvents forwards events until the connection drops, then closes out.
func readEvents(ctx context.Context, conn *websocket.Conn, out chan<- *sync.StatusEvent) {
	defer close(out)
	for {
		var ev sync.StatusEvent
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return
		}
		select {
		case out <- &ev:
		case <-ctx.Done():
			return
		}
	}
}

func printEvents(ctx context.Context, w io.Writer, events <-chan *sync.StatusEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("daemon closed the event stream")
			}
			fmt.Fprintln(w, eventLine(ev))
		}
	}
}

func eventLine(ev *sync.StatusEvent) string {
	line := fmt.Sprintf("%s %-16s %s", ev.Status.UpdatedAt.Format("15:04:05"), ev.Backend, ev.Status.State)
	if ev.Status.PassID != "" {
		line += " pass=" + ev.Status.PassID
	}
	if ev.Status.Error != "" {
		line += " error=" + ev.Status.Error
	}
	return line
}

// --- live view ---

type eventMsg struct{ ev *sync.StatusEvent }
type disconnectedMsg struct{}

type watchModel struct {
	addr         string
	spinner      spinner.Model
	backends     map[string]sync.BackendStatus
	disconnected bool
}

func newWatchModel(addr string, initial []sync.BackendStatus) watchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	m := watchModel{
		addr:     addr,
		spinner:  s,
		backends: make(map[string]sync.BackendStatus, len(initial)),
	}
	for _, b := range initial {
		m.backends[b.Backend] = b
	}
	return m
}

func (m watchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.backends[msg.ev.Backend] = msg.ev.Status

	case disconnectedMsg:
		m.disconnected = true
		return m, tea.Quit
	}
	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("syftsync") + " " + gray.Render(m.addr) + "\n\n")

	if len(m.backends) == 0 {
		b.WriteString(gray.Render("  waiting for the next pass") + "\n")
	}

	ids := make([]string, 0, len(m.backends))
	for id := range m.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		st := m.backends[id]
		var icon string
		switch st.State {
		case sync.StateDone:
			icon = green.Render("✓")
		case sync.StateFailed:
			icon = red.Render("✗")
		case sync.StateIdle, "":
			icon = gray.Render("•")
		default:
			icon = m.spinner.View()
		}
		line := fmt.Sprintf("  %s %-16s %s", icon, bold.Render(id), st.State)
		if st.Error != "" {
			line += " " + red.Render(st.Error)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n")
	if m.disconnected {
		b.WriteString(red.Render("daemon closed the event stream") + "\n")
	} else {
		b.WriteString(helpStyle.Render(txtWatchHelp) + "\n")
	}
	return b.String()
}
