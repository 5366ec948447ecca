// Package history keeps a local record of finished sync passes.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftsync/internal/db"
	"github.com/openmined/syftsync/internal/sync"
)

const (
	FileName    = "history.db"
	DefaultKeep = 500
	appID       = "syftsync"
	// fixed width so text order is time order
	timeLayout  = "2006-01-02T15:04:05.000000000Z"
)

const schema = `
CREATE TABLE IF NOT EXISTS passes (
    id TEXT PRIMARY KEY,
    device TEXT NOT NULL,
    triggered_by TEXT NOT NULL,
    started_at TEXT NOT NULL, -- UTC, fixed width
    finished_at TEXT NOT NULL,
    timed_out INTEGER NOT NULL DEFAULT 0,
    uploads INTEGER NOT NULL DEFAULT 0,
    downloads INTEGER NOT NULL DEFAULT 0,
    deletes INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    backends TEXT NOT NULL -- json
);
CREATE INDEX IF NOT EXISTS idx_passes_started_at ON passes(started_at);
`

// Pass is one stored pass.
type Pass struct {
	ID         string                `json:"id"`
	Device     string                `json:"device"`
	Trigger    sync.Trigger          `json:"trigger"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt"`
	TimedOut   bool                  `json:"timedOut,omitempty"`
	Uploads    int                   `json:"uploads"`
	Downloads  int                   `json:"downloads"`
	Deletes    int                   `json:"deletes"`
	Failed     int                   `json:"failed"`
	Error      string                `json:"error,omitempty"`
	Backends   []*sync.BackendResult `json:"backends"`
}

type dbPass struct {
	ID         string `db:"id"`
	Device     string `db:"device"`
	Trigger    string `db:"triggered_by"`
	StartedAt  string `db:"started_at"`
	FinishedAt string `db:"finished_at"`
	TimedOut   bool   `db:"timed_out"`
	Uploads    int    `db:"uploads"`
	Downloads  int    `db:"downloads"`
	Deletes    int    `db:"deletes"`
	Failed     int    `db:"failed"`
	Error      string `db:"error"`
	Backends   string `db:"backends"`
}

// Store is a sqlite-backed pass log. It implements sync.Recorder.
type Store struct {
	db     *sqlx.DB
	device string
	keep   int
}

var _ sync.Recorder = (*Store)(nil)

// Open creates or opens the history database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	if err := db.Migrate(ctx, conn, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &Store{db: conn, device: DeviceID(), keep: DefaultKeep}, nil
}

// DeviceID identifies this machine without exposing its raw machine id.
func DeviceID() string {
	id, err := machineid.ProtectedID(appID)
	if err == nil {
		return id[:16]
	}
	slog.Debug("machine id unavailable", "error", err)
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		slog.Error("history close", "error", err)
		return err
	}
	return nil
}

// Record stores a finished pass and trims the log to the newest entries.
func (s *Store) Record(ctx context.Context, r *sync.PassResult) error {
	backends, err := json.Marshal(r.Backends)
	if err != nil {
		return fmt.Errorf("encode backends: %w", err)
	}

	row := dbPass{
		ID:         r.ID,
		Device:     s.device,
		Trigger:    string(r.Trigger),
		StartedAt:  r.StartedAt.UTC().Format(timeLayout),
		FinishedAt: r.FinishedAt.UTC().Format(timeLayout),
		TimedOut:   r.TimedOut,
		Uploads:    r.Total(sync.OpUpload),
		Downloads:  r.Total(sync.OpDownload),
		Deletes: r.Total(sync.OpDeleteLocal) + r.Total(sync.OpDeleteLocalFolder) +
			r.Total(sync.OpDeleteRemote) + r.Total(sync.OpDeleteRemoteFolder),
		Failed:   r.FailedOps(),
		Backends: string(backends),
	}
	if err := r.Err(); err != nil {
		row.Error = err.Error()
	}

	query := `INSERT OR REPLACE INTO passes
	  (id, device, triggered_by, started_at, finished_at, timed_out, uploads, downloads, deletes, failed, error, backends)
	  VALUES (:id, :device, :triggered_by, :started_at, :finished_at, :timed_out, :uploads, :downloads, :deletes, :failed, :error, :backends)`
	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("record pass %s: %w", r.ID, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM passes WHERE id NOT IN (SELECT id FROM passes ORDER BY started_at DESC LIMIT ?)`, s.keep); err != nil {
		slog.Warn("history prune", "error", err)
	}
	return nil
}

// Recent returns up to limit passes, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Pass, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []dbPass
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, device, triggered_by, started_at, finished_at, timed_out, uploads, downloads, deletes, failed, error, backends
		 FROM passes ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	passes := make([]Pass, 0, len(rows))
	for _, row := range rows {
		p, err := row.toPass()
		if err != nil {
			slog.Warn("skipping corrupt history row", "id", row.ID, "error", err)
			continue
		}
		passes = append(passes, p)
	}
	return passes, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM passes"); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

func (row dbPass) toPass() (Pass, error) {
	started, err := time.Parse(timeLayout, row.StartedAt)
	if err != nil {
		return Pass{}, err
	}
	finished, err := time.Parse(timeLayout, row.FinishedAt)
	if err != nil {
		return Pass{}, err
	}
	p := Pass{
		ID:         row.ID,
		Device:     row.Device,
		Trigger:    sync.Trigger(row.Trigger),
		StartedAt:  started,
		FinishedAt: finished,
		TimedOut:   row.TimedOut,
		Uploads:    row.Uploads,
		Downloads:  row.Downloads,
		Deletes:    row.Deletes,
		Failed:     row.Failed,
		Error:      row.Error,
	}
	if err := json.Unmarshal([]byte(row.Backends), &p.Backends); err != nil {
		return Pass{}, fmt.Errorf("decode backends: %w", err)
	}
	return p, nil
}
