package sync

import (
	"errors"
	"time"
)

var (
	ErrSyncAlreadyRunning = errors.New("sync already running")
	ErrPassTimeout        = errors.New("sync pass timed out")
	ErrNoBackends         = errors.New("no enabled backends")
)

// Trigger is what started a pass.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerStartup   Trigger = "startup"
	TriggerScheduled Trigger = "scheduled"
	TriggerWatcher   Trigger = "watcher"
)

// Automatic triggers log their failures instead of returning them.
func (t Trigger) Automatic() bool { return t != TriggerManual }

// EngineState is where a backend is within a pass.
type EngineState string

const (
	StateIdle               EngineState = "idle"
	StateConnecting         EngineState = "connecting"
	StateListingLocal       EngineState = "listing_local"
	StateEnsuringRemoteRoot EngineState = "ensuring_remote_root"
	StateListingRemote      EngineState = "listing_remote"
	StateSyncingFolders     EngineState = "syncing_folders"
	StateSyncingFiles       EngineState = "syncing_files"
	StateSyncingDeletions   EngineState = "syncing_deletions"
	StateDone               EngineState = "done"
	StateFailed             EngineState = "failed"
)

type OpType string

const (
	OpCreateRemoteFolder OpType = "CreateRemoteFolder"
	OpCreateLocalFolder  OpType = "CreateLocalFolder"
	OpUpload             OpType = "Upload"
	OpDownload           OpType = "Download"
	OpDeleteRemote       OpType = "DeleteRemote"
	OpDeleteRemoteFolder OpType = "DeleteRemoteFolder"
	OpDeleteLocal        OpType = "DeleteLocal"
	OpDeleteLocalFolder  OpType = "DeleteLocalFolder"
)

// Operation is one planned or performed change.
type Operation struct {
	Type  OpType `json:"type"`
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// Plan is the ordered set of changes a strategy decided on for one backend.
// Folders are listed shallow first, folder deletions deepest first.
type Plan struct {
	RemoteFolders       []string
	LocalFolders        []string
	Uploads             []string
	Downloads           []string
	RemoteDeletes       []string
	RemoteFolderDeletes []string
	LocalDeletes        []string
	LocalFolderDeletes  []string

	Unchanged int
	// Conflicts counts paths present on both sides with differing times, settled by the conflict policy.
	Conflicts int
	// Mismatched holds paths that are a file on one side and a folder on the other.
	Mismatched []string
	// KeptRemoteFolders are remote extras left in place because they hold
	// excluded entries. Remote folder deletes are recursive.
	KeptRemoteFolders []string
}

func (p *Plan) HasChanges() bool {
	return len(p.RemoteFolders) > 0 ||
		len(p.LocalFolders) > 0 ||
		len(p.Uploads) > 0 ||
		len(p.Downloads) > 0 ||
		len(p.RemoteDeletes) > 0 ||
		len(p.RemoteFolderDeletes) > 0 ||
		len(p.LocalDeletes) > 0 ||
		len(p.LocalFolderDeletes) > 0
}

// Operations flattens the plan in execution order.
func (p *Plan) Operations() []Operation {
	var ops []Operation
	add := func(t OpType, paths []string) {
		for _, path := range paths {
			ops = append(ops, Operation{Type: t, Path: path})
		}
	}
	add(OpCreateRemoteFolder, p.RemoteFolders)
	add(OpCreateLocalFolder, p.LocalFolders)
	add(OpUpload, p.Uploads)
	add(OpDownload, p.Downloads)
	add(OpDeleteRemote, p.RemoteDeletes)
	add(OpDeleteRemoteFolder, p.RemoteFolderDeletes)
	add(OpDeleteLocal, p.LocalDeletes)
	add(OpDeleteLocalFolder, p.LocalFolderDeletes)
	return ops
}

// BackendResult is the outcome of one backend within a pass.
type BackendResult struct {
	Backend    string        `json:"backend"`
	State      EngineState   `json:"state"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Skipped    bool          `json:"skipped,omitempty"`
	DryRun     bool          `json:"dryRun,omitempty"`
	Operations []Operation   `json:"operations,omitempty"`
	Unchanged  int           `json:"unchanged"`
	Conflicts  int           `json:"conflicts"`
	BytesUp    int64         `json:"bytesUp"`
	BytesDown  int64         `json:"bytesDown"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

func (r *BackendResult) fail(err error) {
	r.State = StateFailed
	r.Err = err
	r.Error = err.Error()
}

// Count returns how many operations of type t succeeded.
func (r *BackendResult) Count(t OpType) int {
	n := 0
	for _, op := range r.Operations {
		if op.Type == t && op.Error == "" {
			n++
		}
	}
	return n
}

// Failed returns the operations that did not complete.
func (r *BackendResult) Failed() []Operation {
	var failed []Operation
	for _, op := range r.Operations {
		if op.Error != "" {
			failed = append(failed, op)
		}
	}
	return failed
}

// PassResult aggregates every backend of one pass.
type PassResult struct {
	ID         string           `json:"id"`
	Trigger    Trigger          `json:"trigger"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	TimedOut   bool             `json:"timedOut,omitempty"`
	Backends   []*BackendResult `json:"backends"`
	err        error
}

// Err joins the errors of every backend that was not skipped.
func (r *PassResult) Err() error {
	errs := []error{r.err}
	if r.TimedOut {
		errs = append(errs, ErrPassTimeout)
	}
	for _, b := range r.Backends {
		if b.Err != nil && !b.Skipped {
			errs = append(errs, b.Err)
		}
	}
	return errors.Join(errs...)
}

// Total sums the successful operations of type t over every backend.
func (r *PassResult) Total(t OpType) int {
	n := 0
	for _, b := range r.Backends {
		n += b.Count(t)
	}
	return n
}

// FailedOps counts failed operations over every backend.
func (r *PassResult) FailedOps() int {
	n := 0
	for _, b := range r.Backends {
		n += len(b.Failed())
	}
	return n
}
