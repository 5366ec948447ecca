package sync

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/syftsync/internal/config"
)

// Strategy decides what to change for one backend given both sides.
type Strategy interface {
	Name() string
	Plan(snap *Snapshot, s *config.Settings) *Plan
}

func StrategyFor(direction config.SyncDirection) Strategy {
	switch direction {
	case config.DirectionUploadOnly:
		return uploadStrategy{}
	case config.DirectionDownloadOnly:
		return downloadStrategy{}
	default:
		return bidirectionalStrategy{}
	}
}

// planner holds the state shared by every strategy: which extras are marked
// for deletion and which paths disagree on kind.
type planner struct {
	snap         *Snapshot
	plan         *Plan
	mismatched   mapset.Set[string]
	markedLocal  mapset.Set[string]
	markedRemote mapset.Set[string]
}

func newPlanner(snap *Snapshot, deleteLocal, deleteRemote bool) *planner {
	p := &planner{
		snap:         snap,
		plan:         &Plan{},
		mismatched:   snap.mismatched(),
		markedLocal:  mapset.NewThreadUnsafeSet[string](),
		markedRemote: mapset.NewThreadUnsafeSet[string](),
	}
	// extras are marked before any transfer so they are never copied across
	if deleteLocal {
		p.markedLocal = snap.localExtras()
	}
	if deleteRemote {
		p.markedRemote = snap.remoteExtras()
	}
	p.plan.Mismatched = p.mismatched.ToSlice()
	sort.Strings(p.plan.Mismatched)
	return p
}

func (p *planner) skip(rel string) bool {
	return p.mismatched.Contains(rel) || p.markedLocal.Contains(rel) || p.markedRemote.Contains(rel)
}

func (p *planner) createRemoteFolders() {
	for _, rel := range p.snap.localFolders() {
		if _, ok := p.snap.Remote[rel]; ok || p.skip(rel) {
			continue
		}
		p.plan.RemoteFolders = append(p.plan.RemoteFolders, rel)
	}
}

func (p *planner) createLocalFolders() {
	for _, rel := range p.snap.remoteFolders() {
		if _, ok := p.snap.Local[rel]; ok || p.skip(rel) {
			continue
		}
		p.plan.LocalFolders = append(p.plan.LocalFolders, rel)
	}
}

func (p *planner) planDeletions() {
	for rel := range p.markedRemote.Iter() {
		switch {
		case p.snap.Remote[rel].IsFolder && p.snap.RemoteHeld(rel):
			p.plan.KeptRemoteFolders = append(p.plan.KeptRemoteFolders, rel)
		case p.snap.Remote[rel].IsFolder:
			p.plan.RemoteFolderDeletes = append(p.plan.RemoteFolderDeletes, rel)
		default:
			p.plan.RemoteDeletes = append(p.plan.RemoteDeletes, rel)
		}
	}
	for rel := range p.markedLocal.Iter() {
		if p.snap.Local[rel].IsFolder {
			p.plan.LocalFolderDeletes = append(p.plan.LocalFolderDeletes, rel)
		} else {
			p.plan.LocalDeletes = append(p.plan.LocalDeletes, rel)
		}
	}
	sort.Strings(p.plan.RemoteDeletes)
	sort.Strings(p.plan.LocalDeletes)
	sort.Strings(p.plan.KeptRemoteFolders)
	sortDeepestFirst(p.plan.RemoteFolderDeletes)
	sortDeepestFirst(p.plan.LocalFolderDeletes)
}

// uploadStrategy pushes local to remote. Incremental uploads what is newer
// locally, full mirrors local exactly and prunes remote extras.
type uploadStrategy struct{}

func (uploadStrategy) Name() string { return string(config.DirectionUploadOnly) }

func (uploadStrategy) Plan(snap *Snapshot, s *config.Settings) *Plan {
	full := s.SyncMode == config.SyncModeFull
	p := newPlanner(snap, false, full || s.DeleteRemoteExtraFiles)
	p.createRemoteFolders()

	for _, rel := range snap.localFiles() {
		if p.skip(rel) {
			continue
		}
		local := snap.Local[rel]
		remote, ok := snap.Remote[rel]
		switch {
		case !ok:
			p.plan.Uploads = append(p.plan.Uploads, rel)
		case full && local.ModifiedTime != remote.ModifiedMillis():
			p.plan.Uploads = append(p.plan.Uploads, rel)
		case !full && local.ModifiedTime > remote.ModifiedMillis():
			p.plan.Uploads = append(p.plan.Uploads, rel)
		default:
			p.plan.Unchanged++
		}
	}

	p.planDeletions()
	return p.plan
}

// downloadStrategy pulls remote to local. Local extras are only removed
// when delete_local_extra_files is set.
type downloadStrategy struct{}

func (downloadStrategy) Name() string { return string(config.DirectionDownloadOnly) }

func (downloadStrategy) Plan(snap *Snapshot, s *config.Settings) *Plan {
	full := s.SyncMode == config.SyncModeFull
	p := newPlanner(snap, s.DeleteLocalExtraFiles, false)
	p.createLocalFolders()

	for _, rel := range snap.remoteFiles() {
		if p.skip(rel) {
			continue
		}
		remote := snap.Remote[rel]
		local, ok := snap.Local[rel]
		switch {
		case !ok:
			p.plan.Downloads = append(p.plan.Downloads, rel)
		case full && remote.ModifiedMillis() != local.ModifiedTime:
			p.plan.Downloads = append(p.plan.Downloads, rel)
		case !full && remote.ModifiedMillis() > local.ModifiedTime:
			p.plan.Downloads = append(p.plan.Downloads, rel)
		default:
			p.plan.Unchanged++
		}
	}

	p.planDeletions()
	return p.plan
}

// bidirectionalStrategy moves whichever side is newer, with the conflict
// policy deciding paths that exist on both sides with different times.
type bidirectionalStrategy struct{}

func (bidirectionalStrategy) Name() string { return string(config.DirectionBidirectional) }

func (bidirectionalStrategy) Plan(snap *Snapshot, s *config.Settings) *Plan {
	p := newPlanner(snap, s.DeleteLocalExtraFiles, s.DeleteRemoteExtraFiles)
	p.createRemoteFolders()
	p.createLocalFolders()

	for _, rel := range snap.localFiles() {
		if p.skip(rel) {
			continue
		}
		local := snap.Local[rel]
		remote, ok := snap.Remote[rel]
		if !ok {
			p.plan.Uploads = append(p.plan.Uploads, rel)
			continue
		}

		lt, rt := local.ModifiedTime, remote.ModifiedMillis()
		if lt == rt {
			p.plan.Unchanged++
			continue
		}
		p.plan.Conflicts++
		switch resolve(s.ConflictPolicy, lt, rt) {
		case OpUpload:
			p.plan.Uploads = append(p.plan.Uploads, rel)
		case OpDownload:
			p.plan.Downloads = append(p.plan.Downloads, rel)
		default:
			p.plan.Unchanged++
		}
	}

	for _, rel := range snap.remoteFiles() {
		if _, ok := snap.Local[rel]; ok || p.skip(rel) {
			continue
		}
		p.plan.Downloads = append(p.plan.Downloads, rel)
	}

	p.planDeletions()
	return p.plan
}

// resolve picks a direction for a path whose local and remote times differ.
// An empty result means leave both sides alone.
func resolve(policy config.ConflictPolicy, localMs, remoteMs int64) OpType {
	switch policy {
	case config.PolicyOverwrite:
		return OpUpload
	case config.PolicyKeepLocal:
		if localMs > remoteMs {
			return OpUpload
		}
		return ""
	case config.PolicyKeepRemote:
		if remoteMs > localMs {
			return OpDownload
		}
		return ""
	default:
		// merge has no content merge, the newer side wins
		if localMs > remoteMs {
			return OpUpload
		}
		return OpDownload
	}
}
