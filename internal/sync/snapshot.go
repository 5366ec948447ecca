package sync

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/syftsync/internal/filter"
	"github.com/openmined/syftsync/internal/localfs"
	"github.com/openmined/syftsync/internal/pathmap"
	"github.com/openmined/syftsync/internal/provider"
)

// Snapshot is both sides of one backend, keyed by local relative path.
// Remote entries keep their backend-native path in Entry.Path.
type Snapshot struct {
	BasePath string
	Local    map[string]localfs.Entry
	Remote   map[string]provider.Entry
	Excluded int

	// remoteHeld are remote folders with excluded content somewhere below.
	// Deleting them would take that content along.
	remoteHeld mapset.Set[string]
}

// NewSnapshot maps remote entries into local path space, drops the remote
// root and everything the filter excludes.
func NewSnapshot(local []localfs.Entry, remote []provider.Entry, basePath string, f *filter.Filter) *Snapshot {
	snap := &Snapshot{
		BasePath: pathmap.Normalize(basePath),
		Local:    make(map[string]localfs.Entry, len(local)),
		Remote:   make(map[string]provider.Entry, len(remote)),

		remoteHeld: mapset.NewThreadUnsafeSet[string](),
	}

	for _, e := range local {
		if f != nil && f.Exclude(e.Path, e.IsFolder) {
			snap.Excluded++
			continue
		}
		snap.Local[e.Path] = e
	}

	for _, e := range remote {
		rel := pathmap.RemoteToLocal(e.Path, snap.BasePath)
		if rel == "" {
			continue
		}
		if f != nil && f.Exclude(rel, e.IsFolder) {
			snap.Excluded++
			if e.IsFolder || pathmap.Base(rel) != MarkerFile {
				snap.hold(rel)
			}
			continue
		}
		snap.Remote[rel] = e
	}
	return snap
}

// hold marks every ancestor folder of an excluded remote entry.
func (s *Snapshot) hold(rel string) {
	for dir := pathmap.Parent(rel); dir != ""; dir = pathmap.Parent(dir) {
		if !s.remoteHeld.Add(dir) {
			return
		}
	}
}

// RemoteHeld reports whether the remote folder rel contains excluded entries.
func (s *Snapshot) RemoteHeld(rel string) bool {
	return s.remoteHeld.Contains(rel)
}

func (s *Snapshot) RemotePath(rel string) string {
	return pathmap.Join(s.BasePath, rel)
}

// counterpart reports whether both sides hold rel with the same kind.
func (s *Snapshot) counterpart(rel string) (localfs.Entry, provider.Entry, bool) {
	l, lok := s.Local[rel]
	r, rok := s.Remote[rel]
	return l, r, lok && rok && l.IsFolder == r.IsFolder
}

// mismatched lists paths that are a file on one side and a folder on the other.
func (s *Snapshot) mismatched() mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	for rel, l := range s.Local {
		if r, ok := s.Remote[rel]; ok && r.IsFolder != l.IsFolder {
			out.Add(rel)
		}
	}
	return out
}

// localExtras are local entries with no counterpart remotely.
func (s *Snapshot) localExtras() mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	for rel := range s.Local {
		if _, ok := s.Remote[rel]; !ok {
			out.Add(rel)
		}
	}
	return out
}

// remoteExtras are remote entries with no counterpart locally.
func (s *Snapshot) remoteExtras() mapset.Set[string] {
	out := mapset.NewThreadUnsafeSet[string]()
	for rel := range s.Remote {
		if _, ok := s.Local[rel]; !ok {
			out.Add(rel)
		}
	}
	return out
}

func (s *Snapshot) localFolders() []string {
	var out []string
	for rel, e := range s.Local {
		if e.IsFolder {
			out = append(out, rel)
		}
	}
	return sortShallowFirst(out)
}

func (s *Snapshot) remoteFolders() []string {
	var out []string
	for rel, e := range s.Remote {
		if e.IsFolder {
			out = append(out, rel)
		}
	}
	return sortShallowFirst(out)
}

func (s *Snapshot) localFiles() []string {
	var out []string
	for rel, e := range s.Local {
		if !e.IsFolder {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Snapshot) remoteFiles() []string {
	var out []string
	for rel, e := range s.Remote {
		if !e.IsFolder {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

func sortShallowFirst(paths []string) []string {
	sort.Slice(paths, func(i, j int) bool {
		di, dj := pathmap.Depth(paths[i]), pathmap.Depth(paths[j])
		if di != dj {
			return di < dj
		}
		return paths[i] < paths[j]
	})
	return paths
}

func sortDeepestFirst(paths []string) []string {
	sort.Slice(paths, func(i, j int) bool {
		di, dj := pathmap.Depth(paths[i]), pathmap.Depth(paths[j])
		if di != dj {
			return di > dj
		}
		return paths[i] < paths[j]
	})
	return paths
}
