// Package filter decides whether a path takes part in sync at all.
package filter

import (
	"log/slog"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/syftsync/internal/config"
	"github.com/openmined/syftsync/internal/pathmap"
	gitignore "github.com/sabhiram/go-gitignore"
)

// MaxPathLength is the longest relative path synced. Several backends and
// platforms reject longer names.
const MaxPathLength = 200

// defaultReservedDirs are host configuration, trash and internal dirs.
var defaultReservedDirs = []string{
	".obsidian",
	".trash",
	".syftsync",
	"$RECYCLE.BIN",
	"System Volume Information",
	"@eaDir",
}

// Reason explains why a path was excluded.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonTooLong      Reason = "path too long"
	ReasonHidden       Reason = "hidden"
	ReasonReserved     Reason = "reserved directory"
	ReasonIgnoreFolder Reason = "ignored folder"
	ReasonIgnoreFile   Reason = "ignored file"
	ReasonIgnoreExt    Reason = "ignored extension"
	ReasonIgnoreList   Reason = "syncignore"
)

type Filter struct {
	reserved      []string
	folders       []*pattern
	files         []*pattern
	extensions    []*pattern
	ignoreList    *gitignore.GitIgnore
	ignoreListLen int
}

// New compiles the settings' ignore rules. extraIgnore holds gitignore-style
// lines, usually read from the .syncignore file.
func New(s *config.Settings, extraIgnore ...string) *Filter {
	f := &Filter{
		folders:    compileAll(s.IgnoreFolders),
		files:      compileAll(s.IgnoreFiles),
		extensions: compileAll(s.IgnoreExtensions),
	}

	for _, dir := range append(append([]string{}, defaultReservedDirs...), s.ReservedDirs...) {
		dir = pathmap.Normalize(dir)
		if dir == "" {
			continue
		}
		dir = escapeMeta(dir)
		f.reserved = append(f.reserved, dir, dir+"/**")
	}

	var lines []string
	for _, line := range extraIgnore {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	if len(lines) > 0 {
		f.ignoreList = gitignore.CompileIgnoreLines(lines...)
		f.ignoreListLen = len(lines)
	}

	return f
}

// escapeMeta quotes glob metacharacters so a literal dir name such as
// "$RECYCLE.BIN" or "[old]" matches only itself.
func escapeMeta(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ShouldExclude is the one-shot form: it compiles the settings and tests a single path.
func ShouldExclude(relPath string, isFolder bool, s *config.Settings) bool {
	return New(s).Exclude(relPath, isFolder)
}

// Exclude reports whether relPath is kept out of sync.
func (f *Filter) Exclude(relPath string, isFolder bool) bool {
	return f.Reason(relPath, isFolder) != ReasonNone
}

// Reason runs the checks in order and returns the first that matches.
func (f *Filter) Reason(relPath string, isFolder bool) Reason {
	p := pathmap.Normalize(relPath)
	if p == "" {
		return ReasonNone
	}

	if len(p) > MaxPathLength {
		return ReasonTooLong
	}

	segments := strings.Split(p, "/")
	for _, seg := range segments {
		if strings.HasPrefix(seg, ".") {
			return ReasonHidden
		}
	}

	for _, pattern := range f.reserved {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return ReasonReserved
		}
	}

	// folders: every ancestor plus the entry itself when it is a folder
	dirs := segments[:len(segments)-1]
	if isFolder {
		dirs = segments
	}
	for i := range dirs {
		folderPath := strings.Join(dirs[:i+1], "/")
		for _, rule := range f.folders {
			if rule.match(dirs[i], folderPath) {
				return ReasonIgnoreFolder
			}
		}
	}

	if !isFolder {
		name := segments[len(segments)-1]
		for _, rule := range f.files {
			if rule.match(name, p) {
				return ReasonIgnoreFile
			}
		}

		ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
		for _, rule := range f.extensions {
			if rule.kind == kindPlain {
				if strings.EqualFold(rule.raw, ext) {
					return ReasonIgnoreExt
				}
				continue
			}
			if rule.match(name, ext) {
				return ReasonIgnoreExt
			}
		}
	}

	if f.ignoreList != nil {
		candidate := p
		if isFolder {
			candidate += "/"
		}
		if f.ignoreList.MatchesPath(candidate) {
			return ReasonIgnoreList
		}
	}

	return ReasonNone
}

// LogSummary logs the compiled rule counts at debug level.
func (f *Filter) LogSummary() {
	slog.Debug("filter",
		"folders", len(f.folders),
		"files", len(f.files),
		"extensions", len(f.extensions),
		"reserved", len(f.reserved)/2,
		"syncignore", f.ignoreListLen,
	)
}
