// Package pathmap translates between a backend's path space and local relative paths.
package pathmap

import (
	"strings"
)

const sep = "/"

// Normalize converts backslashes, collapses duplicate separators and strips
// leading and trailing separators. "." segments are dropped.
func Normalize(p string) string {
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", sep)
	parts := strings.Split(p, sep)
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, sep)
}

// RemoteToLocal strips basePath from remotePath. It returns "" iff remotePath
// is the base path itself, which callers must treat as the sync root and
// never as an entry. A path outside basePath is returned normalized.
func RemoteToLocal(remotePath, basePath string) string {
	remote := Normalize(remotePath)
	base := Normalize(basePath)
	if base == "" {
		return remote
	}
	if remote == base {
		return ""
	}
	if strings.HasPrefix(remote, base+sep) {
		return remote[len(base)+1:]
	}
	return remote
}

// Join composes basePath and a local relative path into a remote path
// without duplicate separators.
func Join(basePath, localPath string) string {
	base := Normalize(basePath)
	local := Normalize(localPath)
	switch {
	case base == "":
		return local
	case local == "":
		return base
	default:
		return base + sep + local
	}
}

// IsRoot reports whether remotePath addresses the sync root for basePath.
func IsRoot(remotePath, basePath string) bool {
	return RemoteToLocal(remotePath, basePath) == ""
}

// Parent returns the parent of a normalized path, "" for top-level entries.
func Parent(p string) string {
	p = Normalize(p)
	if i := strings.LastIndex(p, sep); i >= 0 {
		return p[:i]
	}
	return ""
}

// Base returns the last element of p.
func Base(p string) string {
	p = Normalize(p)
	if i := strings.LastIndex(p, sep); i >= 0 {
		return p[i+1:]
	}
	return p
}

// Depth returns the number of segments in p. The root has depth 0.
func Depth(p string) int {
	p = Normalize(p)
	if p == "" {
		return 0
	}
	return strings.Count(p, sep) + 1
}
