package config

import (
	"strings"
)

type SyncMode string

const (
	SyncModeIncremental SyncMode = "incremental"
	SyncModeFull        SyncMode = "full"
)

type SyncDirection string

const (
	DirectionUploadOnly    SyncDirection = "uploadOnly"
	DirectionDownloadOnly  SyncDirection = "downloadOnly"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// ConflictPolicy decides which side wins when both sides have an entry
// with differing timestamps. It applies to the whole pass, not per file.
type ConflictPolicy string

const (
	// PolicyOverwrite always uploads the local copy.
	PolicyOverwrite ConflictPolicy = "overwrite"
	// PolicyKeepLocal uploads only when the local copy is newer.
	PolicyKeepLocal ConflictPolicy = "keepLocal"
	// PolicyKeepRemote downloads only when the remote copy is newer.
	PolicyKeepRemote ConflictPolicy = "keepRemote"
	// PolicyMerge picks the newer side. There is no content-level merge.
	PolicyMerge ConflictPolicy = "merge"
)

type BackendType string

const (
	BackendS3       BackendType = "s3"
	BackendWebDAV   BackendType = "webdav"
	BackendLocalDir BackendType = "localdir"
)

// ParseSyncMode accepts any casing of a sync mode name.
func ParseSyncMode(s string) (SyncMode, bool) {
	switch SyncMode(strings.ToLower(strings.TrimSpace(s))) {
	case SyncModeIncremental:
		return SyncModeIncremental, true
	case SyncModeFull:
		return SyncModeFull, true
	}
	return "", false
}

// ParseDirection also accepts the short forms up, down and both.
func ParseDirection(s string) (SyncDirection, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "uploadonly", "upload", "up":
		return DirectionUploadOnly, true
	case "downloadonly", "download", "down":
		return DirectionDownloadOnly, true
	case "bidirectional", "both", "two-way":
		return DirectionBidirectional, true
	}
	return "", false
}

func ParsePolicy(s string) (ConflictPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "overwrite":
		return PolicyOverwrite, true
	case "keeplocal":
		return PolicyKeepLocal, true
	case "keepremote":
		return PolicyKeepRemote, true
	case "merge":
		return PolicyMerge, true
	}
	return "", false
}
