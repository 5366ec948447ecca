package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/openmined/syftsync/internal/pathmap"
	"github.com/openmined/syftsync/internal/utils"
)

const maxConnectRetries = 10

// Repair brings settings back to a consistent state. It is the only place
// that mutates a Settings value and runs once per lifecycle transition
// (load, manager start). The returned notes describe each change made.
func Repair(s *Settings) []string {
	var notes []string
	note := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		notes = append(notes, msg)
		slog.Warn("settings repaired", "change", msg)
	}

	if s.LocalDir != "" {
		if abs, err := utils.ResolvePath(s.LocalDir); err == nil && abs != s.LocalDir {
			s.LocalDir = abs
		}
	}
	if s.DataDir == "" {
		s.DataDir = DefaultDataDir
	} else if abs, err := utils.ResolvePath(s.DataDir); err == nil {
		s.DataDir = abs
	}

	if m, ok := ParseSyncMode(string(s.SyncMode)); ok {
		s.SyncMode = m
	} else {
		note("sync_mode %q reset to %q", s.SyncMode, SyncModeIncremental)
		s.SyncMode = SyncModeIncremental
	}
	if d, ok := ParseDirection(string(s.SyncDirection)); ok {
		s.SyncDirection = d
	} else {
		note("sync_direction %q reset to %q", s.SyncDirection, DirectionBidirectional)
		s.SyncDirection = DirectionBidirectional
	}
	if p, ok := ParsePolicy(string(s.ConflictPolicy)); ok {
		s.ConflictPolicy = p
	} else {
		note("conflict_policy %q reset to %q", s.ConflictPolicy, PolicyMerge)
		s.ConflictPolicy = PolicyMerge
	}

	if s.Encryption.Enabled && s.Encryption.Key == "" {
		note("encryption disabled: no key configured")
		s.Encryption.Enabled = false
	}

	if s.SyncInterval < 0 {
		note("sync_interval %d reset to 0", s.SyncInterval)
		s.SyncInterval = 0
	} else if s.SyncInterval > maxSyncInterval {
		note("sync_interval %d clamped to %d", s.SyncInterval, maxSyncInterval)
		s.SyncInterval = maxSyncInterval
	}
	if s.Debounce <= 0 {
		s.Debounce = DefaultDebounce
	}
	if s.PassTimeout <= 0 {
		s.PassTimeout = DefaultPassTimeout
	}
	if s.ConnectRetries < 1 {
		s.ConnectRetries = DefaultConnectRetries
	} else if s.ConnectRetries > maxConnectRetries {
		note("connect_retries %d clamped to %d", s.ConnectRetries, maxConnectRetries)
		s.ConnectRetries = maxConnectRetries
	}
	if s.ControlPlane.Addr == "" {
		s.ControlPlane.Addr = DefaultControlAddr
	}

	s.IgnoreFolders = cleanList(s.IgnoreFolders, false)
	s.IgnoreFiles = cleanList(s.IgnoreFiles, false)
	s.IgnoreExtensions = cleanList(s.IgnoreExtensions, true)
	s.ReservedDirs = cleanList(s.ReservedDirs, false)

	for i := range s.Backends {
		b := &s.Backends[i]
		b.Type = BackendType(strings.ToLower(strings.TrimSpace(string(b.Type))))
		if b.ID == "" {
			b.ID = fmt.Sprintf("%s-%d", b.Type, i+1)
			note("backend #%d given id %q", i+1, b.ID)
		}
		if normalized := pathmap.Normalize(b.BasePath); normalized != b.BasePath {
			b.BasePath = normalized
		}
	}

	return notes
}

// cleanList trims, drops empties and duplicates. Extensions lose their
// leading dot so ".png" and "png" are the same rule.
func cleanList(in []string, ext bool) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if ext {
			v = strings.TrimPrefix(v, ".")
		}
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
