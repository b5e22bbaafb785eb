// ingest/skip.go
package ingest

import (
	"path"
	"strings"
)

// Skip reasons reported for unroutable files.
const (
	ReasonEmptyPath            = "empty path"
	ReasonHiddenFile           = "hidden/system file"
	ReasonUnsupportedExtension = "unsupported extension"
	ReasonTestOrBackup         = "test/backup file"
	ReasonUnsupportedDirectory = "unsupported directory"
	ReasonNotRecognized        = "file name pattern not recognized"
)

var unsupportedExtensions = map[string]bool{
	"tmp": true, "temp": true, "bak": true, "old": true, "log": true, "info": true,
	"metadata": true, "cache": true, "swp": true, "lock": true, "ds_store": true, "thumbs": true,
}

var suspiciousFragments = []string{
	"test_", "sample_", "example_", "demo_", "backup_",
	"_test", "_sample", "_backup", "_old", "_temp",
	"duplicate", "copy", "untitled",
}

var unsupportedDirectories = map[string]bool{
	"temp": true, "tmp": true, "cache": true, "logs": true, "backup": true, "test": true,
	"samples": true, "metadata": true, "system": true, ".git": true, ".svn": true, "node_modules": true,
}

// SkipReason explains why no rule routes p. Checks run in a fixed order:
// hidden/system, extension, test/backup naming, top-level directory.
func SkipReason(p string) string {
	if strings.TrimSpace(p) == "" {
		return ReasonEmptyPath
	}
	name := strings.ToLower(p)

	if strings.HasPrefix(name, ".") || strings.Contains(name, "/.") {
		return ReasonHiddenFile
	}
	if ext := strings.TrimPrefix(path.Ext(name), "."); unsupportedExtensions[ext] {
		return ReasonUnsupportedExtension
	}
	for _, frag := range suspiciousFragments {
		if strings.Contains(name, frag) {
			return ReasonTestOrBackup
		}
	}
	if top, _, found := strings.Cut(name, "/"); found && unsupportedDirectories[top] {
		return ReasonUnsupportedDirectory
	}
	return ReasonNotRecognized
}
