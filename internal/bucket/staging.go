package bucket

import (
	"path"
	"strings"
)

// StagingPrefix holds objects uploaded by batches that have not been
// finalized yet. Listings hide it.
const StagingPrefix = ".batches/"

// StagingDir is the prefix of every object staged by the batch token.
func StagingDir(token string) string {
	return StagingPrefix + token + "/"
}

// StagingKey is where the batch stages the object bound for entryPath.
func StagingKey(token, entryPath string) string {
	return StagingDir(token) + entryPath
}

// IsStaging reports whether key lives under StagingPrefix.
func IsStaging(key string) bool {
	return strings.HasPrefix(key, StagingPrefix)
}

// CleanPath normalizes an entry path to a bucket key: no leading slash, no
// "." or ".." segments. ok is false for paths that are empty, escape the
// dataset root or point into the staging area.
func CleanPath(p string) (clean string, ok bool) {
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		p = strings.TrimLeft(p, "/")
	}
	if p == "" {
		return "", false
	}
	clean = path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || IsStaging(clean+"/") {
		return "", false
	}
	return clean, true
}
