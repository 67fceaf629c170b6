// Package pathutil holds the path checks shared by request routing and
// snapshot extraction.
package pathutil

import (
	"path"
	"strings"

	"github.com/tvdn/tvdn-web/internal/xerrors"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// EntryName validates a file name taken from an archive or a directory walk
// and returns it in fs.ValidPath form. A leading "./" is tolerated since tar
// commonly writes it; every other relative or absolute escape is rejected.
func EntryName(name string) (string, error) {
	if strings.ContainsRune(name, 0) || strings.Contains(name, `\`) {
		return "", xerrors.Newf("invalid character in entry %q", name)
	}
	if path.IsAbs(name) {
		return "", xerrors.Newf("absolute path in entry %q", name)
	}
	trimmed := strings.TrimPrefix(name, "./")
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" || trimmed == "." {
		return "", nil
	}
	if HasDotSegments(trimmed) || strings.Contains(trimmed, "//") {
		return "", xerrors.Newf("path traversal in entry %q", name)
	}
	return trimmed, nil
}
