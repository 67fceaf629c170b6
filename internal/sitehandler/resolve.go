package sitehandler

import (
	"io/fs"
	"path"
	"strings"

	"github.com/tvdn/tvdn-web/internal/pathutil"
)

// resolvePath maps a URL path to a file within fsys. The returned name has
// no leading slash. ok is false when the request should get a 404.
//
// Resolution order:
//   - "/" and "<dir>/" serve the directory's index file
//   - paths with an extension must name an existing file
//   - extension-less paths serve "<path>/index.html" when it exists, then
//     fall back to the SPA index when spa is set
func resolvePath(urlPath string, fsys fs.FS, index string, spa bool) (string, bool) {
	p := urlPath
	if p == "" {
		p = "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	if strings.ContainsRune(p, 0) || strings.Contains(p, `\`) {
		return "", false
	}
	if pathutil.HasDotSegments(p) {
		return "", false
	}

	clean := path.Clean(p)
	rel := strings.TrimPrefix(clean, "/")

	spaIndex := func() (string, bool) {
		if spa && existsFile(fsys, index) {
			return index, true
		}
		return "", false
	}

	if clean == "/" {
		if existsFile(fsys, index) {
			return index, true
		}
		return "", false
	}

	if strings.HasSuffix(p, "/") {
		name := rel + "/index.html"
		if existsFile(fsys, name) {
			return name, true
		}
		return spaIndex()
	}

	if path.Ext(clean) != "" {
		if existsFile(fsys, rel) {
			return rel, true
		}
		return "", false
	}

	if name := rel + "/index.html"; existsFile(fsys, name) {
		return name, true
	}
	return spaIndex()
}

func existsFile(fsys fs.FS, name string) bool {
	if name == "" || !fs.ValidPath(name) {
		return false
	}
	info, err := fs.Stat(fsys, name)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
