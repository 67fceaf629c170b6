package sitehandler

import (
	"testing"
	"testing/fstest"
)

// Files only need to exist; content doesn't matter for resolution.
func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":                &fstest.MapFile{Data: []byte("root")},
		"about/index.html":          &fstest.MapFile{Data: []byte("about")},
		"assets/index-BxY3k9Qa.js":  &fstest.MapFile{Data: []byte("js")},
		"assets/index-D4f1a2b3.css": &fstest.MapFile{Data: []byte("css")},
		"deep/nested/index.html":    &fstest.MapFile{Data: []byte("deep index")},
		"robots.txt":                &fstest.MapFile{Data: []byte("robots")},
		"favicon.png":               &fstest.MapFile{Data: []byte("png")},
		"file with spaces.html":     &fstest.MapFile{Data: []byte("spaces")},
	}
}

func TestResolvePath(t *testing.T) {
	fsys := testFS()

	tests := []struct {
		name     string
		path     string
		spa      bool
		wantFile string
		wantOK   bool
	}{
		{"root", "/", true, "index.html", true},
		{"empty is root", "", true, "index.html", true},
		{"no leading slash", "about", true, "about/index.html", true},

		{"hashed js", "/assets/index-BxY3k9Qa.js", true, "assets/index-BxY3k9Qa.js", true},
		{"txt", "/robots.txt", true, "robots.txt", true},
		{"spaces", "/file with spaces.html", true, "file with spaces.html", true},

		{"dir slash", "/about/", true, "about/index.html", true},
		{"dir no slash", "/about", true, "about/index.html", true},
		{"deep dir", "/deep/nested", true, "deep/nested/index.html", true},
		{"double slash collapses", "//about", true, "about/index.html", true},

		{"spa route", "/blog/building-an-edge", true, "index.html", true},
		{"spa route trailing slash", "/projects/", true, "index.html", true},
		{"spa disabled", "/blog/building-an-edge", false, "", false},
		{"spa disabled dir slash", "/projects/", false, "", false},

		{"missing asset", "/assets/index-0000aaaa.js", true, "", false},
		{"missing image", "/images/cover.webp", true, "", false},
		{"dir with extension-like name", "/about.old", true, "", false},

		{"dotdot", "/../etc/passwd", true, "", false},
		{"dotdot mid", "/about/../index.html", true, "", false},
		{"dot segment", "/./index.html", true, "", false},
		{"backslash", `/about\index.html`, true, "", false},
		{"nul", "/index.html\x00", true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file, ok := resolvePath(tt.path, fsys, "index.html", tt.spa)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (file=%q)", ok, tt.wantOK, file)
			}
			if file != tt.wantFile {
				t.Fatalf("file = %q, want %q", file, tt.wantFile)
			}
		})
	}
}

func TestResolvePath_EmptyFS(t *testing.T) {
	for _, p := range []string{"/", "/about", "/app.js"} {
		if file, ok := resolvePath(p, fstest.MapFS{}, "index.html", true); ok {
			t.Errorf("resolvePath(%q) on empty FS = %q, want not found", p, file)
		}
	}
}

func TestExistsFile(t *testing.T) {
	fsys := testFS()

	tests := []struct {
		name string
		file string
		want bool
	}{
		{"file", "index.html", true},
		{"nested file", "about/index.html", true},
		{"directory", "about", false},
		{"missing", "nope.html", false},
		{"empty", "", false},
		{"invalid path", "/index.html", false},
		{"dotdot", "../index.html", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := existsFile(fsys, tt.file); got != tt.want {
				t.Fatalf("existsFile(%q) = %v, want %v", tt.file, got, tt.want)
			}
		})
	}
}
