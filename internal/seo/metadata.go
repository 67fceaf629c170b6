// Package seo resolves per-route page metadata and injects the matching
// title, Open Graph, Twitter card and JSON-LD tags into served HTML.
package seo

import "time"

// Type is the Open Graph object type of a page.
type Type string

const (
	TypeWebsite Type = "website"
	TypeArticle Type = "article"
	TypeProfile Type = "profile"
)

// Metadata describes one page for search engines and link unfurlers.
type Metadata struct {
	Path        string
	Title       string
	Description string
	Type        Type
	Keywords    []string
	// Published and Modified are only set for CMS-backed articles.
	Published time.Time
	Modified  time.Time
}

// Source records where a Resolution came from.
type Source string

const (
	SourceStatic   Source = "static"
	SourceCMS      Source = "cms"
	SourceFallback Source = "fallback"
	SourceDefault  Source = "default"
)

// Resolution is the result of resolving a path. It is always usable; Source
// tells callers whether it is degraded.
type Resolution struct {
	Meta   Metadata
	Source Source
}

// Fallback reports whether the metadata is a stand-in: the CMS lookup
// failed or the path is unknown.
func (r Resolution) Fallback() bool {
	return r.Source == SourceFallback || r.Source == SourceDefault
}
