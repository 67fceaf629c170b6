// Package webassets embeds the pages the server can always fall back to:
// a maintenance page and a minimal seed build of the site.
package webassets

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed fallback seed
var embedded embed.FS

// FaviconPath is where built sites keep the icon used on social cards.
const FaviconPath = "assets/favicons/favicon-194x194.png"

func FallbackFS() fs.FS {
	sub, err := fs.Sub(embedded, "fallback")
	if err != nil {
		panic(fmt.Errorf("webassets: fallback subfs: %w", err))
	}
	return sub
}

// SeedSiteFS returns the embedded seed build, and false when it lacks an
// index.html.
func SeedSiteFS() (fs.FS, bool) {
	sub, err := fs.Sub(embedded, "seed")
	if err != nil {
		return nil, false
	}
	if _, err := fs.Stat(sub, "index.html"); err != nil {
		return nil, false
	}
	return sub, true
}
