package sitehandler

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/tvdn/tvdn-web/internal/content"
	"github.com/tvdn/tvdn-web/internal/log"
)

var ErrInvalidOptions = errors.New("sitehandler: invalid options")

// SnapshotProvider is satisfied by *content.Manager.
type SnapshotProvider interface {
	Get() (*content.Snapshot, bool)
}

type Options struct {
	Logger log.Logger
	// Active content
	Content SnapshotProvider
	// Embedded pages served when there is no snapshot or no themed 404.
	FallbackFS fs.FS

	// File names inside the FS roots.
	// - MaintenanceFile and Fallback404File are read from FallbackFS
	// - IndexFile and Site404File are read from the active snapshot
	MaintenanceFile string // default: "maintenance.html"
	Fallback404File string // default: "404.html"
	Site404File     string // default: "404.html"
	IndexFile       string // default: "index.html"

	// DisableSPAFallback makes unknown extension-less paths 404 instead of
	// serving IndexFile.
	DisableSPAFallback bool

	HTMLCacheControl  string // default: "no-cache"
	AssetCacheControl string // default: "public, max-age=31536000, immutable"; fingerprinted files only
	OtherCacheControl string // default: "public, max-age=3600"
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
	if o.MaintenanceFile == "" {
		o.MaintenanceFile = "maintenance.html"
	}
	if o.Fallback404File == "" {
		o.Fallback404File = "404.html"
	}
	if o.Site404File == "" {
		o.Site404File = "404.html"
	}
	if o.IndexFile == "" {
		o.IndexFile = "index.html"
	}
	if o.HTMLCacheControl == "" {
		o.HTMLCacheControl = "no-cache"
	}
	if o.AssetCacheControl == "" {
		o.AssetCacheControl = "public, max-age=31536000, immutable"
	}
	if o.OtherCacheControl == "" {
		o.OtherCacheControl = "public, max-age=3600"
	}
}

func (o *Options) validate() error {
	if o.Content == nil {
		return fmt.Errorf("%w: Content is nil", ErrInvalidOptions)
	}
	if o.FallbackFS == nil {
		return fmt.Errorf("%w: FallbackFS is nil", ErrInvalidOptions)
	}
	// fail fast on boot if mispackaged
	if _, err := fs.Stat(o.FallbackFS, o.MaintenanceFile); err != nil {
		return fmt.Errorf("%w: missing %q in fallback FS: %v", ErrInvalidOptions, o.MaintenanceFile, err)
	}
	// the fallback 404 is optional; plain text is used without it
	return nil
}
