package content

import (
	"io/fs"
	"time"
)

// Snapshot is immutable once handed to a Manager.
type Snapshot struct {
	FS   fs.FS
	Meta Meta
}

// SeedSnapshot wraps the embedded site. version is usually the build
// version so responses still carry a meaningful X-Site-Version.
func SeedSnapshot(fsys fs.FS, version string) Snapshot {
	return Snapshot{
		FS: fsys,
		Meta: Meta{
			Version:  version,
			Source:   SourceSeed,
			LoadedAt: time.Now().UTC(),
		},
	}
}
