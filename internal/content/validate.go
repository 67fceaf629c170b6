package content

import (
	"io/fs"

	"github.com/tvdn/tvdn-web/internal/xerrors"
)

// ValidationOptions controls the checks run before a snapshot is swapped in.
type ValidationOptions struct {
	// MinFiles rejects snapshots with fewer files. 0 disables the check.
	MinFiles int
}

// DefaultValidationOptions expects at least the shell page and one asset.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{MinFiles: 2}
}

// ValidateSnapshot returns the first failed check, or nil.
func ValidateSnapshot(snap *Snapshot, opts ValidationOptions) error {
	if snap == nil {
		return xerrors.New("validate: snapshot is nil")
	}
	if snap.FS == nil {
		return xerrors.New("validate: snapshot has nil filesystem")
	}
	if err := checkIndexHTML(snap.FS); err != nil {
		return err
	}
	if opts.MinFiles > 0 {
		count, err := countFiles(snap.FS)
		if err != nil {
			return xerrors.Wrap(err, "validate: counting files")
		}
		if count < opts.MinFiles {
			return xerrors.Newf("validate: snapshot has %d files, minimum is %d", count, opts.MinFiles)
		}
	}
	return nil
}

func checkIndexHTML(fsys fs.FS) error {
	info, err := fs.Stat(fsys, "index.html")
	if err != nil {
		return xerrors.Wrap(err, "validate: index.html not found")
	}
	if info.IsDir() {
		return xerrors.New("validate: index.html is a directory")
	}
	if info.Size() == 0 {
		return xerrors.New("validate: index.html is empty")
	}
	return nil
}

func countFiles(fsys fs.FS) (int, error) {
	count := 0
	err := fs.WalkDir(fsys, ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}
