package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"testing/fstest"

	"github.com/tvdn/tvdn-web/internal/pathutil"
	"github.com/tvdn/tvdn-web/internal/xerrors"
)

// Limits bound what a bundle or directory may expand to in memory.
type Limits struct {
	MaxBundle  int64 // compressed bundle
	MaxFile    int64 // single file
	MaxTotal   int64 // all files together
	MaxEntries int
}

func DefaultLimits() Limits {
	return Limits{
		MaxBundle:  50 << 20,
		MaxFile:    10 << 20,
		MaxTotal:   100 << 20,
		MaxEntries: 10_000,
	}
}

var ErrLimitExceeded = errors.New("content: size limit exceeded")

// readWithHash reads at most maxSize bytes from r and returns them with
// their hex sha256.
func readWithHash(r io.Reader, maxSize int64) ([]byte, string, error) {
	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(io.LimitReader(r, maxSize+1), h))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > maxSize {
		return nil, "", xerrors.Newf("bundle exceeds %d bytes: %w", maxSize, ErrLimitExceeded)
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

type memBuilder struct {
	lim   Limits
	fs    fstest.MapFS
	total int64
}

func newMemBuilder(lim Limits) *memBuilder {
	return &memBuilder{lim: lim, fs: make(fstest.MapFS)}
}

func (b *memBuilder) add(name string, r io.Reader, size int64, mode fs.FileMode) error {
	if b.lim.MaxEntries > 0 && len(b.fs) >= b.lim.MaxEntries {
		return xerrors.Newf("more than %d files: %w", b.lim.MaxEntries, ErrLimitExceeded)
	}
	if size > b.lim.MaxFile {
		return xerrors.Newf("file %s is %d bytes, limit %d: %w", name, size, b.lim.MaxFile, ErrLimitExceeded)
	}
	data, err := io.ReadAll(io.LimitReader(r, b.lim.MaxFile+1))
	if err != nil {
		return xerrors.Wrapf(err, "read %s", name)
	}
	if int64(len(data)) > b.lim.MaxFile {
		return xerrors.Newf("file %s exceeds %d bytes: %w", name, b.lim.MaxFile, ErrLimitExceeded)
	}
	b.total += int64(len(data))
	if b.total > b.lim.MaxTotal {
		return xerrors.Newf("snapshot exceeds %d bytes: %w", b.lim.MaxTotal, ErrLimitExceeded)
	}
	b.fs[name] = &fstest.MapFile{Data: data, Mode: mode.Perm()}
	return nil
}

// extractTarGz expands a gzipped tarball into memory. Only regular files
// and directories are accepted.
func extractTarGz(data []byte, lim Limits) (fs.FS, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, xerrors.Wrap(err, "open gzip")
	}
	defer gr.Close()

	b := newMemBuilder(lim)
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, xerrors.Wrap(err, "read tar header")
		}
		name, err := pathutil.EntryName(hdr.Name)
		if err != nil {
			return nil, err
		}
		if name == "" {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			// implicit in MapFS
		case tar.TypeReg:
			if err := b.add(name, tr, hdr.Size, hdr.FileInfo().Mode()); err != nil {
				return nil, err
			}
		default:
			return nil, xerrors.Newf("unsupported entry %s (type %q)", name, hdr.Typeflag)
		}
	}
	return b.fs, nil
}

// LoadDir reads dir into memory. Symlinks and other non-regular files are
// skipped so the snapshot cannot reach outside dir.
func LoadDir(dir string, lim Limits) (fs.FS, error) {
	root := os.DirFS(dir)
	b := newMemBuilder(lim)
	err := fs.WalkDir(root, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		name, err := pathutil.EntryName(p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		f, err := root.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		return b.add(name, f, info.Size(), info.Mode())
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "load %s", dir)
	}
	return b.fs, nil
}
