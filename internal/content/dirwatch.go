package content

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tvdn/tvdn-web/internal/cryptoutil"
	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/xerrors"
)

// DefaultDebounce lets a build finish writing before the directory is
// re-read.
const DefaultDebounce = 500 * time.Millisecond

type DirWatcherOptions struct {
	Logger     log.Logger
	Dir        string
	Manager    *Manager
	Limits     Limits
	Validation *ValidationOptions
	Debounce   time.Duration
	OnSwap     func(Meta)
}

// DirWatcher reloads a site directory into the Manager when it changes.
type DirWatcher struct {
	dir        string
	manager    *Manager
	logger     log.Logger
	limits     Limits
	validation ValidationOptions
	debounce   time.Duration
	onSwap     func(Meta)
	lastHash   string
}

func NewDirWatcher(opts DirWatcherOptions) *DirWatcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	validation := ValidationOptions{MinFiles: 1}
	if opts.Validation != nil {
		validation = *opts.Validation
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &DirWatcher{
		dir:        opts.Dir,
		manager:    opts.Manager,
		logger:     opts.Logger,
		limits:     opts.Limits,
		validation: validation,
		debounce:   opts.Debounce,
		onSwap:     opts.OnSwap,
	}
}

// Load reads the directory once, validates it, and swaps it in. A failed
// load leaves the current snapshot untouched.
func (w *DirWatcher) Load(ctx context.Context) error {
	fsys, err := LoadDir(w.dir, w.limits)
	if err != nil {
		return err
	}
	hash, err := treeHash(fsys)
	if err != nil {
		return xerrors.Wrap(err, "hash site dir")
	}
	if cryptoutil.HashEqual(hash, w.lastHash) {
		return nil
	}
	snap := &Snapshot{
		FS: fsys,
		Meta: Meta{
			Version:  readVersion(fsys, hash),
			Hash:     hash,
			Source:   SourceDir,
			LoadedAt: time.Now().UTC(),
		},
	}
	if err := ValidateSnapshot(snap, w.validation); err != nil {
		return err
	}
	w.manager.Set(*snap)
	w.lastHash = hash
	w.logger.Info(ctx, "site dir loaded", "dir", w.dir, "hash", truncHash(hash))
	notifySwap(ctx, w.logger, w.onSwap, snap.Meta)
	return nil
}

// Run watches the directory tree until ctx is cancelled. Bursts of events
// collapse into one reload after the debounce window.
func (w *DirWatcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Wrap(err, "create fsnotify watcher")
	}
	defer fw.Close()

	if err := addDirsRecursive(fw, w.dir); err != nil {
		return xerrors.Wrapf(err, "watch %s", w.dir)
	}
	w.logger.Info(ctx, "site dir watcher started", "dir", w.dir, "debounce", w.debounce.String())

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
		} else {
			timer.Reset(w.debounce)
		}
		pending = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			w.logger.Info(ctx, "site dir watcher stopped")
			return nil

		case <-pending:
			pending = nil
			if err := w.Load(ctx); err != nil {
				w.logger.Error(ctx, err, "site dir reload failed, keeping current content", "dir", w.dir)
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(fw, ev.Name); addErr != nil {
						w.logger.Warn(ctx, "site dir watcher: add new dir failed", "path", ev.Name, "error", addErr)
					}
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}

		case werr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(ctx, werr, "site dir watcher error")
		}
	}
}

func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(p)
		}
		return nil
	})
}
