package content

import (
	"context"
	"fmt"
	"time"

	"github.com/tvdn/tvdn-web/internal/cryptoutil"
	"github.com/tvdn/tvdn-web/internal/log"
)

const (
	DefaultPollInterval = 30 * time.Second

	// maxBackoff caps exponential backoff on consecutive poll errors.
	maxBackoff = 5 * time.Minute

	defaultStaleThreshold = 30 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollSwapped
	pollHashError       // SSM failed; back off
	pollLoadError       // download, verify or extract failed
	pollValidationError // bundle loaded but unfit to serve
)

// BundleFetcher is what the Watcher needs from a Loader.
type BundleFetcher interface {
	FetchCurrentHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*Snapshot, error)
}

// WatcherMetrics is satisfied by metrics.ServerMetrics.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(stage string)
	ObserveBundleLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type WatcherOptions struct {
	Logger       log.Logger
	Loader       BundleFetcher
	Manager      *Manager
	PollInterval time.Duration

	// Validation defaults to DefaultValidationOptions().
	Validation *ValidationOptions

	// OnSwap runs on the poll goroutine after each swap. A panic is logged
	// and swallowed.
	OnSwap func(Meta)

	Metrics WatcherMetrics

	// StaleThreshold is how long polls may fail before the content is
	// reported stale. Defaults to 30m.
	StaleThreshold time.Duration
}

// Watcher polls SSM for a new bundle hash and hot-swaps the Manager.
type Watcher struct {
	loader     BundleFetcher
	manager    *Manager
	logger     log.Logger
	interval   time.Duration
	validation ValidationOptions
	onSwap     func(Meta)
	metrics    WatcherMetrics
	now        func() time.Time

	currentHash     string
	consecutiveErrs int

	staleThreshold time.Duration
	lastSuccessAt  time.Time
	stale          bool

	pollCount int64
	swapCount int64
}

func NewWatcher(opts *WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	validation := DefaultValidationOptions()
	if opts.Validation != nil {
		validation = *opts.Validation
	}
	stale := opts.StaleThreshold
	if stale <= 0 {
		stale = defaultStaleThreshold
	}

	// a bundle loaded at startup is not downloaded again on the first poll
	currentHash := ""
	if snap, ok := opts.Manager.Get(); ok {
		currentHash = snap.Meta.Hash
	}

	return &Watcher{
		loader:         opts.Loader,
		manager:        opts.Manager,
		logger:         opts.Logger,
		interval:       interval,
		validation:     validation,
		onSwap:         opts.OnSwap,
		metrics:        opts.Metrics,
		now:            time.Now,
		currentHash:    currentHash,
		staleThreshold: stale,
		lastSuccessAt:  time.Now(),
	}
}

// Run polls until ctx is cancelled. Launch as: go w.Run(ctx)
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "content watcher starting",
		"poll_interval", w.interval.String(),
		"current_hash", truncHash(w.currentHash),
	)

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "content watcher stopping",
				"reason", ctx.Err(),
				"polls", w.pollCount,
				"swaps", w.swapCount,
			)
			return ctx.Err()
		case <-timer.C:
			timer.Reset(w.afterPoll(ctx, w.checkOnce(ctx)))
		}
	}
}

// afterPoll updates backoff and staleness state and returns the delay
// before the next poll.
func (w *Watcher) afterPoll(ctx context.Context, result pollResult) time.Duration {
	if result != pollHashError {
		if w.consecutiveErrs > 0 {
			w.logger.Info(ctx, "content watcher recovered", "had_consecutive_errors", w.consecutiveErrs)
			w.consecutiveErrs = 0
		}
		w.setStale(ctx, false)
		return w.interval
	}

	w.consecutiveErrs++
	if since := w.now().Sub(w.lastSuccessAt); since > w.staleThreshold && !w.stale {
		w.logger.Error(ctx, fmt.Errorf("last successful poll was %s ago", since.Truncate(time.Second)),
			"content watcher: content is stale, unable to verify freshness")
		w.setStale(ctx, true)
	}
	backoff := w.backoffDuration()
	w.logger.Warn(ctx, "content watcher backing off",
		"consecutive_errors", w.consecutiveErrs,
		"next_poll_in", backoff.String(),
	)
	return backoff
}

func (w *Watcher) setStale(ctx context.Context, stale bool) {
	if w.stale == stale {
		return
	}
	if !stale {
		w.logger.Info(ctx, "content watcher staleness recovered")
	}
	w.stale = stale
	if w.metrics != nil {
		w.metrics.SetWatcherStale(stale)
	}
}

// checkOnce performs a single poll-compare-swap cycle.
func (w *Watcher) checkOnce(ctx context.Context) pollResult {
	w.pollCount++
	if w.metrics != nil {
		w.metrics.IncWatcherPolls()
	}

	hash, err := w.loader.FetchCurrentHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "content watcher: hash poll failed")
		if w.metrics != nil {
			w.metrics.IncWatcherError("ssm")
		}
		return pollHashError
	}

	now := w.now()
	w.lastSuccessAt = now
	if w.metrics != nil {
		w.metrics.SetWatcherLastSuccess(float64(now.Unix()))
	}

	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "content watcher: new bundle hash",
		"old_hash", truncHash(w.currentHash),
		"new_hash", truncHash(hash),
	)

	start := w.now()
	snap, err := w.loader.LoadHash(ctx, hash)
	if w.metrics != nil {
		w.metrics.ObserveBundleLoadDuration(w.now().Sub(start).Seconds())
	}
	if err != nil {
		w.logger.Error(ctx, err, "content watcher: failed to load bundle", "hash", truncHash(hash))
		if w.metrics != nil {
			w.metrics.IncWatcherError("load")
		}
		return pollLoadError
	}

	if err := ValidateSnapshot(snap, w.validation); err != nil {
		w.logger.Error(ctx, err, "content watcher: bundle failed validation, keeping current content",
			"rejected_hash", truncHash(hash),
			"current_hash", truncHash(w.currentHash),
		)
		if w.metrics != nil {
			w.metrics.IncWatcherError("validation")
		}
		return pollValidationError
	}

	old := w.currentHash
	w.manager.Set(*snap)
	w.currentHash = hash
	w.swapCount++
	if w.metrics != nil {
		w.metrics.IncWatcherSwaps()
	}

	w.logger.Info(ctx, "content watcher: bundle swapped",
		"old_hash", truncHash(old),
		"new_hash", truncHash(hash),
		"version", snap.Meta.Version,
		"total_swaps", w.swapCount,
	)
	notifySwap(ctx, w.logger, w.onSwap, snap.Meta)
	return pollSwapped
}

// backoffDuration doubles the interval per consecutive error, capped at
// maxBackoff.
func (w *Watcher) backoffDuration() time.Duration {
	d := w.interval
	for i := 0; i < w.consecutiveErrs && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func notifySwap(ctx context.Context, L log.Logger, fn func(Meta), m Meta) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			L.Error(ctx, fmt.Errorf("OnSwap panic: %v", r), "content swap callback panicked, continuing",
				"hash", truncHash(m.Hash))
		}
	}()
	fn(m)
}
