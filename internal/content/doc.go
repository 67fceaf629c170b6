// Package content owns the site snapshot: the built single-page app the
// server hands to browsers.
//
// A snapshot comes from one of three origins:
//   - the embedded seed site compiled into the binary
//   - a local directory, reloaded through [DirWatcher] on change
//   - a tar.gz bundle in S3 addressed by the sha256 published in SSM,
//     fetched by [Loader] and polled by [Watcher]
//
// [Manager] holds the active snapshot behind an atomic pointer so request
// handlers never lock. Every snapshot lives in memory; bundles and
// directories are read with entry, per-file and total size limits.
package content
