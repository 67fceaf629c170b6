// Package provenancehttp reports which site build and which server build
// are answering requests.
package provenancehttp

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tvdn/tvdn-web/internal/content"
	"github.com/tvdn/tvdn-web/internal/httpmw"
	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/version"
)

const (
	ContentPath = "/api/provenance/content"
	BuildPath   = "/api/provenance/build"
)

// SnapshotProvider is satisfied by *content.Manager.
type SnapshotProvider interface {
	Get() (*content.Snapshot, bool)
}

type API struct {
	content SnapshotProvider
	build   version.Info
	logger  log.Logger
	now     func() time.Time

	mu      sync.Mutex
	summary map[string]fileSummary // by snapshot hash
}

func NewAPI(c SnapshotProvider, build version.Info, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		content: c,
		build:   build,
		logger:  logger,
		now:     time.Now,
		summary: make(map[string]fileSummary),
	}
}

func (api *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpmw.Scope("provenance"))
		r.Get(ContentPath, api.HandleContent)
		r.Get(BuildPath, api.HandleBuild)
	})
}

// ContentResponse describes the active snapshot.
type ContentResponse struct {
	Version    string         `json:"version,omitempty"`
	Hash       string         `json:"hash,omitempty"`
	Source     content.Source `json:"source,omitempty"`
	LoadedAt   time.Time      `json:"loaded_at,omitzero"`
	ServerTime time.Time      `json:"server_time"`
	TotalFiles int            `json:"total_files"`
	TotalSize  int64          `json:"total_size"`
	Error      string         `json:"error,omitempty"`
}

type fileSummary struct {
	files int
	size  int64
}

func (api *API) HandleContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := api.now().UTC().Truncate(time.Second)

	snap, ok := api.content.Get()
	if !ok {
		api.writeJSON(ctx, w, http.StatusServiceUnavailable, ContentResponse{
			ServerTime: now,
			Error:      "no content loaded",
		})
		return
	}

	sum, err := api.summarize(snap)
	if err != nil {
		api.logger.Warn(ctx, "summarizing snapshot failed", "hash", snap.Meta.Hash, "error", err)
	}

	api.writeJSON(ctx, w, http.StatusOK, ContentResponse{
		Version:    snap.Meta.Version,
		Hash:       snap.Meta.Hash,
		Source:     snap.Meta.Source,
		LoadedAt:   snap.Meta.LoadedAt.UTC().Truncate(time.Second),
		ServerTime: now,
		TotalFiles: sum.files,
		TotalSize:  sum.size,
	})
}

func (api *API) HandleBuild(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(r.Context(), w, http.StatusOK, api.build)
}

// summarize walks the snapshot once per hash. Seed snapshots have no hash
// and are walked every time; they are small.
func (api *API) summarize(snap *content.Snapshot) (fileSummary, error) {
	key := snap.Meta.Hash
	if key != "" {
		api.mu.Lock()
		s, ok := api.summary[key]
		api.mu.Unlock()
		if ok {
			return s, nil
		}
	}

	var s fileSummary
	err := fs.WalkDir(snap.FS, ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		s.files++
		s.size += info.Size()
		return nil
	})
	if err != nil {
		return s, err
	}

	if key != "" {
		api.mu.Lock()
		// one entry is enough; older bundles are never served again
		clear(api.summary)
		api.summary[key] = s
		api.mu.Unlock()
	}
	return s, nil
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
