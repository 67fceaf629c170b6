package linkpreview

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tvdn/tvdn-web/internal/httpmw"
	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/xerrors"
)

// Path is where the API is mounted.
const Path = "/api/og-metadata"

// PreviewFetcher is implemented by *Fetcher.
type PreviewFetcher interface {
	Fetch(ctx context.Context, target string) (Preview, error)
}

type API struct {
	fetcher PreviewFetcher
	limit   func(http.Handler) http.Handler
	observe func(outcome string)
}

type APIOption func(*API)

// WithRateLimit wraps the endpoint in a dedicated limiter.
func WithRateLimit(mw func(http.Handler) http.Handler) APIOption {
	return func(a *API) { a.limit = mw }
}

// OnFetch is called with ok, invalid or error after every lookup.
func OnFetch(fn func(outcome string)) APIOption {
	return func(a *API) { a.observe = fn }
}

func NewAPI(f PreviewFetcher, opts ...APIOption) *API {
	a := &API{fetcher: f}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes mounts GET, POST and the OPTIONS preflight under Path.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpmw.CORS(httpmw.CORSOptions{
			AllowOrigin:  "*",
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{"Content-Type"},
		}))
		if a.limit != nil {
			r.Use(a.limit)
		}
		r.Use(httpmw.Scope("linkpreview"))
		r.Get(Path, a.HandleMetadata)
		r.Post(Path, a.HandleMetadata)
		// answered by the CORS middleware
		r.Options(Path, func(http.ResponseWriter, *http.Request) {})
	})
}

type errorResponse struct {
	Error string `json:"error"`
	URL   string `json:"url,omitempty"`
}

// HandleMetadata serves the preview for ?url=. Fetch failures are reported
// as a JSON error and never escape as a panic or an empty response.
func (a *API) HandleMetadata(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	target := r.URL.Query().Get("url")
	if target == "" {
		a.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "URL parameter is required"}, false)
		return
	}

	p, err := a.fetcher.Fetch(ctx, target)
	if err != nil {
		outcome := "error"
		if xerrors.IsKind(err, xerrors.KindInvalid) {
			outcome = "invalid"
		}
		a.note(outcome)
		log.FromContext(ctx).Warn(ctx, "link preview fetch failed",
			"target", target,
			"err", err.Error(),
			"error_kind", string(xerrors.KindOf(err)),
		)
		a.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "Failed to fetch metadata", URL: target}, false)
		return
	}

	a.note("ok")
	a.writeJSON(ctx, w, http.StatusOK, p, true)
}

func (a *API) note(outcome string) {
	if a.observe != nil {
		a.observe(outcome)
	}
}

func (a *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any, cacheable bool) {
	w.Header().Set("Content-Type", "application/json")
	if cacheable {
		w.Header().Set("Cache-Control", "public, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.FromContext(ctx).Warn(ctx, "failed to encode JSON response", "err", err.Error())
	}
}
