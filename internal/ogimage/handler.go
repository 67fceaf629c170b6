package ogimage

import (
	"bytes"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tvdn/tvdn-web/internal/httpmw"
	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/otelx"
)

// Path is where cards are served.
const Path = "/og"

const (
	DefaultTitle       = "Thomas van den Nieuwenhoff"
	DefaultDescription = "Lead Cyber Security Consultant"
	DefaultType        = "website"
)

type Handler struct {
	renderer *Renderer
	limit    func(http.Handler) http.Handler
	observe  func(time.Duration)
}

type HandlerOption func(*Handler)

func WithRateLimit(mw func(http.Handler) http.Handler) HandlerOption {
	return func(h *Handler) { h.limit = mw }
}

// OnRender receives the time spent drawing and encoding each card.
func OnRender(fn func(time.Duration)) HandlerOption {
	return func(h *Handler) { h.observe = fn }
}

func NewHandler(r *Renderer, opts ...HandlerOption) *Handler {
	h := &Handler{renderer: r}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.limit != nil {
			r.Use(h.limit)
		}
		r.Use(httpmw.Scope("ogimage"))
		r.Get(Path, h.ServeHTTP)
	})
}

// CardFromQuery applies the defaults to empty or missing parameters.
func CardFromQuery(r *http.Request) Card {
	q := r.URL.Query()
	or := func(v, def string) string {
		if v == "" {
			return def
		}
		return v
	}
	return Card{
		Title:       or(q.Get("title"), DefaultTitle),
		Description: or(q.Get("description"), DefaultDescription),
		Type:        or(q.Get("type"), DefaultType),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	card := CardFromQuery(r)
	ctx, span := otelx.Tracer().Start(ctx, "ogimage.render", trace.WithAttributes(
		attribute.String("og.type", card.Type),
		attribute.Int("og.title_len", len(card.Title)),
	))
	img, err := h.renderer.Render(ctx, card)
	var buf bytes.Buffer
	if err == nil {
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		err = enc.Encode(&buf, img)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
	}
	span.End()
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "og image render failed")
		http.Error(w, "failed to render image", http.StatusInternalServerError)
		return
	}
	if h.observe != nil {
		h.observe(time.Since(start))
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(buf.Bytes())
	}
}
