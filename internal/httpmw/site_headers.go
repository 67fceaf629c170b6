package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderSiteVersion = "X-Site-Version"
	HeaderSiteHash    = "X-Site-Hash"
	HeaderTraceID     = "X-Trace-Id"
)

// SiteInfo describes the site build currently being served.
type SiteInfo interface {
	ContentVersion() string
	ContentHash() string
}

// SiteHeaders reports the served site build in X-Site-Version and
// X-Site-Hash (first 12 hex chars), and on the request span.
func SiteHeaders(info SiteInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if info == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v, h := info.ContentVersion(), info.ContentHash()
			span := trace.SpanFromContext(r.Context())
			if v != "" {
				w.Header().Set(HeaderSiteVersion, v)
				span.SetAttributes(attribute.String("site.version", v))
			}
			if h != "" {
				short := h
				if len(short) > 12 {
					short = short[:12]
				}
				w.Header().Set(HeaderSiteHash, short)
				span.SetAttributes(attribute.String("site.hash", h))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TraceID returns the trace id of sampled requests in X-Trace-Id so a bug
// report can be matched to its trace. Unsampled traces are not exported and
// get no header.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() && sc.IsSampled() {
			w.Header().Set(HeaderTraceID, sc.TraceID().String())
		}
		next.ServeHTTP(w, r)
	})
}
