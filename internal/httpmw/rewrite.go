package httpmw

import (
	"bytes"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

// HTMLTransform rewrites a complete HTML body. It may edit the response
// headers in h.
type HTMLTransform func(r *http.Request, h http.Header, body []byte) []byte

// PagePath reports whether a request targets a page rather than a static
// asset or a generated image.
func PagePath(r *http.Request) bool {
	p := r.URL.Path
	if strings.Contains(p, ".") {
		return false
	}
	return !(p == "/og" || strings.HasPrefix(p, "/og/") || strings.HasPrefix(p, "/assets"))
}

// IsHTML reports whether a Content-Type value is text/html.
func IsHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/html"
}

// conditionalHeaders would let the origin answer 304 or 206, neither of
// which can be rewritten.
var conditionalHeaders = []string{"If-Modified-Since", "If-None-Match", "If-Range", "Range"}

// RewriteHTML buffers GET responses for requests accepted by match. A 200
// text/html body is passed through fn; anything else is replayed unchanged.
func RewriteHTML(match func(*http.Request) bool, fn HTMLTransform) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || (match != nil && !match(r)) {
				next.ServeHTTP(w, r)
				return
			}
			r = r.Clone(r.Context())
			for _, h := range conditionalHeaders {
				r.Header.Del(h)
			}

			buf := &bufferedResponse{header: w.Header().Clone()}
			next.ServeHTTP(buf, r)

			status := buf.status
			if status == 0 {
				status = http.StatusOK
			}
			body := buf.body.Bytes()
			if status == http.StatusOK && IsHTML(buf.header.Get("Content-Type")) {
				body = fn(r, buf.header, body)
				for _, h := range []string{"ETag", "Last-Modified", "Accept-Ranges"} {
					buf.header.Del(h)
				}
				buf.header.Set("Content-Length", strconv.Itoa(len(body)))
			}

			dst := w.Header()
			for k := range dst {
				if _, ok := buf.header[k]; !ok {
					dst.Del(k)
				}
			}
			for k, v := range buf.header {
				dst[k] = v
			}
			w.WriteHeader(status)
			_, _ = w.Write(body)
		})
	}
}

// bufferedResponse holds a whole response in memory until the rewrite runs.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}
