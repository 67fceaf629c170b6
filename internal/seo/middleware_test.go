package seo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tvdn/tvdn-web/internal/htmlrewrite"
	"github.com/tvdn/tvdn-web/internal/httpmw"
)

const page = `<!doctype html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>tvdn.me</title>
<meta name="description" content="static">
<meta property="og:title" content="static">
<link rel="icon" href="/favicon.ico">
<script type="module" crossorigin src="/assets/index.js"></script>
</head>
<body><div id="root"></div><svg><title>logo</title></svg></body>
</html>`

func origin(status int, ctype, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", ctype)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

var ogTitleRe = `<meta property="og:title" content="`

func TestMiddleware_EveryPageHasOneTitle(t *testing.T) {
	posts := &fakePosts{err: context.DeadlineExceeded}
	h := Middleware(NewResolver(nil, WithPosts(posts)), MiddlewareOptions{BaseURL: "https://tvdn.me/"})(origin(200, "text/html; charset=utf-8", page))

	for _, p := range []string{"/", "/about", "/blog", "/blog/failing-post", "/does/not/exist", "/contact/"} {
		t.Run(p, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
			body := rec.Body.Bytes()

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if n := htmlrewrite.CountTags(body, "title"); n != 2 {
				// one in head, one inside the svg
				t.Fatalf("title tags = %d\n%s", n, body)
			}
			s := string(body)
			if strings.Count(s, ogTitleRe) != 1 || strings.Contains(s, ogTitleRe+`"`) {
				t.Fatalf("og:title not unique or empty:\n%s", s)
			}
			if strings.Contains(s, `content="static"`) {
				t.Fatal("stale head tags survived")
			}
			if !strings.Contains(s, `<link rel="icon" href="/favicon.ico">`) || !strings.Contains(s, `<svg><title>logo</title></svg>`) {
				t.Fatal("unrelated markup changed")
			}
			if !strings.Contains(s, `<link rel="canonical" href="https://tvdn.me`) {
				t.Fatal("canonical should use the configured base")
			}
		})
	}
}

func TestMiddleware_InsertsRightAfterHead(t *testing.T) {
	h := Middleware(NewResolver(nil), MiddlewareOptions{BaseURL: "https://tvdn.me"})(origin(200, "text/html", "<html><head><meta charset=utf-8></head><body></body></html>"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/about", nil))
	if !strings.HasPrefix(rec.Body.String(), "<html><head>\n<title>About | Thomas van den Nieuwenhoff</title>") {
		t.Fatalf("body = %s", rec.Body.String())
	}
	if !strings.HasSuffix(rec.Body.String(), "<meta charset=utf-8></head><body></body></html>") {
		t.Fatalf("tail changed: %s", rec.Body.String())
	}
}

func TestMiddleware_DerivesBaseFromRequest(t *testing.T) {
	h := Middleware(NewResolver(nil), MiddlewareOptions{})(origin(200, "text/html", page))
	req := httptest.NewRequest(http.MethodGet, "/projects", nil)
	req.Host = "preview.tvdn.me"
	req.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	s := rec.Body.String()
	if !strings.Contains(s, `<link rel="canonical" href="https://preview.tvdn.me/projects">`) {
		t.Fatalf("canonical missing:\n%s", s)
	}
	if !strings.Contains(s, `content="https://preview.tvdn.me/og?title=Projects`) {
		t.Fatalf("og:image should point at the request host:\n%s", s)
	}
}

func TestMiddleware_Skips(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		status int
		ctype  string
	}{
		{"asset", http.MethodGet, "/assets/index.js", 200, "text/html"},
		{"dotted", http.MethodGet, "/robots.txt", 200, "text/html"},
		{"og", http.MethodGet, "/og", 200, "text/html"},
		{"json", http.MethodGet, "/about", 200, "application/json"},
		{"not found", http.MethodGet, "/about", 404, "text/html"},
		{"head", http.MethodHead, "/about", 200, "text/html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Middleware(NewResolver(nil), MiddlewareOptions{BaseURL: "https://tvdn.me"})(origin(tt.status, tt.ctype, page))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Body.String() != page {
				t.Fatal("body should pass through untouched")
			}
		})
	}
}

// The CSP layer wraps meta injection, so the JSON-LD block must carry the
// same nonce as the header.
func TestMiddleware_WithCSPNonce(t *testing.T) {
	h := httpmw.Chain(origin(200, "text/html", page),
		httpmw.CSPNonce(httpmw.DefaultPolicy()),
		Middleware(NewResolver(nil), MiddlewareOptions{BaseURL: "https://tvdn.me"}),
	)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blog", nil))

	nonces := htmlrewrite.ScriptNonces(rec.Body.Bytes())
	if len(nonces) != 2 {
		t.Fatalf("scripts = %d\n%s", len(nonces), rec.Body.String())
	}
	csp := rec.Header().Get("Content-Security-Policy")
	for _, n := range nonces {
		if n == "" || !strings.Contains(csp, "'nonce-"+n+"'") {
			t.Fatalf("nonce %q not in policy %q", n, csp)
		}
	}
}
