package httpserver_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/tvdn/tvdn-web/internal/content"
	"github.com/tvdn/tvdn-web/internal/feeds"
	"github.com/tvdn/tvdn-web/internal/health"
	"github.com/tvdn/tvdn-web/internal/httpmw"
	"github.com/tvdn/tvdn-web/internal/httpserver"
	"github.com/tvdn/tvdn-web/internal/linkpreview"
	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/metrics"
	"github.com/tvdn/tvdn-web/internal/seo"
	"github.com/tvdn/tvdn-web/internal/sitehandler"
)

var (
	headerNonce = regexp.MustCompile(`'nonce-([^']+)'`)
	scriptNonce = regexp.MustCompile(`<script[^>]*nonce="([^"]+)"`)
)

// TestIntegration_FullStack wires the public handler the way main does:
// the site handler behind meta injection and CSP nonces, feeds as explicit
// routes, metrics and site headers as middleware.
func TestIntegration_FullStack(t *testing.T) {
	t.Parallel()

	siteFS := fstest.MapFS{
		"index.html": {Data: []byte(`<!doctype html><html><head><meta charset="utf-8"><title>Vite App</title>` +
			`<script type="module" src="/assets/index-BxY3k9Qa.js"></script></head><body><div id="root"></div></body></html>`)},
		"assets/index-BxY3k9Qa.js": {Data: []byte("console.log('app')")},
		"favicon.png":              {Data: []byte("PNG")},
	}

	mgr := content.NewManager()
	mgr.Set(content.Snapshot{
		FS:   siteFS,
		Meta: content.Meta{Version: "2026.03.14-1", Hash: strings.Repeat("c0", 32), Source: content.SourceSeed},
	})

	site, err := sitehandler.New(sitehandler.Options{
		Logger:     log.Nop(),
		Content:    mgr,
		FallbackFS: fstest.MapFS{"maintenance.html": {Data: []byte("<h1>Maintenance</h1>")}},
	})
	if err != nil {
		t.Fatalf("sitehandler.New: %v", err)
	}

	m := metrics.New()
	table := seo.DefaultTable()
	res := seo.NewResolver(table, seo.OnResolve(func(s seo.Source) { m.IncMetaResolution(string(s)) }))
	const base = "https://tvdn.me"

	var pages http.Handler = site
	pages = seo.Middleware(res, seo.MiddlewareOptions{BaseURL: base})(pages)
	pages = httpmw.CSPNonce(httpmw.DefaultPolicy(), httpmw.OnNonce(m.IncCSPNonce))(pages)

	handler := httpserver.NewHandler(httpserver.Options{
		Logger:      log.Nop(),
		MetricsMW:   m.Middleware,
		SiteInfo:    mgr,
		Readiness:   health.CheckFunc(func(ctx context.Context) error { return mgr.ReadyErr() }),
		Routes:      []httpserver.RouteRegistrar{feeds.New(feeds.Options{BaseURL: base, Table: table})},
		SiteHandler: pages,
	})

	get := func(t *testing.T, path string) (*httptest.ResponseRecorder, string) {
		t.Helper()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
		body, _ := io.ReadAll(rec.Body)
		return rec, string(body)
	}

	t.Run("page gets meta tags and matching nonces", func(t *testing.T) {
		t.Parallel()
		rec, body := get(t, "/about")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if !strings.Contains(body, "<title>About | Thomas van den Nieuwenhoff</title>") {
			t.Fatalf("title not injected: %s", body)
		}
		if strings.Contains(body, "Vite App") {
			t.Fatal("original title kept alongside injected one")
		}
		if !strings.Contains(body, `<link rel="canonical" href="https://tvdn.me/about">`) {
			t.Fatalf("canonical missing: %s", body)
		}

		hm := headerNonce.FindStringSubmatch(rec.Header().Get("Content-Security-Policy"))
		if hm == nil {
			t.Fatalf("CSP has no nonce: %q", rec.Header().Get("Content-Security-Policy"))
		}
		scripts := scriptNonce.FindAllStringSubmatch(body, -1)
		// the module script and the JSON-LD block
		if len(scripts) < 2 {
			t.Fatalf("nonced scripts = %d, want at least 2", len(scripts))
		}
		for _, s := range scripts {
			if s[1] != hm[1] {
				t.Fatalf("script nonce %q != header nonce %q", s[1], hm[1])
			}
		}

		if rec.Header().Get("Cache-Control") != "no-cache" {
			t.Fatalf("Cache-Control = %q, want no-cache", rec.Header().Get("Cache-Control"))
		}
		if rec.Header().Get("X-Site-Version") != "2026.03.14-1" {
			t.Fatalf("X-Site-Version = %q", rec.Header().Get("X-Site-Version"))
		}
		if rec.Header().Get("Strict-Transport-Security") == "" {
			t.Fatal("HSTS missing")
		}
	})

	t.Run("nonce differs per request", func(t *testing.T) {
		t.Parallel()
		a, _ := get(t, "/")
		b, _ := get(t, "/")
		if a.Header().Get("Content-Security-Policy") == b.Header().Get("Content-Security-Policy") {
			t.Fatal("two requests shared a nonce")
		}
	})

	t.Run("hashed asset is immutable and untouched", func(t *testing.T) {
		t.Parallel()
		rec, body := get(t, "/assets/index-BxY3k9Qa.js")

		if rec.Code != http.StatusOK || body != "console.log('app')" {
			t.Fatalf("asset = %d %q", rec.Code, body)
		}
		if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=31536000, immutable" {
			t.Fatalf("Cache-Control = %q", cc)
		}
		if csp := rec.Header().Get("Content-Security-Policy"); strings.Contains(csp, "nonce-") {
			t.Fatalf("asset CSP carries a nonce: %q", csp)
		}
	})

	t.Run("missing asset is 404", func(t *testing.T) {
		t.Parallel()
		rec, _ := get(t, "/assets/gone-00000000.js")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("spa route serves index", func(t *testing.T) {
		t.Parallel()
		rec, body := get(t, "/blog/zero-trust-in-practice")
		if rec.Code != http.StatusOK || !strings.Contains(body, `<div id="root">`) {
			t.Fatalf("spa fallback = %d %q", rec.Code, body)
		}
		if !strings.Contains(body, `<meta property="og:type" content="article">`) {
			t.Fatalf("blog fallback metadata missing: %s", body)
		}
	})

	t.Run("sitemap is an explicit route", func(t *testing.T) {
		t.Parallel()
		rec, body := get(t, feeds.SitemapPath)
		if rec.Code != http.StatusOK || !strings.Contains(body, "<loc>https://tvdn.me/about</loc>") {
			t.Fatalf("sitemap = %d %q", rec.Code, body)
		}
		if strings.Contains(rec.Header().Get("Content-Security-Policy"), "nonce-") {
			t.Fatal("sitemap went through the page stack")
		}
	})

	t.Run("readiness reflects the snapshot", func(t *testing.T) {
		t.Parallel()
		rec, _ := get(t, health.ReadyPath)
		if rec.Code != http.StatusOK {
			t.Fatalf("ready = %d, want 200", rec.Code)
		}
	})

	t.Run("post is rejected by the site", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x")))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", rec.Code)
		}
	})

	t.Run("requests are counted under the site route", func(t *testing.T) {
		t.Parallel()
		get(t, "/projects")
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if !strings.Contains(rec.Body.String(), `route="/*"`) {
			t.Fatalf("no series labelled with the site route:\n%s", rec.Body.String())
		}
	})
}

func TestIntegration_Maintenance(t *testing.T) {
	t.Parallel()

	mgr := content.NewManager()
	site, err := sitehandler.New(sitehandler.Options{
		Content:    mgr,
		FallbackFS: fstest.MapFS{"maintenance.html": {Data: []byte("<h1>Maintenance</h1>")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	handler := httpserver.NewHandler(httpserver.Options{
		Logger:      log.Nop(),
		Readiness:   health.CheckFunc(func(ctx context.Context) error { return mgr.ReadyErr() }),
		SiteHandler: site,
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable || rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("maintenance = %d Retry-After %q", rec.Code, rec.Header().Get("Retry-After"))
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, health.ReadyPath, nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready = %d, want 503 before the first snapshot", rec.Code)
	}
}

// TestIntegration_LinkPreviewUserAgent fetches through the public router
// with the fetcher configured as main configures it and checks what the
// upstream site sees.
func TestIntegration_LinkPreviewUserAgent(t *testing.T) {
	t.Parallel()

	uaSeen := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uaSeen <- r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, `<html><head><meta property="og:title" content="Upstream"></head></html>`)
	}))
	t.Cleanup(upstream.Close)

	api := linkpreview.NewAPI(linkpreview.NewFetcher(linkpreview.Options{
		Timeout:      5 * time.Second,
		UserAgent:    linkpreview.DefaultUserAgent,
		AllowPrivate: true,
	}))
	handler := httpserver.NewHandler(httpserver.Options{
		Logger: log.Nop(),
		Routes: []httpserver.RouteRegistrar{api},
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, linkpreview.Path+"?url="+upstream.URL+"/post", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	const wantUA = "Mozilla/5.0 (compatible; LinkPreviewBot/1.0)"
	select {
	case got := <-uaSeen:
		if got != wantUA {
			t.Fatalf("upstream User-Agent = %q, want %q", got, wantUA)
		}
	default:
		t.Fatal("upstream was never called")
	}

	var p linkpreview.Preview
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Title != "Upstream" {
		t.Fatalf("title = %q, want Upstream", p.Title)
	}
}
