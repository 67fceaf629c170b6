package feeds

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tvdn/tvdn-web/internal/cms"
	"github.com/tvdn/tvdn-web/internal/xerrors"
)

var (
	fixedNow  = time.Date(2026, 3, 14, 22, 30, 0, 0, time.UTC)
	published = time.Date(2025, 11, 2, 9, 0, 0, 0, time.UTC)
	modified  = time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC)
)

type fakeLister struct {
	posts []cms.Post
	err   error
	calls atomic.Int32
}

func (f *fakeLister) ListPosts(context.Context) ([]cms.Post, error) {
	f.calls.Add(1)
	return f.posts, f.err
}

func samplePosts() []cms.Post {
	return []cms.Post{
		{ID: "1", Slug: "zero-trust-in-practice", Title: "Zero Trust in practice", Excerpt: "Notes from the field.", Content: "# Intro\n\nSome **bold** text.", Published: published, Modified: modified},
		{ID: "2", Slug: "first-post", Title: "First post", Excerpt: "Hello & welcome", Published: published},
	}
}

func newRouter(opts Options) http.Handler {
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	r := chi.NewRouter()
	New(opts).RegisterRoutes(r)
	return r
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, rec.Code)
	}
	return rec
}

func parseSitemap(t *testing.T, body string) urlset {
	t.Helper()
	var set urlset
	if err := xml.Unmarshal([]byte(body), &set); err != nil {
		t.Fatalf("sitemap does not parse: %v\n%s", err, body)
	}
	return set
}

func TestSitemap(t *testing.T) {
	h := newRouter(Options{BaseURL: "https://tvdn.me/", Posts: &fakeLister{posts: samplePosts()}})
	rec := get(t, h, SitemapPath)

	if ct := rec.Header().Get("Content-Type"); ct != "application/xml; charset=utf-8" {
		t.Fatalf("content-type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Fatalf("cache-control = %q", cc)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, xml.Header) || !strings.Contains(body, `<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`) {
		t.Fatalf("unexpected preamble:\n%s", body)
	}

	set := parseSitemap(t, body)
	want := []sitemapURL{
		{"https://tvdn.me/", "2026-03-14", "monthly", "1.0"},
		{"https://tvdn.me/about", "2026-03-14", "monthly", "0.8"},
		{"https://tvdn.me/projects", "2026-03-14", "monthly", "0.8"},
		{"https://tvdn.me/blog", "2026-03-14", "weekly", "0.9"},
		{"https://tvdn.me/contact", "2026-03-14", "yearly", "0.6"},
		{"https://tvdn.me/privacy", "2026-03-14", "yearly", "0.3"},
		{"https://tvdn.me/cookies", "2026-03-14", "yearly", "0.3"},
		{"https://tvdn.me/notice", "2026-03-14", "yearly", "0.3"},
		{"https://tvdn.me/blog/zero-trust-in-practice", "2026-01-20", "monthly", "0.7"},
		{"https://tvdn.me/blog/first-post", "2025-11-02", "monthly", "0.7"},
	}
	if len(set.URLs) != len(want) {
		t.Fatalf("urls = %d, want %d", len(set.URLs), len(want))
	}
	for i := range want {
		if set.URLs[i] != want[i] {
			t.Errorf("url %d = %+v, want %+v", i, set.URLs[i], want[i])
		}
	}
}

func TestSitemap_DegradesToStaticRoutes(t *testing.T) {
	tests := []struct {
		name  string
		posts PostLister
	}{
		{"no cms", nil},
		{"cms down", &fakeLister{err: xerrors.WithKind(xerrors.New("503"), xerrors.KindUpstream)}},
		{"not configured", &fakeLister{err: xerrors.WithKind(cms.ErrNotConfigured, xerrors.KindNotConfigured)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := parseSitemap(t, get(t, newRouter(Options{BaseURL: "https://tvdn.me", Posts: tt.posts}), SitemapPath).Body.String())
			if len(set.URLs) != 8 {
				t.Fatalf("urls = %d, want the 8 static routes", len(set.URLs))
			}
		})
	}
}

func TestSitemap_BaseFromRequest(t *testing.T) {
	set := parseSitemap(t, get(t, newRouter(Options{}), SitemapPath).Body.String())
	if set.URLs[0].Loc != "http://example.com/" {
		t.Fatalf("loc = %q", set.URLs[0].Loc)
	}
}

func TestPostCache(t *testing.T) {
	now := fixedNow
	lister := &fakeLister{posts: samplePosts()}
	h := newRouter(Options{BaseURL: "https://tvdn.me", Posts: lister, PostsTTL: time.Minute, Now: func() time.Time { return now }})

	get(t, h, SitemapPath)
	get(t, h, FeedPath)
	if n := lister.calls.Load(); n != 1 {
		t.Fatalf("calls = %d, want one cached listing", n)
	}
	now = now.Add(2 * time.Minute)
	get(t, h, SitemapPath)
	if n := lister.calls.Load(); n != 2 {
		t.Fatalf("calls = %d after expiry", n)
	}
}

func TestPostCache_FailuresNotCached(t *testing.T) {
	lister := &fakeLister{err: xerrors.New("boom")}
	h := newRouter(Options{BaseURL: "https://tvdn.me", Posts: lister})
	get(t, h, SitemapPath)
	get(t, h, SitemapPath)
	if n := lister.calls.Load(); n != 2 {
		t.Fatalf("calls = %d", n)
	}
}

// gatedLister blocks ListPosts until release is closed.
type gatedLister struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedLister) ListPosts(ctx context.Context) ([]cms.Post, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return samplePosts(), nil
}

func newGatedLister() *gatedLister {
	return &gatedLister{entered: make(chan struct{}), release: make(chan struct{})}
}

func TestPostCache_ConcurrentMissesShareOneListing(t *testing.T) {
	lister := newGatedLister()
	c := &postCache{src: lister, ttl: time.Minute, now: func() time.Time { return fixedNow }}

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			posts, err := c.get(context.Background())
			if err == nil && len(posts) != 2 {
				err = fmt.Errorf("got %d posts", len(posts))
			}
			errs <- err
		}()
	}
	<-lister.entered
	close(lister.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if n := lister.calls.Load(); n != 1 {
		t.Fatalf("ListPosts calls = %d, want 1", n)
	}
}

func TestPostCache_CallerContextEndsWait(t *testing.T) {
	lister := newGatedLister()
	c := &postCache{src: lister, ttl: time.Minute, now: func() time.Time { return fixedNow }}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.get(ctx)
		done <- err
	}()
	<-lister.entered
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled caller kept waiting on the listing")
	}

	// the shared listing ignores the caller's cancellation and still fills
	// the cache
	close(lister.release)
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := c.cached(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listing never populated the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := c.get(context.Background()); err != nil || lister.calls.Load() != 1 {
		t.Fatalf("cached get: err = %v, calls = %d", err, lister.calls.Load())
	}
}

func TestRobots(t *testing.T) {
	rec := get(t, newRouter(Options{BaseURL: "https://tvdn.me"}), RobotsPath)
	want := "User-agent: *\nAllow: /\n\nSitemap: https://tvdn.me/sitemap.xml\n"
	if rec.Body.String() != want {
		t.Fatalf("robots.txt = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Fatalf("content-type = %q", ct)
	}
}
