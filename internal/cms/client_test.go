package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tvdn/tvdn-web/internal/xerrors"
)

func entry(id, slug, title, published string) Entry {
	var e Entry
	e.Sys.ID = id
	e.Fields = PostFields{
		Title:         title,
		Slug:          slug,
		Excerpt:       "excerpt for " + slug,
		Content:       "# " + title,
		PublishedDate: published,
	}
	return e
}

// fakeCMS serves a fixed post list the way the Delivery API pages it.
type fakeCMS struct {
	t      *testing.T
	posts  []Entry
	status int
	calls  atomic.Int32

	mu      sync.Mutex
	queries []string
}

func (f *fakeCMS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	f.mu.Lock()
	f.queries = append(f.queries, r.URL.RawQuery)
	f.mu.Unlock()

	if r.URL.Path != "/spaces/space1/environments/master/entries" {
		f.t.Errorf("path = %s", r.URL.Path)
	}
	if got := r.Header.Get("Authorization"); got != "Bearer tok" {
		f.t.Errorf("Authorization = %q", got)
	}
	if f.status != 0 {
		w.WriteHeader(f.status)
		return
	}
	q := r.URL.Query()
	if q.Get("content_type") != "blogPost" {
		f.t.Errorf("content_type = %q", q.Get("content_type"))
	}

	items := f.posts
	if slug := q.Get("fields.slug"); slug != "" {
		items = nil
		for _, p := range f.posts {
			if p.Fields.Slug == slug {
				items = append(items, p)
			}
		}
	}
	skip, _ := strconv.Atoi(q.Get("skip"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	total := len(items)
	if skip > len(items) {
		skip = len(items)
	}
	items = items[skip:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Envelope{Total: total, Skip: skip, Limit: limit, Items: items})
}

func newTestClient(t *testing.T, f *fakeCMS, observe func(op, outcome string)) *Client {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New(Options{
		SpaceID:     "space1",
		AccessToken: "tok",
		BaseURL:     srv.URL,
		HTTPClient:  srv.Client(),
		Observe:     observe,
	})
}

func TestPostBySlug(t *testing.T) {
	f := &fakeCMS{posts: []Entry{
		entry("1", "zero-trust", "Zero Trust in practice", "2025-03-01T09:30:00.000Z"),
		entry("2", "broken", "", "2025-01-01"),
	}}
	f.posts[0].Fields.ModifiedDate = "2025-03-04"

	var outcomes []string
	c := newTestClient(t, f, func(op, outcome string) { outcomes = append(outcomes, op+":"+outcome) })
	ctx := context.Background()

	p, err := c.PostBySlug(ctx, "zero-trust")
	if err != nil {
		t.Fatalf("PostBySlug: %v", err)
	}
	if p.ID != "1" || p.Title != "Zero Trust in practice" || p.Excerpt != "excerpt for zero-trust" {
		t.Fatalf("post = %+v", p)
	}
	if want := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC); !p.Published.Equal(want) {
		t.Fatalf("published = %s", p.Published)
	}
	if !p.LastModified().Equal(time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("last modified = %s", p.LastModified())
	}

	_, err = c.PostBySlug(ctx, "missing")
	if !errors.Is(err, ErrNotFound) || !xerrors.IsKind(err, xerrors.KindNotFound) {
		t.Fatalf("missing: %v", err)
	}

	_, err = c.PostBySlug(ctx, "broken")
	if !errors.Is(err, ErrInvalidEntry) || !xerrors.IsKind(err, xerrors.KindInvalid) {
		t.Fatalf("broken: %v", err)
	}

	before := f.calls.Load()
	_, err = c.PostBySlug(ctx, "../etc/passwd")
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("bad slug: %v", err)
	}
	if f.calls.Load() != before {
		t.Fatal("invalid slugs must not reach the API")
	}

	want := []string{"post_by_slug:ok", "post_by_slug:not_found", "post_by_slug:invalid", "post_by_slug:invalid"}
	if fmt.Sprint(outcomes) != fmt.Sprint(want) {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

func TestPostBySlug_Upstream(t *testing.T) {
	c := newTestClient(t, &fakeCMS{status: http.StatusServiceUnavailable}, nil)
	_, err := c.PostBySlug(context.Background(), "anything")
	if !xerrors.IsKind(err, xerrors.KindUpstream) {
		t.Fatalf("err = %v (kind %q)", err, xerrors.KindOf(err))
	}
}

func TestNotConfigured(t *testing.T) {
	tests := []struct {
		name string
		c    *Client
	}{
		{"nil client", nil},
		{"no token", New(Options{SpaceID: "s"})},
		{"no space", New(Options{AccessToken: "t"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.c.Configured() {
				t.Fatal("Configured() = true")
			}
			if _, err := tt.c.PostBySlug(context.Background(), "x"); !errors.Is(err, ErrNotConfigured) || !xerrors.IsKind(err, xerrors.KindNotConfigured) {
				t.Fatalf("PostBySlug err = %v", err)
			}
			if _, err := tt.c.ListPosts(context.Background()); !errors.Is(err, ErrNotConfigured) {
				t.Fatalf("ListPosts err = %v", err)
			}
		})
	}
}

func TestNew_PreviewToken(t *testing.T) {
	c := New(Options{SpaceID: "s", AccessToken: "delivery", PreviewToken: "preview"})
	if !c.Preview() || c.token != "preview" || c.base != PreviewHost {
		t.Fatalf("preview client: base=%s token=%s", c.base, c.token)
	}
	c = New(Options{SpaceID: "s", AccessToken: "delivery"})
	if c.Preview() || c.base != DeliveryHost || c.env != "master" {
		t.Fatalf("delivery client: base=%s env=%s", c.base, c.env)
	}
}

func TestListPosts_Paginates(t *testing.T) {
	f := &fakeCMS{}
	for i := 0; i < 250; i++ {
		f.posts = append(f.posts, entry(strconv.Itoa(i), fmt.Sprintf("post-%d", i), fmt.Sprintf("Post %d", i), "2024-06-01"))
	}
	f.posts[7].Fields.Slug = "Not A Slug"
	f.posts[120].Fields.PublishedDate = "yesterday"

	var outcome string
	c := newTestClient(t, f, func(op, o string) { outcome = op + ":" + o })
	posts, err := c.ListPosts(context.Background())
	if err != nil {
		t.Fatalf("ListPosts: %v", err)
	}
	if len(posts) != 248 {
		t.Fatalf("posts = %d, want 248", len(posts))
	}
	if posts[0].Slug != "post-0" || posts[247].Slug != "post-249" {
		t.Fatalf("order lost: first=%s last=%s", posts[0].Slug, posts[247].Slug)
	}
	if f.calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", f.calls.Load())
	}
	for _, raw := range f.queries {
		q, _ := url.ParseQuery(raw)
		if q.Get("order") != "-fields.publishedDate" || q.Get("limit") != "100" {
			t.Fatalf("query = %s", raw)
		}
	}
	if outcome != "list_posts:ok" {
		t.Fatalf("outcome = %s", outcome)
	}
}

func TestListPosts_PageFailureFailsList(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		items := make([]Entry, pageSize)
		for i := range items {
			items[i] = entry(strconv.Itoa(i), "p-"+strconv.Itoa(i), "t", "2024-01-01")
		}
		_ = json.NewEncoder(w).Encode(Envelope{Total: 300, Limit: pageSize, Items: items})
	}))
	defer srv.Close()

	c := New(Options{SpaceID: "s", AccessToken: "t", BaseURL: srv.URL})
	if _, err := c.ListPosts(context.Background()); !xerrors.IsKind(err, xerrors.KindUpstream) {
		t.Fatalf("err = %v", err)
	}
}

func TestRemainingPages(t *testing.T) {
	tests := []struct{ total, first, want int }{
		{0, 0, 0},
		{50, 50, 0},
		{100, 100, 0},
		{101, 100, 1},
		{250, 100, 2},
		{1_000_000, 100, maxPages - 1},
	}
	for _, tt := range tests {
		if got := remainingPages(tt.total, tt.first); got != tt.want {
			t.Errorf("remainingPages(%d, %d) = %d, want %d", tt.total, tt.first, got, tt.want)
		}
	}
}
