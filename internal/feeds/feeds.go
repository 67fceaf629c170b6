// Package feeds serves the machine-readable views of the site: the
// sitemap, the RSS feed and robots.txt.
package feeds

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/sync/singleflight"

	"github.com/tvdn/tvdn-web/internal/cms"
	"github.com/tvdn/tvdn-web/internal/httpmw"
	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/seo"
	"github.com/tvdn/tvdn-web/internal/xerrors"
)

const (
	SitemapPath = "/sitemap.xml"
	FeedPath    = "/feed.xml"
	RobotsPath  = "/robots.txt"

	// DefaultPostsTTL bounds how often the feeds hit the CMS.
	DefaultPostsTTL = 5 * time.Minute
)

// PostLister is implemented by *cms.Client.
type PostLister interface {
	ListPosts(ctx context.Context) ([]cms.Post, error)
}

type Options struct {
	// BaseURL prefixes every absolute link. Empty derives it from the
	// request.
	BaseURL  string
	Table    *seo.Table
	Posts    PostLister
	PostsTTL time.Duration
	// Now is time.Now when nil.
	Now func() time.Time
}

type Handlers struct {
	base  string
	table *seo.Table
	now   func() time.Time
	md    goldmark.Markdown
	posts *postCache
}

func New(opts Options) *Handlers {
	if opts.Table == nil {
		opts.Table = seo.DefaultTable()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PostsTTL <= 0 {
		opts.PostsTTL = DefaultPostsTTL
	}
	return &Handlers{
		base:  strings.TrimRight(opts.BaseURL, "/"),
		table: opts.Table,
		now:   opts.Now,
		md:    goldmark.New(goldmark.WithExtensions(extension.GFM)),
		posts: &postCache{src: opts.Posts, ttl: opts.PostsTTL, now: opts.Now},
	}
}

func (h *Handlers) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(httpmw.Scope("feeds"))
		r.Get(SitemapPath, h.Sitemap)
		r.Get(FeedPath, h.Feed)
		r.Get(RobotsPath, h.Robots)
	})
}

func (h *Handlers) baseURL(r *http.Request) string {
	if h.base != "" {
		return h.base
	}
	return seo.RequestBase(r)
}

// listPosts never fails: the feeds degrade to their static parts.
func (h *Handlers) listPosts(ctx context.Context) []cms.Post {
	posts, err := h.posts.get(ctx)
	if err == nil {
		return posts
	}
	L := log.FromContext(ctx)
	if xerrors.IsKind(err, xerrors.KindNotConfigured) {
		L.Debug(ctx, "cms not configured, feeds list static routes only")
	} else {
		L.Warn(ctx, "listing posts for feeds failed",
			"err", err.Error(),
			"error_kind", string(xerrors.KindOf(err)),
		)
	}
	return nil
}

// postCache keeps the last successful listing for ttl. Failures are not
// cached. Concurrent misses share one ListPosts call; the cache lock is
// never held across it, and each caller stops waiting when its own context
// ends.
type postCache struct {
	src PostLister
	ttl time.Duration
	now func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	posts   []cms.Post
	fetched time.Time
}

func (c *postCache) get(ctx context.Context) ([]cms.Post, error) {
	if c.src == nil {
		return nil, xerrors.WithKind(xerrors.WithStack(cms.ErrNotConfigured), xerrors.KindNotConfigured)
	}
	if posts, ok := c.cached(); ok {
		return posts, nil
	}

	ch := c.group.DoChan("posts", func() (any, error) {
		if posts, ok := c.cached(); ok {
			return posts, nil
		}
		// the listing outlives a caller that gives up; the CMS client
		// timeout bounds it
		posts, err := c.src.ListPosts(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.posts, c.fetched = posts, c.now()
		c.mu.Unlock()
		return posts, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]cms.Post), nil
	case <-ctx.Done():
		return nil, xerrors.Wrap(ctx.Err(), "waiting for post listing")
	}
}

func (c *postCache) cached() ([]cms.Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fetched.IsZero() && c.now().Sub(c.fetched) < c.ttl {
		return c.posts, true
	}
	return nil, false
}

func writeBody(w http.ResponseWriter, r *http.Request, contentType, cacheControl string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}
