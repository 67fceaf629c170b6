package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/xerrors"
)

const (
	DeliveryHost = "https://cdn.contentful.com"
	PreviewHost  = "https://preview.contentful.com"

	contentType = "blogPost"

	pageSize         = 100
	maxPages         = 50
	maxParallelPages = 4
	maxResponseBytes = 8 << 20
)

var (
	ErrNotConfigured = errors.New("cms: space id and access token are not configured")
	ErrNotFound      = errors.New("cms: entry not found")
	ErrInvalidEntry  = errors.New("cms: entry failed validation")
)

// Operation names passed to Options.Observe.
const (
	OpPostBySlug = "post_by_slug"
	OpListPosts  = "list_posts"
)

type Options struct {
	SpaceID      string
	AccessToken  string
	PreviewToken string
	// Environment defaults to master.
	Environment string

	// BaseURL overrides the API host. Tests point it at httptest.
	BaseURL string
	Timeout time.Duration
	// HTTPClient replaces the default otelhttp-instrumented client.
	HTTPClient *http.Client

	Logger log.Logger
	// Observe is called once per public call with the op name and the
	// outcome: ok, not_configured, not_found, invalid or error.
	Observe func(op, outcome string)
}

// Client is safe for concurrent use.
type Client struct {
	base    string
	space   string
	env     string
	token   string
	preview bool

	hc      *http.Client
	logger  log.Logger
	observe func(op, outcome string)
}

func New(opts Options) *Client {
	token, base, preview := opts.AccessToken, DeliveryHost, false
	if opts.PreviewToken != "" {
		token, base, preview = opts.PreviewToken, PreviewHost, true
	}
	if opts.BaseURL != "" {
		base = opts.BaseURL
	}
	env := opts.Environment
	if env == "" {
		env = "master"
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		hc = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	observe := opts.Observe
	if observe == nil {
		observe = func(string, string) {}
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		space:   opts.SpaceID,
		env:     env,
		token:   token,
		preview: preview,
		hc:      hc,
		logger:  opts.Logger.With("component", "cms"),
		observe: observe,
	}
}

// Configured reports whether the client has credentials to call the API.
func (c *Client) Configured() bool {
	return c != nil && c.space != "" && c.token != ""
}

// Preview reports whether the client reads unpublished drafts.
func (c *Client) Preview() bool { return c != nil && c.preview }

// PostBySlug fetches one post. It returns ErrNotConfigured without
// credentials, ErrNotFound when no entry matches and ErrInvalidEntry when
// the entry or the slug fails validation.
func (c *Client) PostBySlug(ctx context.Context, slug string) (post Post, err error) {
	if c == nil {
		return Post{}, notConfigured()
	}
	defer func() { c.observe(OpPostBySlug, outcome(err)) }()

	if !c.Configured() {
		return Post{}, notConfigured()
	}
	if !ValidSlug(slug) {
		return Post{}, xerrors.WithKind(xerrors.Newf("%w: slug %q", ErrInvalidEntry, slug), xerrors.KindInvalid)
	}

	q := url.Values{}
	q.Set("content_type", contentType)
	q.Set("fields.slug", slug)
	q.Set("limit", "1")
	env, err := c.entries(ctx, OpPostBySlug, q)
	if err != nil {
		return Post{}, err
	}
	if len(env.Items) == 0 {
		return Post{}, xerrors.WithKind(xerrors.Newf("%w: slug %q", ErrNotFound, slug), xerrors.KindNotFound)
	}
	post, err = env.Items[0].Post()
	if err != nil {
		return Post{}, xerrors.WithKind(xerrors.Newf("%w: %w", ErrInvalidEntry, err), xerrors.KindInvalid)
	}
	return post, nil
}

// ListPosts returns every valid post, newest first. The first page reports
// the total; the remaining pages are fetched concurrently. Entries that
// fail validation are logged and skipped.
func (c *Client) ListPosts(ctx context.Context) (posts []Post, err error) {
	if c == nil {
		return nil, notConfigured()
	}
	defer func() { c.observe(OpListPosts, outcome(err)) }()

	if !c.Configured() {
		return nil, notConfigured()
	}

	first, err := c.page(ctx, 0)
	if err != nil {
		return nil, err
	}
	pages := [][]Entry{first.Items}

	if extra := remainingPages(first.Total, len(first.Items)); extra > 0 {
		rest := make([][]Entry, extra)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxParallelPages)
		for i := range rest {
			g.Go(func() error {
				env, err := c.page(gctx, (i+1)*pageSize)
				if err != nil {
					return err
				}
				rest[i] = env.Items
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		pages = append(pages, rest...)
	}

	seen := make(map[string]bool)
	for _, items := range pages {
		for _, e := range items {
			p, err := e.Post()
			if err != nil {
				c.logger.Warn(ctx, "dropping invalid cms entry", "entry_id", e.Sys.ID, "reason", err.Error())
				continue
			}
			// entries can shift between pages while they are being read
			if p.ID != "" && seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			posts = append(posts, p)
		}
	}
	return posts, nil
}

func remainingPages(total, firstLen int) int {
	if firstLen == 0 || total <= firstLen {
		return 0
	}
	n := (total+pageSize-1)/pageSize - 1
	if n > maxPages-1 {
		n = maxPages - 1
	}
	return n
}

func (c *Client) page(ctx context.Context, skip int) (Envelope, error) {
	q := url.Values{}
	q.Set("content_type", contentType)
	q.Set("order", "-fields.publishedDate")
	q.Set("limit", strconv.Itoa(pageSize))
	q.Set("skip", strconv.Itoa(skip))
	return c.entries(ctx, OpListPosts, q)
}

func (c *Client) entries(ctx context.Context, op string, q url.Values) (Envelope, error) {
	u := fmt.Sprintf("%s/spaces/%s/environments/%s/entries?%s",
		c.base, url.PathEscape(c.space), url.PathEscape(c.env), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Envelope{}, xerrors.Wrapf(err, "cms %s: build request", op)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return Envelope{}, xerrors.WithKind(xerrors.Wrapf(err, "cms %s", op), xerrors.KindUpstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return Envelope{}, xerrors.WithKind(xerrors.Newf("cms %s: unexpected status %d", op, resp.StatusCode), xerrors.KindUpstream)
	}

	var env Envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&env); err != nil {
		return Envelope{}, xerrors.WithKind(xerrors.Wrapf(err, "cms %s: decode response", op), xerrors.KindUpstream)
	}
	return env, nil
}

func notConfigured() error {
	return xerrors.WithKind(xerrors.WithStack(ErrNotConfigured), xerrors.KindNotConfigured)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch xerrors.KindOf(err) {
	case xerrors.KindNotConfigured:
		return "not_configured"
	case xerrors.KindNotFound:
		return "not_found"
	case xerrors.KindInvalid:
		return "invalid"
	}
	return "error"
}
