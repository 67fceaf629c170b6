package seo

import (
	"context"

	"github.com/tvdn/tvdn-web/internal/cms"
	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/xerrors"
)

// PostFinder looks up a single blog post. *cms.Client implements it.
type PostFinder interface {
	PostBySlug(ctx context.Context, slug string) (cms.Post, error)
}

type Resolver struct {
	table     *Table
	posts     PostFinder
	onResolve func(Source)
}

type ResolverOption func(*Resolver)

// WithPosts enables CMS lookups for post paths.
func WithPosts(p PostFinder) ResolverOption {
	return func(r *Resolver) { r.posts = p }
}

// OnResolve is called with the source of every resolution.
func OnResolve(fn func(Source)) ResolverOption {
	return func(r *Resolver) { r.onResolve = fn }
}

func NewResolver(t *Table, opts ...ResolverOption) *Resolver {
	if t == nil {
		t = DefaultTable()
	}
	r := &Resolver{table: t}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resolver) Table() *Table { return r.table }

// Resolve maps any path to metadata. Static routes win, post paths are
// looked up in the CMS, and everything else gets the home record. A CMS
// failure degrades to a generic post record and is never returned.
func (r *Resolver) Resolve(ctx context.Context, path string) Resolution {
	p := normalizePath(path)
	res := r.resolve(ctx, p)
	res.Meta.Path = p
	if r.onResolve != nil {
		r.onResolve(res.Source)
	}
	return res
}

func (r *Resolver) resolve(ctx context.Context, p string) Resolution {
	if m, ok := r.table.Lookup(p); ok {
		return Resolution{Meta: m, Source: SourceStatic}
	}
	if slug, ok := r.table.postSlug(p); ok {
		return r.resolvePost(ctx, p, slug)
	}
	return Resolution{Meta: r.table.Home(), Source: SourceDefault}
}

func (r *Resolver) resolvePost(ctx context.Context, p, slug string) Resolution {
	fallback := Resolution{Meta: r.table.postFallback(p), Source: SourceFallback}
	if r.posts == nil || !cms.ValidSlug(slug) {
		return fallback
	}

	post, err := r.posts.PostBySlug(ctx, slug)
	if err != nil {
		L := log.FromContext(ctx)
		switch xerrors.KindOf(err) {
		case xerrors.KindNotConfigured:
			// no credentials: expected in local runs
		case xerrors.KindNotFound, xerrors.KindInvalid:
			L.Debug(ctx, "post metadata unavailable, using fallback", "slug", slug, "reason", err.Error())
		default:
			L.Warn(ctx, "post metadata lookup failed, using fallback", "slug", slug, "err", err.Error())
		}
		return fallback
	}

	desc := post.Excerpt
	if desc == "" {
		desc = r.table.blog.Fallback.Description
	}
	return Resolution{
		Meta: Metadata{
			Title:       post.Title,
			Description: desc,
			Type:        TypeArticle,
			Keywords:    append([]string(nil), r.table.blog.Keywords...),
			Published:   post.Published,
			Modified:    post.Modified,
		},
		Source: SourceCMS,
	}
}
