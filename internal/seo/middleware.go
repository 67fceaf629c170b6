package seo

import (
	"net/http"
	"strings"

	xhtml "golang.org/x/net/html"

	"github.com/tvdn/tvdn-web/internal/htmlrewrite"
	"github.com/tvdn/tvdn-web/internal/httpmw"
)

type MiddlewareOptions struct {
	// BaseURL is the canonical origin, e.g. https://tvdn.me. When empty it
	// is derived from the request.
	BaseURL string
}

// Middleware injects the resolved tags right after <head> on HTML pages.
// Assets, /og, non-GET requests and non-200 or non-HTML responses pass
// through untouched.
func Middleware(res *Resolver, opts MiddlewareOptions) func(http.Handler) http.Handler {
	configured := strings.TrimRight(opts.BaseURL, "/")
	site := res.Table().Site()

	return httpmw.RewriteHTML(httpmw.PagePath, func(r *http.Request, _ http.Header, body []byte) []byte {
		base := configured
		if base == "" {
			base = RequestBase(r)
		}
		resolution := res.Resolve(r.Context(), r.URL.Path)
		meta := resolution.Meta
		frag := Tags(meta, base+meta.Path, OGImageURL(base, meta), site)
		return htmlrewrite.InjectHead(body, frag, managedTag)
	})
}

// RequestBase derives scheme://host from the request.
func RequestBase(r *http.Request) string {
	return httpmw.Scheme(r) + "://" + r.Host
}

// managedTag selects the head elements Tags replaces.
func managedTag(tag string, attrs []xhtml.Attribute) bool {
	switch tag {
	case "title":
		return true
	case "link":
		return strings.EqualFold(htmlrewrite.AttrValue(attrs, "rel"), "canonical")
	case "meta":
		name := strings.ToLower(htmlrewrite.AttrValue(attrs, "name"))
		prop := strings.ToLower(htmlrewrite.AttrValue(attrs, "property"))
		switch name {
		case "description", "keywords", "author":
			return true
		}
		return strings.HasPrefix(name, "twitter:") ||
			strings.HasPrefix(prop, "og:") ||
			strings.HasPrefix(prop, "article:")
	}
	return false
}
