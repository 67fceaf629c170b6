// Package sitehttp mounts the site origin as the router's fallback.
package sitehttp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type Routes struct {
	Site http.Handler
}

func New(site http.Handler) *Routes {
	return &Routes{Site: site}
}

// RegisterRoutes must run after every explicit route. GET and HEAD match a
// "/*" wildcard so request metrics and spans see one route pattern for the
// site; chi prefers static routes, so /og, /sitemap.xml and the probes are
// unaffected. Other methods reach the site handler through NotFound and
// MethodNotAllowed, where it answers 405.
func (rt *Routes) RegisterRoutes(r chi.Router) {
	if rt.Site == nil {
		return
	}
	r.Get("/*", rt.Site.ServeHTTP)
	r.Head("/*", rt.Site.ServeHTTP)
	r.NotFound(rt.Site.ServeHTTP)
	r.MethodNotAllowed(rt.Site.ServeHTTP)
}
