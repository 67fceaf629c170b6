package feeds

import "net/http"

// Robots allows every crawler and points it at the sitemap.
func (h *Handlers) Robots(w http.ResponseWriter, r *http.Request) {
	body := "User-agent: *\nAllow: /\n\nSitemap: " + h.baseURL(r) + SitemapPath + "\n"
	writeBody(w, r, "text/plain; charset=utf-8", "public, max-age=86400", []byte(body))
}
