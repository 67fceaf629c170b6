package feeds

import (
	"encoding/xml"
	"net/http"
	"strconv"
	"time"

	"github.com/tvdn/tvdn-web/internal/cms"
	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/seo"
)

const (
	sitemapNS    = "http://www.sitemaps.org/schemas/sitemap/0.9"
	dateOnly     = "2006-01-02"
	postFreq     = "monthly"
	postPriority = 0.7
)

type urlset struct {
	XMLName xml.Name     `xml:"urlset"`
	XMLNS   string       `xml:"xmlns,attr"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod,omitempty"`
	ChangeFreq string `xml:"changefreq,omitempty"`
	Priority   string `xml:"priority,omitempty"`
}

// BuildSitemap lists the static routes, dated today, followed by one entry
// per post dated by its last modification.
func BuildSitemap(base string, routes []seo.Route, blogPrefix string, posts []cms.Post, today time.Time) ([]byte, error) {
	set := urlset{XMLNS: sitemapNS}
	day := today.UTC().Format(dateOnly)
	for _, rt := range routes {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        base + rt.Path,
			LastMod:    day,
			ChangeFreq: rt.ChangeFreq,
			Priority:   priority(rt.Priority),
		})
	}
	for _, p := range posts {
		set.URLs = append(set.URLs, sitemapURL{
			Loc:        base + blogPrefix + p.Slug,
			LastMod:    p.LastModified().UTC().Format(dateOnly),
			ChangeFreq: postFreq,
			Priority:   priority(postPriority),
		})
	}

	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func priority(p float64) string {
	return strconv.FormatFloat(p, 'f', 1, 64)
}

func (h *Handlers) Sitemap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := BuildSitemap(h.baseURL(r), h.table.Routes(), h.table.BlogPrefix(), h.listPosts(ctx), h.now())
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "render sitemap")
		http.Error(w, "sitemap unavailable", http.StatusInternalServerError)
		return
	}
	writeBody(w, r, "application/xml; charset=utf-8", "public, max-age=3600", body)
}
