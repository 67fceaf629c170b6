package feeds

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"time"

	"github.com/yuin/goldmark"

	"github.com/tvdn/tvdn-web/internal/cms"
	"github.com/tvdn/tvdn-web/internal/log"
)

const contentNS = "http://purl.org/rss/1.0/modules/content/"

type rss struct {
	XMLName      xml.Name `xml:"rss"`
	Version      string   `xml:"version,attr"`
	XMLNSContent string   `xml:"xmlns:content,attr"`
	XMLNSAtom    string   `xml:"xmlns:atom,attr"`
	Channel      channel  `xml:"channel"`
}

type channel struct {
	Title         string   `xml:"title"`
	Link          string   `xml:"link"`
	Description   string   `xml:"description"`
	Language      string   `xml:"language"`
	LastBuildDate string   `xml:"lastBuildDate,omitempty"`
	AtomLink      atomLink `xml:"atom:link"`
	Items         []item   `xml:"item"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type item struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	GUID        guid   `xml:"guid"`
	PubDate     string `xml:"pubDate"`
	Description string `xml:"description,omitempty"`
	Content     *cdata `xml:"content:encoded,omitempty"`
}

type guid struct {
	IsPermaLink bool   `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type cdata struct {
	Text string `xml:",cdata"`
}

// FeedInfo describes the channel.
type FeedInfo struct {
	Title       string
	Description string
	// Link is the blog index, Self the feed itself.
	Link string
	Self string
}

// BuildRSS renders posts as RSS 2.0. Post bodies are Markdown and are
// rendered to HTML with md; a body that fails to render is left out of
// content:encoded and the excerpt still describes the item.
func BuildRSS(info FeedInfo, postBase string, posts []cms.Post, md goldmark.Markdown) ([]byte, error) {
	doc := rss{
		Version:      "2.0",
		XMLNSContent: contentNS,
		XMLNSAtom:    "http://www.w3.org/2005/Atom",
		Channel: channel{
			Title:       info.Title,
			Link:        info.Link,
			Description: info.Description,
			Language:    "en",
			AtomLink:    atomLink{Href: info.Self, Rel: "self", Type: "application/rss+xml"},
		},
	}

	var newest time.Time
	for _, p := range posts {
		link := postBase + p.Slug
		it := item{
			Title:       p.Title,
			Link:        link,
			GUID:        guid{IsPermaLink: true, Value: link},
			PubDate:     p.Published.UTC().Format(time.RFC1123Z),
			Description: p.Excerpt,
		}
		if p.Content != "" {
			var buf bytes.Buffer
			if err := md.Convert([]byte(p.Content), &buf); err == nil {
				it.Content = &cdata{Text: buf.String()}
			}
		}
		doc.Channel.Items = append(doc.Channel.Items, it)
		if lm := p.LastModified(); lm.After(newest) {
			newest = lm
		}
	}
	if !newest.IsZero() {
		doc.Channel.LastBuildDate = newest.UTC().Format(time.RFC1123Z)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func (h *Handlers) feedInfo(base string) FeedInfo {
	site := h.table.Site()
	info := FeedInfo{
		Title:       site.Name,
		Description: site.JobTitle,
		Link:        base + "/blog",
		Self:        base + FeedPath,
	}
	if m, ok := h.table.Lookup("/blog"); ok {
		info.Title = m.Title
		info.Description = m.Description
	}
	return info
}

func (h *Handlers) Feed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	base := h.baseURL(r)
	body, err := BuildRSS(h.feedInfo(base), base+h.table.BlogPrefix(), h.listPosts(ctx), h.md)
	if err != nil {
		log.FromContext(ctx).Error(ctx, err, "render rss feed")
		http.Error(w, "feed unavailable", http.StatusInternalServerError)
		return
	}
	writeBody(w, r, "application/rss+xml; charset=utf-8", "public, max-age=3600", body)
}

