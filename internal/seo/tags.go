package seo

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	xhtml "golang.org/x/net/html"
)

const ogDescriptionRunes = 150

// OGImageURL points at the social card renderer for meta.
func OGImageURL(base string, meta Metadata) string {
	desc := meta.Description
	if r := []rune(desc); len(r) > ogDescriptionRunes {
		desc = string(r[:ogDescriptionRunes])
	}
	typ := meta.Type
	if typ == "" {
		typ = TypeWebsite
	}
	return strings.TrimRight(base, "/") + "/og?title=" + url.QueryEscape(meta.Title) +
		"&description=" + url.QueryEscape(desc) +
		"&type=" + url.QueryEscape(string(typ))
}

// Tags renders the head fragment for a page. All values are escaped.
func Tags(meta Metadata, pageURL, imageURL string, site Site) string {
	var b strings.Builder
	e := xhtml.EscapeString

	b.WriteString("\n<title>" + e(meta.Title) + "</title>\n")
	metaName(&b, "description", meta.Description)
	metaName(&b, "author", site.Name)
	if len(meta.Keywords) > 0 {
		metaName(&b, "keywords", strings.Join(meta.Keywords, ", "))
	}
	b.WriteString(`<link rel="canonical" href="` + e(pageURL) + "\">\n")

	metaProp(&b, "og:title", meta.Title)
	metaProp(&b, "og:description", meta.Description)
	metaProp(&b, "og:type", string(meta.Type))
	metaProp(&b, "og:url", pageURL)
	metaProp(&b, "og:image", imageURL)
	metaProp(&b, "og:site_name", site.Name)

	metaName(&b, "twitter:card", "summary_large_image")
	metaName(&b, "twitter:title", meta.Title)
	metaName(&b, "twitter:description", meta.Description)
	metaName(&b, "twitter:image", imageURL)

	if meta.Type == TypeArticle {
		if !meta.Published.IsZero() {
			metaProp(&b, "article:published_time", meta.Published.UTC().Format(time.RFC3339))
		}
		if !meta.Modified.IsZero() {
			metaProp(&b, "article:modified_time", meta.Modified.UTC().Format(time.RFC3339))
		}
		metaProp(&b, "article:author", site.Name)
	}

	b.WriteString(`<script type="application/ld+json">`)
	b.Write(structuredData(meta, pageURL, imageURL, site))
	b.WriteString("</script>\n")
	return b.String()
}

func metaName(b *strings.Builder, name, content string) {
	b.WriteString(`<meta name="` + name + `" content="` + xhtml.EscapeString(content) + "\">\n")
}

func metaProp(b *strings.Builder, prop, content string) {
	b.WriteString(`<meta property="` + prop + `" content="` + xhtml.EscapeString(content) + "\">\n")
}

type person struct {
	Type     string   `json:"@type"`
	Name     string   `json:"name"`
	URL      string   `json:"url,omitempty"`
	JobTitle string   `json:"jobTitle,omitempty"`
	SameAs   []string `json:"sameAs,omitempty"`
}

type ldDocument struct {
	Context       string `json:"@context"`
	Type          string `json:"@type"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	URL           string `json:"url"`
	Image         string `json:"image"`
	Author        person `json:"author"`
	DatePublished string `json:"datePublished,omitempty"`
	DateModified  string `json:"dateModified,omitempty"`
}

func schemaType(t Type) string {
	switch t {
	case TypeArticle:
		return "BlogPosting"
	case TypeProfile:
		return "ProfilePage"
	}
	return "WebPage"
}

// structuredData renders the JSON-LD block. encoding/json escapes <, > and
// & so the payload cannot close its script element.
func structuredData(meta Metadata, pageURL, imageURL string, site Site) []byte {
	home := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		home = u.Scheme + "://" + u.Host
	}
	doc := ldDocument{
		Context:     "https://schema.org",
		Type:        schemaType(meta.Type),
		Name:        meta.Title,
		Description: meta.Description,
		URL:         pageURL,
		Image:       imageURL,
		Author: person{
			Type:     "Person",
			Name:     site.Name,
			URL:      home,
			JobTitle: site.JobTitle,
			SameAs:   site.SameAs,
		},
	}
	if !meta.Published.IsZero() {
		doc.DatePublished = meta.Published.UTC().Format(time.RFC3339)
	}
	if !meta.Modified.IsZero() {
		doc.DateModified = meta.Modified.UTC().Format(time.RFC3339)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return []byte("{}")
	}
	return out
}
