package linkpreview

import (
	"io"
	"net/url"
	"strings"

	xhtml "golang.org/x/net/html"
)

// candidates collects every source a field can come from.
type candidates struct {
	og      map[string]string
	twitter map[string]string
	desc    string
	title   string
}

// Extract reads an HTML document and builds a preview. base resolves
// relative image URLs; target is reported back as URL.
func Extract(r io.Reader, base *url.URL, target string) Preview {
	c := scan(r)

	p := Preview{
		Title:       first(c.og["title"], c.twitter["title"], c.title),
		Description: first(c.og["description"], c.twitter["description"], c.desc),
		Image:       resolveImage(base, first(c.og["image"], c.twitter["image"])),
		SiteName:    c.og["site_name"],
		URL:         target,
	}
	if p.SiteName == "" && base != nil {
		p.SiteName = base.Hostname()
	}
	return p
}

func scan(r io.Reader) candidates {
	c := candidates{og: map[string]string{}, twitter: map[string]string{}}
	z := xhtml.NewTokenizer(r)
	inTitle, sawTitle, depthSVG := false, false, 0

	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return c
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "svg":
				depthSVG++
			case "title":
				inTitle = !sawTitle && depthSVG == 0
			case "meta":
				if hasAttr {
					c.meta(z)
				}
			}
		case xhtml.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "svg":
				if depthSVG > 0 {
					depthSVG--
				}
			case "title":
				if inTitle {
					sawTitle = true
				}
				inTitle = false
			}
		case xhtml.TextToken:
			if inTitle {
				c.title += string(z.Text())
			}
		}
	}
}

func (c *candidates) meta(z *xhtml.Tokenizer) {
	var name, prop, content string
	for {
		k, v, more := z.TagAttr()
		switch string(k) {
		case "name":
			name = strings.ToLower(strings.TrimSpace(string(v)))
		case "property":
			prop = strings.ToLower(strings.TrimSpace(string(v)))
		case "content":
			content = strings.TrimSpace(string(v))
		}
		if !more {
			break
		}
	}
	if content == "" {
		return
	}
	// first occurrence wins, as with a top-down regex match
	set := func(m map[string]string, key string) {
		if _, ok := m[key]; !ok {
			m[key] = content
		}
	}
	if field, ok := strings.CutPrefix(prop, "og:"); ok {
		set(c.og, field)
	}
	if field, ok := strings.CutPrefix(name, "og:"); ok {
		set(c.og, field)
	}
	if field, ok := strings.CutPrefix(name, "twitter:"); ok {
		set(c.twitter, field)
	}
	if field, ok := strings.CutPrefix(prop, "twitter:"); ok {
		set(c.twitter, field)
	}
	if name == "description" && c.desc == "" {
		c.desc = content
	}
}

func first(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// resolveImage makes an image reference absolute. Protocol-relative URLs
// are pinned to https.
func resolveImage(base *url.URL, ref string) string {
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return ref
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case base == nil:
		return ""
	}
	u, err := base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}
