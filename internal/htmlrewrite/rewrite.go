// Package htmlrewrite edits HTML documents at the token level. Bytes that a
// rewrite does not target are copied through exactly as they arrived.
package htmlrewrite

import (
	"bytes"
	"html"
	"strings"

	xhtml "golang.org/x/net/html"
)

// DropFunc selects head elements to remove before injection.
type DropFunc func(tag string, attrs []xhtml.Attribute) bool

// headTags may appear in a document head. Any other element ends the head.
var headTags = map[string]bool{
	"html": true, "head": true, "title": true, "meta": true, "link": true,
	"style": true, "script": true, "base": true, "noscript": true, "template": true,
}

var voidTags = map[string]bool{"meta": true, "link": true, "base": true}

// NonceScripts returns doc with every <script> start tag carrying
// nonce="<nonce>", replacing any nonce already present. It also returns the
// number of tags touched. Script bodies and comments are never rewritten.
func NonceScripts(doc []byte, nonce string) ([]byte, int) {
	z := xhtml.NewTokenizer(bytes.NewReader(doc))
	var out bytes.Buffer
	out.Grow(len(doc) + 64)
	touched := 0
	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			break
		}
		if tt != xhtml.StartTagToken && tt != xhtml.SelfClosingTagToken {
			out.Write(z.Raw())
			continue
		}
		// TagName lowercases the tokenizer buffer in place
		raw := bytes.Clone(z.Raw())
		name, hasAttr := z.TagName()
		if string(name) != "script" {
			out.Write(raw)
			continue
		}
		touched++
		attrs := readAttrs(z, hasAttr)
		if !hasNonce(attrs) {
			// raw starts with "<script" in some letter case
			const at = len("<script")
			out.Write(raw[:at])
			out.WriteString(` nonce="`)
			out.WriteString(html.EscapeString(nonce))
			out.WriteByte('"')
			out.Write(raw[at:])
			continue
		}
		for i := range attrs {
			if attrs[i].Key == "nonce" {
				attrs[i].Val = nonce
			}
		}
		writeStartTag(&out, "script", attrs, tt == xhtml.SelfClosingTagToken)
	}
	return out.Bytes(), touched
}

// InjectHead inserts fragment immediately after the opening <head> tag and
// removes head elements selected by drop. Without a <head> the fragment is
// wrapped in one and placed after <html>; without either it is prepended.
func InjectHead(doc []byte, fragment string, drop DropFunc) []byte {
	z := xhtml.NewTokenizer(bytes.NewReader(doc))
	var out bytes.Buffer
	out.Grow(len(doc) + len(fragment))

	inHead := true
	injected := false
	afterHTML := -1
	skipUntil := ""

	for {
		tt := z.Next()
		if tt == xhtml.ErrorToken {
			break
		}
		if skipUntil != "" {
			if tt == xhtml.EndTagToken {
				if name, _ := z.TagName(); string(name) == skipUntil {
					skipUntil = ""
				}
			}
			continue
		}

		switch tt {
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			raw := bytes.Clone(z.Raw())
			name, hasAttr := z.TagName()
			tag := string(name)
			attrs := readAttrs(z, hasAttr)

			if inHead && !headTags[tag] {
				inHead = false
			}
			if inHead && drop != nil && drop(tag, attrs) {
				if tt == xhtml.StartTagToken && !voidTags[tag] {
					skipUntil = tag
				}
				continue
			}
			out.Write(raw)
			switch {
			case tag == "head" && !injected:
				out.WriteString(fragment)
				injected = true
			case tag == "html" && afterHTML < 0:
				afterHTML = out.Len()
			}
		case xhtml.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				inHead = false
			}
			out.Write(z.Raw())
		default:
			out.Write(z.Raw())
		}
	}

	if injected {
		return out.Bytes()
	}
	wrapped := "<head>" + fragment + "</head>"
	body := out.Bytes()
	if afterHTML < 0 {
		return append([]byte(fragment), body...)
	}
	res := make([]byte, 0, len(body)+len(wrapped))
	res = append(res, body[:afterHTML]...)
	res = append(res, wrapped...)
	return append(res, body[afterHTML:]...)
}

// CountTags counts start tags named tag. It is used to check rewrite output.
func CountTags(doc []byte, tag string) int {
	z := xhtml.NewTokenizer(bytes.NewReader(doc))
	n := 0
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return n
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == tag {
				n++
			}
		}
	}
}

// ScriptNonces lists the nonce attribute of every <script> start tag, with
// "" for tags that carry none.
func ScriptNonces(doc []byte) []string {
	z := xhtml.NewTokenizer(bytes.NewReader(doc))
	var out []string
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return out
		case xhtml.StartTagToken, xhtml.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "script" {
				continue
			}
			val := ""
			for _, a := range readAttrs(z, hasAttr) {
				if a.Key == "nonce" {
					val = a.Val
				}
			}
			out = append(out, val)
		}
	}
}

func readAttrs(z *xhtml.Tokenizer, more bool) []xhtml.Attribute {
	var attrs []xhtml.Attribute
	for more {
		var k, v []byte
		k, v, more = z.TagAttr()
		attrs = append(attrs, xhtml.Attribute{Key: string(k), Val: string(v)})
	}
	return attrs
}

func hasNonce(attrs []xhtml.Attribute) bool {
	for _, a := range attrs {
		if a.Key == "nonce" {
			return true
		}
	}
	return false
}

func writeStartTag(b *bytes.Buffer, tag string, attrs []xhtml.Attribute, selfClosing bool) {
	b.WriteByte('<')
	b.WriteString(tag)
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		if a.Val != "" || a.Key == "nonce" {
			b.WriteString(`="`)
			b.WriteString(html.EscapeString(a.Val))
			b.WriteByte('"')
		}
	}
	if selfClosing {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
}

// AttrValue returns the value of key in attrs, compared case-insensitively.
func AttrValue(attrs []xhtml.Attribute, key string) string {
	for _, a := range attrs {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
