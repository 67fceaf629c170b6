package httpmw

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/tvdn/tvdn-web/internal/htmlrewrite"
)

// Directive is one Content-Security-Policy entry.
type Directive struct {
	Name    string
	Sources []string
}

// Policy is an ordered directive list. The script-src entry carries no
// sources of its own; Header fills it.
type Policy []Directive

// DefaultPolicy allows the site, Google Fonts and the CMS asset hosts.
func DefaultPolicy() Policy {
	return Policy{
		{Name: "default-src", Sources: []string{"'self'"}},
		{Name: "script-src"},
		{Name: "style-src", Sources: []string{"'self'", "'unsafe-inline'", "https://fonts.googleapis.com"}},
		{Name: "font-src", Sources: []string{"'self'", "https://fonts.gstatic.com"}},
		{Name: "img-src", Sources: []string{"'self'", "https:", "data:"}},
		{Name: "connect-src", Sources: []string{"'self'", "https://cdn.contentful.com", "https://images.ctfassets.net"}},
		{Name: "frame-ancestors", Sources: []string{"'none'"}},
		{Name: "base-uri", Sources: []string{"'self'"}},
		{Name: "form-action", Sources: []string{"'self'"}},
		{Name: "object-src", Sources: []string{"'none'"}},
	}
}

// Header renders the policy. With a nonce, script-src trusts only that
// nonce and whatever it loads; without one it falls back to 'self'.
func (p Policy) Header(nonce string) string {
	parts := make([]string, 0, len(p))
	for _, d := range p {
		sources := d.Sources
		if d.Name == "script-src" {
			if nonce != "" {
				sources = append([]string{"'strict-dynamic'", "'nonce-" + nonce + "'"}, d.Sources...)
			} else if len(sources) == 0 {
				sources = []string{"'self'"}
			}
		}
		parts = append(parts, strings.TrimSpace(d.Name+" "+strings.Join(sources, " ")))
	}
	return strings.Join(parts, "; ")
}

// NewNonce returns 16 random bytes, base64 encoded.
func NewNonce() string {
	var b [16]byte
	// crypto/rand.Read does not fail on supported platforms
	_, _ = rand.Read(b[:])
	return base64.StdEncoding.EncodeToString(b[:])
}

type nonceKey struct{}

// NonceFromContext returns the request nonce set by CSPNonce, or "".
func NonceFromContext(ctx context.Context) string {
	n, _ := ctx.Value(nonceKey{}).(string)
	return n
}

type cspConfig struct {
	onNonce func(scripts int)
}

type CSPOption func(*cspConfig)

// OnNonce is called after each page rewrite with the number of script tags
// that received the nonce.
func OnNonce(fn func(scripts int)) CSPOption {
	return func(c *cspConfig) { c.onNonce = fn }
}

// CSPNonce issues a fresh nonce per page request, stamps it on every script
// tag of the HTML response and sends the matching policy header. Other
// responses get the nonce-less policy.
func CSPNonce(p Policy, opts ...CSPOption) func(http.Handler) http.Handler {
	var cfg cspConfig
	for _, o := range opts {
		o(&cfg)
	}
	static := p.Header("")

	return func(next http.Handler) http.Handler {
		rewrite := RewriteHTML(PagePath, func(r *http.Request, h http.Header, body []byte) []byte {
			nonce := NonceFromContext(r.Context())
			out, n := htmlrewrite.NonceScripts(body, nonce)
			h.Set("Content-Security-Policy", p.Header(nonce))
			if cfg.onNonce != nil {
				cfg.onNonce(n)
			}
			return out
		})(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Security-Policy", static)
			if r.Method == http.MethodGet && PagePath(r) {
				r = r.WithContext(context.WithValue(r.Context(), nonceKey{}, NewNonce()))
			}
			rewrite.ServeHTTP(w, r)
		})
	}
}
