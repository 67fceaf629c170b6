// Package linkpreview fetches an external page and extracts the title,
// description, image and site name a link card needs.
package linkpreview

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tvdn/tvdn-web/internal/xerrors"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (compatible; LinkPreviewBot/1.0)"
	DefaultTimeout   = 8 * time.Second
	DefaultMaxBody   = 2 << 20

	maxRedirects = 5
)

var (
	ErrUnsupportedURL = errors.New("linkpreview: only absolute http and https URLs are supported")
	ErrForbiddenAddr  = errors.New("linkpreview: target resolves to a non-public address")
)

// Preview is the metadata of one external page. Empty fields are omitted
// from JSON.
type Preview struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"siteName,omitempty"`
	URL         string `json:"url,omitempty"`
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
	// MaxBodyBytes caps how much of the page is read.
	MaxBodyBytes int64
	// AllowPrivate permits loopback, private and link-local targets.
	AllowPrivate bool
	// Transport replaces the guarded dialer. Tests only.
	Transport http.RoundTripper
}

type Fetcher struct {
	client  *http.Client
	ua      string
	maxBody int64
}

func NewFetcher(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBody
	}
	rt := opts.Transport
	if rt == nil {
		rt = guardedTransport(opts.AllowPrivate)
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: otelhttp.NewTransport(rt),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return xerrors.Newf("stopped after %d redirects", maxRedirects)
				}
				if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
					return ErrUnsupportedURL
				}
				return nil
			},
		},
		ua:      opts.UserAgent,
		maxBody: opts.MaxBodyBytes,
	}
}

// ParseTarget accepts absolute http and https URLs only.
func ParseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, xerrors.WithKind(xerrors.Wrap(err, "parse target"), xerrors.KindInvalid)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, xerrors.WithKind(xerrors.WithStack(ErrUnsupportedURL), xerrors.KindInvalid)
	}
	return u, nil
}

// Fetch makes one GET request to target and extracts its preview. Any
// non-2xx status is an error.
func (f *Fetcher) Fetch(ctx context.Context, target string) (Preview, error) {
	u, err := ParseTarget(target)
	if err != nil {
		return Preview{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Preview{}, xerrors.WithKind(xerrors.Wrap(err, "build request"), xerrors.KindInvalid)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return Preview{}, xerrors.WithKind(xerrors.Wrapf(err, "fetch %s", u.Host), xerrors.KindUpstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Preview{}, xerrors.WithKind(xerrors.Newf("fetch %s: status %d", u.Host, resp.StatusCode), xerrors.KindUpstream)
	}

	// extract against the final URL so relative images survive redirects
	return Extract(io.LimitReader(resp.Body, f.maxBody), resp.Request.URL, target), nil
}

func guardedTransport(allowPrivate bool) *http.Transport {
	d := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	if !allowPrivate {
		d.Control = refusePrivate
	}
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           d.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       60 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}
}

// refusePrivate runs after DNS resolution, so hostnames pointing at
// internal addresses are caught too.
func refusePrivate(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !publicIP(ip) {
		return ErrForbiddenAddr
	}
	return nil
}

var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

func publicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() || ip.IsMulticast() || cgnat.Contains(ip))
}
