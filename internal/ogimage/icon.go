package ogimage

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/tvdn/tvdn-web/internal/xerrors"
)

const (
	maxIconBytes = 1 << 20
	iconTTL      = time.Hour
)

// IconSource supplies the image drawn in the card footer.
type IconSource interface {
	Icon(ctx context.Context) (image.Image, error)
}

// FSIcon decodes the icon at Path from the file system returned by FS, so a
// swapped content snapshot brings its own favicon.
type FSIcon struct {
	FS   func() fs.FS
	Path string
}

func (s FSIcon) Icon(context.Context) (image.Image, error) {
	if s.FS == nil {
		return nil, xerrors.New("ogimage: no icon file system")
	}
	fsys := s.FS()
	if fsys == nil {
		return nil, xerrors.New("ogimage: no content loaded")
	}
	f, err := fsys.Open(s.Path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open icon %s", s.Path)
	}
	defer f.Close()
	img, _, err := image.Decode(io.LimitReader(f, maxIconBytes))
	if err != nil {
		return nil, xerrors.Wrapf(err, "decode icon %s", s.Path)
	}
	return img, nil
}

// URLIcon fetches the icon over HTTP and keeps it for an hour. Failures
// are not cached. Concurrent misses share one fetch, bounded by the client
// timeout, and the cache lock is not held while it runs.
type URLIcon struct {
	url    string
	client *http.Client
	group  singleflight.Group

	mu      sync.Mutex
	img     image.Image
	fetched time.Time
}

func NewURLIcon(url string, timeout time.Duration) *URLIcon {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &URLIcon{
		url:    url,
		client: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (s *URLIcon) Icon(ctx context.Context) (image.Image, error) {
	if img, ok := s.cached(); ok {
		return img, nil
	}
	ch := s.group.DoChan("icon", func() (any, error) {
		if img, ok := s.cached(); ok {
			return img, nil
		}
		img, err := s.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.img, s.fetched = img, time.Now()
		s.mu.Unlock()
		return img, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(image.Image), nil
	case <-ctx.Done():
		return nil, xerrors.Wrap(ctx.Err(), "waiting for icon")
	}
}

func (s *URLIcon) cached() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.img != nil && time.Since(s.fetched) < iconTTL {
		return s.img, true
	}
	return nil, false
}

func (s *URLIcon) fetch(ctx context.Context) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "build icon request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, xerrors.WithKind(xerrors.Wrap(err, "fetch icon"), xerrors.KindUpstream)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, xerrors.WithKind(xerrors.Newf("fetch icon: status %d", resp.StatusCode), xerrors.KindUpstream)
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, maxIconBytes))
	if err != nil {
		return nil, xerrors.Wrap(err, "decode icon")
	}
	return img, nil
}
