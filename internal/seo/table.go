package seo

import (
	"bytes"
	_ "embed"
	"errors"
	"io"
	"os"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/tvdn/tvdn-web/internal/xerrors"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Site identifies the person behind the site in tags and structured data.
type Site struct {
	Name     string   `yaml:"name"`
	JobTitle string   `yaml:"job_title"`
	SameAs   []string `yaml:"same_as"`
}

// Route is a static table entry. ChangeFreq and Priority feed the sitemap.
type Route struct {
	Path        string   `yaml:"path"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	Type        Type     `yaml:"type"`
	Keywords    []string `yaml:"keywords"`
	ChangeFreq  string   `yaml:"changefreq"`
	Priority    float64  `yaml:"priority"`
}

func (r Route) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Path, validation.Required, validation.By(absPath)),
		validation.Field(&r.Title, validation.Required),
		validation.Field(&r.Description, validation.Required),
		validation.Field(&r.Type, validation.In(TypeWebsite, TypeArticle, TypeProfile)),
		validation.Field(&r.ChangeFreq, validation.In("always", "hourly", "daily", "weekly", "monthly", "yearly", "never")),
		validation.Field(&r.Priority, validation.Min(0.0), validation.Max(1.0)),
	)
}

func absPath(value interface{}) error {
	if s, _ := value.(string); !strings.HasPrefix(s, "/") {
		return errors.New("must start with /")
	}
	return nil
}

func (r Route) metadata() Metadata {
	return Metadata{
		Path:        r.Path,
		Title:       r.Title,
		Description: r.Description,
		Type:        r.Type,
		Keywords:    r.Keywords,
	}
}

type blogSection struct {
	Prefix   string   `yaml:"prefix"`
	Keywords []string `yaml:"keywords"`
	Fallback struct {
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
	} `yaml:"fallback"`
}

type tableFile struct {
	Site   Site        `yaml:"site"`
	Blog   blogSection `yaml:"blog"`
	Routes []Route     `yaml:"routes"`
}

// Table is the immutable route metadata table loaded at start-up.
type Table struct {
	site   Site
	blog   blogSection
	routes []Route
	byPath map[string]Metadata
}

// LoadTable parses a routes document. Unknown keys are rejected, and the
// home route "/" must be present.
func LoadTable(r io.Reader) (*Table, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f tableFile
	if err := dec.Decode(&f); err != nil {
		return nil, xerrors.Wrap(err, "decode routes")
	}

	if f.Site.Name == "" {
		return nil, xerrors.New("routes: site.name is required")
	}
	if f.Blog.Prefix == "" {
		f.Blog.Prefix = "/blog/"
	}
	if !strings.HasPrefix(f.Blog.Prefix, "/") || !strings.HasSuffix(f.Blog.Prefix, "/") {
		return nil, xerrors.Newf("routes: blog.prefix %q must start and end with /", f.Blog.Prefix)
	}
	if f.Blog.Fallback.Title == "" {
		f.Blog.Fallback.Title = "Blog Post | " + f.Site.Name
	}

	t := &Table{site: f.Site, blog: f.Blog, byPath: make(map[string]Metadata, len(f.Routes))}
	for i, rt := range f.Routes {
		rt.Path = normalizePath(rt.Path)
		if rt.Type == "" {
			rt.Type = TypeWebsite
		}
		if err := rt.Validate(); err != nil {
			return nil, xerrors.Wrapf(err, "routes[%d] %s", i, rt.Path)
		}
		if _, dup := t.byPath[rt.Path]; dup {
			return nil, xerrors.Newf("routes: duplicate path %s", rt.Path)
		}
		t.routes = append(t.routes, rt)
		t.byPath[rt.Path] = rt.metadata()
	}
	if _, ok := t.byPath["/"]; !ok {
		return nil, xerrors.New("routes: the home route / is required")
	}
	return t, nil
}

// LoadTableFile reads a routes document from disk.
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open routes file %s", path)
	}
	defer f.Close()
	return LoadTable(f)
}

// DefaultTable returns the table compiled into the binary.
func DefaultTable() *Table {
	t, err := LoadTable(bytes.NewReader(defaultRoutes))
	if err != nil {
		panic("seo: embedded routes.yaml: " + err.Error())
	}
	return t
}

func (t *Table) Site() Site { return t.site }

// Routes returns the static routes in document order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// BlogPrefix is the path prefix of individual posts, e.g. /blog/.
func (t *Table) BlogPrefix() string { return t.blog.Prefix }

// Lookup finds an exact static match for an already normalised path.
func (t *Table) Lookup(path string) (Metadata, bool) {
	m, ok := t.byPath[path]
	return m, ok
}

// Home is the record used for unknown paths.
func (t *Table) Home() Metadata { return t.byPath["/"] }

// postSlug extracts the slug from a post path.
func (t *Table) postSlug(path string) (string, bool) {
	slug, ok := strings.CutPrefix(path, t.blog.Prefix)
	return slug, ok && slug != ""
}

func (t *Table) postFallback(path string) Metadata {
	return Metadata{
		Path:        path,
		Title:       t.blog.Fallback.Title,
		Description: t.blog.Fallback.Description,
		Type:        TypeArticle,
	}
}

// normalizePath drops a trailing slash so /about/ and /about share a record.
func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}
