package cms

import (
	"errors"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Post is a validated blog post.
type Post struct {
	ID        string
	Slug      string
	Title     string
	Excerpt   string
	Content   string
	Published time.Time
	// Modified is zero when the entry has no modifiedDate.
	Modified time.Time
}

// LastModified returns Modified, or Published when the post was never
// edited.
func (p Post) LastModified() time.Time {
	if !p.Modified.IsZero() {
		return p.Modified
	}
	return p.Published
}

// Envelope is the paginated collection wrapper the API returns.
type Envelope struct {
	Total int     `json:"total"`
	Skip  int     `json:"skip"`
	Limit int     `json:"limit"`
	Items []Entry `json:"items"`
}

// Entry is one raw blog post entry as delivered.
type Entry struct {
	Sys struct {
		ID        string `json:"id"`
		UpdatedAt string `json:"updatedAt"`
	} `json:"sys"`
	Fields PostFields `json:"fields"`
}

// PostFields mirrors the blogPost content type.
type PostFields struct {
	Title         string `json:"title"`
	Slug          string `json:"slug"`
	Excerpt       string `json:"excerpt"`
	Content       string `json:"content"`
	PublishedDate string `json:"publishedDate"`
	ModifiedDate  string `json:"modifiedDate"`
}

// slugPattern is one URL path segment of unreserved characters. Dots only
// separate runs, so "." and ".." never match.
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_~-]+(?:\.[A-Za-z0-9_~-]+)*$`)

const maxSlugLen = 200

// ValidSlug reports whether s can name a post.
func ValidSlug(s string) bool {
	return len(s) <= maxSlugLen && slugPattern.MatchString(s)
}

func (f PostFields) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Title, validation.Required, validation.Length(1, 300)),
		validation.Field(&f.Slug, validation.Required, validation.Length(1, maxSlugLen), validation.Match(slugPattern)),
		validation.Field(&f.PublishedDate, validation.Required, validation.By(isDate)),
		validation.Field(&f.ModifiedDate, validation.By(isDate)),
	)
}

func isDate(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := parseDate(s); err != nil {
		return errors.New("must be an ISO 8601 date")
	}
	return nil
}

// Contentful date fields come back date-only, minute precision or full
// RFC 3339 depending on how the editor entered them.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, layout := range dateLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

// Post validates the entry and converts it.
func (e Entry) Post() (Post, error) {
	if err := e.Fields.Validate(); err != nil {
		return Post{}, err
	}
	published, _ := parseDate(e.Fields.PublishedDate)
	var modified time.Time
	if e.Fields.ModifiedDate != "" {
		modified, _ = parseDate(e.Fields.ModifiedDate)
	}
	return Post{
		ID:        e.Sys.ID,
		Slug:      e.Fields.Slug,
		Title:     strings.TrimSpace(e.Fields.Title),
		Excerpt:   strings.TrimSpace(e.Fields.Excerpt),
		Content:   e.Fields.Content,
		Published: published,
		Modified:  modified,
	}, nil
}
