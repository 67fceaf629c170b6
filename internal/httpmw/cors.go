package httpmw

import (
	"net/http"
	"strings"
)

// CORSOptions describes a permissive read-only CORS policy.
type CORSOptions struct {
	AllowOrigin  string
	AllowMethods []string
	AllowHeaders []string
	MaxAge       string
}

// CORS adds the Access-Control headers to every response and answers
// preflight OPTIONS requests itself with 204.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	if opts.AllowOrigin == "" {
		opts.AllowOrigin = "*"
	}
	methods := strings.Join(opts.AllowMethods, ", ")
	headers := strings.Join(opts.AllowHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", opts.AllowOrigin)
			if methods != "" {
				h.Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				h.Set("Access-Control-Allow-Headers", headers)
			}
			if r.Method == http.MethodOptions {
				if opts.MaxAge != "" {
					h.Set("Access-Control-Max-Age", opts.MaxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
