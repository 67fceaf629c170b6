// Package httpmw holds the HTTP middleware of the public site listener.
//
// httpserver.NewHandler composes them outermost first: recovery, hardening
// headers, request ID, client IP, rate limiting, tracing, site and trace id
// headers, metrics, logging and then the chi router. Page routes add
// CSPNonce and the seo injector on top of the origin handler.
//
// Query strings and headers sent by clients stay out of log fields except
// for the URL query, which is recorded only on spans and access logs.
package httpmw
