// Package source opens the stuck-orders table for the analyzer.
//
// Open returns a reader over either a local file or an HTTP(S) download,
// together with its size when known (-1 otherwise) for progress reporting.
// HTTP inputs authenticate through a RoundTripper that injects the
// configured credentials (apikey header, bearer token or basic auth) into
// every request, redirects included.
package source
