package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/stuckorders/stuckorders/analyzer/internal/config"
)

// Input is an opened table.
type Input struct {
	io.ReadCloser

	// Name identifies the input in logs: the path or URL.
	Name string

	// Size is the length in bytes, -1 when unknown.
	Size int64
}

// Open opens the table described by in.
func Open(ctx context.Context, in config.Input) (*Input, error) {
	switch {
	case in.URL != "":
		return fetch(ctx, in)
	case in.Path != "":
		return openFile(in.Path)
	default:
		return nil, fmt.Errorf("source: no input path or url configured")
	}
}

func openFile(path string) (*Input, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open: %w", err)
	}
	size := int64(-1)
	if st, err := f.Stat(); err == nil && st.Mode().IsRegular() {
		size = st.Size()
	}
	return &Input{ReadCloser: f, Name: path, Size: size}, nil
}

func fetch(ctx context.Context, in config.Input) (*Input, error) {
	client := newHTTPClient(in)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("source: build request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain;q=0.9, */*;q=0.1")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source: http get: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("source: http get %s: unexpected status %d", in.URL, resp.StatusCode)
	}
	return &Input{ReadCloser: resp.Body, Name: in.URL, Size: resp.ContentLength}, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// newHTTPClient builds a client for the input's auth, TLS and timeout.
func newHTTPClient(in config.Input) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: in.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	return &http.Client{
		Transport: &authRoundTripper{base: base, auth: in.Auth},
		Timeout:   in.Timeout,
	}
}
