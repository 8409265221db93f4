package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stuckorders/stuckorders/analyzer/internal/config"
)

const body = "order_id,account_id\nA1,42\n"

func readAll(t *testing.T, in *Input) string {
	t.Helper()
	defer in.Close()
	b, err := io.ReadAll(in)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orders.csv")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	in, err := Open(context.Background(), config.Input{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if in.Size != int64(len(body)) || in.Name != path {
		t.Errorf("Input: got name %q size %d", in.Name, in.Size)
	}
	if got := readAll(t, in); got != body {
		t.Errorf("body: got %q", got)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	_, err := Open(context.Background(), config.Input{Path: filepath.Join(t.TempDir(), "nope.csv")})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestOpen_NothingConfigured(t *testing.T) {
	if _, err := Open(context.Background(), config.Input{}); err == nil {
		t.Fatal("expected error without path or url")
	}
}

func TestOpen_HTTPAuth(t *testing.T) {
	t.Setenv("SRC_KEY", "k-123")
	t.Setenv("SRC_TOKEN", "t-456")
	t.Setenv("SRC_PASS", "p-789")

	tests := []struct {
		name  string
		auth  config.AuthConfig
		check func(r *http.Request) bool
	}{
		{
			name:  "apikey",
			auth:  config.AuthConfig{Mode: "apikey", Header: "X-API-Key", KeyEnv: "SRC_KEY"},
			check: func(r *http.Request) bool { return r.Header.Get("X-API-Key") == "k-123" },
		},
		{
			name:  "bearer",
			auth:  config.AuthConfig{Mode: "bearer", TokenEnv: "SRC_TOKEN"},
			check: func(r *http.Request) bool { return r.Header.Get("Authorization") == "Bearer t-456" },
		},
		{
			name: "basic",
			auth: config.AuthConfig{Mode: "basic", Username: "analyst", PasswordEnv: "SRC_PASS"},
			check: func(r *http.Request) bool {
				u, p, ok := r.BasicAuth()
				return ok && u == "analyst" && p == "p-789"
			},
		},
		{
			name:  "none",
			auth:  config.AuthConfig{Mode: "none"},
			check: func(r *http.Request) bool { return r.Header.Get("Authorization") == "" },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if !tc.check(r) {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				io.WriteString(w, body)
			}))
			defer srv.Close()

			in, err := Open(context.Background(), config.Input{URL: srv.URL, Auth: tc.auth, Timeout: 5 * time.Second})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if got := readAll(t, in); got != body {
				t.Errorf("body: got %q", got)
			}
		})
	}
}

func TestOpen_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Open(context.Background(), config.Input{URL: srv.URL, Timeout: 5 * time.Second})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("Open: got %v, want status 404 error", err)
	}
}

func TestOpen_HTTPSInsecureSkipVerify(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, body)
	}))
	defer srv.Close()

	if _, err := Open(context.Background(), config.Input{URL: srv.URL, Timeout: 5 * time.Second}); err == nil {
		t.Fatal("expected certificate error without insecure_skip_verify")
	}
	in, err := Open(context.Background(), config.Input{
		URL:     srv.URL,
		TLS:     config.TLSConfig{InsecureSkipVerify: true},
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Open with insecure_skip_verify: %v", err)
	}
	if got := readAll(t, in); got != body {
		t.Errorf("body: got %q", got)
	}
}
