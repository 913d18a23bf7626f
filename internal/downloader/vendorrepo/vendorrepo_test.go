package vendorrepo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/fleetedge/agentcore/internal/domain/component"
)

func testIdentifier(t *testing.T) component.Identifier {
	t.Helper()
	v, err := semver.NewVersion("1.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return component.Identifier{Name: "com.example.App", Version: v}
}

func digestOf(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func TestDownloadSizeReadsContentLength(t *testing.T) {
	content := "hello vendor repo"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "17")
			w.WriteHeader(http.StatusOK)
			return
		}
	}))
	defer srv.Close()

	v := New(Options{})
	size, err := v.DownloadSize(context.Background(), testIdentifier(t), component.ArtifactRef{URI: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != int64(len(content)) {
		t.Fatalf("got size %d, want %d", size, len(content))
	}
}

func TestDownloadFetchesAndVerifiesDigest(t *testing.T) {
	content := "artifact payload"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(content))
	}))
	defer srv.Close()

	v := New(Options{})
	dir := t.TempDir()
	path := filepath.Join(dir, "staged")
	artifact := component.ArtifactRef{URI: srv.URL, Digest: digestOf(content), Algorithm: "sha256"}

	if err := v.Download(context.Background(), testIdentifier(t), artifact, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != content {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestDownloadResumesFromPartialFile(t *testing.T) {
	full := "0123456789abcdef"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Write([]byte(full))
			return
		}
		w.Header().Set("Content-Range", "bytes 8-15/16")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(full[8:]))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "staged")
	if err := os.WriteFile(path+".part", []byte(full[:8]), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v := New(Options{})
	artifact := component.ArtifactRef{URI: srv.URL, Digest: digestOf(full), Algorithm: "sha256"}
	if err := v.Download(context.Background(), testIdentifier(t), artifact, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != full {
		t.Fatalf("got %q, want %q", got, full)
	}
}

func TestDownloadSizeSurfacesAuthErrorOnForbidden(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	v := New(Options{})
	_, err := v.DownloadSize(context.Background(), testIdentifier(t), component.ArtifactRef{URI: srv.URL})
	if err == nil {
		t.Fatal("expected error")
	}
}
