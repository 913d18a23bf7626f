package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/fleetedge/agentcore/internal/domain/component"
)

type fakeBucketClient struct {
	size    int64
	content string
	statErr error
	getErr  error
}

func (f *fakeBucketClient) Stat(ctx context.Context, bucket, key string) (int64, error) {
	if f.statErr != nil {
		return 0, f.statErr
	}
	return f.size, nil
}

func (f *fakeBucketClient) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return io.NopCloser(strings.NewReader(f.content)), nil
}

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

func TestDownloadSizeReturnsBucketStat(t *testing.T) {
	client := &fakeBucketClient{size: 42}
	v := &Variant{client: client}

	size, err := v.DownloadSize(context.Background(), testIdentifier(t), component.ArtifactRef{URI: "s3://bucket/key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != 42 {
		t.Fatalf("got size %d, want 42", size)
	}
}

func TestDownloadStagesFileAndVerifiesDigest(t *testing.T) {
	content := "artifact bytes"
	client := &fakeBucketClient{content: content}
	v := &Variant{client: client}

	dir := t.TempDir()
	path := filepath.Join(dir, "staged")

	artifact := component.ArtifactRef{
		URI:       "s3://bucket/key",
		Digest:    digestOf(content),
		Algorithm: "sha256",
	}

	if err := v.Download(context.Background(), testIdentifier(t), artifact, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != content {
		t.Fatalf("got content %q, want %q", got, content)
	}
}

func TestDownloadRemovesFileOnDigestMismatch(t *testing.T) {
	client := &fakeBucketClient{content: "actual bytes"}
	v := &Variant{client: client}

	dir := t.TempDir()
	path := filepath.Join(dir, "staged")

	artifact := component.ArtifactRef{
		URI:       "s3://bucket/key",
		Digest:    digestOf("expected bytes"),
		Algorithm: "sha256",
	}

	err := v.Download(context.Background(), testIdentifier(t), artifact, path)
	if err == nil {
		t.Fatal("expected digest mismatch error")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatal("expected staged file to be removed on digest mismatch")
	}
}

func TestDownloadRequiredFalseWhenLocalCopyMatches(t *testing.T) {
	content := "cached content"
	dir := t.TempDir()
	path := filepath.Join(dir, "cached")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v := &Variant{client: &fakeBucketClient{}}
	artifact := component.ArtifactRef{URI: "s3://bucket/key", Digest: digestOf(content), Algorithm: "sha256"}

	required, err := v.DownloadRequired(context.Background(), testIdentifier(t), artifact, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if required {
		t.Fatal("expected DownloadRequired to be false for a matching local copy")
	}
}

func TestParseObjectURIRejectsMissingKey(t *testing.T) {
	if _, _, err := parseObjectURI("s3://bucket-only"); err == nil {
		t.Fatal("expected error for uri with no key")
	}
}
