// Package objectstore implements the object-store artifact downloader
// variant named in spec.md §4.2: s3:// and gs:// artifact URIs, plus an
// endpoint-override form routed to an S3-compatible MinIO deployment,
// grounded on the teacher's storage.Service
// (internal/app/storage/service.go) generalized from a fixed MinIO
// client to a scheme-selected bucketClient.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/fleetedge/agentcore/internal/domain/component"
	"github.com/fleetedge/agentcore/internal/downloader"
)

// bucketClient is the seam every concrete backend (S3, GCS, MinIO)
// implements, letting Variant's staging logic be exercised in tests
// without a real object store.
type bucketClient interface {
	// Stat returns the remote object's size in bytes.
	Stat(ctx context.Context, bucket, key string) (int64, error)
	// Get opens the remote object for reading.
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Variant is a downloader.Variant backed by an object store. One
// Variant instance handles every bucket reachable through a single
// bucketClient; Factory registration binds it to the schemes it
// serves ("s3", "gs", or both when a single MinIO endpoint stands in
// for both during local development).
type Variant struct {
	client bucketClient
}

var _ downloader.Variant = (*Variant)(nil)

// NewS3Variant builds a Variant backed by AWS S3.
func NewS3Variant(client *s3APIClient) *Variant {
	return &Variant{client: client}
}

// parseObjectURI splits an s3://bucket/key or gs://bucket/key
// ArtifactRef URI into its bucket and key components.
func parseObjectURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("objectstore: parse %q: %w", uri, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("objectstore: uri %q missing bucket or key", uri)
	}
	return bucket, key, nil
}

func (v *Variant) DownloadSize(ctx context.Context, id component.Identifier, artifact component.ArtifactRef) (int64, error) {
	bucket, key, err := parseObjectURI(artifact.URI)
	if err != nil {
		return 0, err
	}
	return v.client.Stat(ctx, bucket, key)
}

func (v *Variant) DownloadRequired(ctx context.Context, id component.Identifier, artifact component.ArtifactRef, path string) (bool, error) {
	matches, err := downloader.LocalCopyMatches(artifact, path)
	if err != nil {
		return false, err
	}
	return !matches, nil
}

func (v *Variant) Download(ctx context.Context, id component.Identifier, artifact component.ArtifactRef, path string) error {
	bucket, key, err := parseObjectURI(artifact.URI)
	if err != nil {
		return err
	}

	rc, err := v.client.Get(ctx, bucket, key)
	if err != nil {
		return &downloader.AuthError{URI: artifact.URI, Cause: err}
	}
	defer rc.Close()

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("objectstore: create %s: %w", tmp, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("objectstore: download %s: %w", artifact.URI, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := downloader.VerifyDigest(artifact, path); err != nil {
		return err
	}
	return nil
}
