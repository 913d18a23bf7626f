// Package vendorrepo implements the vendor-repository artifact
// downloader variant of spec.md §4.2: a plain ranged HTTP GET against a
// vendor's artifact store, with resumable transfer and the finite retry
// regime for auth/service-unavailable responses.
//
// No example repo in the corpus performs outbound ranged HTTP
// transfers (the teacher's net/http usage is entirely server-side, via
// chi), so this variant is built directly against net/http — see
// DESIGN.md's justification for this one stdlib-only component.
package vendorrepo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/fleetedge/agentcore/internal/credentials"
	"github.com/fleetedge/agentcore/internal/domain/component"
	"github.com/fleetedge/agentcore/internal/downloader"
	"github.com/fleetedge/agentcore/internal/pkg/retry"
)

// Variant downloads artifacts named by a plain https:// (or bare
// vendor-relative) URI over ranged HTTP GET.
type Variant struct {
	httpClient *http.Client
	resolver   *credentials.Resolver
	retry      retry.Policy
}

var _ downloader.Variant = (*Variant)(nil)

// Options configures a Variant.
type Options struct {
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// Resolver supplies bearer credentials when the vendor repo
	// requires auth; nil means anonymous access.
	Resolver *credentials.Resolver
	// Retry governs retries of transient transfer failures. Defaults
	// to retry.Finite(5, nil).
	Retry *retry.Policy
}

// New builds a Variant from opts.
func New(opts Options) *Variant {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	policy := retry.Finite(5, nil)
	if opts.Retry != nil {
		policy = *opts.Retry
	}
	return &Variant{httpClient: httpClient, resolver: opts.Resolver, retry: policy}
}

func (v *Variant) authorize(ctx context.Context, req *http.Request, uri string) error {
	if v.resolver == nil {
		return nil
	}
	creds, err := v.resolver.Get(ctx, uri)
	if err != nil {
		return &downloader.AuthError{URI: uri, Cause: err}
	}
	if creds.Password != "" {
		req.SetBasicAuth(creds.Username, creds.Password)
	}
	return nil
}

func (v *Variant) DownloadSize(ctx context.Context, id component.Identifier, artifact component.ArtifactRef) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, artifact.URI, nil)
	if err != nil {
		return 0, fmt.Errorf("vendorrepo: build HEAD request: %w", err)
	}
	if err := v.authorize(ctx, req, artifact.URI); err != nil {
		return 0, err
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return 0, &downloader.AuthError{URI: artifact.URI, Cause: fmt.Errorf("HEAD returned %s", resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("vendorrepo: HEAD %s: %s", artifact.URI, resp.Status)
	}
	return resp.ContentLength, nil
}

func (v *Variant) DownloadRequired(ctx context.Context, id component.Identifier, artifact component.ArtifactRef, path string) (bool, error) {
	matches, err := downloader.LocalCopyMatches(artifact, path)
	if err != nil {
		return false, err
	}
	return !matches, nil
}

// Download performs a resumable ranged GET: an existing partial
// .part file is resumed via a Range header; a non-206 response to a
// resume attempt restarts the transfer from zero.
func (v *Variant) Download(ctx context.Context, id component.Identifier, artifact component.ArtifactRef, path string) error {
	tmp := path + ".part"

	err := v.retry.Do(ctx, func(ctx context.Context) error {
		return v.attempt(ctx, artifact, tmp)
	})
	if err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("vendorrepo: rename staged artifact: %w", err)
	}
	if err := downloader.VerifyDigest(artifact, path); err != nil {
		return err
	}
	return nil
}

func (v *Variant) attempt(ctx context.Context, artifact component.ArtifactRef, tmp string) error {
	var offset int64
	if info, err := os.Stat(tmp); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifact.URI, nil)
	if err != nil {
		return retry.Permanent(fmt.Errorf("vendorrepo: build GET request: %w", err))
	}
	if err := v.authorize(ctx, req, artifact.URI); err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &downloader.AuthError{URI: artifact.URI, Cause: fmt.Errorf("GET returned %s", resp.Status)}
	case http.StatusOK:
		// Server ignored the Range header (or there was none): write
		// from scratch.
		return writeFresh(tmp, resp.Body)
	case http.StatusPartialContent:
		return appendTo(tmp, resp.Body)
	case http.StatusRequestedRangeNotSatisfiable:
		// The partial file is already complete, or the server's
		// resource shrank; restart clean.
		os.Remove(tmp)
		return fmt.Errorf("vendorrepo: range not satisfiable for %s, restarting", artifact.URI)
	default:
		return fmt.Errorf("vendorrepo: GET %s: %s", artifact.URI, resp.Status)
	}
}

func writeFresh(tmp string, body io.Reader) error {
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("vendorrepo: create %s: %w", tmp, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("vendorrepo: write %s: %w", tmp, err)
	}
	return nil
}

func appendTo(tmp string, body io.Reader) error {
	f, err := os.OpenFile(tmp, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("vendorrepo: open %s for append: %w", tmp, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return fmt.Errorf("vendorrepo: append %s: %w", tmp, err)
	}
	return nil
}
