// Package downloader implements the scheme-dispatched artifact
// acquisition layer of spec.md §4.2: stage every artifact a recipe
// names into a local path and verify its digest, dispatching to a
// variant by the artifact URI's scheme.
package downloader

import (
	"context"
	"fmt"
	"net/url"

	"github.com/fleetedge/agentcore/internal/domain/component"
)

// Variant is the contract every scheme-specific downloader implements,
// per spec.md §4.2.
type Variant interface {
	// DownloadSize reports the remote size of artifact in bytes.
	DownloadSize(ctx context.Context, id component.Identifier, artifact component.ArtifactRef) (int64, error)

	// DownloadRequired reports false iff the file already at path
	// matches artifact's declared digest.
	DownloadRequired(ctx context.Context, id component.Identifier, artifact component.ArtifactRef, path string) (bool, error)

	// Download stages artifact at path; idempotent, resumable where the
	// transport supports ranged reads.
	Download(ctx context.Context, id component.Identifier, artifact component.ArtifactRef, path string) error
}

// Factory dispatches an ArtifactRef to the Variant registered for its
// URI scheme, grounded on the teacher's StrategyRegistry pattern
// (internal/domain/sync.StrategyRegistry / internal/infrastructure/sync
// registry.go) generalized from sync-strategy names to URI schemes.
type Factory struct {
	// variants maps each URI scheme to its Variant. Every scheme is
	// registered on its own; there is no alias lookup between schemes.
	variants map[string]Variant
}

// NewFactory creates an empty Factory.
func NewFactory() *Factory {
	return &Factory{variants: make(map[string]Variant)}
}

// Register associates scheme with v. Registering the same scheme twice
// replaces the previous variant.
func (f *Factory) Register(scheme string, v Variant) {
	f.variants[scheme] = v
}

// For returns the Variant registered for uri's scheme. Bare vendor-repo
// paths and bare `registry/path:tag` image references have no URI
// scheme at all; callers of For should route those directly to the
// vendorrepo/registry variant rather than through this dispatch.
func (f *Factory) For(uri string) (Variant, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("downloader: parse artifact URI %q: %w", uri, err)
	}
	v, ok := f.variants[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("downloader: no variant registered for scheme %q (uri %q)", u.Scheme, uri)
	}
	return v, nil
}

// Schemes lists every registered scheme, for diagnostics.
func (f *Factory) Schemes() []string {
	out := make([]string, 0, len(f.variants))
	for s := range f.variants {
		out = append(out, s)
	}
	return out
}
