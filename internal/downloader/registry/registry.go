package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/fleetedge/agentcore/internal/credentials"
	"github.com/fleetedge/agentcore/internal/domain/component"
	"github.com/fleetedge/agentcore/internal/downloader"
)

// dockerAPI is the seam Variant drives; *client.Client satisfies it
// directly, the same engine client the teacher constructs in
// docker.NewService (internal/app/docker/service.go).
type dockerAPI interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageInspectWithRaw(ctx context.Context, refStr string) (image.InspectResponse, []byte, error)
}

// Variant pulls container images through the Docker engine API.
type Variant struct {
	client   dockerAPI
	resolver *credentials.Resolver
}

var _ downloader.Variant = (*Variant)(nil)

// New wraps a docker engine client. resolver may be nil for
// unauthenticated (public) registries.
func New(dockerClient *client.Client, resolver *credentials.Resolver) *Variant {
	return &Variant{client: dockerClient, resolver: resolver}
}

// NewFromEnv mirrors the teacher's docker.NewService construction
// (client.FromEnv + API version negotiation).
func NewFromEnv(resolver *credentials.Resolver) (*Variant, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("registry: new docker client: %w", err)
	}
	return New(cli, resolver), nil
}

// registryAuth base64-encodes the Docker engine's AuthConfig JSON
// shape for the x-registry-auth / RegistryAuth field.
func registryAuth(creds credentials.RegistryCredentials) (string, error) {
	payload, err := json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{Username: creds.Username, Password: creds.Password})
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(payload), nil
}

func (v *Variant) pullOptions(ctx context.Context, ref Reference) (image.PullOptions, error) {
	if v.resolver == nil {
		return image.PullOptions{}, nil
	}
	creds, err := v.resolver.Get(ctx, ref.Host())
	if err != nil {
		return image.PullOptions{}, &downloader.AuthError{URI: ref.String(), Cause: err}
	}
	auth, err := registryAuth(creds)
	if err != nil {
		return image.PullOptions{}, err
	}
	return image.PullOptions{RegistryAuth: auth}, nil
}

func (v *Variant) DownloadSize(ctx context.Context, id component.Identifier, artifact component.ArtifactRef) (int64, error) {
	ref, err := ParseReference(artifact.URI)
	if err != nil {
		return 0, err
	}
	inspect, _, err := v.client.ImageInspectWithRaw(ctx, ref.String())
	if err != nil {
		// Not present locally yet; the registry manifest size isn't
		// available without pulling, so report unknown rather than
		// fail — the supervisor treats zero as "size unknown".
		return 0, nil
	}
	return inspect.Size, nil
}

func (v *Variant) DownloadRequired(ctx context.Context, id component.Identifier, artifact component.ArtifactRef, path string) (bool, error) {
	ref, err := ParseReference(artifact.URI)
	if err != nil {
		return false, err
	}
	inspect, _, err := v.client.ImageInspectWithRaw(ctx, ref.String())
	if err != nil {
		return true, nil
	}
	if ref.Digest != "" {
		for _, d := range inspect.RepoDigests {
			if d == ref.Registry+"/"+ref.Path+"@"+ref.Digest || d == ref.Path+"@"+ref.Digest {
				return false, nil
			}
		}
		return true, nil
	}
	return false, nil
}

// Download pulls ref through the engine and records the resolved
// reference at path, the closest analogue to "stage the artifact" a
// registry pull has — the payload lives in the Docker engine's image
// store, not on the filesystem the supervisor manages directly.
func (v *Variant) Download(ctx context.Context, id component.Identifier, artifact component.ArtifactRef, path string) error {
	ref, err := ParseReference(artifact.URI)
	if err != nil {
		return err
	}

	opts, err := v.pullOptions(ctx, ref)
	if err != nil {
		return err
	}

	rc, err := v.client.ImagePull(ctx, ref.String(), opts)
	if err != nil {
		return fmt.Errorf("registry: pull %s: %w", ref.String(), err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("registry: read pull progress for %s: %w", ref.String(), err)
	}

	if err := os.WriteFile(path, []byte(ref.String()), 0o644); err != nil {
		return fmt.Errorf("registry: record pulled reference at %s: %w", path, err)
	}
	return nil
}
