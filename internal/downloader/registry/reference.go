// Package registry implements the container-registry artifact
// downloader variant of spec.md §4.2: docker:// and bare
// registry/path:tag image references, pulled through the Docker
// engine API, grounded on the teacher's docker.Service
// (internal/app/docker/service.go).
package registry

import (
	"fmt"
	"regexp"
	"strings"
)

// referencePattern accepts the image-reference grammar of spec.md §8:
// an optional registry host (containing a dot or colon, to
// disambiguate from a Docker Hub "library" image), one or more
// "/"-separated path segments, and a mandatory ":tag" or "@digest"
// suffix. Bare "name:tag" with no registry host is accepted and
// implicitly routed to Docker Hub, matching `docker pull` semantics.
var referencePattern = regexp.MustCompile(`^(?:((?:[a-zA-Z0-9-]+(?:\.[a-zA-Z0-9-]+)+(?::[0-9]+)?|[a-zA-Z0-9-]+:[0-9]+))/)?([a-zA-Z0-9_./-]+)(?::([a-zA-Z0-9_.-]+)|@(sha256:[a-fA-F0-9]{64}))$`)

// Reference is a parsed container image reference.
type Reference struct {
	Registry string // empty means Docker Hub
	Path     string
	Tag      string // empty when Digest is set
	Digest   string
}

// String reconstructs the canonical form Docker expects for an
// ImagePull call.
func (r Reference) String() string {
	var b strings.Builder
	if r.Registry != "" {
		b.WriteString(r.Registry)
		b.WriteByte('/')
	}
	b.WriteString(r.Path)
	if r.Digest != "" {
		b.WriteByte('@')
		b.WriteString(r.Digest)
	} else {
		b.WriteByte(':')
		b.WriteString(r.Tag)
	}
	return b.String()
}

// ParseReference parses uri, which may be a docker://registry/path:tag
// URI or a bare registry/path:tag string, into a Reference. Per
// spec.md §8's accept/reject table, a reference with neither a tag nor
// a digest is rejected — "latest" must be named explicitly.
func ParseReference(uri string) (Reference, error) {
	trimmed := strings.TrimPrefix(uri, "docker://")

	m := referencePattern.FindStringSubmatch(trimmed)
	if m == nil {
		return Reference{}, fmt.Errorf("registry: %q is not a valid image reference (registry/path:tag or registry/path@sha256:digest)", uri)
	}

	return Reference{
		Registry: m[1],
		Path:     m[2],
		Tag:      m[3],
		Digest:   m[4],
	}, nil
}

// Host returns the registry host this reference authenticates
// against, defaulting to Docker Hub's well-known host when none was
// named explicitly.
func (r Reference) Host() string {
	if r.Registry == "" {
		return "registry-1.docker.io"
	}
	return r.Registry
}
