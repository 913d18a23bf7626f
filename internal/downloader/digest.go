package downloader

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/fleetedge/agentcore/internal/domain/component"
)

// newHash returns the hash.Hash for an algorithm name. Only the
// algorithms the recipe store is expected to carry are supported;
// anything else is a recipe authoring error, not a transient failure.
func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "", "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("downloader: unsupported digest algorithm %q", algorithm)
	}
}

// digestFile computes the hex digest of the file at path under the
// artifact's declared algorithm (sha256 if unspecified).
func digestFile(path, algorithm string) (string, error) {
	h, err := newHash(algorithm)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyDigest recomputes the digest of path and compares it
// byte-for-byte with artifact's declared one. If artifact carries no
// digest, any local copy is accepted. On mismatch the file is removed
// and a non-retryable *IntegrityError is returned.
func VerifyDigest(artifact component.ArtifactRef, path string) error {
	if !artifact.HasDigest() {
		return nil
	}
	actual, err := digestFile(path, artifact.Algorithm)
	if err != nil {
		return fmt.Errorf("downloader: digest %s: %w", path, err)
	}
	if actual != artifact.Digest {
		_ = os.Remove(path)
		return &IntegrityError{
			URI:       artifact.URI,
			Algorithm: artifact.Algorithm,
			Expected:  artifact.Digest,
			Actual:    actual,
		}
	}
	return nil
}

// LocalCopyMatches reports whether the file at path already satisfies
// artifact, i.e. DownloadRequired should return false. A missing file
// always requires download; a file with no declared digest is accepted
// as-is once present (spec.md §4.2's "accept any local copy" rule).
func LocalCopyMatches(artifact component.ArtifactRef, path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("downloader: %s is a directory", path)
	}
	if !artifact.HasDigest() {
		return true, nil
	}
	actual, err := digestFile(path, artifact.Algorithm)
	if err != nil {
		return false, err
	}
	return actual == artifact.Digest, nil
}
