package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ManifestName is written into the publish directory by Seal.
const ManifestName = "manifest.json"

// LocalArtifactStore copies artifacts flat into BaseDir and describes them
// in a single manifest.
type LocalArtifactStore struct {
	BaseDir string

	stored []Artifact
}

var _ ArtifactStore = (*LocalArtifactStore)(nil)

// StoreArtifact copies the artifact into the publish directory, keeping its name.
func (store *LocalArtifactStore) StoreArtifact(artifactPath string, kind ArtifactKind, metadata map[string]any) (Artifact, error) {
	if store.BaseDir == "" {
		return Artifact{}, errors.New("base directory is not configured")
	}
	if artifactPath == "" {
		return Artifact{}, errors.New("artifact path is required")
	}
	if err := os.MkdirAll(store.BaseDir, 0o755); err != nil {
		return Artifact{}, err
	}

	src, err := os.Open(artifactPath)
	if err != nil {
		return Artifact{}, err
	}
	defer src.Close()

	name := filepath.Base(artifactPath)
	destPath := filepath.Join(store.BaseDir, name)
	dst, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Artifact{}, err
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, hash), src)
	if err != nil {
		dst.Close()
		return Artifact{}, err
	}
	if err := dst.Close(); err != nil {
		return Artifact{}, err
	}

	artifact := Artifact{
		ID:          uuid.NewString(),
		Kind:        kind,
		Name:        name,
		URI:         FileURI(destPath),
		Checksum:    hex.EncodeToString(hash.Sum(nil)),
		Size:        size,
		ContentType: detectContentType(destPath),
		Metadata:    cloneMetadata(metadata),
	}

	// A later artifact with the same name replaces the earlier copy.
	for i, existing := range store.stored {
		if existing.Name == name {
			store.stored = append(store.stored[:i], store.stored[i+1:]...)
			break
		}
	}
	store.stored = append(store.stored, artifact)
	return artifact, nil
}

// Seal writes manifest.json describing every stored artifact.
func (store *LocalArtifactStore) Seal() ([]Artifact, error) {
	if err := os.MkdirAll(store.BaseDir, 0o755); err != nil {
		return nil, err
	}
	stored := append([]Artifact{}, store.stored...)
	payload, err := json.MarshalIndent(manifest{Artifacts: stored}, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(store.BaseDir, ManifestName), append(payload, '\n'), 0o644); err != nil {
		return nil, err
	}
	return stored, nil
}

// Clear removes everything under the store's base directory.
func (store *LocalArtifactStore) Clear() error {
	store.stored = nil
	entries, err := os.ReadDir(store.BaseDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(store.BaseDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

type manifest struct {
	Artifacts []Artifact `json:"artifacts"`
}

// ReadManifest loads the manifest written by Seal.
func ReadManifest(dir string) ([]Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return m.Artifacts, nil
}

func detectContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tgz", ".gz":
		return "application/gzip"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	cloned := make(map[string]any, len(metadata))
	for k, v := range metadata {
		cloned[k] = v
	}
	return cloned
}
