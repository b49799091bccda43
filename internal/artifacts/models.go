package artifacts

import "strings"

type ArtifactKind string

const (
	LanguageArtifact ArtifactKind = "language" // Platform-independent package tarball
	BindingArtifact  ArtifactKind = "binding"  // Per-platform native addon tarball
	ArchiveArtifact  ArtifactKind = "archive"  // Any other tarball found in the store
)

// TarballExt is the extension npm pack produces.
const TarballExt = ".tgz"

type Artifact struct {
	ID   string       `json:"id"`
	Kind ArtifactKind `json:"kind"`
	Name string       `json:"name"`
	URI  string       `json:"uri"`

	Checksum    string         `json:"sha256"`
	Size        int64          `json:"size"`
	ContentType string         `json:"content_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Classify names the kind of a tarball file name for the given package base name.
func Classify(fileName, packageName string) ArtifactKind {
	switch {
	case fileName == packageName+TarballExt:
		return LanguageArtifact
	case strings.HasPrefix(fileName, packageName+"-") && strings.HasSuffix(fileName, TarballExt):
		return BindingArtifact
	default:
		return ArchiveArtifact
	}
}
