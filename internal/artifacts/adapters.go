package artifacts

// ArtifactStore is the publish set. Stored artifacts keep their file names.
type ArtifactStore interface {
	StoreArtifact(artifactPath string, kind ArtifactKind, metadata map[string]any) (Artifact, error)
	// Seal records everything stored so far and returns it in store order.
	Seal() ([]Artifact, error)
	Clear() error
}
