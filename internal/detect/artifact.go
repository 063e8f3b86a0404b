package detect

// ArtifactWriter records a handled failure as a standalone diagnostic file.
// Each call produces a new artifact; existing ones are never appended to.
type ArtifactWriter interface {
	// Write stores msg and returns the artifact's location.
	Write(msg string) (string, error)
}
