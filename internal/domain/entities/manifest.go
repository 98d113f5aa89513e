package entities

// Manifest defaults written into the environment for every run
const (
	DefaultManifestPath    = "package.json"
	DefaultManifestName    = "npm-package-auditor"
	DefaultManifestVersion = "1.0.0"
)

// Manifest is the minimal package manifest materialized inside the environment
type Manifest struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// NewManifest builds a manifest from a selection
func NewManifest(name, version string, selection DependencySelection) *Manifest {
	deps := make(map[string]string, len(selection))
	for _, dep := range selection {
		deps[dep.Name] = dep.Constraint
	}
	return &Manifest{
		Name:         name,
		Version:      version,
		Dependencies: deps,
	}
}
