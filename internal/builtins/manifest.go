package builtins

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// manifestFile is the on-disk shape of an external builtins manifest.
type manifestFile struct {
	Builtins []Doc `yaml:"builtins"`
}

// LoadManifest reads a YAML builtins manifest from path. The manifest only
// ever supplies documentation metadata (name, arity, help text) — it can
// describe a builtin that Registry already implements, to override its
// documentation, but it cannot add new behavior.
func LoadManifest(path string) ([]Doc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading builtins manifest: %w", err)
	}
	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parsing builtins manifest %s: %w", path, err)
	}
	for i, d := range mf.Builtins {
		if d.Name == "" {
			return nil, fmt.Errorf("builtins manifest %s: entry %d has no name", path, i)
		}
	}
	return mf.Builtins, nil
}

// Docs returns the documentation set the CLI should present: the external
// manifest at path if non-empty, otherwise DefaultDocs.
func Docs(path string) ([]Doc, error) {
	if path == "" {
		return DefaultDocs, nil
	}
	docs, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return docs, nil
}
