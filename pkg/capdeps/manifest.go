package capdeps

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/715d/capdeps/pkg/ref"
)

// Manifest names, in lookup order.
var manifestNames = []string{"capdeps.yaml", "capdeps.yml", "capdeps.toml"}

// Manifest is a capdeps.yaml or capdeps.toml project file.
type Manifest struct {
	// Sources are files or directories, relative to the manifest.
	Sources []string `yaml:"sources" toml:"sources"`

	// Analyze lists the units to analyse. Empty means every unit that is not
	// a capability.
	Analyze []string `yaml:"analyze" toml:"analyze"`

	// Roots are extra required roots in "owner.name desc [static]" form.
	Roots []string `yaml:"roots" toml:"roots"`

	// Propagation is "once" or "per-path".
	Propagation string `yaml:"propagation" toml:"propagation"`

	ImplementedByDefault bool `yaml:"implemented_by_default" toml:"implemented_by_default"`

	// Dir is the directory containing the manifest (set at load time).
	Dir string `yaml:"-" toml:"-"`
}

// LoadManifest parses a manifest file. The format follows the extension.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &m)
	default:
		return nil, fmt.Errorf("manifest %s: unknown format", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve manifest dir: %w", err)
	}
	if len(m.Sources) == 0 {
		m.Sources = []string{"."}
	}
	return &m, nil
}

// FindManifest returns the manifest in dir, or "" if there is none.
func FindManifest(dir string) string {
	for _, name := range manifestNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// SourcePaths returns the sources resolved against the manifest directory.
func (m *Manifest) SourcePaths() []string {
	paths := make([]string, len(m.Sources))
	for i, s := range m.Sources {
		if filepath.IsAbs(s) {
			paths[i] = s
			continue
		}
		paths[i] = filepath.Join(m.Dir, s)
	}
	return paths
}

// RootRefs parses Roots.
func (m *Manifest) RootRefs() ([]ref.Reference, error) {
	refs := make([]ref.Reference, 0, len(m.Roots))
	for _, s := range m.Roots {
		r, err := ref.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("manifest root: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, nil
}
