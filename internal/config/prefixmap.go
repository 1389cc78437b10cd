package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/partregistry/internal/matching"
	"github.com/JonMunkholm/partregistry/internal/pipeline"
)

// prefixMapFile is the on-disk shape of PREFIX_MAP_FILE:
//
//	modules:
//	  Powertrain: PS
//	  Mechanical Design: MD
type prefixMapFile struct {
	Modules map[string]string `yaml:"modules"`
}

// LoadPrefixMap reads a module -> prefix map. Module names are normalized the
// same way part names are; prefixes must pass pipeline.NormalizePrefix.
func LoadPrefixMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prefix map: %w", err)
	}

	var f prefixMapFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prefix map %s: %w", path, err)
	}

	out := make(map[string]string, len(f.Modules))
	for module, prefix := range f.Modules {
		key := matching.Normalize(module)
		if key == "" {
			return nil, fmt.Errorf("prefix map %s: empty module name", path)
		}
		p, err := pipeline.NormalizePrefix(prefix)
		if err != nil {
			return nil, fmt.Errorf("prefix map %s: module %q: %w", path, module, err)
		}
		if existing, ok := out[key]; ok && existing != p {
			return nil, fmt.Errorf("prefix map %s: module %q mapped to both %s and %s", path, module, existing, p)
		}
		out[key] = p
	}
	return out, nil
}
