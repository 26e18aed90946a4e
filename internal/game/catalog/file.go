package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileSchema is the on-disk layout of a catalog fixture file.
type fileSchema struct {
	Floors []Floor `yaml:"pisos"`
	Tiers  []Tier  `yaml:"tiers"`
	Items  []Item  `yaml:"items"`
}

// LoadFile builds a Catalog from a YAML fixture file. Used for offline
// sessions and tests; the field names match the remote service's wire names.
//
// Precondition: path must reference a readable YAML file.
// Postcondition: Returns a populated Catalog or a non-nil error.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}

	var schema fileSchema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parsing catalog file %s: %w", path, err)
	}

	return New(schema.Floors, schema.Tiers, schema.Items), nil
}
