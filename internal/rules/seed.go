package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseYAML reads a snapshot from a yaml seed document. Fields the
// document leaves out keep their default values.
func ParseYAML(data []byte) (*Snapshot, error) {
	snap := Defaults()
	snap.Advisory = nil
	if err := yaml.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	snap.Normalize()
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// LoadYAMLFile reads a seed file from disk.
func LoadYAMLFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseYAML(data)
}
