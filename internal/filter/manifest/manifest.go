package manifest

import (
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v3"
)

// Manifest describes an installable transcript filter.
type Manifest struct {
	Metadata Metadata    `yaml:"metadata"`
	Runtime  RuntimeSpec `yaml:"runtime"`
	Stages   []string    `yaml:"stages,omitempty"`
}

type Metadata struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	Tags        []string `yaml:"tags,omitempty"`
}

type RuntimeSpec struct {
	Mode       string `yaml:"mode"`
	Module     string `yaml:"module"`
	Entrypoint string `yaml:"entrypoint"`
	ABIVersion string `yaml:"abi_version"`
}

// Load reads a manifest from disk.
func Load(path string) (Manifest, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate ensures manifest contains required fields.
func Validate(m Manifest) error {
	if m.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if m.Metadata.Version == "" {
		return fmt.Errorf("metadata.version is required")
	}
	if m.Runtime.Mode == "" {
		return fmt.Errorf("runtime.mode is required")
	}
	switch m.Runtime.Mode {
	case "wasm":
		if m.Runtime.Module == "" {
			return fmt.Errorf("runtime.module is required for wasm")
		}
		if m.Runtime.Entrypoint == "" {
			return fmt.Errorf("runtime.entrypoint is required for wasm")
		}
	default:
		return fmt.Errorf("runtime.mode %q not supported", m.Runtime.Mode)
	}
	for _, stage := range m.Stages {
		switch stage {
		case "final", "partial":
		default:
			return fmt.Errorf("stages entry %q must be final or partial", stage)
		}
	}
	return nil
}

// AppliesTo reports whether the filter runs for the given stage.
// A manifest without a stages list applies to finals only.
func (m Manifest) AppliesTo(stage string) bool {
	if len(m.Stages) == 0 {
		return stage == "final"
	}
	for _, s := range m.Stages {
		if s == stage {
			return true
		}
	}
	return false
}
