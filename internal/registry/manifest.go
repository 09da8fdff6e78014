package registry

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ToolOverride is one [[tools]] entry in a manifest file. A nil
// Enabled leaves the registration default untouched.
type ToolOverride struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Enabled     *bool  `toml:"enabled"`
}

type manifest struct {
	Tools []ToolOverride `toml:"tools"`
}

// LoadManifest parses a TOML tool manifest.
func LoadManifest(path string) ([]ToolOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m.Tools, nil
}

// ApplyOverrides applies manifest entries to registered tools at
// startup. An override naming an unregistered tool is a configuration
// error, same as a duplicate registration.
func (r *Registry) ApplyOverrides(overrides []ToolOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range overrides {
		e, ok := r.tools[o.Name]
		if !ok {
			return fmt.Errorf("%w: manifest entry %q", ErrNotFound, o.Name)
		}
		if o.Description != "" {
			e.description = o.Description
		}
		if o.Enabled != nil {
			e.enabled = *o.Enabled
		}
		r.logger.Debug("applied manifest override", "name", o.Name)
	}
	return nil
}
