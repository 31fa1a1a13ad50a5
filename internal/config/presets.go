package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrPresetNotFound is returned by Presets.Lookup for unknown names.
var ErrPresetNotFound = errors.New("preset not found")

// Preset is a named module command.
type Preset struct {
	Name        string `json:"name" yaml:"-"`
	Command     string `json:"command" yaml:"command"`
	Description string `json:"description,omitempty" yaml:"description"`
}

type presetFile struct {
	Presets map[string]Preset `yaml:"presets"`
}

// Presets is a read-only set of named commands.
type Presets struct {
	byName map[string]Preset
}

// ReadPresets loads a presets file. A missing file yields an empty set.
func ReadPresets(path string) (*Presets, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Presets{byName: map[string]Preset{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParsePresets(data)
}

// ParsePresets decodes the YAML form:
//
//	presets:
//	  status:
//	    command: STATUS
func ParsePresets(data []byte) (*Presets, error) {
	var payload presetFile
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	byName := make(map[string]Preset, len(payload.Presets))
	for name, preset := range payload.Presets {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if strings.TrimSpace(preset.Command) == "" {
			return nil, fmt.Errorf("parse presets: %s: empty command", name)
		}
		preset.Name = name
		byName[name] = preset
	}
	return &Presets{byName: byName}, nil
}

// Lookup returns the preset with the given name.
func (p *Presets) Lookup(name string) (Preset, error) {
	preset, ok := p.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}
	return preset, nil
}

// List returns every preset sorted by name.
func (p *Presets) List() []Preset {
	out := make([]Preset, 0, len(p.byName))
	for _, preset := range p.byName {
		out = append(out, preset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dump renders cfg as YAML.
func Dump(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
