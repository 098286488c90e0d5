package config

import (
	"fmt"
	"sort"

	"github.com/mockswitch/mockswitch/pkg/scenario"
)

// Document is the root structure of a scenario configuration file.
type Document struct {
	// Version is the config format version (currently "1").
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Scenarios maps scenario identifiers to their definitions. A
	// standalone file must contain the "default" key; files merged from a
	// directory may each contribute a subset as long as the merged result
	// does.
	Scenarios map[string]*ScenarioEntry `json:"scenarios" yaml:"scenarios"`
}

// ScenarioEntry is one scenario within a Document. The identifier comes
// from the map key, so the entry itself carries no id field.
type ScenarioEntry struct {
	Name        string           `json:"name,omitempty" yaml:"name,omitempty"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
	Mocks       []*scenario.Mock `json:"mocks" yaml:"mocks"`
}

// SupportedVersion is the config format version this loader understands.
const SupportedVersion = "1"

// Validate runs structural validation over every scenario in the document.
func (d *Document) Validate() error {
	if d.Version != "" && d.Version != SupportedVersion {
		return &scenario.ConfigurationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %q, expected %q", d.Version, SupportedVersion),
		}
	}
	if len(d.Scenarios) == 0 {
		return &scenario.ConfigurationError{Field: "scenarios", Message: "at least one scenario is required"}
	}

	for _, id := range d.scenarioIDs() {
		entry := d.Scenarios[id]
		if entry == nil {
			return &scenario.ConfigurationError{
				Field:   "scenarios." + id,
				Message: "scenario cannot be null",
			}
		}
		def := entry.definition(id)
		if err := def.Validate(); err != nil {
			return fmt.Errorf("scenario %q: %w", id, err)
		}
	}
	return nil
}

// Definitions converts the document to registrable scenario definitions,
// ordered default-first then lexically for determinism.
func (d *Document) Definitions() []*scenario.Definition {
	defs := make([]*scenario.Definition, 0, len(d.Scenarios))
	for _, id := range d.scenarioIDs() {
		defs = append(defs, d.Scenarios[id].definition(id))
	}
	return defs
}

// HasDefault reports whether the document contains the default scenario.
func (d *Document) HasDefault() bool {
	_, ok := d.Scenarios[scenario.DefaultScenarioID]
	return ok
}

func (d *Document) scenarioIDs() []string {
	ids := make([]string, 0, len(d.Scenarios))
	for id := range d.Scenarios {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i] == scenario.DefaultScenarioID {
			return true
		}
		if ids[j] == scenario.DefaultScenarioID {
			return false
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (e *ScenarioEntry) definition(id string) *scenario.Definition {
	return &scenario.Definition{
		ID:          id,
		Name:        e.Name,
		Description: e.Description,
		Mocks:       e.Mocks,
	}
}
