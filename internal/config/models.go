package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ProviderTag identifies which chat-completion API a model speaks.
type ProviderTag string

const (
	ProviderOpenAI    ProviderTag = "openai"
	ProviderAnthropic ProviderTag = "anthropic"
	ProviderGemini    ProviderTag = "gemini"
)

// Model is one registry record: a human shortname bound to a provider and
// the model id that provider expects on the wire.
type Model struct {
	Shortname string      `yaml:"shortname"`
	Provider  ProviderTag `yaml:"provider"`
	WireID    string      `yaml:"wire_id"`
	MaxTokens int         `yaml:"max_tokens"`
}

// DefaultModel is the shortname active when nothing else selects one.
const DefaultModel = "gemini-flash"

var builtinModels = []Model{
	{Shortname: "gemini-flash", Provider: ProviderGemini, WireID: "gemini-2.0-flash", MaxTokens: 8192},
	{Shortname: "gemini-pro", Provider: ProviderGemini, WireID: "gemini-2.5-pro", MaxTokens: 8192},
	{Shortname: "gpt-5", Provider: ProviderOpenAI, WireID: "gpt-5", MaxTokens: 16384},
	{Shortname: "gpt-4o", Provider: ProviderOpenAI, WireID: "gpt-4o", MaxTokens: 16384},
	{Shortname: "gpt-4o-mini", Provider: ProviderOpenAI, WireID: "gpt-4o-mini", MaxTokens: 16384},
	{Shortname: "claude-sonnet", Provider: ProviderAnthropic, WireID: "claude-sonnet-4-20250514", MaxTokens: 8192},
	{Shortname: "claude-haiku", Provider: ProviderAnthropic, WireID: "claude-3-5-haiku-20241022", MaxTokens: 8192},
}

// Registry maps shortnames to model records and tracks the active one.
// The active shortname is always present in the map.
type Registry struct {
	models map[string]Model
	active string
}

// NewRegistry returns the built-in table with DefaultModel active.
func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]Model)}
	for _, m := range builtinModels {
		r.models[m.Shortname] = m
	}
	r.active = DefaultModel
	return r
}

// LoadOverlay merges records from a models.yaml file over the built-ins.
// A missing file is not an error.
func (r *Registry) LoadOverlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var overlay struct {
		Models []Model `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	for _, m := range overlay.Models {
		if m.Shortname == "" || m.WireID == "" {
			continue
		}
		switch m.Provider {
		case ProviderOpenAI, ProviderAnthropic, ProviderGemini:
		default:
			return fmt.Errorf("model %q: unknown provider %q", m.Shortname, m.Provider)
		}
		if m.MaxTokens <= 0 {
			m.MaxTokens = 8192
		}
		r.models[m.Shortname] = m
	}
	return nil
}

// Active returns the record for the active shortname.
func (r *Registry) Active() Model {
	return r.models[r.active]
}

// SetActive switches the active model.
func (r *Registry) SetActive(name string) error {
	if _, ok := r.models[name]; !ok {
		return fmt.Errorf("unknown model '%s'", name)
	}
	r.active = name
	return nil
}

// List returns all shortnames sorted, with the active one starred.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if name == r.active {
			names[i] = name + " *"
		}
	}
	return names
}
