package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ai-product-analyzer/internal/domain"
)

// Models binds roles to backend identifiers and lists, per backend, the
// ordered alternates tried when it is rate limited. ProviderIDs maps a
// backend identifier to the model slug sent to the HTTP provider.
type Models struct {
	Roles       map[domain.Role]string `yaml:"roles"`
	Fallbacks   map[string][]string    `yaml:"fallbacks"`
	ProviderIDs map[string]string      `yaml:"provider_ids"`
}

// DefaultModels returns the built-in role bindings and fallback table.
func DefaultModels() Models {
	return Models{
		Roles: map[domain.Role]string{
			domain.RoleBasic:            "gemini-flash",
			domain.RoleDetailed:         "gemini-pro",
			domain.RoleDeep:             "gemini-25",
			domain.RoleScrapingFallback: "gemini-flash",
		},
		Fallbacks: map[string][]string{
			"gemini-flash": {"gemini-25"},
			"gemini-25":    {"gemini-flash"},
			"gemini-pro":   {"gemini-flash", "gemini-25"},
		},
		ProviderIDs: map[string]string{
			"gemini-flash": "google/gemini-2.0-flash-001",
			"gemini-pro":   "google/gemini-pro-1.5",
			"gemini-25":    "google/gemini-2.5-pro",
		},
	}
}

// LoadModels returns DefaultModels overridden by the YAML file at path.
// An empty path yields the defaults. Roles and fallback entries present in
// the file replace the defaults key by key.
func LoadModels(path string) (Models, error) {
	models := DefaultModels()
	if path == "" {
		return models, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Models{}, fmt.Errorf("op=config.LoadModels: failed to get absolute path: %w", err)
	}
	// #nosec G304 -- models file path comes from operator configuration
	content, err := os.ReadFile(absPath)
	if err != nil {
		return Models{}, fmt.Errorf("op=config.LoadModels: failed to read models file: %w", err)
	}

	var override Models
	if err := yaml.Unmarshal(content, &override); err != nil {
		return Models{}, fmt.Errorf("op=config.LoadModels: failed to parse YAML: %w", err)
	}
	for role, model := range override.Roles {
		models.Roles[role] = model
	}
	for model, alternates := range override.Fallbacks {
		models.Fallbacks[model] = alternates
	}
	for model, id := range override.ProviderIDs {
		models.ProviderIDs[model] = id
	}
	if err := models.Validate(); err != nil {
		return Models{}, fmt.Errorf("op=config.LoadModels: %w", err)
	}
	return models, nil
}

// Validate checks that every known role is bound to a non-empty backend.
func (m Models) Validate() error {
	for _, role := range domain.Roles {
		if m.Roles[role] == "" {
			return fmt.Errorf("%w: role %s is not bound to a model", domain.ErrInvalidArgument, role)
		}
	}
	for model, alternates := range m.Fallbacks {
		for _, alt := range alternates {
			if alt == "" {
				return fmt.Errorf("%w: empty alternate for %s", domain.ErrInvalidArgument, model)
			}
		}
	}
	return nil
}

// ModelFor returns the backend bound to role.
func (m Models) ModelFor(role domain.Role) string { return m.Roles[role] }

// Alternates returns the ordered fallback list for model.
func (m Models) Alternates(model string) []string { return m.Fallbacks[model] }

// ProviderID returns the provider slug for model, or model itself when unmapped.
func (m Models) ProviderID(model string) string {
	if id := m.ProviderIDs[model]; id != "" {
		return id
	}
	return model
}

// Backends returns every backend identifier referenced by a role binding or
// the fallback table, sorted.
func (m Models) Backends() []string {
	seen := make(map[string]struct{})
	for _, model := range m.Roles {
		seen[model] = struct{}{}
	}
	for model, alternates := range m.Fallbacks {
		seen[model] = struct{}{}
		for _, alt := range alternates {
			seen[alt] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for model := range seen {
		out = append(out, model)
	}
	sort.Strings(out)
	return out
}
