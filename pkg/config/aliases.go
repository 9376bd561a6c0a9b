package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// ModelAliases manages model alias resolution and validation.
type ModelAliases struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// LoadAliases reads model aliases from a YAML file.
func LoadAliases(path string) (*ModelAliases, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var aliases ModelAliases
	if err := yaml.Unmarshal(data, &aliases); err != nil {
		return nil, err
	}

	if aliases.Aliases == nil {
		aliases.Aliases = make(map[string]string)
	}
	if aliases.Providers == nil {
		aliases.Providers = make(map[string][]string)
	}

	return &aliases, nil
}

// LoadAliasesWithFallback loads aliases from the user config dir, falling
// back to the built-in defaults when no file exists.
func LoadAliasesWithFallback(configDir string) (*ModelAliases, error) {
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return DefaultAliases(), nil
		}
		configDir = filepath.Join(home, ".shopmate")
	}
	userPath := filepath.Join(configDir, "models.yaml")
	if _, err := os.Stat(userPath); err == nil {
		return LoadAliases(userPath)
	}
	return DefaultAliases(), nil
}

// Resolve returns the canonical model name for an alias.
// If the input is not an alias, it returns the input unchanged.
func (a *ModelAliases) Resolve(modelOrAlias string) string {
	if a == nil || a.Aliases == nil {
		return modelOrAlias
	}
	if canonical, ok := a.Aliases[modelOrAlias]; ok {
		return canonical
	}
	return modelOrAlias
}

// ValidateModel checks if a model exists in the provider's list.
func (a *ModelAliases) ValidateModel(adapter, model string) error {
	if a == nil || a.Providers == nil {
		return nil
	}

	models, ok := a.Providers[adapter]
	if !ok {
		return fmt.Errorf("unknown adapter %q", adapter)
	}

	for _, m := range models {
		if m == model {
			return nil
		}
	}

	return fmt.Errorf("model %q not in %s provider list", model, adapter)
}

// ListAliases returns a copy of the aliases map.
func (a *ModelAliases) ListAliases() map[string]string {
	if a == nil || a.Aliases == nil {
		return make(map[string]string)
	}
	result := make(map[string]string, len(a.Aliases))
	for k, v := range a.Aliases {
		result[k] = v
	}
	return result
}

// ListProviders returns a sorted list of provider names.
func (a *ModelAliases) ListProviders() []string {
	if a == nil || a.Providers == nil {
		return nil
	}
	providers := make([]string, 0, len(a.Providers))
	for p := range a.Providers {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

// ProviderModels returns the models for a given provider.
func (a *ModelAliases) ProviderModels(provider string) []string {
	if a == nil || a.Providers == nil {
		return nil
	}
	return a.Providers[provider]
}

// ValidateRoutingConfig checks every adapter/model pair a routing config
// references: per-route and per-variant overrides, the default, the
// classifier and the fallback chains.
func (a *ModelAliases) ValidateRoutingConfig(cfg *RoutingConfig) []error {
	if a == nil || cfg == nil {
		return nil
	}

	var errs []error
	check := func(where, adapter, model string) {
		if adapter == "" {
			return
		}
		if err := a.ValidateModel(adapter, a.Resolve(model)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
	}

	for _, name := range cfg.RouteNames() {
		spec := cfg.Routes[name]
		check(fmt.Sprintf("route %q", name), spec.Adapter, spec.Model)
		for variant, v := range spec.Variants {
			check(fmt.Sprintf("route %q variant %q", name, variant), v.Adapter, v.Model)
		}
	}
	check("default", cfg.Default.Adapter, cfg.Default.Model)
	check("classifier", cfg.ClassifierAdapter, cfg.ClassifierModel)
	for key, chain := range cfg.Fallback.FallbackChain {
		for _, t := range chain {
			check(fmt.Sprintf("fallback %q", key), t.Adapter, t.Model)
		}
	}

	return errs
}

// DefaultAliases returns the default model aliases configuration.
func DefaultAliases() *ModelAliases {
	return &ModelAliases{
		Aliases: map[string]string{
			"fast":    "gpt-4o-mini",
			"quality": "gpt-4o",
			"claude":  "claude-sonnet-4-20250514",
			"gemini":  "gemini-2.0-flash",
			"qwen":    "qwen-plus",
			"cheap":   "deepseek-chat",
			"local":   "qwen2.5:7b",
		},
		Providers: map[string][]string{
			"openai":    {"gpt-4o-mini", "gpt-4o", "gpt-4.1-mini"},
			"anthropic": {"claude-sonnet-4-20250514", "claude-3-5-haiku-latest"},
			"google":    {"gemini-2.0-flash", "gemini-2.5-pro"},
			"dashscope": {"qwen-plus", "qwen-turbo", "qwen-max"},
			"deepseek":  {"deepseek-chat", "deepseek-reasoner"},
			"ollama":    {"qwen2.5:7b", "llama3.1:8b"},
			"mock":      {"mock-1"},
		},
	}
}
