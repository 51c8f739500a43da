package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// ModelsFileName is the provider → model-list override file, looked up next
// to the config file.
const ModelsFileName = "models_config.json"

// MergeModelsConfig merges a models_config.json mapping over the hardcoded
// provider model lists. Unknown providers in the file are ignored with a
// warning; a missing file is not an error.
func (c *Config) MergeModelsConfig(dir string) error {
	path := filepath.Join(dir, ModelsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	var overrides map[string][]string
	if err := json.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	for name, models := range overrides {
		p, ok := c.LLM.Providers[name]
		if !ok {
			slog.Warn("models_config names unknown provider", "provider", name)
			continue
		}
		if len(models) == 0 {
			continue
		}
		p.Models = models
		if p.DefaultModel == "" {
			p.DefaultModel = models[0]
		}
		c.LLM.Providers[name] = p
		slog.Debug("models merged", "provider", name, "models", len(models))
	}
	return nil
}

// SaveModelsConfig persists the current provider → model-list mapping using
// write-then-rename so concurrent readers never see a partial file.
func (c *Config) SaveModelsConfig(dir string) error {
	out := make(map[string][]string, len(c.LLM.Providers))
	for name, p := range c.LLM.Providers {
		out[name] = p.Models
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal models config: %w", err)
	}

	path := filepath.Join(dir, ModelsFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
