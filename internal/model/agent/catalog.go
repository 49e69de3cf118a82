package agent

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Default string   `yaml:"default"`
	Agents  []Config `yaml:"agents"`
}

// LoadCatalog merges a YAML catalog over base. Entries with a known id replace the built-in
// agent, new ids are appended. An empty default keeps defaultID.
func LoadCatalog(path string, base []Config, defaultID string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse agent catalog %s: %w", path, err)
	}

	merged := append([]Config(nil), base...)
	index := make(map[string]int, len(merged))
	for i, item := range merged {
		index[item.ID] = i
	}
	for _, item := range file.Agents {
		if item.ID == "" {
			return nil, fmt.Errorf("agent catalog %s: entry without id", path)
		}
		if i, ok := index[item.ID]; ok {
			merged[i] = item
			continue
		}
		index[item.ID] = len(merged)
		merged = append(merged, item)
	}

	if file.Default != "" {
		defaultID = file.Default
	}
	return NewRegistry(merged, defaultID)
}
