package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/flagrules/internal/rules"
)

// FeatureFile is the document export writes and import reads.
type FeatureFile struct {
	Features []rules.Feature `yaml:"features" json:"features"`
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// ReadFeature reads one feature definition. Files ending in .json are decoded as JSON,
// anything else as YAML.
func ReadFeature(path string) (rules.Feature, error) {
	var f rules.Feature
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("failed to read file: %w", err)
	}
	if isJSON(path) {
		err = json.Unmarshal(data, &f)
	} else {
		err = yaml.Unmarshal(data, &f)
	}
	if err != nil {
		return f, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if f.Identifier == "" {
		return f, errors.New("feature file has no identifier")
	}
	return f, nil
}

// WriteFeature writes a feature definition in the encoding implied by path.
func WriteFeature(path string, f rules.Feature) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(f, "", "  ")
	} else {
		data, err = yaml.Marshal(f)
	}
	if err != nil {
		return fmt.Errorf("failed to encode feature: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// ReadFeatureFile reads an exported feature list.
func ReadFeatureFile(path string) (FeatureFile, error) {
	var ff FeatureFile
	data, err := os.ReadFile(path)
	if err != nil {
		return ff, fmt.Errorf("failed to read file: %w", err)
	}
	// YAML is a superset of JSON, so one decoder covers both.
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return ff, fmt.Errorf("failed to parse file: %w", err)
	}
	return ff, nil
}
