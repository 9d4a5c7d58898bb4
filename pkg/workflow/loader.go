package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// LoadFromFile loads a workflow definition from a YAML or JSON file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
//
// Returns an error if the file can't be read, the format is invalid, or
// validation fails (unless skipValidation is true).
func LoadFromFile(path string, skipValidation bool) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	var def Definition

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported file format: %s (use .yaml, .yml, or .json)", ext)
	}

	return finishLoad(&def, skipValidation)
}

// LoadFromBytes loads a workflow definition from raw YAML or JSON bytes.
// The format is auto-detected by attempting YAML first, then JSON.
func LoadFromBytes(data []byte, skipValidation bool) (*Definition, error) {
	var def Definition

	// YAML is the more permissive superset and handles JSON too.
	if err := yaml.Unmarshal(data, &def); err != nil {
		if jsonErr := json.Unmarshal(data, &def); jsonErr != nil {
			return nil, fmt.Errorf("parse YAML/JSON: yaml=%v, json=%v", err, jsonErr)
		}
	}

	return finishLoad(&def, skipValidation)
}

func finishLoad(def *Definition, skipValidation bool) (*Definition, error) {
	if skipValidation {
		return def, nil
	}

	result := def.Validate()
	if !result.IsValid() {
		return nil, NewDefinitionError(def.Name, result)
	}
	if len(result.Warnings) > 0 {
		log.Warn().Str("workflow", def.Name).Msg("workflow loaded with warnings:\n" + result.String())
	}
	return def, nil
}

// SaveToFile writes a workflow definition to a YAML or JSON file, chosen by
// extension. Parent directories are created as needed.
func SaveToFile(def *Definition, path string) error {
	ext := strings.ToLower(filepath.Ext(path))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(def)
		if err != nil {
			return fmt.Errorf("marshal YAML: %w", err)
		}
	case ".json":
		data, err = json.MarshalIndent(def, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
	default:
		return fmt.Errorf("unsupported file format: %s (use .yaml, .yml, or .json)", ext)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}
