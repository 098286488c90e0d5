package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Common errors for configuration loading.
var (
	ErrFileNotFound     = errors.New("scenario file not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidJSON      = errors.New("invalid JSON syntax")
	ErrInvalidYAML      = errors.New("invalid YAML syntax")
	ErrEmptyFile        = errors.New("scenario file is empty")
)

// LoadFromFile reads a scenario Document from a JSON or YAML file. The
// format is detected from the extension (.yaml, .yml for YAML, otherwise
// JSON). A standalone file must contain the default scenario.
func LoadFromFile(path string) (*Document, error) {
	data, isYAML, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if isYAML {
		return ParseYAML(data)
	}
	return ParseJSON(data)
}

// ParseJSON parses and fully validates a standalone JSON document.
func ParseJSON(data []byte) (*Document, error) {
	return parseJSON(data, true)
}

// ParseYAML parses and fully validates a standalone YAML document.
func ParseYAML(data []byte) (*Document, error) {
	return parseYAML(data, true)
}

func parseJSON(data []byte, requireDefault bool) (*Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if err := ValidateSchema(raw, requireDefault); err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func parseYAML(data []byte, requireDefault bool) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	if err := ValidateSchema(raw, requireDefault); err != nil {
		return nil, err
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// parseFragment parses a file that may contribute a subset of scenarios;
// the default-scenario requirement is checked on the merged result instead.
func parseFragment(path string, data []byte) (*Document, error) {
	if isYAMLPath(path) {
		return parseYAML(data, false)
	}
	return parseJSON(data, false)
}

func readFile(path string) ([]byte, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		if os.IsPermission(err) {
			return nil, false, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, false, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, false, fmt.Errorf("path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, false, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		}
		return nil, false, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, false, fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	return data, isYAMLPath(path), nil
}

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
