package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/mockswitch/mockswitch/pkg/scenario"
)

// DefaultPatterns are the glob patterns a DirectoryLoader scans when none
// are given. They match YAML and JSON files at any depth.
var DefaultPatterns = []string{"**/*.yaml", "**/*.yml", "**/*.json"}

// DirectoryLoader merges scenario files from a directory into one document.
type DirectoryLoader struct {
	// Path is the directory to load from.
	Path string

	// Patterns are doublestar globs relative to Path. Empty means
	// DefaultPatterns.
	Patterns []string
}

// LoadResult is the outcome of loading a directory.
type LoadResult struct {
	// Document is the merged document.
	Document *Document

	// FileCount is the number of files merged.
	FileCount int

	// Errors are per-file failures. Loading continues past a bad file so
	// one typo does not hide every other problem in the set.
	Errors []LoadError
}

// LoadError is a failure loading one file.
type LoadError struct {
	Path    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// NewDirectoryLoader creates a loader over a directory with the default
// glob patterns.
func NewDirectoryLoader(path string) *DirectoryLoader {
	return &DirectoryLoader{Path: path}
}

// Load parses every matching file and merges scenarios across files.
// Scenario identifiers must be unique across the set, and the merged
// result must contain the default scenario.
func (d *DirectoryLoader) Load() (*LoadResult, error) {
	info, err := os.Stat(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", d.Path)
		}
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", d.Path)
	}

	files, err := d.findFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to scan directory: %w", err)
	}

	result := &LoadResult{
		Document: &Document{
			Version:   SupportedVersion,
			Scenarios: make(map[string]*ScenarioEntry),
		},
	}
	sources := make(map[string]string) // scenario id -> file that declared it

	for _, file := range files {
		data, _, err := readFile(file)
		if err != nil {
			result.Errors = append(result.Errors, LoadError{Path: file, Message: "failed to read", Err: err})
			continue
		}

		doc, err := parseFragment(file, data)
		if err != nil {
			result.Errors = append(result.Errors, LoadError{Path: file, Message: "failed to load", Err: err})
			continue
		}

		for id, entry := range doc.Scenarios {
			if prev, dup := sources[id]; dup {
				result.Errors = append(result.Errors, LoadError{
					Path:    file,
					Message: fmt.Sprintf("scenario %q already declared in %s", id, prev),
				})
				continue
			}
			sources[id] = file
			result.Document.Scenarios[id] = entry
		}
		result.FileCount++
	}

	if len(result.Errors) > 0 {
		return result, fmt.Errorf("%d file(s) failed to load", len(result.Errors))
	}
	if !result.Document.HasDefault() {
		return result, &scenario.ConfigurationError{
			Field:   "scenarios." + scenario.DefaultScenarioID,
			Message: "merged scenario set must contain the default scenario",
		}
	}
	return result, nil
}

// Validate parses every matching file without keeping the result.
func (d *DirectoryLoader) Validate() []LoadError {
	files, err := d.findFiles()
	if err != nil {
		return []LoadError{{Path: d.Path, Message: "failed to scan directory", Err: err}}
	}

	var errs []LoadError
	for _, file := range files {
		data, _, err := readFile(file)
		if err != nil {
			errs = append(errs, LoadError{Path: file, Message: "failed to read", Err: err})
			continue
		}
		if _, err := parseFragment(file, data); err != nil {
			errs = append(errs, LoadError{Path: file, Message: "validation failed", Err: err})
		}
	}
	return errs
}

// findFiles resolves the glob patterns to a sorted, deduplicated file list.
// Sorting keeps merge order (and therefore duplicate attribution) stable.
func (d *DirectoryLoader) findFiles() ([]string, error) {
	patterns := d.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}

	seen := make(map[string]bool)
	var files []string
	fsys := os.DirFS(d.Path)
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, fmt.Errorf("bad glob pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			full := filepath.Join(d.Path, filepath.FromSlash(match))
			if seen[full] {
				continue
			}
			seen[full] = true
			files = append(files, full)
		}
	}
	sort.Strings(files)
	return files, nil
}
