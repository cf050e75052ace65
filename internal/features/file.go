package features

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileExt is the extension of persisted feature files.
const FileExt = ".gmf"

// Save writes the features to path as a gob stream. Feature grids are large
// float tensors, so the binary encoding is used instead of JSON.
func Save(f *ImageFeatures, path string) error {
	if err := f.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid features: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create feature file: %w", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(f); err != nil {
		return fmt.Errorf("could not encode features: %w", err)
	}
	return nil
}

// Load reads a feature file written by Save and validates it.
func Load(path string) (*ImageFeatures, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open feature file: %w", err)
	}
	defer file.Close()

	var f ImageFeatures
	if err := gob.NewDecoder(file).Decode(&f); err != nil {
		return nil, fmt.Errorf("could not decode feature file %s: %w", path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("feature file %s: %w", path, err)
	}
	return &f, nil
}

// LoadDir loads every feature file in dir (non-recursive), sorted by id.
func LoadDir(dir string) ([]*ImageFeatures, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read feature directory: %w", err)
	}

	var out []*ImageFeatures
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), FileExt) {
			continue
		}
		f, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
