// Package input loads and stores election snapshots, overrides and results.
package input

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"npos_election/pkg/data"
	"npos_election/pkg/utils"
	"npos_election/pkg/validation"
)

// JSONLoader reads and writes election snapshots as JSON files.
type JSONLoader struct {
	files utils.FileHelper
}

func NewJSONLoader() *JSONLoader {
	return &JSONLoader{}
}

// LoadFromFile reads and validates a snapshot. Missing source metadata is
// tagged as json.
func (l *JSONLoader) LoadFromFile(path string) (*data.ElectionData, error) {
	d := &data.ElectionData{}
	if err := readJSON(path, d); err != nil {
		return nil, err
	}
	if d.Metadata == nil {
		d.Metadata = &data.ElectionMetadata{}
	}
	if d.Metadata.Source == "" {
		d.Metadata.Source = data.DataSourceJSON
	}
	if err := validation.ValidateElectionData(d); err != nil {
		return nil, err
	}
	return d, nil
}

// SaveToFile writes d as indented JSON.
func (l *JSONLoader) SaveToFile(path string, d *data.ElectionData) error {
	return writeJSON(&l.files, path, d)
}

// LoadOverridesFromFile reads an overrides document.
func LoadOverridesFromFile(path string) (*data.ElectionOverrides, error) {
	o := &data.ElectionOverrides{}
	if err := readJSON(path, o); err != nil {
		return nil, err
	}
	return o, nil
}

// LoadResultFromFile reads a previously saved result.
func LoadResultFromFile(path string) (*data.ElectionResult, error) {
	r := &data.ElectionResult{}
	if err := readJSON(path, r); err != nil {
		return nil, err
	}
	return r, nil
}

// SaveResultToFile writes a result as indented JSON.
func SaveResultToFile(path string, r *data.ElectionResult) error {
	var files utils.FileHelper
	return writeJSON(&files, path, r)
}

func readJSON(path string, v interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &data.FileError{Message: "reading", Path: path, Err: err}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		var invalid *data.InvalidDataError
		if errors.As(err, &invalid) {
			return invalid
		}
		return &data.InvalidDataError{Message: fmt.Sprintf("decoding %s: %v", path, err)}
	}
	return nil
}

func writeJSON(files *utils.FileHelper, path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := files.WriteFileSafely(path, append(raw, '\n'), 0644); err != nil {
		return &data.FileError{Message: "writing", Path: path, Err: err}
	}
	return nil
}
