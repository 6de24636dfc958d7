// Package batch loads declarative task batches and applies them to a
// tracker item by item.
package batch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/clintrovert/trackerbatch/pkg/types"
)

// DefaultTasksFile is read when no tasks file is configured
const DefaultTasksFile = "tasks.json"

// ErrEmptyBatch is returned for a tasks file without any item
var ErrEmptyBatch = errors.New("tasks file holds no items")

// Format is the encoding of a tasks file
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format by file extension. Anything that is not
// .yaml or .yml is read as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadFile reads and decodes the tasks file at path
func LoadFile(path string) (*types.TaskBatch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks file: %w", err)
	}

	b, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return b, nil
}

// Parse decodes a batch. Unknown keys are rejected so typos surface before
// anything is sent.
func Parse(data []byte, format Format) (*types.TaskBatch, error) {
	var b types.TaskBatch

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&b); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse yaml: %w", err)
		}
	case FormatJSON:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, ErrEmptyBatch
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&b); err != nil {
			return nil, fmt.Errorf("failed to parse json: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported tasks format %q", format)
	}

	if b.IsEmpty() {
		return nil, ErrEmptyBatch
	}
	b.NormalizeTypes()
	return &b, nil
}
