package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a catalog record
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the record format from a file extension.
// Anything that is not .yaml/.yml is read as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// DecodeRecord decodes a record without validating it
func DecodeRecord(data []byte, format Format) (*Record, error) {
	var rec Record
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&rec); err != nil {
			return nil, &SchemaError{Field: "record", Reason: "malformed YAML", Err: err}
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rec); err != nil {
			return nil, &SchemaError{Field: "record", Reason: "malformed JSON", Err: err}
		}
	default:
		return nil, fmt.Errorf("unknown catalog format: %s", format)
	}
	return &rec, nil
}

// Parse decodes, validates and builds a catalog from raw bytes
func Parse(data []byte, format Format, opts BuildOptions) (*Catalog, error) {
	rec, err := DecodeRecord(data, format)
	if err != nil {
		return nil, err
	}
	return rec.Build(opts)
}

// ParsePayload builds a catalog from an inline JSON argument
func ParsePayload(payload string, opts BuildOptions) (*Catalog, error) {
	return Parse([]byte(payload), FormatJSON, opts)
}

// LoadFile reads a catalog record from disk
func LoadFile(path string, opts BuildOptions) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	c, err := Parse(data, FormatFromPath(path), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog %s: %w", path, err)
	}

	slog.Debug("Catalog loaded",
		"path", path,
		"ingredients", c.NumIngredients(),
		"nutrients", c.NumNutrients(),
		"dropped", len(c.dropped),
	)
	return c, nil
}
