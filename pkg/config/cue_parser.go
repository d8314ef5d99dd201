package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"gopkg.in/yaml.v3"
)

// CUEParser evaluates CUE settings files against the #Settings schema.
type CUEParser struct {
	registry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{registry: NewSchemaRegistry()}
}

// Parse compiles CUE source, unifies it with #Settings and decodes the
// result over base. Fields the source leaves out keep their schema default
// or, for optional fields, the value in base.
func (cp *CUEParser) Parse(filename string, src []byte, base InstallSettings) (InstallSettings, error) {
	schema, _ := cp.registry.GetSchema(SettingsSchema)

	val := cp.registry.Context().CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return base, &SettingsError{Source: filename, Errors: convertCUEErrors(err)}
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return base, &SettingsError{Source: filename, Errors: convertCUEErrors(err)}
	}

	out := base
	if err := unified.Decode(&out); err != nil {
		return base, &SettingsError{Source: filename, Errors: convertCUEErrors(err)}
	}
	return out, nil
}

// LoadFile reads a settings file over base, choosing the format from the
// extension, and validates the result.
func LoadFile(path string, base InstallSettings) (InstallSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read settings file: %w", err)
	}

	var out InstallSettings
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		out, err = NewCUEParser().Parse(path, data, base)
	case ".yaml", ".yml":
		out, err = parseYAML(path, data, base)
	case ".json":
		out, err = parseJSON(path, data, base)
	default:
		return base, fmt.Errorf("unsupported settings file extension %q", ext)
	}
	if err != nil {
		return base, err
	}

	if err := out.Validate(); err != nil {
		var se *SettingsError
		if errors.As(err, &se) {
			se.Source = path
		}
		return base, err
	}
	return out, nil
}

func parseYAML(path string, data []byte, base InstallSettings) (InstallSettings, error) {
	out := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return base, &SettingsError{Source: path, Errors: []ValidationError{{File: path, Message: err.Error()}}}
	}
	return out, nil
}

func parseJSON(path string, data []byte, base InstallSettings) (InstallSettings, error) {
	out := base
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return base, &SettingsError{Source: path, Errors: []ValidationError{{File: path, Message: err.Error()}}}
	}
	return out, nil
}
