package vectordb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Format is the serialization of a catalog file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

const catalogSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["drugs"],
  "properties": {
    "drugs": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "name", "embedding"],
        "properties": {
          "id": {"type": "integer"},
          "name": {"type": "string", "minLength": 1},
          "variant": {"type": "string"},
          "embedding": {
            "type": "array",
            "minItems": 1,
            "items": {"type": "number"}
          }
        }
      }
    }
  }
}`

var compiledSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("catalog.json", strings.NewReader(catalogSchema)); err != nil {
		panic(fmt.Sprintf("add catalog schema: %v", err))
	}
	schema, err := compiler.Compile("catalog.json")
	if err != nil {
		panic(fmt.Sprintf("compile catalog schema: %v", err))
	}
	return schema
}

// FormatFromPath guesses the catalog format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ParseCatalog validates data against the catalog schema and decodes it.
func ParseCatalog(data []byte, format Format) (Catalog, error) {
	var c Catalog

	switch format {
	case FormatYAML:
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return c, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
		// Re-encode as JSON so the schema sees JSON numbers.
		converted, err := json.Marshal(doc)
		if err != nil {
			return c, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
		data = converted
	case FormatJSON:
	default:
		return c, ErrUnsupportedFormat
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return c, nil
}

// LoadCatalog reads and validates a JSON or YAML catalog file.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data, FormatFromPath(path))
}

// SaveCatalog writes c to path in the format implied by its extension.
func SaveCatalog(path string, c Catalog) error {
	var (
		data []byte
		err  error
	)
	if FormatFromPath(path) == FormatYAML {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create catalog directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return nil
}
