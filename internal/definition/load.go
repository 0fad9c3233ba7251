package definition

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/convoyci/convoy/pkg/schema"
)

// Parse decodes a YAML pipeline definition. Unknown fields are rejected so a
// typo in a key surfaces as a definition error instead of being silently
// dropped.
func Parse(data []byte) (*schema.PipelineDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, schema.NewError(schema.ErrCodeDefinition, "pipeline definition is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def schema.PipelineDefinition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, schema.NewError(schema.ErrCodeDefinition, "pipeline definition is empty")
		}
		return nil, schema.NewErrorf(schema.ErrCodeDefinition, "parse pipeline definition: %s", err.Error()).WithCause(err)
	}

	return &def, nil
}

// Load reads and parses a pipeline definition file.
func Load(path string) (*schema.PipelineDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition, "read pipeline file %s: %s", path, err.Error()).WithCause(err)
	}
	return Parse(data)
}
