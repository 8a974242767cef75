package records

import (
	"bytes"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/docbatch/internal/common"
)

// SchemaValidator checks each record, as an object of string values, against
// a JSON Schema.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// LoadSchemaValidator compiles the schema file at path.
func LoadSchemaValidator(path string) (*SchemaValidator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, common.InputLoadError(fmt.Sprintf("read schema %s", path), err)
	}
	return NewSchemaValidator(data)
}

func NewSchemaValidator(schemaJSON []byte) (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("record.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, common.InputLoadError("add schema", err)
	}
	schema, err := compiler.Compile("record.json")
	if err != nil {
		return nil, common.InputLoadError("compile schema", err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// Validate returns a record-invalid error naming the row when rec does not match.
func (v *SchemaValidator) Validate(rec Record) error {
	doc := make(map[string]any, len(rec.Fields))
	for k, val := range rec.Map() {
		doc[k] = val
	}
	if err := v.schema.Validate(doc); err != nil {
		return common.RecordInvalidError(rec.Index, err)
	}
	return nil
}
