package classifier

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/model.schema.json
var modelSchemaJSON string

//go:embed schemas/labels.schema.json
var labelsSchemaJSON string

var (
	modelSchema  = jsonschema.MustCompileString("model.schema.json", modelSchemaJSON)
	labelsSchema = jsonschema.MustCompileString("labels.schema.json", labelsSchemaJSON)
)

// validateDocument checks raw against schema. Failures wrap ErrInvalidArtifact.
func validateDocument(schema *jsonschema.Schema, kind string, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return fmt.Errorf("%w: %s is not JSON: %v", ErrInvalidArtifact, kind, err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidArtifact, kind, err)
	}
	return nil
}
