package source

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/simplehardware/maze-replay-go/internal/replay"
)

//go:embed payload.schema.json
var payloadSchema string

// Validator checks the overall shape of a payload before it is decoded
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded payload schema
func NewValidator() (*Validator, error) {
	schema, err := jsonschema.CompileString("payload.schema.json", payloadSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile payload schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate reports a schema violation as a malformed replay
func (v *Validator) Validate(data []byte) error {
	// the validator expects json.Number for numeric values
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return replay.NewMalformedError(-1, "invalid payload", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return replay.NewMalformedError(-1, "payload does not match schema", err)
	}
	return nil
}
