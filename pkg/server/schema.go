package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBase = "https://agentreg.schemas.local/v1/"

const registerSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["capabilities_uri"],
  "properties": {
    "capabilities_uri": {"type": "string"},
    "disclosure": {"type": "integer", "minimum": 0, "maximum": 255}
  }
}`

// score_change is limited to integers a double represents exactly, since the
// token's body hash canonicalizes numbers as doubles. Two bodies whose hashes
// collide therefore both fail validation.
const reputationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["score_change", "reference"],
  "properties": {
    "score_change": {"type": "integer", "minimum": -9007199254740991, "maximum": 9007199254740991},
    "reference": {"type": "string", "pattern": "^[0-9a-fA-F]{64}$"}
  }
}`

// requestSchemas holds the compiled body schemas by name.
type requestSchemas struct {
	register   *jsonschema.Schema
	reputation *jsonschema.Schema
}

func compileSchemas() (*requestSchemas, error) {
	register, err := compileSchema("register", registerSchema)
	if err != nil {
		return nil, err
	}
	reputation, err := compileSchema("reputation", reputationSchema)
	if err != nil {
		return nil, err
	}
	return &requestSchemas{register: register, reputation: reputation}, nil
}

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("%s%s.schema.json", schemaBase, name)
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("schema %s load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
	}
	return compiled, nil
}

// decodeBody validates body against schema, then decodes it into dst.
// Numbers are kept as json.Number during validation so large int64 values
// are checked exactly.
func decodeBody(schema *jsonschema.Schema, body []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("invalid field value: %w", err)
	}
	return nil
}
