package api

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"taskboard-api/domain"
)

const schemaBaseURL = "https://taskboard.local/schemas/v1/"

var schemaSources = map[string]string{
	"create-task": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["name", "deadline"],
		"properties": {
			"name": {"type": "string", "maxLength": 512},
			"priority": {"type": "string"},
			"deadline": {"type": "string"},
			"userID": {"type": "string"},
			"stage": {"const": 0}
		}
	}`,
	"update-task": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["name", "deadline"],
		"properties": {
			"name": {"type": "string", "maxLength": 512},
			"priority": {"type": "string"},
			"deadline": {"type": "string"},
			"userID": {"type": "string"}
		}
	}`,
	"move-task": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["stage"],
		"properties": {
			"stage": {"type": "integer"}
		}
	}`,
	"advance-task": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["direction"],
		"properties": {
			"direction": {"type": "string"}
		}
	}`,
	"reorder-task": `{
		"type": "object",
		"additionalProperties": false,
		"required": ["stage", "destinationIndex"],
		"properties": {
			"stage": {"type": "integer"},
			"destinationIndex": {"type": "integer"},
			"sourceIndex": {"type": "integer"}
		}
	}`,
}

var schemas = compileSchemas()

var numberAPI = sonic.Config{UseNumber: true}.Froze()

var quotedName = regexp.MustCompile(`'([^']+)'`)

func compileSchemas() map[string]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	for name, src := range schemaSources {
		if err := compiler.AddResource(schemaBaseURL+name+".json", strings.NewReader(src)); err != nil {
			panic(err)
		}
	}
	out := make(map[string]*jsonschema.Schema, len(schemaSources))
	for name := range schemaSources {
		out[name] = compiler.MustCompile(schemaBaseURL + name + ".json")
	}
	return out
}

// decodeBody reads at most maxBodySize bytes, validates them against the
// named schema and unmarshals into dst.
func decodeBody(r io.Reader, schema string, dst any) error {
	data, err := io.ReadAll(io.LimitReader(r, maxBodySize+1))
	if err != nil {
		return &domain.ValidationError{Message: "unreadable body"}
	}
	if len(data) > maxBodySize {
		return &domain.ValidationError{Message: "body too large"}
	}

	var doc any
	if err := numberAPI.Unmarshal(data, &doc); err != nil {
		return &domain.ValidationError{Message: "invalid json"}
	}
	if err := schemas[schema].Validate(doc); err != nil {
		return schemaError(err)
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return &domain.ValidationError{Message: "invalid json"}
	}
	return nil
}

// schemaError reduces a schema violation to its first leaf cause.
func schemaError(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &domain.ValidationError{Message: err.Error()}
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return &domain.ValidationError{Field: schemaField(ve), Message: ve.Message}
}

func schemaField(ve *jsonschema.ValidationError) string {
	if loc := strings.TrimPrefix(ve.InstanceLocation, "/"); loc != "" {
		return strings.SplitN(loc, "/", 2)[0]
	}
	// required and additionalProperties report against the root object
	if m := quotedName.FindStringSubmatch(ve.Message); m != nil {
		return m[1]
	}
	return ""
}
