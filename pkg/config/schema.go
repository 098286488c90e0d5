package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mockswitch/mockswitch/pkg/scenario"
)

// documentSchema is the embedded JSON schema for scenario files. The
// document form requires the default scenario; the fragment form relaxes
// that for files merged from a directory, where the requirement applies to
// the merged result instead.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "matchValue": {
      "oneOf": [
        {"type": ["string", "number", "boolean", "null"]},
        {
          "type": "object",
          "minProperties": 1,
          "maxProperties": 1,
          "additionalProperties": {"type": ["string", "number", "boolean", "null"]}
        }
      ]
    },
    "criteriaMap": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/matchValue"}
    },
    "match": {
      "type": "object",
      "properties": {
        "body": {"$ref": "#/$defs/criteriaMap"},
        "headers": {"$ref": "#/$defs/criteriaMap"},
        "query": {"$ref": "#/$defs/criteriaMap"},
        "state": {"$ref": "#/$defs/criteriaMap"}
      },
      "additionalProperties": false
    },
    "response": {
      "type": "object",
      "properties": {
        "status": {"type": "integer", "minimum": 100, "maximum": 599},
        "headers": {"type": "object", "additionalProperties": {"type": "string"}},
        "body": {}
      },
      "additionalProperties": false
    },
    "afterResponse": {
      "type": "object",
      "properties": {
        "setState": {"type": "object"}
      },
      "required": ["setState"],
      "additionalProperties": false
    },
    "condition": {
      "type": "object",
      "properties": {
        "when": {"type": "object", "minProperties": 1},
        "whenExpr": {"type": "string", "minLength": 1},
        "then": {"$ref": "#/$defs/response"},
        "afterResponse": {
          "oneOf": [{"$ref": "#/$defs/afterResponse"}, {"type": "null"}]
        }
      },
      "required": ["then"],
      "anyOf": [{"required": ["when"]}, {"required": ["whenExpr"]}],
      "additionalProperties": false
    },
    "mock": {
      "type": "object",
      "properties": {
        "id": {"type": "string"},
        "method": {
          "type": "string",
          "pattern": "(?i)^(GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS)$"
        },
        "url": {"type": "string", "minLength": 1},
        "urlPattern": {"type": "string", "minLength": 1},
        "match": {"$ref": "#/$defs/match"},
        "response": {"$ref": "#/$defs/response"},
        "sequence": {
          "type": "object",
          "properties": {
            "responses": {
              "type": "array",
              "minItems": 1,
              "items": {"$ref": "#/$defs/response"}
            },
            "repeat": {"enum": ["last", "cycle", "none"]}
          },
          "required": ["responses"],
          "additionalProperties": false
        },
        "stateResponse": {
          "type": "object",
          "properties": {
            "default": {"$ref": "#/$defs/response"},
            "conditions": {
              "type": "array",
              "items": {"$ref": "#/$defs/condition"}
            }
          },
          "required": ["default"],
          "additionalProperties": false
        },
        "afterResponse": {"$ref": "#/$defs/afterResponse"}
      },
      "required": ["method"],
      "oneOf": [
        {"required": ["url"]},
        {"required": ["urlPattern"]}
      ],
      "additionalProperties": false
    },
    "scenario": {
      "type": "object",
      "properties": {
        "name": {"type": "string"},
        "description": {"type": "string"},
        "mocks": {
          "type": "array",
          "items": {"$ref": "#/$defs/mock"}
        }
      },
      "required": ["mocks"],
      "additionalProperties": false
    },
    "fragment": {
      "type": "object",
      "properties": {
        "version": {"type": "string"},
        "scenarios": {
          "type": "object",
          "minProperties": 1,
          "additionalProperties": {"$ref": "#/$defs/scenario"}
        }
      },
      "required": ["scenarios"],
      "additionalProperties": false
    },
    "document": {
      "allOf": [
        {"$ref": "#/$defs/fragment"},
        {
          "properties": {
            "scenarios": {"required": ["default"]}
          }
        }
      ]
    }
  },
  "$ref": "#/$defs/document"
}`

var (
	schemaOnce     sync.Once
	docSchema      *jsonschema.Schema
	fragmentSchema *jsonschema.Schema
	schemaErr      error
)

func compiledSchemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		if err := compiler.AddResource("scenarios.json", strings.NewReader(documentSchema)); err != nil {
			schemaErr = fmt.Errorf("failed to add schema resource: %w", err)
			return
		}
		docSchema, schemaErr = compiler.Compile("scenarios.json#/$defs/document")
		if schemaErr != nil {
			return
		}
		fragmentSchema, schemaErr = compiler.Compile("scenarios.json#/$defs/fragment")
	})
	return docSchema, fragmentSchema, schemaErr
}

// ValidateSchema checks a decoded document value against the embedded
// schema. With requireDefault the "default" scenario key must be present,
// which is the rule for standalone files.
func ValidateSchema(doc any, requireDefault bool) error {
	full, fragment, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema := fragment
	if requireDefault {
		schema = full
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			ve = verr
		}
		if ve != nil {
			leaf := leafCause(ve)
			return &scenario.ConfigurationError{
				Field:   pointerToField(leaf.InstanceLocation),
				Message: leaf.Message,
			}
		}
		return err
	}
	return nil
}

// leafCause walks to the deepest single cause, which carries the most
// specific instance location and message.
func leafCause(err *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	return err
}

// pointerToField converts a JSON Pointer instance location to dotted form.
func pointerToField(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return "(document)"
	}
	return strings.ReplaceAll(pointer, "/", ".")
}
