package decision

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const envelopeSchemaJSON = `{
  "type": "object",
  "required": ["decisions"],
  "properties": {
    "decisions": {"type": "array"}
  }
}`

const entrySchemaJSON = `{
  "type": "object",
  "required": ["operation", "symbol", "target_portion_of_balance", "leverage", "time_in_force", "reason", "trading_strategy"],
  "properties": {
    "operation": {"enum": ["buy", "sell", "hold", "close"]},
    "symbol": {"type": "string", "minLength": 1},
    "target_portion_of_balance": {"type": "number"},
    "leverage": {"type": "integer"},
    "max_price": {"type": ["number", "null"], "exclusiveMinimum": 0},
    "min_price": {"type": ["number", "null"], "exclusiveMinimum": 0},
    "time_in_force": {"enum": ["Ioc", "Gtc", "Alo"]},
    "take_profit_price": {"type": ["number", "null"], "exclusiveMinimum": 0},
    "stop_loss_price": {"type": ["number", "null"], "exclusiveMinimum": 0},
    "reason": {"type": "string"},
    "trading_strategy": {"type": "string"}
  },
  "allOf": [
    {
      "if": {"properties": {"operation": {"const": "buy"}}, "required": ["operation"]},
      "then": {"required": ["max_price"], "properties": {"max_price": {"type": "number"}}}
    },
    {
      "if": {"properties": {"operation": {"const": "sell"}}, "required": ["operation"]},
      "then": {"required": ["min_price"], "properties": {"min_price": {"type": "number"}}}
    }
  ]
}`

var (
	schemaOnce     sync.Once
	envelopeSchema *jsonschema.Schema
	entrySchema    *jsonschema.Schema
	schemaErr      error
)

func schemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		envelopeSchema, schemaErr = compileSchema("envelope.json", envelopeSchemaJSON)
		if schemaErr != nil {
			return
		}
		entrySchema, schemaErr = compileSchema("decision.json", entrySchemaJSON)
	})
	return envelopeSchema, entrySchema, schemaErr
}

func compileSchema(name, raw string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}

// schemaMessage 把 jsonschema 的嵌套错误压成一行。
func schemaMessage(err error) string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		var parts []string
		var walk func(e *jsonschema.ValidationError)
		walk = func(e *jsonschema.ValidationError) {
			if len(e.Causes) == 0 {
				loc := e.InstanceLocation
				if loc == "" {
					loc = "/"
				}
				parts = append(parts, fmt.Sprintf("%s: %s", loc, e.Message))
				return
			}
			for _, c := range e.Causes {
				walk(c)
			}
		}
		walk(ve)
		return strings.Join(parts, "; ")
	}
	return err.Error()
}
