package contracts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// intentSchema is the JSON Schema every inbound intent payload must satisfy
// when strict validation is on. Structural rules that depend on other fields
// (limit_price required for LMT, descriptive reason) live in Validate.
const intentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["account_id", "instrument", "side", "quantity", "order_type", "reason", "strategy_tag"],
  "properties": {
    "account_id": {"type": "string", "minLength": 1},
    "instrument": {
      "type": "object",
      "required": ["type", "symbol", "currency"],
      "properties": {
        "type": {"enum": ["STK", "ETF", "OPT", "FUT", "FX", "CRYPTO", "BOND", "CFD"]},
        "symbol": {"type": "string", "minLength": 1},
        "con_id": {"type": "integer", "minimum": 0},
        "exchange": {"type": "string"},
        "currency": {"type": "string", "minLength": 1},
        "description": {"type": "string"}
      }
    },
    "side": {"enum": ["BUY", "SELL"]},
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "order_type": {"enum": ["MKT", "LMT", "STP", "STP_LMT", "TRAIL"]},
    "limit_price": {"type": "number", "exclusiveMinimum": 0},
    "stop_price": {"type": "number", "exclusiveMinimum": 0},
    "time_in_force": {"enum": ["DAY", "GTC", "IOC", "GTD", "FOK"]},
    "reason": {"type": "string", "minLength": 10, "maxLength": 500},
    "strategy_tag": {"type": "string", "minLength": 1, "maxLength": 50},
    "constraints": {
      "type": "object",
      "properties": {
        "max_slippage_bps": {"type": "integer", "minimum": 0, "maximum": 1000},
        "max_notional": {"type": "number", "exclusiveMinimum": 0},
        "min_liquidity": {"type": "integer", "exclusiveMinimum": 0},
        "execution_window_minutes": {"type": "integer", "exclusiveMinimum": 0, "maximum": 480}
      }
    }
  }
}`

var compiledIntentSchema = mustCompileIntentSchema()

func mustCompileIntentSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://tradegate.schemas.local/order_intent.schema.json"
	if err := c.AddResource(url, strings.NewReader(intentSchema)); err != nil {
		panic(fmt.Sprintf("intent schema load failed: %v", err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("intent schema compile failed: %v", err))
	}
	return compiled
}

// ValidateIntentJSON checks a raw intent payload against the schema.
func ValidateIntentJSON(raw []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("intent payload is not valid JSON: %w", err)
	}
	if err := compiledIntentSchema.Validate(doc); err != nil {
		return fmt.Errorf("intent schema validation failed: %w", err)
	}
	return nil
}

// ParseIntent decodes and structurally validates an intent payload. Schema
// validation is the caller's choice (strict mode); Validate always runs.
func ParseIntent(raw []byte) (OrderIntent, error) {
	var intent OrderIntent
	if err := json.Unmarshal(raw, &intent); err != nil {
		return OrderIntent{}, fmt.Errorf("parse intent: %w", err)
	}
	if intent.TimeInForce == "" {
		intent.TimeInForce = TIFDay
	}
	if intent.Instrument.Currency == "" {
		intent.Instrument.Currency = "USD"
	}
	if err := intent.Validate(); err != nil {
		return OrderIntent{}, err
	}
	return intent, nil
}
