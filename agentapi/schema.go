package agentapi

import (
	"encoding/json"

	"github.com/xeipuuv/gojsonschema"
)

var joinSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["name", "game_id"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"game_id": {"type": "string", "minLength": 1}
	}
}`)

var attackSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["to"],
	"properties": {
		"from": {
			"type": "object",
			"required": ["q", "r"],
			"properties": {"q": {"type": "integer"}, "r": {"type": "integer"}}
		},
		"to": {
			"type": "object",
			"required": ["q", "r"],
			"properties": {"q": {"type": "integer"}, "r": {"type": "integer"}}
		}
	}
}`)

var stopAttackSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"required": ["from"],
	"properties": {
		"from": {
			"type": "object",
			"required": ["q", "r"],
			"properties": {"q": {"type": "integer"}, "r": {"type": "integer"}}
		}
	}
}`)

// validateBody checks raw against schema and returns a human-readable error
// summarizing every validation failure, or nil if raw conforms.
func validateBody(schema gojsonschema.JSONLoader, raw []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	msg := "request body does not match schema:"
	for _, e := range result.Errors() {
		msg += " " + e.String() + ";"
	}
	return schemaError(msg)
}

type schemaError string

func (e schemaError) Error() string { return string(e) }

// coordJSON is the {q,r} shape used in /attack and /stop-attack bodies.
type coordJSON struct {
	Q int32 `json:"q"`
	R int32 `json:"r"`
}

type joinRequest struct {
	Name   string `json:"name"`
	GameID string `json:"game_id"`
}

type attackRequest struct {
	From *coordJSON `json:"from,omitempty"`
	To   coordJSON  `json:"to"`
}

type stopAttackRequest struct {
	From coordJSON `json:"from"`
}

func decodeJSON(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
