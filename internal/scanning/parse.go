package scanning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// invoiceSchema is the strict shape every model reply must have: an object with
// all canonical keys present and scalar (or null) values only.
var invoiceSchema = mustCompileSchema()

func buildResponseSchema() map[string]any {
	scalar := map[string]any{"type": []string{"string", "number", "null"}}
	props := make(map[string]any, len(FieldNames))
	for _, name := range FieldNames {
		props[name] = scalar
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             FieldNames,
		"additionalProperties": scalar,
	}
}

func mustCompileSchema() *jsonschema.Schema {
	b, err := json.Marshal(buildResponseSchema())
	if err != nil {
		panic(fmt.Sprintf("marshaling response schema: %v", err))
	}
	return jsonschema.MustCompileString("invoice-response.json", string(b))
}

// stripWrapping removes markdown fences and any prose around the JSON object
func stripWrapping(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// ParseFields parses a model reply into a field map, rejecting anything that
// is not a single object of the expected shape with ErrInvalidResponse.
func ParseFields(text string) (map[string]any, error) {
	body, err := stripWrapping(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	var doc any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling json: %v", ErrInvalidResponse, err)
	}
	if err := invoiceSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	fields, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: response is not an object", ErrInvalidResponse)
	}
	return fields, nil
}
