package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// ExtractJSON returns the outermost JSON object in text, tolerating
// surrounding prose and markdown fences.
func ExtractJSON(text string) (json.RawMessage, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 {
		return nil, fmt.Errorf("no JSON object found in response (missing '{')")
	}
	if end < start {
		return nil, fmt.Errorf("no JSON object found in response (missing '}')")
	}
	raw := json.RawMessage(text[start : end+1])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("response contains malformed JSON")
	}
	return raw, nil
}

// ParseJSON cleans and unmarshals an LLM response into a T.
func ParseJSON[T any](response string) (T, error) {
	var zero T
	raw, err := ExtractJSON(response)
	if err != nil {
		return zero, err
	}
	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return result, nil
}

// SchemaFor reflects the JSON Schema of v's type.
func SchemaFor(v any) (string, error) {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(v)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("generation: schema: %w", err)
	}
	return string(data), nil
}

// WithSchema appends a schema instruction block to prompt.
func WithSchema(prompt, schema string) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nRespond with a single JSON object that validates against this JSON Schema. ")
	b.WriteString("Do not wrap it in markdown.\n\n")
	b.WriteString(schema)
	b.WriteString("\n")
	return b.String()
}
