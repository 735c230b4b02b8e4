package audit

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var sorted = jsoniter.Config{
	SortMapKeys:            true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// canonicalMarshal produces deterministic JSON: keys sorted, no
// whitespace. Struct fields are sorted too because the value round-trips
// through a generic map first.
func canonicalMarshal(v any) ([]byte, error) {
	raw, err := sorted.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	var generic any
	if err := sorted.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("canonical unmarshal: %w", err)
	}
	return sorted.Marshal(generic)
}
