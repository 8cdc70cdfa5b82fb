package types

import (
	"encoding/json"
	"fmt"
)

// Headers maps header names to values. Non-string JSON values decode to
// their literal text, as Params values do.
type Headers map[string]string

func (h *Headers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("headers must be a JSON object: %w", err)
	}
	if raw == nil {
		*h = nil
		return nil
	}

	out := make(Headers, len(raw))
	for name, value := range raw {
		v, err := paramValue(value)
		if err != nil {
			return fmt.Errorf("invalid value for header %q: %w", name, err)
		}
		out[name] = v
	}
	*h = out
	return nil
}
