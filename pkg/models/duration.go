package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that marshals to and from Go duration strings
// ("30s", "5m"). Plain numbers are read as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any

	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}

	switch value := raw.(type) {
	case nil:
		*d = 0
	case float64:
		*d = Duration(time.Duration(value * float64(time.Second)))
	case string:
		if value == "" {
			*d = 0

			return nil
		}

		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}

		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}

	return nil
}
