package util

import (
	"encoding/json"
	"time"
)

func ResetTimer(t *time.Timer, d time.Duration) {
	if d < 0 {
		d = 0
	}
	if !t.Stop() {
		DrainTimer(t)
	}
	t.Reset(d)
}

func DrainTimer(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}

func DecodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}

// Params accepts device params as T, *T, or anything DecodeJSON understands
// (maps from YAML or JSON config files). A nil src yields the zero T.
func Params[T any](src any) (T, error) {
	var out T
	switch v := src.(type) {
	case nil:
		return out, nil
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
		return out, nil
	}
	err := DecodeJSON(src, &out)
	return out, err
}
