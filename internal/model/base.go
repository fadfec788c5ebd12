package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap represents a generic JSON object
type JSONMap map[string]interface{}

// Value stores the map as a JSON document.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a JSON document column.
func (m *JSONMap) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = JSONMap{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONMap source %T", src)
	}
	out := JSONMap{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return err
		}
	}
	*m = out
	return nil
}

// Pick copies the listed keys. Missing keys are carried as nil so that a
// merge overwrites stale values.
func (m JSONMap) Pick(keys []string) JSONMap {
	out := make(JSONMap, len(keys))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}
