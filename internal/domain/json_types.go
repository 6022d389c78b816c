package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSONMap stores a string-to-string map as JSON text in the database.
// Used for headers, query params and field mappings on import tasks.
type JSONMap map[string]string

// Value implements the driver.Valuer interface for database serialization.
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

// Scan implements the sql.Scanner interface for database deserialization.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSONMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// JSONObject stores an arbitrary JSON document as text in the database.
// Used for structured blocks (addresses, wage) and log context.
type JSONObject map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
func (o JSONObject) Value() (driver.Value, error) {
	if o == nil {
		return "{}", nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (o *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*o = JSONObject{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSONObject")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, o)
}
