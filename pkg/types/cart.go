package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// CartMap stores a user's cart as product ID -> quantity. It is persisted as
// a jsonb column and replaced wholesale on every cart write.
type CartMap map[string]int

// Value implements driver.Valuer so the map can be stored as jsonb.
func (c CartMap) Value() (driver.Value, error) {
	if c == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("cart map: marshal %w", err)
	}
	return string(raw), nil
}

// Scan implements sql.Scanner for the jsonb column.
func (c *CartMap) Scan(value interface{}) error {
	if value == nil {
		*c = CartMap{}
		return nil
	}

	raw, ok := toString(value)
	if !ok {
		return fmt.Errorf("cart map: unsupported scan type %T", value)
	}
	if raw == "" {
		*c = CartMap{}
		return nil
	}

	var result CartMap
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return fmt.Errorf("cart map: unmarshal %w", err)
	}
	if result == nil {
		result = CartMap{}
	}
	*c = result
	return nil
}

// TotalQuantity sums the quantities across all entries.
func (c CartMap) TotalQuantity() int {
	total := 0
	for _, qty := range c {
		total += qty
	}
	return total
}

func toString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	default:
		return "", false
	}
}
