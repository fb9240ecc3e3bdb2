package snowflake

import (
	"database/sql/driver"
	"fmt"
	"math"
)

// Value stores the ID as a signed 64-bit integer. Timestamps stay below bit
// 63 until the year 2300 or so, so the conversion never loses the sign.
func (id ID) Value() (driver.Value, error) {
	if uint64(id) > math.MaxInt64 {
		return nil, fmt.Errorf("snowflake: %d does not fit in a signed column", uint64(id))
	}
	return int64(id), nil
}

// Scan reads an ID back from an INTEGER (or, for drivers that hand numbers
// out as text, a decimal string) column.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*id = ID(v)
		return nil
	case []byte:
		parsed, err := Parse(string(v))
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	case string:
		parsed, err := Parse(v)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	default:
		return fmt.Errorf("snowflake: cannot scan %T", src)
	}
}
