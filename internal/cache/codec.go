package cache

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Cached records are stored as CBOR. It is compact, needs no schema, and
// with Core Deterministic Encoding the same value always produces the same
// bytes, so a value written by one node can be compared by another.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}

	// Unknown fields are ignored so an older node can read a record written
	// by a newer one.
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

func encode(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache: encoding %T: %w", v, err)
	}
	return data, nil
}

func decode(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cache: decoding %T: %w", v, err)
	}
	return nil
}
