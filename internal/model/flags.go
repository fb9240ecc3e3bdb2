// Package model defines the records and bitflag/enum contracts shared by the
// core and its collaborators.
//
// BITFLAGS:
// Every flag family is a named integer with one constant per bit. Bit
// positions are part of the stored and wire format, so a defined bit is never
// reassigned; new flags only take fresh bits.
//
// Decoding is lenient in one specific way: bits this build does not know
// about are dropped ("truncated") instead of rejected. A newer client sending
// a flag we have not shipped yet must not make the whole payload fail.
package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// flagSet is the set of integer shapes the flag families use.
type flagSet interface {
	~uint8 | ~int16 | ~int32 | ~uint32 | ~int64
}

// Truncate keeps only the bits present in known.
func Truncate[F flagSet](v, known F) F {
	return v & known
}

// decodeFlags reads a JSON number into a flag family, dropping unknown bits.
func decodeFlags[F flagSet](data []byte, known F) (F, error) {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, fmt.Errorf("model: decoding flags: %w", err)
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(n.String(), 10, 64)
		if uerr != nil {
			return 0, fmt.Errorf("model: decoding flags %q: %w", n, err)
		}
		v = int64(u)
	}
	return F(v) & known, nil
}

// parseEnum looks text up in a discriminant-ordered name table.
func parseEnum[E ~uint8](names []string, text []byte, what string) (E, error) {
	for i, name := range names {
		if name == string(text) {
			return E(i), nil
		}
	}
	return 0, fmt.Errorf("model: unknown %s %q", what, text)
}

// enumName is the inverse of parseEnum.
func enumName[E ~uint8](names []string, v E, what string) ([]byte, error) {
	if int(v) >= len(names) {
		return nil, fmt.Errorf("model: invalid %s %d", what, v)
	}
	return []byte(names[v]), nil
}
