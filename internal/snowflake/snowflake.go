// Package snowflake issues and reads the 64-bit identifiers used for every
// persisted entity.
//
// BIT LAYOUT (most significant first):
//
//	| 46 bits: millis since Epoch | 5 bits: model kind | 5 bits: node | 8 bits: increment |
//
// So an ID packs as:
//
//	(millis << 18) | (kind << 13) | (node << 8) | increment
//
// Two IDs made in the same millisecond, for the same kind on the same node,
// differ only in the increment. The increment is a u8 that wraps, so at most
// 256 such IDs are distinct.
package snowflake

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"
)

// EpochMillis is 2022-12-25T00:00:00Z in Unix milliseconds. Every snowflake
// and token timestamp counts from here.
const EpochMillis uint64 = 1_671_926_400_000

const (
	timestampShift = 18
	kindShift      = 13
	nodeShift      = 8

	fieldMask = 0b11111
	kindMask  = fieldMask << kindShift

	// MaxNode is the largest node ID that fits in the 5-bit node field.
	MaxNode = 31
)

// ErrInvalidNode is returned by NewGenerator for nodes that do not fit in 5 bits.
var ErrInvalidNode = errors.New("snowflake: node id must be below 32")

// nowFunc is the clock. Tests replace it to pin the millisecond.
var nowFunc = time.Now

// increment is the process-wide counter. It is only required to be unique
// per wrap, so a plain atomic add is enough.
var increment atomic.Uint32

// NowSinceEpoch returns wall-clock milliseconds minus EpochMillis, or 0 if
// the clock reads earlier than the epoch.
func NowSinceEpoch() uint64 {
	ms := nowFunc().UnixMilli()
	if ms < 0 || uint64(ms) < EpochMillis {
		return 0
	}
	return uint64(ms) - EpochMillis
}

// Generate allocates a new ID for the given kind on the given node.
//
// Panics if node >= 32; that is a wiring mistake, not a runtime condition.
// Use a Generator to validate the node once at startup.
func Generate(kind ModelKind, node uint8) ID {
	if node > MaxNode {
		panic(fmt.Sprintf("snowflake: node id %d does not fit in 5 bits", node))
	}
	return pack(NowSinceEpoch(), kind, node, nextIncrement())
}

// nextIncrement post-increments the counter and keeps the low 8 bits.
func nextIncrement() uint8 {
	return uint8(increment.Add(1) - 1)
}

func pack(millis uint64, kind ModelKind, node, inc uint8) ID {
	return ID(millis<<timestampShift |
		uint64(kind&fieldMask)<<kindShift |
		uint64(node&fieldMask)<<nodeShift |
		uint64(inc))
}

// WithKind returns id with its model kind bits replaced by kind.
func WithKind(id ID, kind ModelKind) ID {
	return ID(uint64(id)&^kindMask | uint64(kind&fieldMask)<<kindShift)
}

// Generator issues IDs for a single node. It is what services hold; the node
// comes from configuration and is checked once here.
type Generator struct {
	node uint8
}

// NewGenerator returns a Generator for node, or ErrInvalidNode.
func NewGenerator(node int) (*Generator, error) {
	if node < 0 || node > MaxNode {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidNode, node)
	}
	return &Generator{node: uint8(node)}, nil
}

// Node reports the node this generator writes into every ID.
func (g *Generator) Node() uint8 { return g.node }

// Generate allocates an ID of the given kind.
func (g *Generator) Generate(kind ModelKind) ID {
	return Generate(kind, g.node)
}

// ID is a packed snowflake.
//
// JSON carries it as a decimal string since most JavaScript clients lose
// precision above 2^53. Both strings and bare numbers are accepted on input.
type ID uint64

// TimestampMillis is the epoch-relative millisecond the ID was made in.
func (id ID) TimestampMillis() uint64 { return uint64(id) >> timestampShift }

// TimestampSecs is TimestampMillis in whole seconds.
func (id ID) TimestampSecs() uint64 { return id.TimestampMillis() / 1000 }

// Time is the absolute instant the ID was made in.
func (id ID) Time() time.Time {
	return time.UnixMilli(int64(EpochMillis + id.TimestampMillis())).UTC()
}

// Kind decodes the model kind bits.
func (id ID) Kind() ModelKind {
	return kindFromBits(uint8(uint64(id) >> kindShift & fieldMask))
}

// NodeID decodes the node bits.
func (id ID) NodeID() uint8 { return uint8(uint64(id) >> nodeShift & fieldMask) }

// Increment decodes the per-process counter bits.
func (id ID) Increment() uint8 { return uint8(id) }

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

// MarshalJSON renders the ID as a quoted decimal.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON accepts "123" or 123.
func (id *ID) UnmarshalJSON(data []byte) error {
	var raw json.Number
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("snowflake: %w", err)
		}
		raw = json.Number(s)
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("snowflake: %w", err)
	}
	parsed, err := Parse(raw.String())
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse reads a decimal snowflake, as found in URL params and JSON.
func Parse(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("snowflake: parsing %q: %w", s, err)
	}
	return ID(v), nil
}

var mentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// ExtractMentions returns the user IDs mentioned in text as <@id> or <@!id>,
// left to right, duplicates kept. Digit runs that overflow a uint64 are skipped.
func ExtractMentions(text string) []ID {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	ids := make([]ID, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, ID(v))
	}
	return ids
}
