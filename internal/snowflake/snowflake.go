// ABOUTME: 128-bit time-ordered identifiers shared by the gateway and the request tier
// ABOUTME: Parses, formats, compares, and JSON-encodes IDs as unsigned decimal numbers

package snowflake

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// Epoch is the zero point of the timestamp half of every ID (2022-01-01T00:00:00Z).
var Epoch = time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)

// ErrInvalidID is returned when a value cannot be parsed as a 128-bit ID.
var ErrInvalidID = errors.New("invalid snowflake")

// ModelType discriminates which kind of entity an ID was allocated for.
type ModelType uint8

const (
	ModelUser ModelType = iota
	ModelGuild
	ModelChannel
	ModelRole
	ModelMessage
	ModelInvite
	ModelBot
)

// ID is an unsigned 128-bit identifier. Hi holds milliseconds since Epoch;
// Lo holds a 40-bit per-node sequence, a 16-bit node discriminator and an
// 8-bit model type, most significant first.
// IDs allocated later compare greater than IDs allocated earlier.
type ID struct {
	Hi uint64
	Lo uint64
}

// Zero is the unset ID.
var Zero ID

// FromUint64 builds an ID whose value fits in 64 bits.
func FromUint64(v uint64) ID {
	return ID{Lo: v}
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id.Hi == 0 && id.Lo == 0
}

// Compare returns -1, 0, or +1 as id is less than, equal to, or greater than other.
func (id ID) Compare(other ID) int {
	switch {
	case id.Hi < other.Hi:
		return -1
	case id.Hi > other.Hi:
		return 1
	case id.Lo < other.Lo:
		return -1
	case id.Lo > other.Lo:
		return 1
	default:
		return 0
	}
}

// Less reports whether id sorts before other.
func (id ID) Less(other ID) bool {
	return id.Compare(other) < 0
}

// Time returns the allocation time embedded in the ID.
func (id ID) Time() time.Time {
	return Epoch.Add(time.Duration(id.Hi) * time.Millisecond)
}

// Model returns the model type embedded in the ID.
func (id ID) Model() ModelType {
	return ModelType(id.Lo)
}

// Node returns the allocator node discriminator embedded in the ID.
func (id ID) Node() uint16 {
	return uint16(id.Lo >> 8)
}

func (id ID) big() *big.Int {
	v := new(big.Int).SetUint64(id.Hi)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(id.Lo))
}

// String formats the ID as an unsigned decimal number.
func (id ID) String() string {
	if id.Hi == 0 {
		return strconv.FormatUint(id.Lo, 10)
	}
	return id.big().String()
}

var maxID = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Parse reads an unsigned decimal string into an ID.
func Parse(s string) (ID, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Cmp(maxID) > 0 {
		return Zero, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	lo := new(big.Int).And(v, new(big.Int).SetUint64(^uint64(0)))
	hi := new(big.Int).Rsh(v, 64)
	return ID{Hi: hi.Uint64(), Lo: lo.Uint64()}, nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// MarshalJSON encodes the ID as a bare JSON number.
func (id ID) MarshalJSON() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*id = Zero
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal(data, &unquoted); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidID, err)
		}
		s = unquoted
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalText lets IDs be used as JSON object keys and in text encodings.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value stores the ID as decimal text; 128 bits do not fit an SQL integer.
func (id ID) Value() (driver.Value, error) {
	return id.String(), nil
}

// Scan reads an ID stored as text or as a 64-bit integer.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = Zero
		return nil
	case int64:
		if v < 0 {
			return fmt.Errorf("%w: negative value %d", ErrInvalidID, v)
		}
		*id = FromUint64(uint64(v))
		return nil
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	default:
		return fmt.Errorf("%w: cannot scan %T", ErrInvalidID, src)
	}
}
