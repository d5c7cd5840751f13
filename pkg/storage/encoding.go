// ABOUTME: Order-preserving encoding for composite keys and record values
// ABOUTME: Backs the embedded adapters that persist documents and questions

package storage

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Value types for composite keys
const (
	TYPE_BYTES = 1
	TYPE_INT64 = 2
	TYPE_TIME  = 4 // Stored as int64 Unix nanoseconds
)

// Value represents a single value in a composite key
type Value struct {
	Type uint8
	Str  []byte
	I64  int64
	Time time.Time
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// NewStringValue creates a bytes value from a string
func NewStringValue(s string) Value {
	return Value{Type: TYPE_BYTES, Str: []byte(s)}
}

// NewInt64Value creates an int64 value
func NewInt64Value(i int64) Value {
	return Value{Type: TYPE_INT64, I64: i}
}

// NewTimeValue creates a time value
func NewTimeValue(t time.Time) Value {
	return Value{Type: TYPE_TIME, Time: t}
}

// EncodeValues encodes multiple values in order-preserving format.
// Each value is tagged with its type to prevent collisions with 0xFF.
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 256)
	for _, v := range vals {
		out = append(out, byte(v.Type))

		switch v.Type {
		case TYPE_INT64:
			out = appendOrderedInt64(out, v.I64)

		case TYPE_TIME:
			out = appendOrderedInt64(out, v.Time.UnixNano())

		case TYPE_BYTES:
			out = append(out, escapeString(v.Str)...)
			out = append(out, 0)

		default:
			panic(fmt.Sprintf("unknown type: %d", v.Type))
		}
	}
	return out
}

// appendOrderedInt64 flips the sign bit so negative values sort first.
func appendOrderedInt64(out []byte, i int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i)+(1<<63))
	return append(out, buf[:]...)
}

func readOrderedInt64(data []byte) int64 {
	return int64(binary.BigEndian.Uint64(data) - (1 << 63))
}

// escapeString escapes the terminator, the escape byte and 0xFF so that
// encoded values can be nested inside a bytes value.
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 0xFE || b == 0xFF {
			escapes++
		}
	}

	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		switch b {
		case 0, 0xFE, 0xFF:
			out = append(out, 0xFE, b)
		default:
			out = append(out, b)
		}
	}
	return out
}

// unescapeString reverses escapeString
func unescapeString(s []byte) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == 0xFE && i+1 < len(s) {
			out = append(out, s[i+1])
			i++
		} else {
			out = append(out, s[i])
		}
	}
	return out
}

// DecodeValues decodes values from encoded format
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_INT64:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete int64 at pos %d", pos)
			}
			vals = append(vals, NewInt64Value(readOrderedInt64(data[pos:pos+8])))
			pos += 8

		case TYPE_TIME:
			if pos+8 > len(data) {
				return nil, fmt.Errorf("incomplete time at pos %d", pos)
			}
			vals = append(vals, NewTimeValue(time.Unix(0, readOrderedInt64(data[pos:pos+8])).UTC()))
			pos += 8

		case TYPE_BYTES:
			// Find the unescaped null terminator
			end := pos
			for end < len(data) && data[end] != 0 {
				if data[end] == 0xFE {
					end++
				}
				end++
			}
			if end >= len(data) {
				return nil, fmt.Errorf("unterminated string at pos %d", pos)
			}
			vals = append(vals, NewBytesValue(unescapeString(data[pos:end])))
			pos = end + 1

		default:
			return nil, fmt.Errorf("unknown type: %d at pos %d", typ, pos-1)
		}
	}

	return vals, nil
}

// EncodeKey encodes a composite key with prefix
func EncodeKey(prefix uint32, vals []Value) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], prefix)
	out := append([]byte{}, buf[:]...)
	return append(out, EncodeValues(vals)...)
}

// ExtractPrefix extracts the prefix from an encoded key
func ExtractPrefix(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// ExtractValues extracts and decodes values from an encoded key
func ExtractValues(key []byte) ([]Value, error) {
	if len(key) < 4 {
		return nil, fmt.Errorf("key too short")
	}
	return DecodeValues(key[4:])
}

// EncodeStrings packs a string list into one nested value.
func EncodeStrings(ss []string) []byte {
	vals := make([]Value, len(ss))
	for i, s := range ss {
		vals[i] = NewStringValue(s)
	}
	return EncodeValues(vals)
}

// DecodeStrings reverses EncodeStrings.
func DecodeStrings(data []byte) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	vals, err := DecodeValues(data)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		if v.Type != TYPE_BYTES {
			return nil, fmt.Errorf("string list element %d has type %d", i, v.Type)
		}
		out[i] = string(v.Str)
	}
	return out, nil
}
