package codec

import (
	"encoding/binary"
	"fmt"
)

// Encode serializes v into a complete COD document: a shape table
// followed by the encoding of v itself. Encode is deterministic for a
// given value, with field ordering resolved canonically (ASCII
// ascending) within each shape.
func Encode(v Value) ([]byte, error) {
	b := newShapeBuilder()
	body, err := encodeValue(nil, b, v)
	if err != nil {
		return nil, err
	}
	doc := b.encode(nil)
	doc = append(doc, body...)
	return doc, nil
}

func encodeValue(buf []byte, b *shapeBuilder, v Value) ([]byte, error) {
	if v == nil {
		return nil, malformed("cannot encode a nil value")
	}
	switch val := v.(type) {
	case Bool:
		if val {
			return append(buf, 0x01), nil
		}
		return append(buf, 0x00), nil
	case Int:
		return encodeInt64(buf, int64(val)), nil
	case Bitflags:
		return encodeInt64(buf, int64(val)), nil
	case String:
		return encodeString(buf, string(val)), nil
	case DateTime:
		return encodeString(buf, string(val)), nil
	case UUID:
		return encodeString(buf, val.String()), nil
	case Bytes:
		return encodeBytes(buf, []byte(val)), nil
	case Enum:
		return encodeRecordLike(buf, b, []string{string(val)}, map[string]Value{string(val): Record{}})
	case Record:
		names := make([]string, 0, len(val.Fields))
		for name := range val.Fields {
			names = append(names, name)
		}
		return encodeRecordLike(buf, b, names, val.Fields)
	case Mapping:
		names := make([]string, 0, len(val.Entries))
		for name := range val.Entries {
			names = append(names, name)
		}
		return encodeRecordLike(buf, b, names, val.Entries)
	case Sequence:
		return encodeSequence(buf, b, val.Elements)
	default:
		return nil, fmt.Errorf("codec: unsupported value type %T", v)
	}
}

func encodeInt64(buf []byte, n int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(n))
	return append(buf, tmp[:]...)
}

func encodeString(buf []byte, s string) []byte {
	buf = putUleb128(buf, uint64(len(s)))
	return append(buf, s...)
}

func encodeBytes(buf []byte, data []byte) []byte {
	// Always homogeneous, element size 1, element count == byte length.
	buf = append(buf, 0x00)
	buf = putUleb128(buf, uint64(len(data)))
	buf = putUleb128(buf, 1)
	return append(buf, data...)
}

// encodeRecordLike implements the keyed-container wire form (§4.1.4)
// shared by records, mappings, and enum wrappers.
func encodeRecordLike(buf []byte, b *shapeBuilder, fieldNames []string, fields map[string]Value) ([]byte, error) {
	s := sortedFieldNames(fieldNames)
	shapeID := b.lookupOrInsert(fieldNames)

	if len(s) == 0 {
		buf = append(buf, 0x00)
		buf = putUleb128(buf, shapeID)
		return buf, nil
	}

	buf = append(buf, 0x00)
	buf = putUleb128(buf, shapeID)

	payloads := make([][]byte, len(s))
	for i, name := range s {
		enc, err := encodeValue(nil, b, fields[name])
		if err != nil {
			return nil, err
		}
		payloads[i] = enc
	}
	for _, p := range payloads {
		buf = putUleb128(buf, uint64(len(p)))
	}
	for _, p := range payloads {
		buf = append(buf, p...)
	}
	return buf, nil
}

func encodeSequence(buf []byte, b *shapeBuilder, elements []Value) ([]byte, error) {
	n := len(elements)
	anyAbsent := false
	for _, e := range elements {
		if e == nil {
			anyAbsent = true
			break
		}
	}

	if anyAbsent {
		present := make([]Value, 0, n)
		nullmask := make([]bool, n)
		for i, e := range elements {
			if e == nil {
				nullmask[i] = true
			} else {
				present = append(present, e)
			}
		}
		payloads := make([][]byte, len(present))
		for i, e := range present {
			enc, err := encodeValue(nil, b, e)
			if err != nil {
				return nil, err
			}
			payloads[i] = enc
		}
		buf = append(buf, 0x02)
		buf = putUleb128(buf, uint64(n))
		buf = writeBitVector(buf, nullmask)
		for _, p := range payloads {
			buf = putUleb128(buf, uint64(len(p)))
		}
		for _, p := range payloads {
			buf = append(buf, p...)
		}
		return buf, nil
	}

	payloads := make([][]byte, n)
	for i, e := range elements {
		enc, err := encodeValue(nil, b, e)
		if err != nil {
			return nil, err
		}
		payloads[i] = enc
	}

	homogeneous := true
	for i := 1; i < len(payloads); i++ {
		if len(payloads[i]) != len(payloads[0]) {
			homogeneous = false
			break
		}
	}

	if homogeneous {
		size := 0
		if len(payloads) > 0 {
			size = len(payloads[0])
		}
		buf = append(buf, 0x00)
		buf = putUleb128(buf, uint64(n))
		buf = putUleb128(buf, uint64(size))
		for _, p := range payloads {
			buf = append(buf, p...)
		}
		return buf, nil
	}

	buf = append(buf, 0x01)
	buf = putUleb128(buf, uint64(n))
	for _, p := range payloads {
		buf = putUleb128(buf, uint64(len(p)))
	}
	for _, p := range payloads {
		buf = append(buf, p...)
	}
	return buf, nil
}
