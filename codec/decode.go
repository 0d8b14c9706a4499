package codec

import (
	uuid "github.com/satori/go.uuid"
)

// Decode parses a complete COD document and returns the root value,
// interpreted against the target type t. Decode fails with
// ErrMalformedDocument on truncated input, duplicated shape keys,
// unknown shape indices, non-UTF-8 strings, out-of-range tag bytes,
// or residual bytes after the declared value.
func Decode(t Type, data []byte) (Value, error) {
	table, off, err := readShapeTable(data)
	if err != nil {
		return nil, err
	}
	v, consumed, err := decodeValue(t, data[off:], table)
	if err != nil {
		return nil, err
	}
	if off+consumed != len(data) {
		return nil, malformed("residual bytes after root value")
	}
	return v, nil
}

func decodeValue(t Type, data []byte, table shapeTable) (Value, int, error) {
	switch typ := t.(type) {
	case BoolType:
		if len(data) != 1 {
			return nil, 0, malformed("bool must be exactly one byte")
		}
		switch data[0] {
		case 0x00:
			return Bool(false), 1, nil
		case 0x01:
			return Bool(true), 1, nil
		default:
			return nil, 0, malformed("bool byte out of range: %#x", data[0])
		}
	case IntType:
		return Int(decodeInt64(data)), len(data), nil
	case BitflagsType:
		return Bitflags(uint64(decodeInt64(data))), len(data), nil
	case StringType:
		s, n, err := decodeString(data)
		if err != nil {
			return nil, 0, err
		}
		return String(s), n, nil
	case DateTimeType:
		s, n, err := decodeString(data)
		if err != nil {
			return nil, 0, err
		}
		return DateTime(s), n, nil
	case UUIDType:
		s, n, err := decodeString(data)
		if err != nil {
			return nil, 0, err
		}
		id, err := uuid.FromString(s)
		if err != nil {
			return nil, 0, malformed("invalid UUID string %q: %s", s, err.Error())
		}
		return UUID(id), n, nil
	case BytesType:
		return decodeBytesValue(data)
	case EnumType:
		return decodeEnum(typ, data, table)
	case RecordType:
		return decodeRecord(typ, data, table)
	case MappingType:
		return decodeMapping(typ, data, table)
	case SequenceType:
		return decodeSequence(typ, data, table)
	default:
		return nil, 0, malformed("unsupported target type %T", t)
	}
}

func decodeInt64(data []byte) int64 {
	var v uint64
	for i, b := range data {
		if i >= 8 {
			break
		}
		v |= uint64(b) << uint(8*i)
	}
	return int64(v)
}

func decodeString(data []byte) (string, int, error) {
	l, n, err := readUleb128(data)
	if err != nil {
		return "", 0, err
	}
	off := n
	if uint64(len(data)-off) < l {
		return "", 0, malformed("truncated string")
	}
	s := string(data[off : off+int(l)])
	if !isValidUTF8(s) {
		return "", 0, malformed("string is not valid UTF-8")
	}
	return s, off + int(l), nil
}

// unkeyedHeader is the parsed tag/size-list prefix of an unkeyed
// container (§4.1.3): enough to slice out each element's payload.
type unkeyedHeader struct {
	tag      byte
	n        int
	present  []int  // byte size of each present element, in order
	nullmask []bool // len == n when tag == 2, else nil
	consumed int     // bytes consumed by the header itself (not the payload)
}

func readUnkeyedHeader(data []byte) (unkeyedHeader, error) {
	if len(data) < 1 {
		return unkeyedHeader{}, malformed("truncated unkeyed container")
	}
	tag := data[0]
	if tag > 2 {
		return unkeyedHeader{}, malformed("unkeyed container tag out of range: %d", tag)
	}
	off := 1
	n64, nn, err := readUleb128(data[off:])
	if err != nil {
		return unkeyedHeader{}, err
	}
	off += nn
	n := int(n64)

	switch tag {
	case 0:
		size, sn, err := readUleb128(data[off:])
		if err != nil {
			return unkeyedHeader{}, err
		}
		off += sn
		sizes := make([]int, n)
		for i := range sizes {
			sizes[i] = int(size)
		}
		return unkeyedHeader{tag: tag, n: n, present: sizes, consumed: off}, nil
	case 1:
		sizes := make([]int, n)
		for i := 0; i < n; i++ {
			size, sn, err := readUleb128(data[off:])
			if err != nil {
				return unkeyedHeader{}, err
			}
			off += sn
			sizes[i] = int(size)
		}
		return unkeyedHeader{tag: tag, n: n, present: sizes, consumed: off}, nil
	default: // 2: nullable
		mask, mn, err := readBitVector(data[off:], n)
		if err != nil {
			return unkeyedHeader{}, err
		}
		off += mn
		presentCount := n - popcount(mask)
		sizes := make([]int, presentCount)
		for i := 0; i < presentCount; i++ {
			size, sn, err := readUleb128(data[off:])
			if err != nil {
				return unkeyedHeader{}, err
			}
			off += sn
			sizes[i] = int(size)
		}
		return unkeyedHeader{tag: tag, n: n, present: sizes, nullmask: mask, consumed: off}, nil
	}
}

func (h unkeyedHeader) payloadLen() int {
	total := 0
	for _, s := range h.present {
		total += s
	}
	return total
}

func decodeBytesValue(data []byte) (Value, int, error) {
	h, err := readUnkeyedHeader(data)
	if err != nil {
		return nil, 0, err
	}
	if h.tag != 0 {
		return nil, 0, malformed("byte sequence must be homogeneous")
	}
	for _, s := range h.present {
		if s != 1 {
			return nil, 0, malformed("byte sequence element size must be 1")
		}
	}
	payloadLen := h.payloadLen()
	if len(data)-h.consumed < payloadLen {
		return nil, 0, malformed("truncated byte sequence payload")
	}
	payload := data[h.consumed : h.consumed+payloadLen]
	out := make([]byte, len(payload))
	copy(out, payload)
	return Bytes(out), h.consumed + payloadLen, nil
}

func decodeSequence(t SequenceType, data []byte, table shapeTable) (Value, int, error) {
	h, err := readUnkeyedHeader(data)
	if err != nil {
		return nil, 0, err
	}
	payloadLen := h.payloadLen()
	if len(data)-h.consumed < payloadLen {
		return nil, 0, malformed("truncated sequence payload")
	}
	payload := data[h.consumed : h.consumed+payloadLen]

	elements := make([]Value, h.n)
	presentIdx := 0
	off := 0
	for i := 0; i < h.n; i++ {
		if h.nullmask != nil && h.nullmask[i] {
			elements[i] = nil
			continue
		}
		size := h.present[presentIdx]
		presentIdx++
		if len(payload)-off < size {
			return nil, 0, malformed("truncated sequence element")
		}
		chunk := payload[off : off+size]
		v, consumed, err := decodeValue(t.Element, chunk, table)
		if err != nil {
			return nil, 0, err
		}
		if consumed != len(chunk) {
			return nil, 0, malformed("residual bytes in sequence element")
		}
		elements[i] = v
		off += size
	}
	return Sequence{Elements: elements}, h.consumed + payloadLen, nil
}

// keyedHeader is the parsed tag/shape/size-list prefix of a keyed
// container (§4.1.4).
type keyedHeader struct {
	present  []string // present field names, in shape order
	sizes    []int
	consumed int
}

func readKeyedHeader(data []byte, table shapeTable) (keyedHeader, error) {
	if len(data) < 1 {
		return keyedHeader{}, malformed("truncated keyed container")
	}
	tag := data[0]
	if tag > 1 {
		return keyedHeader{}, malformed("keyed container tag out of range: %d", tag)
	}
	off := 1
	shapeID, sn, err := readUleb128(data[off:])
	if err != nil {
		return keyedHeader{}, err
	}
	off += sn

	// A field-less container references index 0 without a table entry
	// (see shapeBuilder.lookupOrInsert), so index 0 may also name a real
	// shape of the same document. Nested containers arrive as exactly
	// sized chunks, and one with any present field still has its size
	// list after the shape id: nothing left means no fields.
	var fieldNames []string
	if !(tag == 0 && shapeID == 0 && off == len(data)) {
		fieldNames, err = shapeNamesFor(table, shapeID)
		if err != nil {
			return keyedHeader{}, err
		}
	}

	var present []string
	if tag == 1 {
		mask, mn, err := readBitVector(data[off:], len(fieldNames))
		if err != nil {
			return keyedHeader{}, err
		}
		off += mn
		for i, name := range fieldNames {
			if !mask[i] {
				present = append(present, name)
			}
		}
	} else {
		present = fieldNames
	}

	sizes := make([]int, len(present))
	for i := range present {
		size, szn, err := readUleb128(data[off:])
		if err != nil {
			return keyedHeader{}, err
		}
		off += szn
		sizes[i] = int(size)
	}

	return keyedHeader{present: present, sizes: sizes, consumed: off}, nil
}

// shapeNamesFor resolves a shape reference to its field-name list. A
// shapeID that falls outside the declared table is treated as the
// zero-field container (no names) when shapeID is exactly 0 -- the
// encoder never allocates a table entry for a field-less keyed
// container (see shapeBuilder.lookupOrInsert) -- and as a genuine
// out-of-range reference (malformed) otherwise.
func shapeNamesFor(table shapeTable, shapeID uint64) ([]string, error) {
	if shapeID < uint64(len(table)) {
		return table[shapeID], nil
	}
	if shapeID == 0 {
		return nil, nil
	}
	return nil, malformed("shape index %d out of range", shapeID)
}

func decodeRecord(t RecordType, data []byte, table shapeTable) (Value, int, error) {
	h, err := readKeyedHeader(data, table)
	if err != nil {
		return nil, 0, err
	}
	fieldTypes := map[string]Type{}
	for _, f := range t.Fields {
		fieldTypes[f.Name] = f.Type
	}

	payloadLen := 0
	for _, s := range h.sizes {
		payloadLen += s
	}
	if len(data)-h.consumed < payloadLen {
		return nil, 0, malformed("truncated record payload")
	}
	payload := data[h.consumed : h.consumed+payloadLen]

	fields := map[string]Value{}
	off := 0
	for i, name := range h.present {
		ft, ok := fieldTypes[name]
		if !ok {
			return nil, 0, malformed("unknown field %q for record", name)
		}
		size := h.sizes[i]
		if len(payload)-off < size {
			return nil, 0, malformed("truncated field %q", name)
		}
		chunk := payload[off : off+size]
		v, consumed, err := decodeValue(ft, chunk, table)
		if err != nil {
			return nil, 0, err
		}
		if consumed != len(chunk) {
			return nil, 0, malformed("residual bytes in field %q", name)
		}
		fields[name] = v
		off += size
	}
	return Record{Fields: fields}, h.consumed + payloadLen, nil
}

func decodeMapping(t MappingType, data []byte, table shapeTable) (Value, int, error) {
	h, err := readKeyedHeader(data, table)
	if err != nil {
		return nil, 0, err
	}
	payloadLen := 0
	for _, s := range h.sizes {
		payloadLen += s
	}
	if len(data)-h.consumed < payloadLen {
		return nil, 0, malformed("truncated mapping payload")
	}
	payload := data[h.consumed : h.consumed+payloadLen]

	entries := map[string]Value{}
	off := 0
	for i, name := range h.present {
		size := h.sizes[i]
		if len(payload)-off < size {
			return nil, 0, malformed("truncated entry %q", name)
		}
		chunk := payload[off : off+size]
		v, consumed, err := decodeValue(t.Value, chunk, table)
		if err != nil {
			return nil, 0, err
		}
		if consumed != len(chunk) {
			return nil, 0, malformed("residual bytes in entry %q", name)
		}
		entries[name] = v
		off += size
	}
	return Mapping{Entries: entries}, h.consumed + payloadLen, nil
}

func decodeEnum(t EnumType, data []byte, table shapeTable) (Value, int, error) {
	h, err := readKeyedHeader(data, table)
	if err != nil {
		return nil, 0, err
	}
	if len(h.present) != 1 {
		return nil, 0, malformed("enumeration must have exactly one present field, got %d", len(h.present))
	}
	variant := h.present[0]
	valid := false
	for _, v := range t.Variants {
		if v == variant {
			valid = true
			break
		}
	}
	if !valid {
		return nil, 0, malformed("unknown enumeration variant %q", variant)
	}
	size := h.sizes[0]
	if len(data)-h.consumed < size {
		return nil, 0, malformed("truncated enumeration payload")
	}
	chunk := data[h.consumed : h.consumed+size]
	_, consumed, err := decodeValue(RecordType{}, chunk, table)
	if err != nil {
		return nil, 0, err
	}
	if consumed != len(chunk) {
		return nil, 0, malformed("residual bytes in enumeration payload")
	}
	return Enum(variant), h.consumed + size, nil
}
