// Package codec implements COD, the self-describing binary value codec
// used to serialize every UTM Remote request and reply: a per-document
// shape table plus a tree of keyed and unkeyed containers over a small
// set of primitives.
package codec

import uuid "github.com/satori/go.uuid"

// Kind identifies the dynamic type of a Value.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindString
	KindBytes
	KindUUID
	KindDateTime
	KindBitflags
	KindEnum
	KindRecord
	KindMapping
	KindSequence
)

// Value is a COD-encodable value. Concrete types implement it directly;
// there is no reflection-driven dispatch.
type Value interface {
	Kind() Kind
}

type Bool bool

func (Bool) Kind() Kind { return KindBool }

type Int int64

func (Int) Kind() Kind { return KindInt }

type String string

func (String) Kind() Kind { return KindString }

// Bytes is the byte-sequence special case of the unkeyed container.
type Bytes []byte

func (Bytes) Kind() Kind { return KindBytes }

// UUID carries a uuid.UUID, serialized on the wire as its string form.
type UUID uuid.UUID

func (UUID) Kind() Kind { return KindUUID }

func (u UUID) String() string { return uuid.UUID(u).String() }

// DateTime is opaque to this codec: it is carried as a string.
type DateTime string

func (DateTime) Kind() Kind { return KindDateTime }

// Bitflags is an unsigned 64-bit flag set.
type Bitflags uint64

func (Bitflags) Kind() Kind { return KindBitflags }

// Enum is a named enumeration value; its wire form is a one-field
// keyed container whose field name is the variant identifier and
// whose value is an empty record.
type Enum string

func (Enum) Kind() Kind { return KindEnum }

// Record is a fixed, named container of optionally-absent fields.
// Absence is represented by the field's name simply not being a key
// of Fields -- there is no null sentinel.
type Record struct {
	Fields map[string]Value
}

func (Record) Kind() Kind { return KindRecord }

// NewRecord builds a Record from the given present fields.
func NewRecord(fields map[string]Value) Record {
	return Record{Fields: fields}
}

func (r Record) Get(name string) (Value, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Mapping is a string-keyed container whose shape is the sorted key set.
type Mapping struct {
	Entries map[string]Value
}

func (Mapping) Kind() Kind { return KindMapping }

// Sequence is an ordered, possibly heterogeneous, possibly-nullable
// unkeyed container.
type Sequence struct {
	Elements []Value
}

func (Sequence) Kind() Kind { return KindSequence }
