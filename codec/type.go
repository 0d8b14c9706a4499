package codec

// Type is a target-type descriptor supplied to Decode. Unlike Value,
// which is self-describing once constructed, the wire format for
// primitives carries no type tag, so decoding requires the caller to
// say what is expected at each position in the tree.
type Type interface {
	isType()
}

type BoolType struct{}

func (BoolType) isType() {}

type IntType struct{}

func (IntType) isType() {}

type StringType struct{}

func (StringType) isType() {}

type BytesType struct{}

func (BytesType) isType() {}

type UUIDType struct{}

func (UUIDType) isType() {}

type DateTimeType struct{}

func (DateTimeType) isType() {}

type BitflagsType struct{}

func (BitflagsType) isType() {}

// EnumType lists the variant identifiers a given enumeration may take.
// Decoding validates the decoded field name against this set.
type EnumType struct {
	Variants []string
}

func (EnumType) isType() {}

// FieldType names one field of a RecordType and its expected Type.
// A field not present in the document's shape decodes to absent
// (simply missing from the resulting Record.Fields).
type FieldType struct {
	Name string
	Type Type
}

type RecordType struct {
	Fields []FieldType
}

func (RecordType) isType() {}

// MappingType describes a string-keyed map with a uniform value type.
type MappingType struct {
	Value Type
}

func (MappingType) isType() {}

// SequenceType describes an ordered, possibly-nullable sequence with a
// uniform element type.
type SequenceType struct {
	Element Type
}

func (SequenceType) isType() {}
