package codec

import (
	"bytes"
	"testing"
	"testing/quick"
)

// S1: encode {version:1} for a ClientHandshake.Request-shaped record.
func TestEncodeClientHandshakeRequest(t *testing.T) {
	v := NewRecord(map[string]Value{"version": Int(1)})
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	want := append([]byte{0x01, 0x01, 0x07}, []byte("version")...)
	want = append(want, 0x00, 0x00, 0x08, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x\nwant % x", got, want)
	}

	rt := RecordType{Fields: []FieldType{{Name: "version", Type: IntType{}}}}
	decoded, err := Decode(rt, got)
	if err != nil {
		t.Fatal(err)
	}
	rec, ok := decoded.(Record)
	if !ok {
		t.Fatalf("expected Record, got %T", decoded)
	}
	iv, ok := rec.Get("version")
	if !ok || iv != Int(1) {
		t.Fatalf("version field wrong: %#v", rec)
	}
}

// S2: encode an enumeration value stopMethod=force.
func TestEncodeEnumVariant(t *testing.T) {
	got, err := Encode(Enum("force"))
	if err != nil {
		t.Fatal(err)
	}
	// shape table: one shape ["force"]; root: keyed container tag 0,
	// shape 0, size(2), payload = nested empty keyed container (tag 0, shape 0).
	want := append([]byte{0x01, 0x01, 0x05}, []byte("force")...)
	want = append(want, 0x00, 0x00, 0x02, 0x00, 0x00)
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x\nwant % x", got, want)
	}

	et := EnumType{Variants: []string{"request", "force", "kill"}}
	decoded, err := Decode(et, got)
	if err != nil {
		t.Fatal(err)
	}
	if decoded != Enum("force") {
		t.Fatalf("got %#v", decoded)
	}
}

// S3: COD document for an empty ListVirtualMachines.Request.
func TestEncodeEmptyRecord(t *testing.T) {
	got, err := Encode(NewRecord(nil))
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x00, 0x00}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x want % x", got, want)
	}

	decoded, err := Decode(RecordType{}, got)
	if err != nil {
		t.Fatal(err)
	}
	rec := decoded.(Record)
	if len(rec.Fields) != 0 {
		t.Fatalf("expected no fields, got %#v", rec)
	}
}

func TestSequenceOfStrings(t *testing.T) {
	v := Sequence{Elements: []Value{String("u1"), String("u2")}}
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(SequenceType{Element: StringType{}}, got)
	if err != nil {
		t.Fatal(err)
	}
	seq := decoded.(Sequence)
	if len(seq.Elements) != 2 || seq.Elements[0] != String("u1") || seq.Elements[1] != String("u2") {
		t.Fatalf("got %#v", seq)
	}
}

func TestSequenceNullable(t *testing.T) {
	v := Sequence{Elements: []Value{String("a"), nil, String("ccc")}}
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(SequenceType{Element: StringType{}}, got)
	if err != nil {
		t.Fatal(err)
	}
	seq := decoded.(Sequence)
	if len(seq.Elements) != 3 || seq.Elements[1] != nil {
		t.Fatalf("got %#v", seq)
	}
	if seq.Elements[0] != String("a") || seq.Elements[2] != String("ccc") {
		t.Fatalf("got %#v", seq)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 5, 257} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		got, err := Encode(Bytes(data))
		if err != nil {
			t.Fatal(err)
		}
		decoded, err := Decode(BytesType{}, got)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal([]byte(decoded.(Bytes)), data) {
			t.Fatalf("n=%d: got %#v", n, decoded)
		}
	}
}

func TestMappingRoundTrip(t *testing.T) {
	v := Mapping{Entries: map[string]Value{
		"sdb1": String("/dev/sdb1"),
		"cdrom": String("/dev/sr0"),
	}}
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(MappingType{Value: StringType{}}, got)
	if err != nil {
		t.Fatal(err)
	}
	m := decoded.(Mapping)
	if len(m.Entries) != 2 || m.Entries["sdb1"] != String("/dev/sdb1") || m.Entries["cdrom"] != String("/dev/sr0") {
		t.Fatalf("got %#v", m)
	}
}

func TestRecordWithAbsentField(t *testing.T) {
	rt := RecordType{Fields: []FieldType{
		{Name: "a", Type: StringType{}},
		{Name: "b", Type: StringType{}},
	}}
	v := NewRecord(map[string]Value{"a": String("present")})
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(rt, got)
	if err != nil {
		t.Fatal(err)
	}
	rec := decoded.(Record)
	if _, ok := rec.Get("b"); ok {
		t.Fatalf("expected b absent, got %#v", rec)
	}
	if av, _ := rec.Get("a"); av != String("present") {
		t.Fatalf("got %#v", rec)
	}
}

func TestDecodeMalformedTruncated(t *testing.T) {
	_, err := Decode(RecordType{}, []byte{0x00})
	if err == nil {
		t.Fatal("expected malformed error")
	}
}

func TestDecodeResidualBytesRejected(t *testing.T) {
	good, err := Encode(NewRecord(nil))
	if err != nil {
		t.Fatal(err)
	}
	withResidual := append(append([]byte{}, good...), 0xFF)
	_, err = Decode(RecordType{}, withResidual)
	if err == nil {
		t.Fatal("expected malformed error for residual bytes")
	}
}

// Invariant: shape references only point to earlier-declared shapes.
func TestShapeReferencesAreForwardFree(t *testing.T) {
	v := NewRecord(map[string]Value{
		"id":   Int(1),
		"name": String("vm1"),
	})
	got, err := Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	table, off, err := readShapeTable(got)
	if err != nil {
		t.Fatal(err)
	}
	// any shape_id referenced in the remainder of the document must be
	// an index already present in the table we just parsed. Neither
	// field is a container, so the root's shape_id (after its tag byte)
	// is the only reference.
	if len(table) == 0 {
		t.Fatal("expected at least one declared shape")
	}
	shapeID, _, err := readUleb128(got[off+1:])
	if err != nil {
		t.Fatal(err)
	}
	if shapeID >= uint64(len(table)) {
		t.Fatalf("root shape_id %d is not among the %d declared shapes", shapeID, len(table))
	}
}

// Property: random record round-trips through encode/decode.
func TestRoundTripRandomRecords(t *testing.T) {
	f := func(a, b int64, s string, present bool) bool {
		fields := map[string]Value{"a": Int(a), "s": String(s)}
		if present {
			fields["b"] = Int(b)
		}
		rt := RecordType{Fields: []FieldType{
			{Name: "a", Type: IntType{}},
			{Name: "b", Type: IntType{}},
			{Name: "s", Type: StringType{}},
		}}
		v := NewRecord(fields)
		enc, err := Encode(v)
		if err != nil {
			return false
		}
		decoded, err := Decode(rt, enc)
		if err != nil {
			return false
		}
		rec, ok := decoded.(Record)
		if !ok {
			return false
		}
		if rec.Fields["a"] != Int(a) || rec.Fields["s"] != String(s) {
			return false
		}
		_, hasB := rec.Fields["b"]
		return hasB == present
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 200}); err != nil {
		t.Fatal(err)
	}
}
