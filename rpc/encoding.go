package rpc

import (
	"fmt"

	uuid "github.com/satori/go.uuid"

	"github.com/zeldin/goutmremote/codec"
)

func vmInfoType() codec.RecordType {
	return codec.RecordType{Fields: []codec.FieldType{
		{Name: "id", Type: codec.UUIDType{}},
		{Name: "name", Type: codec.StringType{}},
		{Name: "path", Type: codec.StringType{}},
		{Name: "isShortcut", Type: codec.BoolType{}},
		{Name: "isSuspended", Type: codec.BoolType{}},
		{Name: "isTakeoverAllowed", Type: codec.BoolType{}},
		{Name: "backend", Type: codec.StringType{}},
		{Name: "state", Type: codec.EnumType{Variants: vmStateVariants}},
		{Name: "mountedDrives", Type: codec.MappingType{Value: codec.StringType{}}},
	}}
}

func vmInfoToValue(v VmInfo) codec.Record {
	drives := map[string]codec.Value{}
	for k, val := range v.MountedDrives {
		drives[k] = codec.String(val)
	}
	return codec.NewRecord(map[string]codec.Value{
		"id":                codec.UUID(v.ID),
		"name":              codec.String(v.Name),
		"path":              codec.String(v.Path),
		"isShortcut":        codec.Bool(v.IsShortcut),
		"isSuspended":       codec.Bool(v.IsSuspended),
		"isTakeoverAllowed": codec.Bool(v.IsTakeoverAllowed),
		"backend":           codec.String(v.Backend),
		"state":             codec.Enum(v.State),
		"mountedDrives":     codec.Mapping{Entries: drives},
	})
}

func vmInfoFromValue(r codec.Record) (VmInfo, error) {
	id, err := getUUID(r, "id")
	if err != nil {
		return VmInfo{}, err
	}
	name, err := getString(r, "name")
	if err != nil {
		return VmInfo{}, err
	}
	path, err := getString(r, "path")
	if err != nil {
		return VmInfo{}, err
	}
	isShortcut, err := getBool(r, "isShortcut")
	if err != nil {
		return VmInfo{}, err
	}
	isSuspended, err := getBool(r, "isSuspended")
	if err != nil {
		return VmInfo{}, err
	}
	isTakeoverAllowed, err := getBool(r, "isTakeoverAllowed")
	if err != nil {
		return VmInfo{}, err
	}
	backend, err := getString(r, "backend")
	if err != nil {
		return VmInfo{}, err
	}
	state, err := getEnum(r, "state")
	if err != nil {
		return VmInfo{}, err
	}
	drivesVal, ok := r.Get("mountedDrives")
	drives := map[string]string{}
	if ok {
		m, ok := drivesVal.(codec.Mapping)
		if !ok {
			return VmInfo{}, fmt.Errorf("rpc: mountedDrives field has wrong kind")
		}
		for k, v := range m.Entries {
			s, ok := v.(codec.String)
			if !ok {
				return VmInfo{}, fmt.Errorf("rpc: mountedDrives entry %q has wrong kind", k)
			}
			drives[k] = string(s)
		}
	}
	return VmInfo{
		ID:                id,
		Name:              name,
		Path:              path,
		IsShortcut:        isShortcut,
		IsSuspended:       isSuspended,
		IsTakeoverAllowed: isTakeoverAllowed,
		Backend:           backend,
		State:             VMState(state),
		MountedDrives:     drives,
	}, nil
}

func spiceInfoType() codec.RecordType {
	return codec.RecordType{Fields: []codec.FieldType{
		{Name: "spicePortInternal", Type: codec.IntType{}},
		{Name: "spicePortExternal", Type: codec.IntType{}},
		{Name: "spiceHostExternal", Type: codec.StringType{}},
		{Name: "spicePublicKey", Type: codec.BytesType{}},
		{Name: "spicePassword", Type: codec.StringType{}},
	}}
}

func spiceInfoToValue(s SpiceInfo) codec.Record {
	return codec.NewRecord(map[string]codec.Value{
		"spicePortInternal": codec.Int(s.SpicePortInternal),
		"spicePortExternal": codec.Int(s.SpicePortExternal),
		"spiceHostExternal": codec.String(s.SpiceHostExternal),
		"spicePublicKey":    codec.Bytes(s.SpicePublicKey),
		"spicePassword":     codec.String(s.SpicePassword),
	})
}

func spiceInfoFromValue(r codec.Record) (SpiceInfo, error) {
	portInternal, err := getInt(r, "spicePortInternal")
	if err != nil {
		return SpiceInfo{}, err
	}
	portExternal, err := getInt(r, "spicePortExternal")
	if err != nil {
		return SpiceInfo{}, err
	}
	host, err := getString(r, "spiceHostExternal")
	if err != nil {
		return SpiceInfo{}, err
	}
	key, err := getBytes(r, "spicePublicKey")
	if err != nil {
		return SpiceInfo{}, err
	}
	password, err := getString(r, "spicePassword")
	if err != nil {
		return SpiceInfo{}, err
	}
	return SpiceInfo{
		SpicePortInternal: portInternal,
		SpicePortExternal: portExternal,
		SpiceHostExternal: host,
		SpicePublicKey:    key,
		SpicePassword:     password,
	}, nil
}

func uuidSequenceType() codec.SequenceType { return codec.SequenceType{Element: codec.UUIDType{}} }

func uuidsToValue(ids []uuid.UUID) codec.Sequence {
	elems := make([]codec.Value, len(ids))
	for i, id := range ids {
		elems[i] = codec.UUID(id)
	}
	return codec.Sequence{Elements: elems}
}

func uuidsFromValue(v codec.Value) ([]uuid.UUID, error) {
	seq, ok := v.(codec.Sequence)
	if !ok {
		return nil, fmt.Errorf("rpc: expected a sequence of uuid")
	}
	out := make([]uuid.UUID, len(seq.Elements))
	for i, e := range seq.Elements {
		id, ok := e.(codec.UUID)
		if !ok {
			return nil, fmt.Errorf("rpc: sequence element %d is not a uuid", i)
		}
		out[i] = uuid.UUID(id)
	}
	return out, nil
}

func getString(r codec.Record, name string) (string, error) {
	v, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("rpc: missing required field %q", name)
	}
	s, ok := v.(codec.String)
	if !ok {
		return "", fmt.Errorf("rpc: field %q has wrong kind", name)
	}
	return string(s), nil
}

func getBool(r codec.Record, name string) (bool, error) {
	v, ok := r.Get(name)
	if !ok {
		return false, fmt.Errorf("rpc: missing required field %q", name)
	}
	b, ok := v.(codec.Bool)
	if !ok {
		return false, fmt.Errorf("rpc: field %q has wrong kind", name)
	}
	return bool(b), nil
}

func getInt(r codec.Record, name string) (int64, error) {
	v, ok := r.Get(name)
	if !ok {
		return 0, fmt.Errorf("rpc: missing required field %q", name)
	}
	n, ok := v.(codec.Int)
	if !ok {
		return 0, fmt.Errorf("rpc: field %q has wrong kind", name)
	}
	return int64(n), nil
}

func getBitflags(r codec.Record, name string) (uint64, error) {
	v, ok := r.Get(name)
	if !ok {
		return 0, fmt.Errorf("rpc: missing required field %q", name)
	}
	b, ok := v.(codec.Bitflags)
	if !ok {
		return 0, fmt.Errorf("rpc: field %q has wrong kind", name)
	}
	return uint64(b), nil
}

func getBytes(r codec.Record, name string) ([]byte, error) {
	v, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("rpc: missing required field %q", name)
	}
	b, ok := v.(codec.Bytes)
	if !ok {
		return nil, fmt.Errorf("rpc: field %q has wrong kind", name)
	}
	return []byte(b), nil
}

func getUUID(r codec.Record, name string) (uuid.UUID, error) {
	v, ok := r.Get(name)
	if !ok {
		return uuid.UUID{}, fmt.Errorf("rpc: missing required field %q", name)
	}
	id, ok := v.(codec.UUID)
	if !ok {
		return uuid.UUID{}, fmt.Errorf("rpc: field %q has wrong kind", name)
	}
	return uuid.UUID(id), nil
}

func getEnum(r codec.Record, name string) (string, error) {
	v, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("rpc: missing required field %q", name)
	}
	e, ok := v.(codec.Enum)
	if !ok {
		return "", fmt.Errorf("rpc: field %q has wrong kind", name)
	}
	return string(e), nil
}
