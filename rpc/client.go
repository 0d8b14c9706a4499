package rpc

import (
	"context"
	"fmt"
	"io"

	uuid "github.com/satori/go.uuid"

	logging "github.com/op/go-logging"

	"github.com/zeldin/goutmremote/codec"
	"github.com/zeldin/goutmremote/link"
)

var log = logging.MustGetLogger("rpc")

// Session is one handshaken UTM Remote connection: the underlying
// multiplexed link plus the typed catalogue of server-bound calls and
// client-bound notification dispatch.
type Session struct {
	link         *link.Link
	observer     Observer
	cache        *vmInfoCache
	capabilities uint64
	model        string
}

// NewSession wraps an already-dialed, trust-accepted connection. The
// caller must still call Handshake before issuing any other RPC
// (§4.4.2) -- NewSession itself does not touch the wire.
func NewSession(conn io.ReadWriteCloser, observer Observer) *Session {
	s := &Session{observer: observer, cache: newVMInfoCache()}
	s.link = link.New(conn, s.dispatchNotification)
	return s
}

// Link exposes the underlying transport for the Unverified -> Verified
// transition the caller makes once trust is accepted, before Handshake
// is called.
func (s *Session) Link() *link.Link { return s.link }

// Handshake sends ServerHandshake, the mandatory first RPC after trust
// acceptance (§4.4.2). A version mismatch or authentication failure
// tears the link down and returns the corresponding sentinel error.
func (s *Session) Handshake(ctx context.Context, password string) error {
	if s.link.State() != link.StateVerified {
		return ErrHandshakeNotFirst
	}

	fields := map[string]codec.Value{"version": codec.Int(protocolVersion)}
	if password != "" {
		fields["password"] = codec.String(password)
	}
	body, err := codec.Encode(codec.NewRecord(fields))
	if err != nil {
		return err
	}

	replyBody, err := s.link.CallHandshake(ctx, msgServerHandshake, body)
	if err != nil {
		return err
	}

	replyType := codec.RecordType{Fields: []codec.FieldType{
		{Name: "version", Type: codec.IntType{}},
		{Name: "isAuthenticated", Type: codec.BoolType{}},
		{Name: "capabilities", Type: codec.BitflagsType{}},
		{Name: "model", Type: codec.StringType{}},
	}}
	val, err := codec.Decode(replyType, replyBody)
	if err != nil {
		return err
	}
	rec := val.(codec.Record)

	version, err := getInt(rec, "version")
	if err != nil {
		return err
	}
	if err := checkVersion(version); err != nil {
		s.link.Close()
		return err
	}

	isAuthenticated, err := getBool(rec, "isAuthenticated")
	if err != nil {
		return err
	}
	if !isAuthenticated {
		s.link.Close()
		if password == "" {
			return ErrAuthRequired
		}
		return ErrAuthInvalid
	}

	capabilities, err := getBitflags(rec, "capabilities")
	if err != nil {
		return err
	}
	model, err := getString(rec, "model")
	if err != nil {
		return err
	}
	s.capabilities = capabilities
	s.model = model
	s.link.SetState(link.StateHandshaken)
	s.link.SetState(link.StateOpen)
	log.Debugf("rpc: handshake complete, model=%q capabilities=%#x", model, capabilities)
	return nil
}

// Capabilities returns the bitflags the server advertised at handshake.
func (s *Session) Capabilities() uint64 { return s.capabilities }

// Model returns the server's model string from the handshake reply.
func (s *Session) Model() string { return s.model }

var emptyReplyType = codec.RecordType{}

func (s *Session) callEmpty(ctx context.Context, messageID byte, req codec.Value) error {
	body, err := codec.Encode(req)
	if err != nil {
		return err
	}
	replyBody, err := s.link.Call(ctx, messageID, body)
	if err != nil {
		return err
	}
	_, err = codec.Decode(emptyReplyType, replyBody)
	return err
}

// ListVirtualMachines returns the ids of every VM the server knows about.
func (s *Session) ListVirtualMachines(ctx context.Context) ([]uuid.UUID, error) {
	body, err := codec.Encode(codec.NewRecord(nil))
	if err != nil {
		return nil, err
	}
	replyBody, err := s.link.Call(ctx, msgListVirtualMachines, body)
	if err != nil {
		return nil, err
	}
	replyType := codec.RecordType{Fields: []codec.FieldType{{Name: "ids", Type: uuidSequenceType()}}}
	val, err := codec.Decode(replyType, replyBody)
	if err != nil {
		return nil, err
	}
	rec := val.(codec.Record)
	idsVal, ok := rec.Get("ids")
	if !ok {
		return nil, fmt.Errorf("rpc: missing required field %q", "ids")
	}
	return uuidsFromValue(idsVal)
}

// ReorderVirtualMachines moves the VMs named by ids to begin at offset
// in the server's display ordering.
func (s *Session) ReorderVirtualMachines(ctx context.Context, ids []uuid.UUID, offset int64) error {
	req := codec.NewRecord(map[string]codec.Value{
		"ids":    uuidsToValue(ids),
		"offset": codec.Int(offset),
	})
	return s.callEmpty(ctx, msgReorderVirtualMachines, req)
}

// GetVirtualMachineInformation fetches and caches VmInfo for each id.
func (s *Session) GetVirtualMachineInformation(ctx context.Context, ids []uuid.UUID) ([]VmInfo, error) {
	req := codec.NewRecord(map[string]codec.Value{"ids": uuidsToValue(ids)})
	body, err := codec.Encode(req)
	if err != nil {
		return nil, err
	}
	replyBody, err := s.link.Call(ctx, msgGetVirtualMachineInformation, body)
	if err != nil {
		return nil, err
	}
	replyType := codec.RecordType{Fields: []codec.FieldType{
		{Name: "informations", Type: codec.SequenceType{Element: vmInfoType()}},
	}}
	val, err := codec.Decode(replyType, replyBody)
	if err != nil {
		return nil, err
	}
	rec := val.(codec.Record)
	seqVal, ok := rec.Get("informations")
	if !ok {
		return nil, fmt.Errorf("rpc: missing required field %q", "informations")
	}
	seq, ok := seqVal.(codec.Sequence)
	if !ok {
		return nil, fmt.Errorf("rpc: informations field has wrong kind")
	}
	out := make([]VmInfo, 0, len(seq.Elements))
	for _, elem := range seq.Elements {
		r, ok := elem.(codec.Record)
		if !ok {
			return nil, fmt.Errorf("rpc: informations element has wrong kind")
		}
		info, err := vmInfoFromValue(r)
		if err != nil {
			return nil, err
		}
		s.cache.put(info)
		out = append(out, info)
	}
	return out, nil
}

// CachedVMInfo returns a previously fetched VmInfo without a round trip.
func (s *Session) CachedVMInfo(id uuid.UUID) (VmInfo, bool) { return s.cache.get(id) }

// GetQEMUConfiguration retrieves a VM's QEMU configuration document.
// The configuration's shape is opaque to this client, so it is
// returned as a raw codec.Value (a Mapping in practice).
func (s *Session) GetQEMUConfiguration(ctx context.Context, id uuid.UUID) (codec.Value, error) {
	req := codec.NewRecord(map[string]codec.Value{"id": codec.UUID(id)})
	body, err := codec.Encode(req)
	if err != nil {
		return nil, err
	}
	replyBody, err := s.link.Call(ctx, msgGetQEMUConfiguration, body)
	if err != nil {
		return nil, err
	}
	replyType := codec.RecordType{Fields: []codec.FieldType{
		{Name: "configuration", Type: codec.MappingType{Value: codec.StringType{}}},
	}}
	val, err := codec.Decode(replyType, replyBody)
	if err != nil {
		return nil, err
	}
	rec := val.(codec.Record)
	cfg, ok := rec.Get("configuration")
	if !ok {
		return nil, fmt.Errorf("rpc: missing required field %q", "configuration")
	}
	return cfg, nil
}

// GetPackageSize reports the total byte size of a VM's package bundle.
func (s *Session) GetPackageSize(ctx context.Context, id uuid.UUID) (int64, error) {
	req := codec.NewRecord(map[string]codec.Value{"id": codec.UUID(id)})
	body, err := codec.Encode(req)
	if err != nil {
		return 0, err
	}
	replyBody, err := s.link.Call(ctx, msgGetPackageSize, body)
	if err != nil {
		return 0, err
	}
	replyType := codec.RecordType{Fields: []codec.FieldType{{Name: "size", Type: codec.IntType{}}}}
	val, err := codec.Decode(replyType, replyBody)
	if err != nil {
		return 0, err
	}
	return getInt(val.(codec.Record), "size")
}

// GetPackageFile downloads one file of a VM's package bundle, optionally
// conditioned on a previously observed lastModified timestamp.
func (s *Session) GetPackageFile(ctx context.Context, id uuid.UUID, relativePathComponents []string, lastModified *string) (data []byte, newLastModified string, err error) {
	fields := map[string]codec.Value{
		"id":                     codec.UUID(id),
		"relativePathComponents": stringsToValue(relativePathComponents),
	}
	if lastModified != nil {
		fields["lastModified"] = codec.DateTime(*lastModified)
	}
	body, err := codec.Encode(codec.NewRecord(fields))
	if err != nil {
		return nil, "", err
	}
	replyBody, err := s.link.Call(ctx, msgGetPackageFile, body)
	if err != nil {
		return nil, "", err
	}
	replyType := codec.RecordType{Fields: []codec.FieldType{
		{Name: "data", Type: codec.BytesType{}},
		{Name: "lastModified", Type: codec.DateTimeType{}},
	}}
	val, err := codec.Decode(replyType, replyBody)
	if err != nil {
		return nil, "", err
	}
	rec := val.(codec.Record)
	data, err = getBytes(rec, "data")
	if err != nil {
		return nil, "", err
	}
	lm, err := getDateTime(rec, "lastModified")
	if err != nil {
		return nil, "", err
	}
	return data, lm, nil
}

// SendPackageFile uploads one file of a VM's package bundle.
func (s *Session) SendPackageFile(ctx context.Context, id uuid.UUID, relativePathComponents []string, lastModified string, data []byte) error {
	req := codec.NewRecord(map[string]codec.Value{
		"id":                     codec.UUID(id),
		"relativePathComponents": stringsToValue(relativePathComponents),
		"lastModified":           codec.DateTime(lastModified),
		"data":                   codec.Bytes(data),
	})
	return s.callEmpty(ctx, msgSendPackageFile, req)
}

// DeletePackageFile removes one file of a VM's package bundle.
func (s *Session) DeletePackageFile(ctx context.Context, id uuid.UUID, relativePathComponents []string) error {
	req := codec.NewRecord(map[string]codec.Value{
		"id":                     codec.UUID(id),
		"relativePathComponents": stringsToValue(relativePathComponents),
	})
	return s.callEmpty(ctx, msgDeletePackageFile, req)
}

// MountGuestToolsOnVirtualMachine attaches the guest tools ISO to a VM.
func (s *Session) MountGuestToolsOnVirtualMachine(ctx context.Context, id uuid.UUID) error {
	req := codec.NewRecord(map[string]codec.Value{"id": codec.UUID(id)})
	return s.callEmpty(ctx, msgMountGuestToolsOnVirtualMachine, req)
}

// StartVirtualMachine boots a VM and returns its SPICE connection info.
func (s *Session) StartVirtualMachine(ctx context.Context, id uuid.UUID, options uint64) (SpiceInfo, error) {
	req := codec.NewRecord(map[string]codec.Value{
		"id":      codec.UUID(id),
		"options": codec.Bitflags(options),
	})
	body, err := codec.Encode(req)
	if err != nil {
		return SpiceInfo{}, err
	}
	replyBody, err := s.link.Call(ctx, msgStartVirtualMachine, body)
	if err != nil {
		return SpiceInfo{}, err
	}
	replyType := codec.RecordType{Fields: []codec.FieldType{{Name: "serverInfo", Type: spiceInfoType()}}}
	val, err := codec.Decode(replyType, replyBody)
	if err != nil {
		return SpiceInfo{}, err
	}
	rec := val.(codec.Record)
	infoVal, ok := rec.Get("serverInfo")
	if !ok {
		return SpiceInfo{}, fmt.Errorf("rpc: missing required field %q", "serverInfo")
	}
	infoRec, ok := infoVal.(codec.Record)
	if !ok {
		return SpiceInfo{}, fmt.Errorf("rpc: serverInfo field has wrong kind")
	}
	return spiceInfoFromValue(infoRec)
}

// StopVirtualMachine shuts a VM down by the given method.
func (s *Session) StopVirtualMachine(ctx context.Context, id uuid.UUID, method StopMethod) error {
	req := codec.NewRecord(map[string]codec.Value{
		"id":     codec.UUID(id),
		"method": codec.Enum(method),
	})
	return s.callEmpty(ctx, msgStopVirtualMachine, req)
}

func (s *Session) idOnlyCall(ctx context.Context, messageID byte, id uuid.UUID) error {
	req := codec.NewRecord(map[string]codec.Value{"id": codec.UUID(id)})
	return s.callEmpty(ctx, messageID, req)
}

// RestartVirtualMachine restarts a running VM.
func (s *Session) RestartVirtualMachine(ctx context.Context, id uuid.UUID) error {
	return s.idOnlyCall(ctx, msgRestartVirtualMachine, id)
}

// PauseVirtualMachine suspends a running VM in place.
func (s *Session) PauseVirtualMachine(ctx context.Context, id uuid.UUID) error {
	return s.idOnlyCall(ctx, msgPauseVirtualMachine, id)
}

// ResumeVirtualMachine resumes a paused VM.
func (s *Session) ResumeVirtualMachine(ctx context.Context, id uuid.UUID) error {
	return s.idOnlyCall(ctx, msgResumeVirtualMachine, id)
}

func (s *Session) idAndOptionalNameCall(ctx context.Context, messageID byte, id uuid.UUID, name *string) error {
	fields := map[string]codec.Value{"id": codec.UUID(id)}
	if name != nil {
		fields["name"] = codec.String(*name)
	}
	return s.callEmpty(ctx, messageID, codec.NewRecord(fields))
}

// SaveSnapshotVirtualMachine saves a named (or default) snapshot.
func (s *Session) SaveSnapshotVirtualMachine(ctx context.Context, id uuid.UUID, name *string) error {
	return s.idAndOptionalNameCall(ctx, msgSaveSnapshotVirtualMachine, id, name)
}

// DeleteSnapshotVirtualMachine deletes a named (or default) snapshot.
func (s *Session) DeleteSnapshotVirtualMachine(ctx context.Context, id uuid.UUID, name *string) error {
	return s.idAndOptionalNameCall(ctx, msgDeleteSnapshotVirtualMachine, id, name)
}

// RestoreSnapshotVirtualMachine restores a named (or default) snapshot.
func (s *Session) RestoreSnapshotVirtualMachine(ctx context.Context, id uuid.UUID, name *string) error {
	return s.idAndOptionalNameCall(ctx, msgRestoreSnapshotVirtualMachine, id, name)
}

// ChangePointerTypeVirtualMachine switches a running VM between tablet
// (absolute) and standard (relative) pointer modes.
func (s *Session) ChangePointerTypeVirtualMachine(ctx context.Context, id uuid.UUID, isTabletMode bool) error {
	req := codec.NewRecord(map[string]codec.Value{
		"id":           codec.UUID(id),
		"isTabletMode": codec.Bool(isTabletMode),
	})
	return s.callEmpty(ctx, msgChangePointerTypeVirtualMachine, req)
}

// Close tears the underlying link down.
func (s *Session) Close() error { return s.link.Close() }

func stringsToValue(ss []string) codec.Sequence {
	elems := make([]codec.Value, len(ss))
	for i, s := range ss {
		elems[i] = codec.String(s)
	}
	return codec.Sequence{Elements: elems}
}

func getDateTime(r codec.Record, name string) (string, error) {
	v, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("rpc: missing required field %q", name)
	}
	dt, ok := v.(codec.DateTime)
	if !ok {
		return "", fmt.Errorf("rpc: field %q has wrong kind", name)
	}
	return string(dt), nil
}
