package rpc

import (
	"fmt"

	uuid "github.com/satori/go.uuid"

	"github.com/zeldin/goutmremote/codec"
)

// Observer is a fixed record of handlers, one per client-bound
// notification (§4.4.3). A nil field means the notification is
// acknowledged but otherwise ignored. Handlers run serialized per
// link; a handler that panics, or a notification that fails to
// decode, becomes an error-flagged reply, the link itself stays open.
type Observer struct {
	OnListHasChanged              func(ids []uuid.UUID)
	OnQemuConfigurationHasChanged func(id uuid.UUID, configuration codec.Value)
	OnMountedDrivesHasChanged     func(id uuid.UUID, mountedDrives map[string]string)
	OnVirtualMachineDidTransition func(id uuid.UUID, state VMState, isTakeoverAllowed bool)
	OnVirtualMachineDidError      func(id uuid.UUID, errorMessage string)
}

// dispatchNotification is the link.NotificationHandler for an open
// Session: it decodes the inbound client-bound request, invokes the
// matching Observer field (if any), and encodes the reply.
func (s *Session) dispatchNotification(messageID byte, body []byte) (reply []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rpc: notification handler panicked: %v", r)
		}
	}()

	switch messageID {
	case msgClientHandshake:
		return s.handleClientHandshake(body)
	case msgListHasChanged:
		return s.handleListHasChanged(body)
	case msgQemuConfigurationHasChanged:
		return s.handleQemuConfigurationHasChanged(body)
	case msgMountedDrivesHasChanged:
		return s.handleMountedDrivesHasChanged(body)
	case msgVirtualMachineDidTransition:
		return s.handleVirtualMachineDidTransition(body)
	case msgVirtualMachineDidError:
		return s.handleVirtualMachineDidError(body)
	default:
		return nil, ErrUnsupportedMessageID
	}
}

func (s *Session) handleClientHandshake(body []byte) ([]byte, error) {
	reqType := codec.RecordType{Fields: []codec.FieldType{{Name: "version", Type: codec.IntType{}}}}
	val, err := codec.Decode(reqType, body)
	if err != nil {
		return nil, err
	}
	rec := val.(codec.Record)
	version, err := getInt(rec, "version")
	if err != nil {
		return nil, err
	}
	if err := checkVersion(version); err != nil {
		return nil, err
	}
	reply := codec.NewRecord(map[string]codec.Value{
		"version":      codec.Int(protocolVersion),
		"capabilities": codec.Bitflags(0),
	})
	return codec.Encode(reply)
}

func (s *Session) handleListHasChanged(body []byte) ([]byte, error) {
	reqType := codec.RecordType{Fields: []codec.FieldType{{Name: "ids", Type: uuidSequenceType()}}}
	val, err := codec.Decode(reqType, body)
	if err != nil {
		return nil, err
	}
	rec := val.(codec.Record)
	idsVal, ok := rec.Get("ids")
	if !ok {
		return nil, fmt.Errorf("rpc: missing required field %q", "ids")
	}
	ids, err := uuidsFromValue(idsVal)
	if err != nil {
		return nil, err
	}
	s.cache.invalidateAll()
	if s.observer.OnListHasChanged != nil {
		s.observer.OnListHasChanged(ids)
	}
	return codec.Encode(codec.NewRecord(nil))
}

func (s *Session) handleQemuConfigurationHasChanged(body []byte) ([]byte, error) {
	reqType := codec.RecordType{Fields: []codec.FieldType{
		{Name: "id", Type: codec.UUIDType{}},
		{Name: "configuration", Type: codec.MappingType{Value: codec.StringType{}}},
	}}
	val, err := codec.Decode(reqType, body)
	if err != nil {
		return nil, err
	}
	rec := val.(codec.Record)
	id, err := getUUID(rec, "id")
	if err != nil {
		return nil, err
	}
	configuration, _ := rec.Get("configuration")
	s.cache.invalidate(id)
	if s.observer.OnQemuConfigurationHasChanged != nil {
		s.observer.OnQemuConfigurationHasChanged(id, configuration)
	}
	return codec.Encode(codec.NewRecord(nil))
}

func (s *Session) handleMountedDrivesHasChanged(body []byte) ([]byte, error) {
	reqType := codec.RecordType{Fields: []codec.FieldType{
		{Name: "id", Type: codec.UUIDType{}},
		{Name: "mountedDrives", Type: codec.MappingType{Value: codec.StringType{}}},
	}}
	val, err := codec.Decode(reqType, body)
	if err != nil {
		return nil, err
	}
	rec := val.(codec.Record)
	id, err := getUUID(rec, "id")
	if err != nil {
		return nil, err
	}
	drivesVal, ok := rec.Get("mountedDrives")
	drives := map[string]string{}
	if ok {
		m, ok := drivesVal.(codec.Mapping)
		if !ok {
			return nil, fmt.Errorf("rpc: mountedDrives field has wrong kind")
		}
		for k, v := range m.Entries {
			str, ok := v.(codec.String)
			if !ok {
				return nil, fmt.Errorf("rpc: mountedDrives entry %q has wrong kind", k)
			}
			drives[k] = string(str)
		}
	}
	s.cache.invalidate(id)
	if s.observer.OnMountedDrivesHasChanged != nil {
		s.observer.OnMountedDrivesHasChanged(id, drives)
	}
	return codec.Encode(codec.NewRecord(nil))
}

func (s *Session) handleVirtualMachineDidTransition(body []byte) ([]byte, error) {
	reqType := codec.RecordType{Fields: []codec.FieldType{
		{Name: "id", Type: codec.UUIDType{}},
		{Name: "state", Type: codec.EnumType{Variants: vmStateVariants}},
		{Name: "isTakeoverAllowed", Type: codec.BoolType{}},
	}}
	val, err := codec.Decode(reqType, body)
	if err != nil {
		return nil, err
	}
	rec := val.(codec.Record)
	id, err := getUUID(rec, "id")
	if err != nil {
		return nil, err
	}
	state, err := getEnum(rec, "state")
	if err != nil {
		return nil, err
	}
	isTakeoverAllowed, err := getBool(rec, "isTakeoverAllowed")
	if err != nil {
		return nil, err
	}
	s.cache.invalidate(id)
	if s.observer.OnVirtualMachineDidTransition != nil {
		s.observer.OnVirtualMachineDidTransition(id, VMState(state), isTakeoverAllowed)
	}
	return codec.Encode(codec.NewRecord(nil))
}

func (s *Session) handleVirtualMachineDidError(body []byte) ([]byte, error) {
	reqType := codec.RecordType{Fields: []codec.FieldType{
		{Name: "id", Type: codec.UUIDType{}},
		{Name: "errorMessage", Type: codec.StringType{}},
	}}
	val, err := codec.Decode(reqType, body)
	if err != nil {
		return nil, err
	}
	rec := val.(codec.Record)
	id, err := getUUID(rec, "id")
	if err != nil {
		return nil, err
	}
	errorMessage, err := getString(rec, "errorMessage")
	if err != nil {
		return nil, err
	}
	if s.observer.OnVirtualMachineDidError != nil {
		s.observer.OnVirtualMachineDidError(id, errorMessage)
	}
	return codec.Encode(codec.NewRecord(nil))
}
