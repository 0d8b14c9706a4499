package rpc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	uuid "github.com/satori/go.uuid"

	"github.com/zeldin/goutmremote/codec"
	"github.com/zeldin/goutmremote/link"
)

// rawFrame/readRawFrame/writeRawFrame re-implement the wire framing of
// package link from outside it, so this test can play the server side
// of a link without reaching into link's unexported frame type.
type rawFrame struct {
	messageID byte
	flags     byte
	token     uint64
	body      []byte
}

func writeRawFrame(w io.Writer, f rawFrame) error {
	payload := append([]byte{f.messageID, f.flags}, putRawULEB128(nil, f.token)...)
	payload = append(payload, f.body...)
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], uint64(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readRawFrame(r io.Reader) (rawFrame, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return rawFrame{}, err
	}
	length := binary.BigEndian.Uint64(header[:])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return rawFrame{}, err
	}
	messageID, flags := payload[0], payload[1]
	rest := payload[2:]
	token, n, err := readRawULEB128(rest)
	if err != nil {
		return rawFrame{}, err
	}
	return rawFrame{messageID: messageID, flags: flags, token: token, body: rest[n:]}, nil
}

func putRawULEB128(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, b|0x80)
			continue
		}
		return append(buf, b)
	}
}

func readRawULEB128(data []byte) (uint64, int, error) {
	var result uint64
	var shift uint
	for i := 0; i < len(data); i++ {
		b := data[i]
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, fmt.Errorf("truncated token")
}

// peerHandshake lets the test act as the server side of the link
// without depending on package link's internals: it answers
// ServerHandshake, ListVirtualMachines, and anything else with an
// empty record.
func peerHandshake(t *testing.T, peer net.Conn) {
	t.Helper()
	go func() {
		for {
			f, err := readRawFrame(peer)
			if err != nil {
				return
			}
			switch f.messageID {
			case msgServerHandshake:
				reply := codec.NewRecord(map[string]codec.Value{
					"version":         codec.Int(1),
					"isAuthenticated": codec.Bool(true),
					"capabilities":    codec.Bitflags(0),
					"model":           codec.String("utm-test"),
				})
				body, _ := codec.Encode(reply)
				writeRawFrame(peer, rawFrame{messageID: f.messageID, flags: 1, token: f.token, body: body})
			case msgListVirtualMachines:
				id := uuid.NewV4()
				reply := codec.NewRecord(map[string]codec.Value{"ids": uuidsToValue([]uuid.UUID{id})})
				body, _ := codec.Encode(reply)
				writeRawFrame(peer, rawFrame{messageID: f.messageID, flags: 1, token: f.token, body: body})
			default:
				reply := codec.NewRecord(nil)
				body, _ := codec.Encode(reply)
				writeRawFrame(peer, rawFrame{messageID: f.messageID, flags: 1, token: f.token, body: body})
			}
		}
	}()
}

func TestHandshakeAndListVirtualMachines(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	session := NewSession(clientConn, Observer{})
	session.Link().SetState(link.StateVerified)
	session.Link().Start()

	peerHandshake(t, serverConn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := session.Handshake(ctx, ""); err != nil {
		t.Fatalf("Handshake: %s", err)
	}
	if session.Model() != "utm-test" {
		t.Fatalf("got model %q", session.Model())
	}

	ids, err := session.ListVirtualMachines(ctx)
	if err != nil {
		t.Fatalf("ListVirtualMachines: %s", err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d ids", len(ids))
	}
}

func TestHandshakeRejectsUnauthenticated(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	session := NewSession(clientConn, Observer{})
	session.Link().SetState(link.StateVerified)
	session.Link().Start()

	go func() {
		f, err := readRawFrame(serverConn)
		if err != nil {
			return
		}
		reply := codec.NewRecord(map[string]codec.Value{
			"version":         codec.Int(1),
			"isAuthenticated": codec.Bool(false),
			"capabilities":    codec.Bitflags(0),
			"model":           codec.String("utm-test"),
		})
		body, _ := codec.Encode(reply)
		writeRawFrame(serverConn, rawFrame{messageID: f.messageID, flags: 1, token: f.token, body: body})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := session.Handshake(ctx, "")
	if err != ErrAuthRequired {
		t.Fatalf("got %v, want ErrAuthRequired", err)
	}
}

func TestDispatchNotificationInvokesObserver(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	var gotIDs []uuid.UUID
	observer := Observer{
		OnListHasChanged: func(ids []uuid.UUID) { gotIDs = ids },
	}
	session := NewSession(clientConn, observer)
	session.Link().SetState(link.StateOpen)
	session.Link().Start()

	id := uuid.NewV4()
	req := codec.NewRecord(map[string]codec.Value{"ids": uuidsToValue([]uuid.UUID{id})})
	body, err := codec.Encode(req)
	if err != nil {
		t.Fatal(err)
	}
	if err := writeRawFrame(serverConn, rawFrame{messageID: msgListHasChanged, flags: 0, token: 1, body: body}); err != nil {
		t.Fatal(err)
	}
	reply, err := readRawFrame(serverConn)
	if err != nil {
		t.Fatal(err)
	}
	if reply.flags&1 == 0 {
		t.Fatalf("expected response flag set")
	}
	if len(gotIDs) != 1 || gotIDs[0] != id {
		t.Fatalf("observer did not see the right ids: %v", gotIDs)
	}
}

func TestUnsupportedNotificationIsErrorReply(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	session := NewSession(clientConn, Observer{})
	session.Link().SetState(link.StateOpen)
	session.Link().Start()

	if err := writeRawFrame(serverConn, rawFrame{messageID: 99, flags: 0, token: 5, body: nil}); err != nil {
		t.Fatal(err)
	}
	reply, err := readRawFrame(serverConn)
	if err != nil {
		t.Fatal(err)
	}
	if reply.flags&2 == 0 {
		t.Fatalf("expected error flag set for unsupported message id")
	}
}
