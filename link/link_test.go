package link

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// newPipePair returns net.Pipe's two ends, standing in for a TLS conn:
// Link only needs io.ReadWriteCloser.
func newPipePair() (net.Conn, net.Conn) {
	return net.Pipe()
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := frame{messageID: 3, flags: flagResponse, token: 130, body: []byte("hello")}
	if err := writeFrame(&buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := readFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.messageID != want.messageID || got.flags != want.flags || got.token != want.token || !bytes.Equal(got.body, want.body) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

// Property: the reader reassembles frames identically regardless of
// how the underlying stream is chunked.
func TestFramerReassemblesAcrossChunking(t *testing.T) {
	var encoded bytes.Buffer
	frames := []frame{
		{messageID: 1, flags: 0, token: 0, body: []byte{}},
		{messageID: 2, flags: flagResponse, token: 300, body: bytes.Repeat([]byte{0xAB}, 500)},
		{messageID: 1, flags: flagResponse | flagError, token: 1, body: []byte("boom")},
	}
	for _, f := range frames {
		if err := writeFrame(&encoded, f); err != nil {
			t.Fatal(err)
		}
	}

	for _, chunkSize := range []int{1, 2, 3, 7, 64, 4096} {
		r := &chunkedReader{data: encoded.Bytes(), chunk: chunkSize}
		for _, want := range frames {
			got, err := readFrame(r)
			if err != nil {
				t.Fatalf("chunk=%d: %s", chunkSize, err)
			}
			if got.messageID != want.messageID || got.flags != want.flags || got.token != want.token || !bytes.Equal(got.body, want.body) {
				t.Fatalf("chunk=%d: got %+v want %+v", chunkSize, got, want)
			}
		}
	}
}

type chunkedReader struct {
	data  []byte
	chunk int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.chunk
	if n > len(p) {
		n = len(p)
	}
	if n > len(c.data) {
		n = len(c.data)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func echoNotify(messageID byte, body []byte) ([]byte, error) {
	return append([]byte("ack:"), body...), nil
}

func TestCallRoundTripsThroughLink(t *testing.T) {
	clientConn, serverConn := newPipePair()
	defer clientConn.Close()
	defer serverConn.Close()

	client := New(clientConn, echoNotify)
	client.SetState(StateOpen)
	client.Start()

	// minimal peer: read the request frame, answer it.
	go func() {
		f, err := readFrame(serverConn)
		if err != nil {
			return
		}
		_ = writeFrame(serverConn, frame{messageID: f.messageID, flags: flagResponse, token: f.token, body: []byte("pong")})
	}()

	body, err := client.Call(context.Background(), 7, []byte("ping"))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "pong" {
		t.Fatalf("got %q", body)
	}
}

// Invariant: RPCs other than the handshake are rejected before
// *handshaken* (§3).
func TestCallRejectedBeforeHandshake(t *testing.T) {
	clientConn, serverConn := newPipePair()
	defer clientConn.Close()
	defer serverConn.Close()

	client := New(clientConn, echoNotify)
	client.Start()

	_, err := client.Call(context.Background(), 1, nil)
	if err != ErrLinkNotReady {
		t.Fatalf("got %v, want ErrLinkNotReady", err)
	}

	client.SetState(StateVerified)
	_, err = client.Call(context.Background(), 1, nil)
	if err != ErrLinkNotReady {
		t.Fatalf("after verified: got %v, want ErrLinkNotReady", err)
	}
}

func TestCallHandshakeRequiresVerified(t *testing.T) {
	clientConn, serverConn := newPipePair()
	defer clientConn.Close()
	defer serverConn.Close()

	client := New(clientConn, echoNotify)
	client.Start()

	if _, err := client.CallHandshake(context.Background(), 0, nil); err != ErrLinkNotReady {
		t.Fatalf("got %v, want ErrLinkNotReady", err)
	}

	client.SetState(StateVerified)
	go func() {
		f, err := readFrame(serverConn)
		if err != nil {
			return
		}
		_ = writeFrame(serverConn, frame{messageID: f.messageID, flags: flagResponse, token: f.token, body: []byte("ok")})
	}()
	body, err := client.CallHandshake(context.Background(), 0, nil)
	if err != nil {
		t.Fatalf("CallHandshake: %s", err)
	}
	if string(body) != "ok" {
		t.Fatalf("got %q", body)
	}
}

func TestCallFailsAfterClose(t *testing.T) {
	clientConn, serverConn := newPipePair()
	defer serverConn.Close()

	client := New(clientConn, echoNotify)
	client.SetState(StateOpen)
	client.Start()
	client.Close()

	_, err := client.Call(context.Background(), 1, nil)
	if err != ErrConnectionClosed {
		t.Fatalf("got %v", err)
	}
}

// Invariant: at most one reply is delivered per token; concurrent calls
// each receive exactly their own reply.
func TestConcurrentCallsEachGetOneReply(t *testing.T) {
	clientConn, serverConn := newPipePair()
	defer clientConn.Close()
	defer serverConn.Close()

	client := New(clientConn, echoNotify)
	client.SetState(StateOpen)
	client.Start()

	go func() {
		for i := 0; i < 20; i++ {
			f, err := readFrame(serverConn)
			if err != nil {
				return
			}
			_ = writeFrame(serverConn, frame{messageID: f.messageID, flags: flagResponse, token: f.token, body: f.body})
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			body, err := client.Call(ctx, byte(i%256), []byte{byte(i)})
			if err != nil {
				t.Errorf("call %d: %s", i, err)
				return
			}
			if len(body) != 1 || body[0] != byte(i) {
				t.Errorf("call %d: got %v", i, body)
			}
		}(i)
	}
	wg.Wait()
}
