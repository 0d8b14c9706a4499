// Package link implements the framed, multiplexed request/reply
// transport over a TLS stream: §4.2 of the UTM Remote protocol. It
// knows nothing about the typed message catalogue -- that lives in
// package rpc -- only raw message ids, correlation tokens, and byte
// payloads.
package link

import (
	"context"
	"fmt"
	"io"
	"sync"

	logging "github.com/op/go-logging"
)

var log = logging.MustGetLogger("link")

// State is the lifecycle of one Link, per §3's connection-state model.
type State int

const (
	StateUnverified State = iota
	StateVerified
	StateHandshaken
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnverified:
		return "unverified"
	case StateVerified:
		return "verified"
	case StateHandshaken:
		return "handshaken"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// NotificationHandler handles one server-initiated request (a
// notification) and produces the reply payload to send back, or an
// error to send back as an error-flagged reply.
type NotificationHandler func(messageID byte, body []byte) ([]byte, error)

type pendingSlot struct {
	result chan Result
}

// Result is what a completed RPC resolves to: either a reply payload
// or a terminal error (PeerError, ErrConnectionClosed, ...).
type Result struct {
	Body []byte
	Err  error
}

// Link is one open connection: the TLS stream, the correlation-token
// counter, and the token -> result-slot map, all mutated only under mu
// (the "serialized discipline" of §5).
type Link struct {
	conn io.ReadWriteCloser

	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	nextToken uint64
	pending   map[uint64]*pendingSlot

	notify NotificationHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps an already-dialed stream (ordinarily a *tls.Conn). The
// link starts in StateUnverified; the reader loop does not start
// until Start is called, which the caller does once the connection
// fingerprint has been accepted (§4.3).
func New(conn io.ReadWriteCloser, notify NotificationHandler) *Link {
	return &Link{
		conn:    conn,
		state:   StateUnverified,
		pending: map[uint64]*pendingSlot{},
		notify:  notify,
		closed:  make(chan struct{}),
	}
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetState forces a state transition; used by the caller once the
// connection fingerprint is accepted (unverified -> verified) and by
// rpc once the handshake succeeds (verified -> handshaken -> open).
func (l *Link) SetState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Start launches the single long-lived reader task. Must be called
// exactly once, after the link has reached StateVerified.
func (l *Link) Start() {
	go l.readLoop()
}

func (l *Link) readLoop() {
	for {
		f, err := readFrame(l.conn)
		if err != nil {
			log.Debug("link: read loop exiting:", err.Error())
			l.teardown(ErrConnectionClosed)
			return
		}
		if f.isResponse() {
			l.resolve(f)
			continue
		}
		l.dispatchNotification(f)
	}
}

func (l *Link) resolve(f frame) {
	l.mu.Lock()
	slot, ok := l.pending[f.token]
	if ok {
		delete(l.pending, f.token)
	}
	l.mu.Unlock()
	if !ok {
		// Reply with no matching token: dropped without side effects (invariant 3).
		return
	}
	if f.isError() {
		slot.result <- Result{Err: &PeerError{Text: string(f.body)}}
		return
	}
	slot.result <- Result{Body: f.body}
}

func (l *Link) dispatchNotification(f frame) {
	body, err := l.notify(f.messageID, f.body)
	flags := flagResponse
	if err != nil {
		flags |= flagError
		body = []byte(err.Error())
	}
	reply := frame{messageID: f.messageID, flags: flags, token: f.token, body: body}
	if werr := l.writeFrame(reply); werr != nil {
		log.Error("link: failed writing notification reply:", werr.Error())
	}
}

// Call issues a request and blocks until a reply arrives, the link
// closes, or ctx is done. A cancelled call's slot remains registered
// -- a late reply is silently discarded -- per §4.2.3. Call rejects
// every request until the link has completed its handshake (§3: "RPCs
// other than the handshake are rejected before handshaken"); the
// handshake RPC itself must use CallHandshake instead.
func (l *Link) Call(ctx context.Context, messageID byte, body []byte) ([]byte, error) {
	return l.call(ctx, messageID, body, func(s State) bool {
		return s == StateHandshaken || s == StateOpen
	})
}

// CallHandshake issues the ServerHandshake RPC, the sole request
// permitted before the link reaches *handshaken* (§4.4.2): it requires
// only that trust acceptance has moved the link to StateVerified.
func (l *Link) CallHandshake(ctx context.Context, messageID byte, body []byte) ([]byte, error) {
	return l.call(ctx, messageID, body, func(s State) bool {
		return s == StateVerified
	})
}

func (l *Link) call(ctx context.Context, messageID byte, body []byte, allowed func(State) bool) ([]byte, error) {
	l.mu.Lock()
	if l.state == StateClosing || l.state == StateClosed {
		l.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	if !allowed(l.state) {
		l.mu.Unlock()
		return nil, ErrLinkNotReady
	}
	token := l.nextToken
	l.nextToken++
	slot := &pendingSlot{result: make(chan Result, 1)}
	l.pending[token] = slot
	l.mu.Unlock()

	if err := l.writeFrame(frame{messageID: messageID, flags: 0, token: token, body: body}); err != nil {
		l.mu.Lock()
		delete(l.pending, token)
		l.mu.Unlock()
		return nil, fmt.Errorf("link: write failed: %w", err)
	}

	select {
	case res := <-slot.result:
		return res.Body, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, ErrConnectionClosed
	}
}

// writeFrame serializes writes under writeMu: the single-writer
// discipline that stands in for the write-permit gate of §4.2.3 --
// net.Conn.Write already blocks under TCP backpressure, so no frame is
// ever dropped, only delayed.
func (l *Link) writeFrame(f frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return writeFrame(l.conn, f)
}

// Close tears the link down idempotently: closes the socket, then
// fails every still-pending slot with ErrConnectionClosed.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.SetState(StateClosing)
		err = l.conn.Close()
		l.teardown(ErrConnectionClosed)
	})
	return err
}

func (l *Link) teardown(cause error) {
	l.mu.Lock()
	if l.state == StateClosed {
		l.mu.Unlock()
		return
	}
	l.state = StateClosed
	pending := l.pending
	l.pending = map[uint64]*pendingSlot{}
	l.mu.Unlock()

	for _, slot := range pending {
		slot.result <- Result{Err: cause}
	}
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
}
