package rpc

import "fmt"

// ErrProtocolVersionMismatch is fatal to the link: the server's
// handshake reply carried a version outside the range this client
// supports (§4.4.2).
var ErrProtocolVersionMismatch = fmt.Errorf("rpc: protocol version mismatch")

// ErrAuthRequired is returned when the handshake came back
// unauthenticated and no password was supplied.
var ErrAuthRequired = fmt.Errorf("rpc: server requires a password")

// ErrAuthInvalid is returned when a supplied password was rejected.
var ErrAuthInvalid = fmt.Errorf("rpc: password rejected by server")

// ErrUnsupportedMessageID is sent back (as an error-flagged reply) when
// an inbound server-initiated request names a message id outside the
// client-bound catalogue. The link itself stays open.
var ErrUnsupportedMessageID = fmt.Errorf("rpc: unsupported message id")

// ErrHandshakeNotFirst is a local programming-error guard: ServerHandshake
// must be the first request sent on a freshly verified link.
var ErrHandshakeNotFirst = fmt.Errorf("rpc: ServerHandshake must be the first request on the link")
