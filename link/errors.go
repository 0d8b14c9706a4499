package link

import "fmt"

// ErrConnectionClosed is returned to every RPC caller whose reply slot
// is drained by link teardown, and to any caller attempting a new RPC
// after the link has observed *closing*.
var ErrConnectionClosed = fmt.Errorf("link: connection closed")

// ErrLinkNotReady is returned when an RPC is attempted before the link
// has completed the fingerprint/handshake sequencing required for it.
var ErrLinkNotReady = fmt.Errorf("link: not ready for this request")

// PeerError wraps the UTF-8 error text of an error-flagged reply frame.
type PeerError struct {
	Text string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("link: peer error: %s", e.Text)
}
