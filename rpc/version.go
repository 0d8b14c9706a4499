package rpc

import (
	"fmt"

	"github.com/blang/semver"
)

// protocolVersion is the single integer version this client speaks on
// the wire (§4.4.2: `ServerHandshake(version=1, ...)`).
const protocolVersion int64 = 1

// supportedRange expresses the client's compatibility policy as a
// semver range even though the wire value is a bare integer: today
// that range is the single version 1.x.x, but widening it to tolerate
// a server's minor/patch bump is a one-line change here instead of a
// hand-rolled comparison scattered through the handshake path.
var supportedRange = semver.MustParseRange(">=1.0.0 <2.0.0")

// checkVersion reports whether the server's negotiated version is
// acceptable; a mismatch is fatal to the link (§4.4.2, §7).
func checkVersion(serverVersion int64) error {
	v, err := semver.Make(fmt.Sprintf("%d.0.0", serverVersion))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrProtocolVersionMismatch, err)
	}
	if !supportedRange(v) {
		return ErrProtocolVersionMismatch
	}
	return nil
}
