package trust

import "fmt"

// ErrFingerprintMismatch is returned when a caller-supplied expected
// connection fingerprint does not match the one derived from the two
// peer certificates. No frame has been exchanged when this fires: the
// link is torn down before the reader is ever started (§4.3).
var ErrFingerprintMismatch = fmt.Errorf("trust: connection fingerprint mismatch")

// ErrSpiceKeyMismatch is returned when the SPICE server's presented
// certificate does not carry the expected public key (§4.3, §9 open
// question 3: compared as raw DER of the SubjectPublicKeyInfo).
var ErrSpiceKeyMismatch = fmt.Errorf("trust: SPICE server public key mismatch")
