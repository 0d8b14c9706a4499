// Package trust implements the UTM Remote TLS setup and the
// fingerprint-based trust handshake (§4.3): both peers present
// self-signed certificates, hostname verification and chain
// validation are disabled, and trust instead rests on an out-of-band
// check of the XOR of both peer certificates' SHA-256 digests.
package trust

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/keybase/saltpack/encoding/basex"
)

// Fingerprint is the derived connection-state described in §3: the
// server and client certificate digests and their XOR.
type Fingerprint struct {
	ServerSHA256 [32]byte
	ClientSHA256 [32]byte
}

// Connection returns the XOR connection fingerprint (§4.3).
func (f Fingerprint) Connection() [32]byte {
	var out [32]byte
	for i := range out {
		out[i] = f.ServerSHA256[i] ^ f.ClientSHA256[i]
	}
	return out
}

// ConfirmationCode renders the connection fingerprint as a short
// base62 string suitable for a human to read aloud or compare,
// alongside the full hex digest an out-of-band dialog would also show.
func (f Fingerprint) ConfirmationCode() string {
	fp := f.Connection()
	return basex.Base62StdEncoding.EncodeToString(fp[:6])
}

// DeriveFingerprint computes the fingerprint from the two peer
// certificates exchanged on a TLS connection.
func DeriveFingerprint(serverCert, clientCert *x509.Certificate) Fingerprint {
	return Fingerprint{
		ServerSHA256: sha256.Sum256(serverCert.Raw),
		ClientSHA256: sha256.Sum256(clientCert.Raw),
	}
}

// FingerprintFromConnState extracts the server certificate from an
// established TLS connection state and pairs it with the locally
// loaded client certificate to derive the connection fingerprint.
func FingerprintFromConnState(state tls.ConnectionState, clientCert tls.Certificate) (Fingerprint, error) {
	if len(state.PeerCertificates) == 0 {
		return Fingerprint{}, fmt.Errorf("trust: server presented no certificate")
	}
	if len(clientCert.Certificate) == 0 {
		return Fingerprint{}, fmt.Errorf("trust: no client certificate loaded")
	}
	clientX509, err := x509.ParseCertificate(clientCert.Certificate[0])
	if err != nil {
		return Fingerprint{}, fmt.Errorf("trust: parsing client certificate: %w", err)
	}
	return DeriveFingerprint(state.PeerCertificates[0], clientX509), nil
}

// Accept checks a caller-supplied expected fingerprint (e.g. pinned in
// config.TrustStore, or confirmed interactively) against the derived
// one. A nil expected value means the caller has not yet decided --
// callers that want unconditional trust-on-first-use must pass the
// derived value back to themselves explicitly; Accept never defaults
// to trusting.
func Accept(fp Fingerprint, expected *[32]byte) error {
	if expected == nil {
		return ErrFingerprintMismatch
	}
	connFp := fp.Connection()
	if !bytes.Equal(connFp[:], expected[:]) {
		return ErrFingerprintMismatch
	}
	return nil
}
