package trust

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// ClientConfig builds the tls.Config used to dial a host (§4.3): both
// peers are self-signed, so hostname verification and chain
// validation are turned off entirely with InsecureSkipVerify -- the
// real trust decision happens afterward, against the derived
// Fingerprint.
func ClientConfig(clientCert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates:       []tls.Certificate{clientCert},
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
		ClientAuth:         tls.RequireAnyClientCert,
	}
}

// LoadClientCertificate parses a PEM-encoded certificate and an
// unencrypted PEM key into a tls.Certificate. It does not decrypt the
// passphrase-protected key block that config writes to client.crt.
func LoadClientCertificate(certPEM, keyPEM []byte) (tls.Certificate, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("trust: loading client certificate: %w", err)
	}
	return cert, nil
}

// PeerCertificate extracts and parses the leaf certificate the remote
// end presented during the handshake.
func PeerCertificate(state tls.ConnectionState) (*x509.Certificate, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, fmt.Errorf("trust: peer presented no certificate")
	}
	return state.PeerCertificates[0], nil
}
