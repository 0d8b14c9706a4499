package config

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/youtube/vitess/go/ioutil2"
)

const certKeyBits = 2048
const certValidity = 10 * 365 * 24 * time.Hour

// EnsureClientCertificate loads client.crt if present, generating and
// atomically writing a fresh self-signed certificate otherwise (§4.3:
// both peers are self-signed; there is no CA to request one from).
func (s Store) EnsureClientCertificate() (tls.Certificate, error) {
	if _, err := os.Stat(s.certPath()); err == nil {
		return s.LoadClientCertificate()
	}
	cert, err := s.GenerateClientCertificate()
	if err != nil {
		return tls.Certificate{}, err
	}
	return cert, nil
}

// LoadClientCertificate reads client.crt (PEM certificate followed by
// a PEM-encrypted private key block) and decrypts the key with the
// fixed wire-layer passphrase.
func (s Store) LoadClientCertificate() (tls.Certificate, error) {
	raw, err := os.ReadFile(s.certPath())
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("config: reading %s: %w", s.certPath(), err)
	}

	var certDER []byte
	var keyDER []byte
	rest := raw
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certDER = block.Bytes
		case "RSA PRIVATE KEY":
			if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
				keyDER, err = x509.DecryptPEMBlock(block, []byte(CertPassphrase)) //nolint:staticcheck
				if err != nil {
					return tls.Certificate{}, fmt.Errorf("config: decrypting client key: %w", err)
				}
			} else {
				keyDER = block.Bytes
			}
		}
	}
	if certDER == nil || keyDER == nil {
		return tls.Certificate{}, fmt.Errorf("config: %s is missing a certificate or key block", s.certPath())
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("config: parsing client certificate: %w", err)
	}
	return cert, nil
}

// GenerateClientCertificate creates a fresh self-signed RSA
// certificate, writes it to client.crt (private key PEM-encrypted
// with CertPassphrase) atomically, and returns the parsed pair.
func (s Store) GenerateClientCertificate() (tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, certKeyBits)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("config: generating client key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("config: generating serial number: %w", err)
	}
	template := x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "utmremote-client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(certValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("config: creating client certificate: %w", err)
	}

	keyDER := x509.MarshalPKCS1PrivateKey(key)
	encryptedKeyBlock, err := x509.EncryptPEMBlock(rand.Reader, "RSA PRIVATE KEY", keyDER, []byte(CertPassphrase), x509.PEMCipherAES256) //nolint:staticcheck
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("config: encrypting client key: %w", err)
	}

	var out []byte
	out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})...)
	out = append(out, pem.EncodeToMemory(encryptedKeyBlock)...)

	if err := ioutil2.WriteFileAtomic(s.certPath(), out, 0600); err != nil {
		return tls.Certificate{}, fmt.Errorf("config: writing %s: %w", s.certPath(), err)
	}

	return tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER}),
		pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER}),
	)
}
