package trust

import (
	"bytes"
	"crypto/x509"
	"testing"
)

func fakeCert(raw []byte, spki []byte) *x509.Certificate {
	return &x509.Certificate{Raw: raw, RawSubjectPublicKeyInfo: spki}
}

func TestConnectionFingerprintIsCommutativeXOR(t *testing.T) {
	server := fakeCert([]byte("server-cert-bytes"), nil)
	client := fakeCert([]byte("client-cert-bytes"), nil)

	fp := DeriveFingerprint(server, client)
	a := fp.Connection()

	// swapping which side is "server" flips the operands but XOR is
	// commutative, so the connection fingerprint must be identical.
	swapped := DeriveFingerprint(client, server)
	b := swapped.Connection()
	if a != b {
		t.Fatalf("connection fingerprint not commutative: %x vs %x", a, b)
	}
}

func TestAcceptRejectsNilExpected(t *testing.T) {
	fp := DeriveFingerprint(fakeCert([]byte("s"), nil), fakeCert([]byte("c"), nil))
	if err := Accept(fp, nil); err != ErrFingerprintMismatch {
		t.Fatalf("got %v, want ErrFingerprintMismatch", err)
	}
}

func TestAcceptMatchesDerivedValue(t *testing.T) {
	fp := DeriveFingerprint(fakeCert([]byte("s"), nil), fakeCert([]byte("c"), nil))
	expected := fp.Connection()
	if err := Accept(fp, &expected); err != nil {
		t.Fatalf("Accept: %s", err)
	}
}

func TestAcceptRejectsMismatch(t *testing.T) {
	fp := DeriveFingerprint(fakeCert([]byte("s"), nil), fakeCert([]byte("c"), nil))
	var wrong [32]byte
	copy(wrong[:], bytes.Repeat([]byte{0xFF}, 32))
	if err := Accept(fp, &wrong); err != ErrFingerprintMismatch {
		t.Fatalf("got %v, want ErrFingerprintMismatch", err)
	}
}

func TestConfirmationCodeIsStableAndShort(t *testing.T) {
	fp := DeriveFingerprint(fakeCert([]byte("s"), nil), fakeCert([]byte("c"), nil))
	code1 := fp.ConfirmationCode()
	code2 := fp.ConfirmationCode()
	if code1 != code2 {
		t.Fatalf("confirmation code not stable: %q vs %q", code1, code2)
	}
	if len(code1) == 0 {
		t.Fatal("confirmation code is empty")
	}
}

func TestSpiceKeyMatches(t *testing.T) {
	spki := []byte("subject-public-key-info-der")
	cert := fakeCert([]byte("whatever"), spki)
	if !SpiceKeyMatches(cert, spki) {
		t.Fatal("expected matching SPKI to match")
	}
	if SpiceKeyMatches(cert, []byte("different-key")) {
		t.Fatal("expected different SPKI not to match")
	}
}
