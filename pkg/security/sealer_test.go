package security

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey())
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	sealed, err := s.Seal([]byte("shpat_secret"), []byte("conn-1"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("shpat_secret")) {
		t.Fatalf("plaintext visible in ciphertext")
	}
	plain, err := s.Open(sealed, []byte("conn-1"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(plain) != "shpat_secret" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestOpenRejectsForeignAAD(t *testing.T) {
	s, _ := NewSealer(testKey())
	sealed, err := s.Seal([]byte("token"), []byte("conn-1"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := s.Open(sealed, []byte("conn-2")); err == nil {
		t.Fatalf("expected aad mismatch to fail")
	}
}

func TestSealUsesFreshNonce(t *testing.T) {
	s, _ := NewSealer(testKey())
	a, _ := s.Seal([]byte("token"), nil)
	b, _ := s.Seal([]byte("token"), nil)
	if bytes.Equal(a, b) {
		t.Fatalf("ciphertexts should differ")
	}
}

func TestEmptyValuesPassThrough(t *testing.T) {
	s, _ := NewSealer(testKey())
	if out, err := s.Seal(nil, nil); err != nil || out != nil {
		t.Fatalf("expected nil seal for empty input, got %v %v", out, err)
	}
	if out, err := s.Open(nil, nil); err != nil || out != nil {
		t.Fatalf("expected nil open for empty input, got %v %v", out, err)
	}
	if _, err := s.Open([]byte("short"), nil); err != ErrCiphertextTooShort {
		t.Fatalf("expected short ciphertext error, got %v", err)
	}
}

func TestNewSealerRejectsBadKey(t *testing.T) {
	if _, err := NewSealer([]byte("short")); err == nil {
		t.Fatalf("expected short key to fail")
	}
}

func TestRandomToken(t *testing.T) {
	a, err := RandomToken(32)
	if err != nil {
		t.Fatalf("random token: %v", err)
	}
	b, _ := RandomToken(32)
	if a == b || len(a) != 43 {
		t.Fatalf("unexpected tokens %q %q", a, b)
	}
	if _, err := RandomToken(0); err == nil {
		t.Fatalf("expected zero length to fail")
	}
}
