package security

import (
	"bytes"
	"testing"
)

func TestEncryptionService(t *testing.T) {
	svc, err := NewEncryptionService("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		plain := []byte("\x89PNG receipt bytes")
		sealed, err := svc.Seal(plain)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		if bytes.Contains(sealed, plain) {
			t.Fatalf("plaintext visible in sealed output")
		}
		got, err := svc.Open(sealed)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("want %q, got %q", plain, got)
		}
	})

	t.Run("nonce differs per message", func(t *testing.T) {
		a, _ := svc.Seal([]byte("same"))
		b, _ := svc.Seal([]byte("same"))
		if bytes.Equal(a, b) {
			t.Fatalf("two seals of the same input must differ")
		}
	})

	t.Run("tampering is detected", func(t *testing.T) {
		sealed, _ := svc.Seal([]byte("total 42.00"))
		sealed[len(sealed)-1] ^= 0xff
		if _, err := svc.Open(sealed); err == nil {
			t.Fatalf("want error for tampered ciphertext")
		}
	})

	t.Run("short input", func(t *testing.T) {
		if _, err := svc.Open([]byte("abc")); err == nil {
			t.Fatalf("want error for short input")
		}
	})
}

func TestNewEncryptionService_KeyLength(t *testing.T) {
	for _, k := range []string{"", "short", "0123456789abcdef0"} {
		if _, err := NewEncryptionService(k); err == nil {
			t.Fatalf("want error for key length %d", len(k))
		}
	}
}
