package crypto

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	v, err := NewVault("a-very-secret-session-encryption-key")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}

	cases := [][]byte{
		[]byte(""),
		[]byte("creds.json payload"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for _, plaintext := range cases {
		sealed, err := v.Seal(plaintext)
		if err != nil {
			t.Fatalf("Seal: %v", err)
		}
		opened, err := v.Open(sealed)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if !bytes.Equal(opened, plaintext) {
			t.Errorf("round-trip mismatch: got %q want %q", opened, plaintext)
		}
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	v, _ := NewVault("another-secret-key")
	sealed, _ := v.Seal([]byte("root identity"))

	raw := []byte(sealed)
	raw[len(raw)-1] ^= 0xFF // flip last base64 char's underlying byte

	if _, err := v.Open(string(raw)); err == nil {
		t.Error("expected tampered ciphertext to fail to open")
	}
}

func TestNewVaultRejectsEmptySeed(t *testing.T) {
	if _, err := NewVault(""); err == nil {
		t.Error("expected empty seed to be rejected")
	}
}
