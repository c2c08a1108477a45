package crypto

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

// TestNewAESEncryptor tests creation of AES encryptor with valid and invalid keys
func TestNewAESEncryptor(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		errorMsg  string
		wantError bool
	}{
		{
			name:      "empty key",
			key:       "",
			wantError: true,
			errorMsg:  "encryption key is empty",
		},
		{
			name:      "invalid base64",
			key:       "not-valid-base64!@#$",
			wantError: true,
			errorMsg:  "base64 decode failed",
		},
		{
			name:      "key too short",
			key:       base64.StdEncoding.EncodeToString(make([]byte, 16)),
			wantError: true,
			errorMsg:  "must be 32 bytes",
		},
		{
			name:      "key too long",
			key:       base64.StdEncoding.EncodeToString(make([]byte, 64)),
			wantError: true,
			errorMsg:  "must be 32 bytes",
		},
		{
			name:      "valid 32-byte key",
			key:       base64.StdEncoding.EncodeToString(make([]byte, 32)),
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewAESEncryptor(tt.key)
			if tt.wantError {
				if err == nil {
					t.Errorf("NewAESEncryptor() expected error but got nil")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("NewAESEncryptor() error = %v, want error containing %q", err, tt.errorMsg)
				}
			} else {
				if err != nil {
					t.Errorf("NewAESEncryptor() unexpected error = %v", err)
				}
				if enc == nil {
					t.Errorf("NewAESEncryptor() returned nil encryptor")
				}
			}
		})
	}
}

func newTestEncryptor(t *testing.T) Encryptor {
	t.Helper()
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	enc, err := NewAESEncryptor(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}
	return enc
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc := newTestEncryptor(t)
	plaintext := []byte(`{"access_token":"ya29.secret","refresh_token":"1//refresh"}`)

	ciphertext, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if bytes.Contains(ciphertext, []byte("ya29.secret")) {
		t.Fatal("ciphertext leaks plaintext")
	}

	got, err := enc.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestEncryptProducesUniqueNonces(t *testing.T) {
	enc := newTestEncryptor(t)
	a, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := enc.Encrypt([]byte("same input"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two encryptions of the same plaintext produced identical output")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	enc := newTestEncryptor(t)
	ciphertext, err := enc.Encrypt([]byte("to be tampered"))
	if err != nil {
		t.Fatal(err)
	}
	ciphertext[len(ciphertext)-1] ^= 0xff
	if _, err := enc.Decrypt(ciphertext); err == nil {
		t.Fatal("expected authentication failure for tampered ciphertext")
	}
}

func TestDecryptRejectsTruncated(t *testing.T) {
	enc := newTestEncryptor(t)
	if _, err := enc.Decrypt([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated ciphertext")
	}
	if _, err := enc.Decrypt(nil); err == nil {
		t.Fatal("expected error for empty ciphertext")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	enc1 := newTestEncryptor(t)
	enc2 := newTestEncryptor(t)
	ciphertext, err := enc1.Encrypt([]byte("cross-key"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := enc2.Decrypt(ciphertext); err == nil {
		t.Fatal("expected decryption failure with a different key")
	}
}
