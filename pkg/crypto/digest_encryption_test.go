package crypto

import (
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewEncryptor([]byte("unit-test-key"))
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"refresh token", "1//0eXaMpLeToKeNvAlUe-longform"},
		{"unicode", "토큰 값 with mixed 文字"},
		{"empty stays empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := enc.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if tt.plaintext != "" && sealed == tt.plaintext {
				t.Error("ciphertext equals plaintext")
			}

			opened, err := enc.Decrypt(sealed)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if opened != tt.plaintext {
				t.Errorf("round trip = %q, want %q", opened, tt.plaintext)
			}
		})
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	enc, err := NewEncryptor([]byte("unit-test-key"))
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}

	if _, err := enc.Decrypt("not base64 at all!!!"); err == nil {
		t.Error("Decrypt should reject non-base64 input")
	}
	if _, err := enc.Decrypt("c2hvcnQ="); err == nil {
		t.Error("Decrypt should reject input shorter than nonce")
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	encA, _ := NewEncryptor([]byte("key-a"))
	encB, _ := NewEncryptor([]byte("key-b"))

	sealed, err := encA.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := encB.Decrypt(sealed); err == nil {
		t.Error("Decrypt with a different key should fail")
	}
}

func TestIsEncrypted(t *testing.T) {
	enc, _ := NewEncryptor([]byte("unit-test-key"))
	sealed, _ := enc.Encrypt("payload")

	if !IsEncrypted(sealed) {
		t.Error("IsEncrypted(sealed) = false, want true")
	}
	if IsEncrypted("plaintext token") {
		t.Error("IsEncrypted(plaintext) = true, want false")
	}
	if IsEncrypted(strings.Repeat("a", 4)) {
		t.Error("short base64 should not count as encrypted")
	}
}

func TestNewEncryptorRejectsEmptyKey(t *testing.T) {
	if _, err := NewEncryptor(nil); err == nil {
		t.Error("NewEncryptor(nil) should fail")
	}
}
