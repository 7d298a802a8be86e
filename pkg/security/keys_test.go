package security

import (
	"bytes"
	"testing"
)

func TestNewKeyManager(t *testing.T) {
	tests := []struct {
		name    string
		key     []byte
		wantErr bool
	}{
		{
			name:    "valid 32-byte key",
			key:     make([]byte, 32),
			wantErr: false,
		},
		{
			name:    "invalid short key",
			key:     make([]byte, 16),
			wantErr: true,
		},
		{
			name:    "invalid long key",
			key:     make([]byte, 64),
			wantErr: true,
		},
		{
			name:    "empty key",
			key:     []byte{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km, err := NewKeyManager(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewKeyManager() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && km == nil {
				t.Error("NewKeyManager() returned nil without error")
			}
		})
	}
}

func TestNewKeyManagerFromPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "valid password",
			password: "my-secure-password",
			wantErr:  false,
		},
		{
			name:     "empty password",
			password: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km, err := NewKeyManagerFromPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewKeyManagerFromPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && km == nil {
				t.Error("NewKeyManagerFromPassword() returned nil without error")
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	km, err := NewKeyManagerFromPassword("test-password")
	if err != nil {
		t.Fatalf("NewKeyManagerFromPassword() error = %v", err)
	}

	plaintext := []byte("sk-test-api-key-12345")

	ciphertext, err := km.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("Encrypt() ciphertext contains plaintext")
	}

	decrypted, err := km.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWithWrongKey(t *testing.T) {
	km1, _ := NewKeyManagerFromPassword("password-one")
	km2, _ := NewKeyManagerFromPassword("password-two")

	ciphertext, err := km1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := km2.Decrypt(ciphertext); err == nil {
		t.Error("Decrypt() with wrong key should fail")
	}
}

func TestDecryptInvalidInput(t *testing.T) {
	km, _ := NewKeyManagerFromPassword("test-password")

	if _, err := km.Decrypt(nil); err == nil {
		t.Error("Decrypt(nil) should fail")
	}
	if _, err := km.Decrypt([]byte("short")); err == nil {
		t.Error("Decrypt() with truncated ciphertext should fail")
	}
}

func TestSealResolve(t *testing.T) {
	km, _ := NewKeyManagerFromPassword("test-password")

	sealed, err := km.Seal("sk-live-key")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !IsSealed(sealed) {
		t.Errorf("Seal() output %q missing envelope prefix", sealed)
	}

	resolved, err := km.Resolve(sealed)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved != "sk-live-key" {
		t.Errorf("Resolve() = %q, want %q", resolved, "sk-live-key")
	}
}

func TestResolvePassesThroughPlaintext(t *testing.T) {
	km, _ := NewKeyManagerFromPassword("test-password")

	resolved, err := km.Resolve("sk-plain-key")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved != "sk-plain-key" {
		t.Errorf("Resolve() = %q, want %q", resolved, "sk-plain-key")
	}
	if IsSealed("sk-plain-key") {
		t.Error("IsSealed() misclassified plaintext value")
	}

	if _, err := km.Resolve("enc:!!!not-base64!!!"); err == nil {
		t.Error("Resolve() with malformed envelope should fail")
	}
}
