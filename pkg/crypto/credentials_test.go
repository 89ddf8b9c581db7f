package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

// Test key generated with: openssl rand -base64 32
const testKey = "dGVzdC1rZXktZm9yLXVuaXQtdGVzdHMtMzItYnl0ZXM=" // "test-key-for-unit-tests-32-bytes"

func TestNewCredentialEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "valid 32-byte base64 key", key: testKey},
		{name: "empty key", key: "", wantErr: true},
		{name: "passphrase (not base64) hashed to 32 bytes", key: "my-simple-passphrase"},
		{name: "short base64 key hashed to 32 bytes", key: base64.StdEncoding.EncodeToString([]byte("sixteen-byte-key"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := NewCredentialEncryptor(tt.key)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if enc == nil {
				t.Fatal("expected encryptor, got nil")
			}
		})
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	enc, err := NewCredentialEncryptor(testKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	plaintext := "host=10.0.0.5 password=s3cr3t"
	encrypted, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if encrypted == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}
	if strings.Contains(encrypted, "s3cr3t") {
		t.Fatal("ciphertext contains plaintext fragment")
	}

	decrypted, err := enc.Decrypt(encrypted)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if decrypted != plaintext {
		t.Errorf("round trip mismatch: got %q", decrypted)
	}
}

func TestEncrypt_EmptyString(t *testing.T) {
	enc, _ := NewCredentialEncryptor(testKey)

	encrypted, err := enc.Encrypt("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if encrypted != "" {
		t.Errorf("expected empty ciphertext for empty plaintext, got %q", encrypted)
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	enc1, _ := NewCredentialEncryptor(testKey)
	enc2, _ := NewCredentialEncryptor("a-different-passphrase")

	encrypted, err := enc1.Encrypt("sensitive")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	if _, err := enc2.Decrypt(encrypted); err == nil {
		t.Fatal("expected decryption failure with wrong key")
	}
}

func TestDecrypt_Garbage(t *testing.T) {
	enc, _ := NewCredentialEncryptor(testKey)

	for _, input := range []string{"not-base64!!!", base64.StdEncoding.EncodeToString([]byte("short"))} {
		if _, err := enc.Decrypt(input); err == nil {
			t.Errorf("expected error for garbage input %q", input)
		}
	}
}

func TestEncryptConfig_RoundTrip(t *testing.T) {
	enc, _ := NewCredentialEncryptor(testKey)

	cfg := map[string]any{
		"host":     "db.customer.internal",
		"port":     float64(5432), // json numbers decode as float64
		"user":     "readonly",
		"password": "hunter2",
		"database": "sales",
	}

	encrypted, err := enc.EncryptConfig(cfg)
	if err != nil {
		t.Fatalf("encrypt config failed: %v", err)
	}
	if strings.Contains(encrypted, "hunter2") {
		t.Fatal("encrypted config leaks password")
	}

	decrypted, err := enc.DecryptConfig(encrypted)
	if err != nil {
		t.Fatalf("decrypt config failed: %v", err)
	}

	for key, want := range cfg {
		if decrypted[key] != want {
			t.Errorf("config key %q: expected %v, got %v", key, want, decrypted[key])
		}
	}
}

func TestDecryptConfig_Empty(t *testing.T) {
	enc, _ := NewCredentialEncryptor(testKey)

	cfg, err := enc.DecryptConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg) != 0 {
		t.Errorf("expected empty config, got %v", cfg)
	}
}
