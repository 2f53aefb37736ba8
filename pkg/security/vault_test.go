package security

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func TestNewVault(t *testing.T) {
	tests := []struct {
		name    string
		keyLen  int
		wantErr bool
	}{
		{"valid 32-byte key", 32, false},
		{"too short", 16, true},
		{"too long", 64, true},
		{"empty", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVault(make([]byte, tt.keyLen))
			if (err != nil) != tt.wantErr {
				t.Errorf("NewVault() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	vault, err := NewVault(testKey(t))
	if err != nil {
		t.Fatalf("failed to create vault: %v", err)
	}

	tests := []struct {
		name      string
		plaintext string
	}{
		{"simple value", "sk_live_ABCDEF"},
		{"unicode", "pässwörd-日本語"},
		{"long value", strings.Repeat("x", 4096)},
		{"single char", "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := vault.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if ct == tt.plaintext {
				t.Fatal("ciphertext equals plaintext")
			}

			pt, err := vault.Decrypt(ct)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if pt != tt.plaintext {
				t.Errorf("roundtrip = %q, want %q", pt, tt.plaintext)
			}
		})
	}
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	vault, _ := NewVault(testKey(t))

	ct1, err := vault.Encrypt("same value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	ct2, err := vault.Encrypt("same value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if ct1 == ct2 {
		t.Error("two encryptions of the same value produced identical ciphertext")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	vault1, _ := NewVault(testKey(t))
	vault2, _ := NewVault(testKey(t))

	ct, err := vault1.Encrypt("secret value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if _, err := vault2.Decrypt(ct); err == nil {
		t.Error("decrypting with a different key succeeded")
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	vault, _ := NewVault(testKey(t))

	ct, err := vault.Encrypt("secret value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(ct)
	if err != nil {
		t.Fatalf("failed to decode ciphertext: %v", err)
	}

	// Flip one bit in every byte position; all must fail authentication.
	for i := range raw {
		tampered := bytes.Clone(raw)
		tampered[i] ^= 0x01
		if _, err := vault.Decrypt(base64.StdEncoding.EncodeToString(tampered)); err == nil {
			t.Fatalf("tampered byte %d decrypted successfully", i)
		}
	}
}

func TestDecryptGarbage(t *testing.T) {
	vault, _ := NewVault(testKey(t))

	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"not base64", "!!not-base64!!"},
		{"too short", base64.StdEncoding.EncodeToString([]byte("ab"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := vault.Decrypt(tt.input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMapHelpers(t *testing.T) {
	vault, _ := NewVault(testKey(t))

	plain := map[string]string{
		"API_KEY":    "sk_live_ABCDEF",
		"DB_PASS":    "hunter2",
		"SECRET_FOO": "bar",
	}

	encrypted, err := vault.EncryptMap(plain)
	if err != nil {
		t.Fatalf("EncryptMap() error = %v", err)
	}
	for k, v := range encrypted {
		if v == plain[k] {
			t.Errorf("value for %s not encrypted", k)
		}
	}

	decrypted, err := vault.DecryptMap(encrypted)
	if err != nil {
		t.Fatalf("DecryptMap() error = %v", err)
	}
	if len(decrypted) != len(plain) {
		t.Fatalf("decrypted %d entries, want %d", len(decrypted), len(plain))
	}
	for k, v := range plain {
		if decrypted[k] != v {
			t.Errorf("decrypted[%s] = %q, want %q", k, decrypted[k], v)
		}
	}
}

func TestNewVaultFromConfig(t *testing.T) {
	valid := base64.StdEncoding.EncodeToString(make([]byte, 32))

	tests := []struct {
		name       string
		encoded    string
		production bool
		wantErr    bool
	}{
		{"valid key", valid, true, false},
		{"missing key in production", "", true, true},
		{"missing key in dev generates ephemeral", "", false, false},
		{"malformed base64", "%%%", true, true},
		{"wrong length", base64.StdEncoding.EncodeToString(make([]byte, 16)), true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewVaultFromConfig(tt.encoded, tt.production)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewVaultFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
