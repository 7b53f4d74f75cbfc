package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if len(key) != KeySize {
		t.Errorf("expected %d bytes, got %d", KeySize, len(key))
	}
	key2, _ := GenerateKey()
	if bytes.Equal(key, key2) {
		t.Error("two generated keys should not be equal")
	}
}

func TestEncodeDecodeKey(t *testing.T) {
	key, _ := GenerateKey()
	decoded, err := DecodeKey(EncodeKey(key))
	if err != nil {
		t.Fatalf("DecodeKey failed: %v", err)
	}
	if !bytes.Equal(key, decoded) {
		t.Error("decoded key should match original")
	}

	cases := []string{"", "not base64!!", EncodeKey([]byte("too short"))}
	for _, c := range cases {
		if _, err := DecodeKey(c); err == nil {
			t.Errorf("expected DecodeKey(%q) to fail", c)
		}
	}
}

func TestDeriveKey(t *testing.T) {
	master, _ := GenerateKey()
	k1, err := DeriveKey(master, "passvault-field-v1")
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if len(k1) != KeySize {
		t.Errorf("expected %d bytes, got %d", KeySize, len(k1))
	}
	// Same inputs → same key (deterministic)
	k2, _ := DeriveKey(master, "passvault-field-v1")
	if !bytes.Equal(k1, k2) {
		t.Error("key derivation should be deterministic")
	}
	k3, _ := DeriveKey(master, "passvault-file-v1")
	if bytes.Equal(k1, k3) {
		t.Error("different contexts should yield different keys")
	}
	if bytes.Equal(k1, master) {
		t.Error("derived key should differ from the master key")
	}
}

func TestAESGCMRoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	plaintext := []byte("hunter2")

	ciphertext, nonce, err := EncryptAESGCM(plaintext, key)
	if err != nil {
		t.Fatalf("EncryptAESGCM failed: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("ciphertext should not contain the plaintext")
	}

	decrypted, err := DecryptAESGCM(ciphertext, nonce, key)
	if err != nil {
		t.Fatalf("DecryptAESGCM failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted %q != original %q", decrypted, plaintext)
	}
}

func TestAESGCMFreshNonce(t *testing.T) {
	key, _ := GenerateKey()
	c1, n1, _ := EncryptAESGCM([]byte("same"), key)
	c2, n2, _ := EncryptAESGCM([]byte("same"), key)
	if bytes.Equal(n1, n2) || bytes.Equal(c1, c2) {
		t.Error("encrypting twice should use a fresh nonce")
	}
}

func TestAESGCMWrongKey(t *testing.T) {
	key, _ := GenerateKey()
	wrongKey, _ := GenerateKey()

	ciphertext, nonce, _ := EncryptAESGCM([]byte("secret data"), key)
	if _, err := DecryptAESGCM(ciphertext, nonce, wrongKey); err == nil {
		t.Error("expected error decrypting with wrong key")
	}
}

func TestAESGCMTampered(t *testing.T) {
	key, _ := GenerateKey()
	ciphertext, nonce, _ := EncryptAESGCM([]byte("secret data"), key)
	ciphertext[0] ^= 0xff
	if _, err := DecryptAESGCM(ciphertext, nonce, key); err == nil {
		t.Error("expected error decrypting tampered ciphertext")
	}
	if _, err := DecryptAESGCM(ciphertext, nonce[:4], key); err == nil {
		t.Error("expected error with a short nonce")
	}
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("expected zeroed slice, got %v", b)
	}
}
