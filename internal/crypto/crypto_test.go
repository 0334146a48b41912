package crypto

import "testing"

func TestGenerateProducesValidKeyMaterial(t *testing.T) {
	km, err := Generate("test-passphrase")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(km.Key) != keySize {
		t.Fatalf("key length = %d, want %d", len(km.Key), keySize)
	}
	if len(km.IV) != ivSize {
		t.Fatalf("IV length = %d, want %d", len(km.IV), ivSize)
	}
}

func TestEncryptIsDeterministicForComparison(t *testing.T) {
	km, err := Generate("pass")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	c, err := NewCipher(km)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	a := c.Encrypt("hunter2")
	b := c.Encrypt("hunter2")
	if string(a) != string(b) {
		t.Fatal("encrypting the same plaintext under the same key/iv must be deterministic")
	}
}

func TestMatches(t *testing.T) {
	km, err := Generate("pass")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	c, err := NewCipher(km)
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	stored := c.Encrypt("correct-horse")
	if !c.Matches("correct-horse", stored) {
		t.Fatal("Matches should accept the correct password")
	}
	if c.Matches("wrong", stored) {
		t.Fatal("Matches should reject an incorrect password")
	}
}

func TestNewCipherRejectsBadIV(t *testing.T) {
	_, err := NewCipher(KeyMaterial{Key: make([]byte, keySize), IV: []byte{1, 2, 3}})
	if err == nil {
		t.Fatal("NewCipher should reject an IV of the wrong size")
	}
}
