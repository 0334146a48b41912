// Package crypto is the encryption adapter: it keeps password storage
// opaque to the rest of the core by encrypting passwords into a blob (as
// long as the password) before they ever reach the store, mirroring the reference
// implementation's AES key/IV lifecycle (get_or_generate_crypted_keys,
// encrypt_AES) with the key itself stretched from a deployment passphrase
// via PBKDF2 instead of hardcoding the raw AES key length in configuration.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize       = 32 // AES-256
	ivSize        = aes.BlockSize
	pbkdf2Rounds  = 100_000
	pbkdf2SaltLen = 16
)

// KeyMaterial is the key/IV pair persisted once by the store, generated
// lazily on first use the same way the reference server generates its AES
// key and IV if the encryption_keys table is empty.
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

// Generate derives fresh key material from a passphrase using PBKDF2 with a
// random salt, plus a random IV. The salt is not kept: the returned key is
// only the derived bytes, and those bytes are what gets persisted, matching
// the reference's "store the raw generated bytes" approach rather than
// re-deriving from the passphrase on every restart.
func Generate(passphrase string) (KeyMaterial, error) {
	salt := make([]byte, pbkdf2SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return KeyMaterial{}, err
	}
	derived := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Rounds, keySize, sha256.New)

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return KeyMaterial{}, err
	}

	return KeyMaterial{Key: derived, IV: iv}, nil
}

// Cipher wraps a loaded KeyMaterial and performs password encryption.
type Cipher struct {
	block cipher.Block
	iv    []byte
}

// NewCipher builds a Cipher from previously generated or persisted key
// material. Returns an error if the key is not a valid AES key length.
func NewCipher(km KeyMaterial) (*Cipher, error) {
	if len(km.IV) != ivSize {
		return nil, errors.New("crypto: invalid IV size")
	}
	block, err := aes.NewCipher(km.Key)
	if err != nil {
		return nil, err
	}
	return &Cipher{block: block, iv: km.IV}, nil
}

// Encrypt produces the opaque blob stored as a client's encrypted_password.
// CFB stream mode is used so passwords of any length encrypt without
// padding, matching the reference's direct buffer-length encryption.
func (c *Cipher) Encrypt(plaintext string) []byte {
	out := make([]byte, len(plaintext))
	stream := cipher.NewCFBEncrypter(c.block, c.iv)
	stream.XORKeyStream(out, []byte(plaintext))
	return out
}

// Matches reports whether plaintext encrypts to the same blob as stored,
// used to verify a login attempt without ever decrypting the stored blob.
func (c *Cipher) Matches(plaintext string, stored []byte) bool {
	candidate := c.Encrypt(plaintext)
	if len(candidate) != len(stored) {
		return false
	}
	var diff byte
	for i := range candidate {
		diff |= candidate[i] ^ stored[i]
	}
	return diff == 0
}
