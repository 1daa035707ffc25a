package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
)

var errNonceSize = errors.New("invalid nonce size")

// DeriveKey hashes pin with SHA-256 into a 32-byte AES-256 key. The same PIN
// always yields the same key.
func DeriveKey(pin []byte) []byte {
	hash := sha256.Sum256(pin)
	return hash[:]
}

// DeriveMasterKey stretches password with argon2id under salt into a
// 32-byte key.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// EncryptEntry serializes the given entry to JSON and encrypts it using AES-GCM.
//
// The key must be a valid AES key length (16, 24, or 32 bytes for AES-128,
// AES-192, or AES-256 respectively). A new random 12-byte nonce is generated
// for each encryption. The ciphertext and nonce are returned separately.
//
// Example:
//
//	ciphertext, nonce, err := EncryptEntry(serviceAccount, key)
//	if err != nil {
//	    log.Fatal(err)
//	}
func EncryptEntry(entry any, key []byte) (ciphertext, nonce []byte, err error) {

	// serializing JSON
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return nil, nil, err
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)

	return ciphertext, nonce, nil
}

// DecryptEntry decrypts the given ciphertext using AES-GCM and unmarshals
// the resulting JSON into the provided value v.
//
// The key and nonce must be the ones used by EncryptEntry. A nonce of the
// wrong length is reported as an error rather than a panic.
func DecryptEntry(ciphertext, nonce, key []byte, v any) error {
	plaintext, err := openGCM(ciphertext, nonce, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(plaintext, v)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func openGCM(ciphertext, nonce, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesgcm.NonceSize() {
		return nil, errNonceSize
	}
	return aesgcm.Open(nil, nonce, ciphertext, nil)
}
