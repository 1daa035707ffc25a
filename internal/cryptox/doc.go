// Package cryptox holds the PIN-based key derivation and authenticated
// encryption used to keep service-account credentials at rest.
//
// A payload is JSON-encoded and sealed with AES-256-GCM. The resulting Blob
// records the algorithm, the key derivation (argon2id with a random salt,
// or a plain SHA-256 digest of the PIN), and the nonce, so no external key
// management state is needed to open it later.
//
// Decryption with the wrong PIN, or of a tampered or malformed blob, fails
// with ErrInvalidPin and never returns partial data.
package cryptox
