package cryptox

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/dmitrijs2005/clinicdesk/internal/common"
)

// Blob metadata values.
const (
	BlobVersion = 1
	AlgAESGCM   = "AES-256-GCM"
	KDFArgon2id = "argon2id"
	KDFSHA256   = "sha256"

	saltSize = 16
)

// ErrInvalidPin is returned by Decrypt when the PIN does not open the blob,
// or when the blob is malformed. Callers cannot tell the two apart.
var ErrInvalidPin = errors.New("invalid pin")

// Blob is a PIN-encrypted payload. It carries everything needed to decrypt
// it again apart from the PIN itself. Binary fields are base64 in JSON.
type Blob struct {
	Version    int    `json:"v"`
	Alg        string `json:"alg"`
	KDF        string `json:"kdf"`
	Salt       []byte `json:"salt,omitempty"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ct"`
}

type encryptOptions struct {
	kdf string
}

// EncryptOption tunes Encrypt.
type EncryptOption func(*encryptOptions)

// WithKDF selects the key derivation recorded in the blob. The default is
// KDFArgon2id with a random salt.
func WithKDF(kdf string) EncryptOption {
	return func(o *encryptOptions) {
		o.kdf = kdf
	}
}

// Encrypt serializes payload to JSON and seals it under a key derived from pin.
func Encrypt(payload any, pin []byte, opts ...EncryptOption) (*Blob, error) {
	o := encryptOptions{kdf: KDFArgon2id}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Blob{Version: BlobVersion, Alg: AlgAESGCM, KDF: o.kdf}
	if o.kdf == KDFArgon2id {
		b.Salt = common.GenerateRandByteArray(saltSize)
	}

	key, err := b.key(pin)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(key)

	b.Ciphertext, b.Nonce, err = EncryptEntry(payload, key)
	if err != nil {
		return nil, fmt.Errorf("encryption error: %w", err)
	}
	return b, nil
}

// Decrypt opens blob with pin and unmarshals the payload into v, which must
// be a non-nil pointer. v is left untouched on any failure.
func Decrypt(b *Blob, pin []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("decrypt target must be a non-nil pointer")
	}
	if b == nil || b.Version != BlobVersion || b.Alg != AlgAESGCM {
		return ErrInvalidPin
	}

	key, err := b.key(pin)
	if err != nil {
		return ErrInvalidPin
	}
	defer common.WipeByteArray(key)

	plaintext, err := openGCM(b.Ciphertext, b.Nonce, key)
	if err != nil {
		return ErrInvalidPin
	}

	scratch := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal(plaintext, scratch.Interface()); err != nil {
		return ErrInvalidPin
	}
	rv.Elem().Set(scratch.Elem())
	return nil
}

// Marshal renders the blob as the opaque string kept in storage.
func (b *Blob) Marshal() (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ParseBlob reverses Marshal. Malformed input yields ErrInvalidPin.
func ParseBlob(s string) (*Blob, error) {
	var b Blob
	if err := json.Unmarshal([]byte(s), &b); err != nil {
		return nil, ErrInvalidPin
	}
	return &b, nil
}

// DecryptString is ParseBlob followed by Decrypt.
func DecryptString(s string, pin []byte, v any) error {
	b, err := ParseBlob(s)
	if err != nil {
		return err
	}
	return Decrypt(b, pin, v)
}

// EncryptString is Encrypt followed by Marshal.
func EncryptString(payload any, pin []byte, opts ...EncryptOption) (string, error) {
	b, err := Encrypt(payload, pin, opts...)
	if err != nil {
		return "", err
	}
	return b.Marshal()
}

func (b *Blob) key(pin []byte) ([]byte, error) {
	switch b.KDF {
	case KDFArgon2id:
		if len(b.Salt) == 0 {
			return nil, errors.New("missing salt")
		}
		return DeriveMasterKey(pin, b.Salt), nil
	case KDFSHA256:
		return DeriveKey(pin), nil
	default:
		return nil, fmt.Errorf("unsupported kdf %q", b.KDF)
	}
}
