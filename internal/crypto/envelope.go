// Package crypto implements the envelope: password-based key derivation
// and authenticated encryption of text and binary values. Every function
// here is pure with respect to process state; none of it touches disk or
// the network.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/seesee/jottery/internal/apperr"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the size of the derived AES-256 key, in bytes.
	KeySize = 32
	// NonceSize is the size of the AES-GCM nonce, in bytes.
	NonceSize = 12
	// MinSaltSize is the minimum accepted salt length.
	MinSaltSize = 32
	// DefaultIterations is the PBKDF2 iteration floor for master-key
	// derivation. Values below this are substituted up to this default
	// rather than accepted as-is (spec floor; see SPEC_FULL.md §9.1).
	DefaultIterations = 100_000
	// StoreIterations is the iteration count used for the local store's
	// whole-file container key, a separate derivation from the master
	// key (SPEC_FULL.md §9.1).
	StoreIterations = 256_000

	// Algorithm is the tag recorded in EncryptionMetadata.
	Algorithm = "AES-256-GCM"
)

// ErrInvalidSalt is returned when DeriveKey is given a salt shorter than
// MinSaltSize.
var ErrInvalidSalt = errors.New("crypto: salt must be at least 32 bytes")

// DeriveKey derives a 32-byte key from password and salt using
// PBKDF2-HMAC-SHA-256. If iterations is below DefaultIterations, it is
// raised to DefaultIterations rather than used as given — callers must
// never silently proceed with weak parameters.
func DeriveKey(password string, salt []byte, iterations int) ([]byte, error) {
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidSalt, len(salt))
	}
	if iterations < DefaultIterations {
		iterations = DefaultIterations
	}
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New), nil
}

// GenerateSalt returns a cryptographically random salt of MinSaltSize
// bytes.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, MinSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// ZeroBytes overwrites b with zeroes in place. Callers defer this on any
// key material before it goes out of scope.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Blob is the wire/storage representation of one AEAD encryption: the
// (ciphertext, nonce, tag) triple from spec.md §6. Tag may be empty when
// the authentication tag is appended to the ciphertext instead of kept
// separate; DecryptText and DecryptBinary accept both forms.
type Blob struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Tag        string `json:"tag"`
}

// wireBlob mirrors Blob's JSON shape but also accepts "iv" as an alias
// for "nonce" on decode, per spec.md §6.
type wireBlob struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

// UnmarshalJSON accepts either "nonce" or "iv" as the nonce field name.
func (b *Blob) UnmarshalJSON(data []byte) error {
	var w wireBlob
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	b.Ciphertext = w.Ciphertext
	b.Tag = w.Tag
	if w.Nonce != "" {
		b.Nonce = w.Nonce
	} else {
		b.Nonce = w.IV
	}
	return nil
}

// MarshalJSON emits the canonical {"ciphertext","nonce","tag"} shape.
func (b Blob) MarshalJSON() ([]byte, error) {
	type alias Blob
	return json.Marshal(alias(b))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return gcm, nil
}

func randomNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: generate nonce: %w", err)
	}
	return nonce, nil
}

// EncryptBinary encrypts plaintext under key using AES-256-GCM with a
// freshly generated nonce. The authentication tag is embedded at the
// tail of the ciphertext (combined representation), so Tag is empty.
func EncryptBinary(key, plaintext []byte) (Blob, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return Blob{}, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return Blob{}, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	return Blob{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// DecryptBinary reverses EncryptBinary. Any failure — malformed base64,
// wrong key, tampered ciphertext, short nonce — collapses to an
// apperr.KindAuthenticationFailed error, never distinguishing the cause
// to the caller.
func DecryptBinary(key []byte, blob Blob) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, authFailed(err)
	}
	nonce, err := base64.StdEncoding.DecodeString(blob.Nonce)
	if err != nil {
		return nil, authFailed(err)
	}
	if len(nonce) != NonceSize {
		return nil, authFailed(errors.New("unexpected nonce length"))
	}

	ciphertext, err := decodeCiphertextAndTag(blob)
	if err != nil {
		return nil, authFailed(err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, authFailed(err)
	}
	return plaintext, nil
}

// decodeCiphertextAndTag reassembles a combined ciphertext||tag buffer
// from either representation: a tag embedded in Ciphertext already, or a
// tag transmitted separately in Tag and appended here.
func decodeCiphertextAndTag(blob Blob) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(blob.Ciphertext)
	if err != nil {
		return nil, err
	}
	if blob.Tag == "" {
		return ciphertext, nil
	}
	tag, err := base64.StdEncoding.DecodeString(blob.Tag)
	if err != nil {
		return nil, err
	}
	return append(ciphertext, tag...), nil
}

func authFailed(cause error) error {
	return apperr.Wrap(apperr.KindAuthenticationFailed, "decryption failed", cause)
}

// EncryptText encrypts a UTF-8 string under key.
func EncryptText(key []byte, plaintext string) (Blob, error) {
	return EncryptBinary(key, []byte(plaintext))
}

// DecryptText reverses EncryptText.
func DecryptText(key []byte, blob Blob) (string, error) {
	plaintext, err := DecryptBinary(key, blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Hash returns the base64-encoded SHA-256 digest of data's UTF-8 bytes,
// used for content-equality checks during sync.
func Hash(data string) string {
	sum := sha256.Sum256([]byte(data))
	return base64.StdEncoding.EncodeToString(sum[:])
}
