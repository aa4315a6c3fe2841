// Package cryptox implements the password-based envelope encryption used for
// backup export. The format is fixed for interoperability with existing
// envelopes: PBKDF2-HMAC-SHA256 with 100000 iterations derives an AES-256 key,
// AES-GCM seals the payload, and the stored data is base64(salt || ciphertext)
// with the 16-byte salt always first.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	EnvelopeVersion = "1.0"
	Algorithm       = "AES-GCM"

	iterations = 100000
	keyLen     = 32 // AES-256
	saltLen    = 16
	ivLen      = 12
)

var (
	// ErrDecryptFailed is the single user-facing decryption error. It must not
	// distinguish a wrong password from corrupted input.
	ErrDecryptFailed = errors.New("wrong password or corrupted data")

	// ErrUnsupportedAlgorithm is raised before any key derivation when the
	// envelope does not declare the expected algorithm.
	ErrUnsupportedAlgorithm = errors.New("unsupported encryption algorithm")
)

// Envelope is the self-describing encrypted backup wire format.
type Envelope struct {
	Version   string    `json:"version"`
	Algorithm string    `json:"algorithm"`
	IV        string    `json:"iv"`   // base64, 12 bytes
	Data      string    `json:"data"` // base64, salt || ciphertext
	CreatedAt time.Time `json:"createdAt"`
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
}

// Encrypt seals plaintext under a key derived from password with a fresh
// random salt and IV.
func Encrypt(plaintext []byte, password string) (*Envelope, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	ciphertext := aesgcm.Seal(nil, iv, plaintext, nil)

	data := make([]byte, 0, saltLen+len(ciphertext))
	data = append(data, salt...)
	data = append(data, ciphertext...)

	return &Envelope{
		Version:   EnvelopeVersion,
		Algorithm: Algorithm,
		IV:        base64.StdEncoding.EncodeToString(iv),
		Data:      base64.StdEncoding.EncodeToString(data),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decrypt opens the envelope with a key derived from password. Every failure
// past the algorithm check collapses into ErrDecryptFailed so that callers
// cannot tell key derivation problems from tag verification problems.
func Decrypt(env *Envelope, password string) ([]byte, error) {
	if env.Algorithm != Algorithm {
		return nil, ErrUnsupportedAlgorithm
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != ivLen {
		return nil, ErrDecryptFailed
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil || len(data) <= saltLen {
		return nil, ErrDecryptFailed
	}
	salt, ciphertext := data[:saltLen], data[saltLen:]

	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrDecryptFailed
	}

	plaintext, err := aesgcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
