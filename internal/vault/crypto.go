package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/btcforplebs/Signet/internal/signeterr"
)

const (
	pbkdf2Iterations = 600_000
	saltSize         = 16
	nonceSize        = 12
	keySize          = 32
)

// Wrapped is the at-rest shape of one encrypted key: a fresh 16-byte
// salt, a random 12-byte GCM nonce, and the ciphertext with its tag
// appended (crypto/cipher.AEAD.Seal's convention).
type Wrapped struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

func deriveWrapKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
}

// Wrap derives a key from passphrase with a freshly generated salt and
// encrypts plaintext (the raw 32-byte secret key) with AES-256-GCM.
func Wrap(passphrase string, plaintext []byte) (*Wrapped, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	block, err := aes.NewCipher(deriveWrapKey(passphrase, salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return &Wrapped{Salt: salt, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Unwrap reverses Wrap. A tag mismatch (wrong passphrase or corrupted
// material) is reported as signeterr.ErrInvalidPassphrase.
func Unwrap(passphrase string, w *Wrapped) ([]byte, error) {
	block, err := aes.NewCipher(deriveWrapKey(passphrase, w.Salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, w.Nonce, w.Ciphertext, nil)
	if err != nil {
		return nil, signeterr.ErrInvalidPassphrase
	}
	return plaintext, nil
}

// Encode packs a Wrapped struct into the config file's {iv, data} shape:
// iv is the GCM nonce, data is salt||ciphertext, both hex.
func (w *Wrapped) Encode() (iv string, data string) {
	return hex.EncodeToString(w.Nonce), hex.EncodeToString(append(append([]byte{}, w.Salt...), w.Ciphertext...))
}

// Decode reverses Encode.
func Decode(iv, data string) (*Wrapped, error) {
	nonce, err := hex.DecodeString(iv)
	if err != nil {
		return nil, fmt.Errorf("invalid iv encoding: %w", err)
	}
	raw, err := hex.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("invalid data encoding: %w", err)
	}
	if len(raw) < saltSize {
		return nil, fmt.Errorf("truncated key material")
	}
	return &Wrapped{Salt: raw[:saltSize], Nonce: nonce, Ciphertext: raw[saltSize:]}, nil
}

// TimingSafeEqual does a constant-time, byte-length-checked comparison
// of lowercase-trimmed secrets, used for admin-secret validation.
func TimingSafeEqual(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
