// Package nip04 implements the legacy NIP-04 encrypted direct message
// scheme: AES-256-CBC under a shared secret derived from ECDH over
// secp256k1. Signet only uses this to recognize genuine legacy
// requests before rejecting them in favor of NIP-44.
package nip04

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ComputeSharedSecret derives the NIP-04 shared secret between our secret key
// and the other party's public key: SHA-256 of the ECDH shared point's x-coordinate.
func ComputeSharedSecret(pubkeyHex string, privkeyHex string) ([]byte, error) {
	pk, err := hex.DecodeString("02" + pubkeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	pubkey, err := btcec.ParsePubKey(pk)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	sk, err := hex.DecodeString(privkeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	privkey, _ := btcec.PrivKeyFromBytes(sk)

	var pubPoint, result btcec.JacobianPoint
	pubkey.AsJacobian(&pubPoint)
	btcec.ScalarMultNonConst(&privkey.Key, &pubPoint, &result)
	result.ToAffine()

	x := result.X.Bytes()
	shared := sha256.Sum256(x[:])
	return shared[:], nil
}

// Encrypt encrypts plaintext with AES-256-CBC under sharedSecret, returning
// "<base64 ciphertext>?iv=<base64 iv>" as specified by NIP-04.
func Encrypt(plaintext string, sharedSecret []byte) (string, error) {
	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return fmt.Sprintf("%s?iv=%s",
		base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(iv),
	), nil
}

// Decrypt reverses Encrypt.
func Decrypt(content string, sharedSecret []byte) (string, error) {
	parts := strings.SplitN(content, "?iv=", 2)
	if len(parts) != 2 {
		return "", errors.New("nip04: malformed ciphertext, missing iv")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("nip04: invalid ciphertext encoding: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("nip04: invalid iv encoding: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return "", errors.New("nip04: invalid iv length")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", errors.New("nip04: invalid ciphertext length")
	}

	block, err := aes.NewCipher(sharedSecret)
	if err != nil {
		return "", err
	}

	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ciphertext)

	plain, err = pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("nip04: invalid padded data length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("nip04: invalid padding")
	}
	return data[:len(data)-padLen], nil
}
