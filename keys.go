package nostr

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
)

// GeneratePrivateKey returns a new random 32-byte secp256k1 secret key, hex-encoded.
func GeneratePrivateKey() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// GetPublicKey derives the 32-byte x-only (BIP-340) public key for a hex secret key.
func GetPublicKey(sk string) (string, error) {
	b, err := hex.DecodeString(sk)
	if err != nil {
		return "", err
	}
	_, pk := btcec.PrivKeyFromBytes(b)
	ser := pk.SerializeCompressed()
	return hex.EncodeToString(ser[1:]), nil
}
