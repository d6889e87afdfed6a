package nostr

import (
	"encoding/hex"
	"net/url"
	"strings"
)

func IsValidRelayURL(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	if parsed.Scheme != "wss" && parsed.Scheme != "ws" {
		return false
	}
	return true
}

// IsValidPublicKey reports whether s looks like a valid x-only (BIP-340)
// secp256k1 public key: 64 lowercase hex characters.
func IsValidPublicKey(s string) bool {
	return IsValid32ByteHex(s)
}

func IsValid32ByteHex(thing string) bool {
	if strings.ToLower(thing) != thing {
		return false
	}
	if len(thing) != 64 {
		return false
	}
	_, err := hex.DecodeString(thing)
	return err == nil
}
