package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp is a Unix timestamp in seconds, as used throughout the Nostr wire format.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().Unix())
}

// Time converts a Timestamp back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0)
}

// Event is a NIP-01 event: an id and a signature covering the fields below.
type Event struct {
	ID        string    `json:"id"`
	PubKey    string    `json:"pubkey"`
	CreatedAt Timestamp `json:"created_at"`
	Kind      int       `json:"kind"`
	Tags      Tags      `json:"tags"`
	Content   string    `json:"content"`
	Sig       string    `json:"sig"`
}

// IsRegularKind reports whether events of this kind are stored as-is, with no
// replacement or addressable-replacement semantics.
func IsRegularKind(kind int) bool {
	return (kind < 10000 || kind >= 40000) && kind != 0 && kind != 3
}

// IsReplaceableKind reports whether only the latest event per (pubkey, kind) is kept.
func IsReplaceableKind(kind int) bool {
	return kind == 0 || kind == 3 || (kind >= 10000 && kind < 20000)
}

// IsEphemeralKind reports whether events of this kind are not expected to be stored at all.
func IsEphemeralKind(kind int) bool {
	return kind >= 20000 && kind < 30000
}

// IsAddressableKind reports whether only the latest event per (pubkey, kind, d-tag) is kept.
func IsAddressableKind(kind int) bool {
	return kind >= 30000 && kind < 40000
}

// GetID computes the canonical NIP-01 event id without mutating evt.
func (evt *Event) GetID() string {
	h := sha256.Sum256(evt.Serialize())
	return hex.EncodeToString(h[:])
}

// Serialize renders the canonical NIP-01 JSON array
// [0, pubkey, created_at, kind, tags, content] that gets hashed to produce the id.
func (evt *Event) Serialize() []byte {
	dst := make([]byte, 0, 128+len(evt.Content))

	dst = append(dst, []byte(
		fmt.Sprintf(
			`[0,"%s",%d,%d,`,
			evt.PubKey,
			evt.CreatedAt,
			evt.Kind,
		))...)

	dst = evt.Tags.marshalTo(dst)
	dst = append(dst, ',')
	dst = escapeString(dst, evt.Content)
	dst = append(dst, ']')

	return dst
}

// MarshalJSON encodes the event the way it must appear on the wire.
func (evt Event) MarshalJSON() ([]byte, error) {
	type alias Event
	return json.Marshal(alias(evt))
}

// UnmarshalJSON decodes an event received from a relay or a NIP-46 peer.
func (evt *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	return json.Unmarshal(data, (*alias)(evt))
}

// escapeString appends the JSON-escaped form of s to dst, following the exact
// escaping rules required by NIP-01's canonical serialization: only control
// characters, the backslash and the double quote are escaped, everything
// else (including non-ASCII runes) is copied through verbatim.
func escapeString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for _, c := range []byte(s) {
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		default:
			if c < 0x20 {
				dst = append(dst, []byte(fmt.Sprintf(`\u%04x`, c))...)
			} else {
				dst = append(dst, c)
			}
		}
	}
	dst = append(dst, '"')
	return dst
}
