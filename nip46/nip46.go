// Package nip46 implements the wire-level shapes of the NIP-46 remote
// signer protocol: the request/response envelope, per-client sessions
// holding the symmetric keys shared with each client, and the bunker
// connection URI.
//
// This package only knows how to parse a request out of an event and
// build a response event back; deciding whether a request is allowed
// belongs to the authorization pipeline that calls it.
package nip46

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/btcforplebs/Signet"
	"github.com/btcforplebs/Signet/nip04"
	"github.com/btcforplebs/Signet/nip44"
)

var bunkerURLPattern = regexp.MustCompile(`^bunker:\/\/([0-9a-f]{64})\??([?\/\w:.=&%]*)$`)

// Request is one decrypted NIP-46 call.
type Request struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

func (r Request) String() string {
	j, _ := json.Marshal(r)
	return string(j)
}

// Response is the encrypted reply to a Request, correlated by ID.
type Response struct {
	ID     string `json:"id"`
	Error  string `json:"error,omitempty"`
	Result string `json:"result,omitempty"`
}

func (r Response) String() string {
	j, _ := json.Marshal(r)
	return string(j)
}

// Signer answers NIP-46 requests on behalf of one or more custodied keys.
type Signer interface {
	GetSession(clientPubkey string) (Session, bool)
	HandleRequest(ctx context.Context, event *nostr.Event) (req Request, resp Response, eventResponse nostr.Event, drop bool, err error)
}

// AuthDecision is the outcome of an authorization callback consulted by
// KeySigner for a specific request.
type AuthDecision int

const (
	// AuthPermitted means the method may execute and a normal response is sent.
	AuthPermitted AuthDecision = iota
	// AuthDenied means the method does not execute; an error response is sent.
	AuthDenied
	// AuthDrop means no response is sent at all (silent drop, or a
	// parked request whose TTL expired before a decision arrived).
	AuthDrop
)

// Session holds the per-client symmetric keys negotiated for a
// (handler key, remote client) pair. NIP-44 is used for every new
// exchange; the legacy NIP-04 key is kept only to decode a request
// that arrives from a client that never migrated.
type Session struct {
	PublicKey       string
	SharedKey       []byte   // nip04, legacy inbound only
	ConversationKey [32]byte // nip44, used for everything outbound
}

// RelayReadWrite describes one relay's advertised read/write permissions,
// as returned by the get_relays method.
type RelayReadWrite struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

// ParseRequest decrypts and decodes the request carried in event.Content,
// preferring NIP-44 and falling back to legacy NIP-04.
func (s Session) ParseRequest(event *nostr.Event) (Request, error) {
	var req Request

	plain, err := nip44.Decrypt(event.Content, s.ConversationKey)
	if err != nil {
		plain, err = nip04.Decrypt(event.Content, s.SharedKey)
		if err != nil {
			return req, fmt.Errorf("failed to decrypt event from %s: %w", event.PubKey, err)
		}
	}

	err = json.Unmarshal([]byte(plain), &req)
	return req, err
}

// MakeResponse builds the (unsigned) response event for a handled request,
// always encrypting with NIP-44 regardless of which scheme the request came in on.
func (s Session) MakeResponse(
	id string,
	requester string,
	result string,
	handlingErr error,
) (resp Response, evt nostr.Event, err error) {
	if handlingErr != nil {
		resp = Response{ID: id, Error: handlingErr.Error()}
	} else {
		resp = Response{ID: id, Result: result}
	}

	jresp, _ := json.Marshal(resp)
	ciphertext, err := nip44.Encrypt(string(jresp), s.ConversationKey)
	if err != nil {
		return resp, evt, fmt.Errorf("failed to encrypt result: %w", err)
	}

	evt.Content = ciphertext
	evt.CreatedAt = nostr.Now()
	evt.Kind = nostr.KindNostrConnect
	evt.Tags = nostr.Tags{nostr.Tag{"p", requester}}

	return resp, evt, nil
}

// IsValidBunkerURL reports whether input matches the bunker:// connection URI shape.
func IsValidBunkerURL(input string) bool {
	return bunkerURLPattern.MatchString(input)
}
