package nip46

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/btcforplebs/Signet"
	"github.com/btcforplebs/Signet/nip04"
	"github.com/btcforplebs/Signet/nip44"
)

var _ Signer = (*KeySigner)(nil)

// KeySigner is a Signer backed by a live set of handler keys, each fronting
// a nostr.Keyer for the account it signs on behalf of. It is the wire-level
// half of one NIP-46 backend; authorization decisions live entirely in the
// callbacks passed to NewKeySigner.
type KeySigner struct {
	sessionKeys []string
	sessions    []Session

	sync.Mutex

	getHandlerSecretKey func(handlerPubkey string) (string, error)
	getUserKeyer        func(handlerPubkey string) (nostr.Keyer, error)

	// authorizeSigning is consulted for every sign_event call. It may block
	// (e.g. while a request sits in a pending-approval queue) and must
	// eventually return a final decision for this specific event.
	authorizeSigning func(event nostr.Event, from string, secret string) AuthDecision

	// authorizeEncryption is consulted for every nip44_encrypt/nip44_decrypt call.
	authorizeEncryption func(from string, secret string, method string) AuthDecision

	// authorizeConnect is consulted for every connect call, in place of
	// authorizeSigning/authorizeEncryption; connect never passes through
	// those two. secret is req.Params[1] if present, else "".
	authorizeConnect func(from string, secret string, params []string) AuthDecision

	onEventSigned func(event nostr.Event)
	getRelays     func(pubkey string) map[string]RelayReadWrite
}

// NewKeySigner wires up a KeySigner. Any callback left nil is treated as
// always-authorize, except getHandlerSecretKey and getUserKeyer which are required.
func NewKeySigner(
	getHandlerSecretKey func(handlerPubkey string) (string, error),
	getUserKeyer func(handlerPubkey string) (nostr.Keyer, error),
	authorizeSigning func(event nostr.Event, from string, secret string) AuthDecision,
	authorizeEncryption func(from string, secret string, method string) AuthDecision,
	authorizeConnect func(from string, secret string, params []string) AuthDecision,
	onEventSigned func(event nostr.Event),
	getRelays func(pubkey string) map[string]RelayReadWrite,
) *KeySigner {
	return &KeySigner{
		getHandlerSecretKey: getHandlerSecretKey,
		getUserKeyer:        getUserKeyer,
		authorizeSigning:    authorizeSigning,
		authorizeEncryption: authorizeEncryption,
		authorizeConnect:    authorizeConnect,
		onEventSigned:       onEventSigned,
		getRelays:           getRelays,
	}
}

// GetSession returns the negotiated session for a client, if any.
func (p *KeySigner) GetSession(clientPubkey string) (Session, bool) {
	p.Lock()
	defer p.Unlock()
	idx, exists := slices.BinarySearch(p.sessionKeys, clientPubkey)
	if exists {
		return p.sessions[idx], true
	}
	return Session{}, false
}

func (p *KeySigner) setSession(clientPubkey string, session Session) {
	p.Lock()
	defer p.Unlock()

	idx, exists := slices.BinarySearch(p.sessionKeys, clientPubkey)
	if exists {
		return
	}

	p.sessionKeys = append(p.sessionKeys, "")
	p.sessions = append(p.sessions, Session{})
	copy(p.sessionKeys[idx+1:], p.sessionKeys[idx:])
	copy(p.sessions[idx+1:], p.sessions[idx:])
	p.sessionKeys[idx] = clientPubkey
	p.sessions[idx] = session
}

// HandleRequest decrypts, dispatches and answers one inbound kind-24133
// event; checking the event's signature is left to the caller. It never
// panics on a per-request failure. Once the request has been decrypted
// and parsed, a failure while handling it (an unknown method, bad
// arguments, a denied authorization, a signing or encryption error) is
// folded into an encrypted error Response. Failures before that point
// (wrong kind, bad "p" tag, unknown handler, content that neither NIP-44
// nor NIP-04 decrypts, or that does not parse) are returned as err and
// get no response.
func (p *KeySigner) HandleRequest(ctx context.Context, event *nostr.Event) (
	req Request,
	resp Response,
	eventResponse nostr.Event,
	drop bool,
	err error,
) {
	if event.Kind != nostr.KindNostrConnect {
		return req, resp, eventResponse, false,
			fmt.Errorf("event kind is %d, but we expected %d", event.Kind, nostr.KindNostrConnect)
	}

	handler := event.Tags.Find("p")
	if handler == nil || !nostr.IsValid32ByteHex(handler[1]) {
		return req, resp, eventResponse, false, fmt.Errorf(`invalid "p" tag`)
	}

	handlerPubkey := handler[1]
	handlerSecret, err := p.getHandlerSecretKey(handlerPubkey)
	if err != nil {
		return req, resp, eventResponse, false, fmt.Errorf("no private key for %s: %w", handlerPubkey, err)
	}
	userKeyer, err := p.getUserKeyer(handlerPubkey)
	if err != nil {
		return req, resp, eventResponse, false, fmt.Errorf("failed to get user keyer for %s: %w", handlerPubkey, err)
	}

	session, exists := p.GetSession(event.PubKey)
	if !exists {
		session.SharedKey, err = nip04.ComputeSharedSecret(event.PubKey, handlerSecret)
		if err != nil {
			return req, resp, eventResponse, false, fmt.Errorf("failed to compute shared secret: %w", err)
		}

		session.ConversationKey, err = nip44.GenerateConversationKey(event.PubKey, handlerSecret)
		if err != nil {
			return req, resp, eventResponse, false, fmt.Errorf("failed to compute conversation key: %w", err)
		}

		session.PublicKey, err = userKeyer.GetPublicKey(ctx)
		if err != nil {
			return req, resp, eventResponse, false, fmt.Errorf("failed to get public key: %w", err)
		}

		p.setSession(event.PubKey, session)
	}

	req, err = session.ParseRequest(event)
	if err != nil {
		return req, resp, eventResponse, false, fmt.Errorf("error parsing request: %w", err)
	}

	var secret string
	var result string
	var resultErr error

	switch req.Method {
	case "connect":
		if len(req.Params) >= 2 {
			secret = req.Params[1]
		}
		decision := AuthPermitted
		if p.authorizeConnect != nil {
			decision = p.authorizeConnect(event.PubKey, secret, req.Params)
		}
		switch decision {
		case AuthDrop:
			return req, resp, eventResponse, true, nil
		case AuthDenied:
			resultErr = fmt.Errorf("not authorized")
		default:
			result = "ack"
		}

	case "get_public_key":
		result = session.PublicKey

	case "sign_event":
		if len(req.Params) != 1 {
			resultErr = fmt.Errorf("wrong number of arguments to 'sign_event'")
			break
		}
		evt := nostr.Event{}
		if err := json.Unmarshal([]byte(req.Params[0]), &evt); err != nil {
			resultErr = fmt.Errorf("failed to decode event: %w", err)
			break
		}
		decision := AuthPermitted
		if p.authorizeSigning != nil {
			decision = p.authorizeSigning(evt, event.PubKey, secret)
		}
		if decision == AuthDrop {
			return req, resp, eventResponse, true, nil
		}
		if decision == AuthDenied {
			resultErr = fmt.Errorf("not authorized")
			break
		}
		if err := userKeyer.SignEvent(ctx, &evt); err != nil {
			resultErr = fmt.Errorf("failed to sign event: %w", err)
			break
		}
		if p.onEventSigned != nil {
			p.onEventSigned(evt)
		}
		jrevt, _ := json.Marshal(evt)
		result = string(jrevt)

	case "get_relays":
		if p.getRelays != nil {
			jrelays, _ := json.Marshal(p.getRelays(session.PublicKey))
			result = string(jrelays)
		} else {
			result = "{}"
		}

	case "nip44_encrypt":
		if len(req.Params) != 2 {
			resultErr = fmt.Errorf("wrong number of arguments to 'nip44_encrypt'")
			break
		}
		thirdPartyPubkey := req.Params[0]
		if !nostr.IsValidPublicKey(thirdPartyPubkey) {
			resultErr = fmt.Errorf("first argument to 'nip44_encrypt' is not a pubkey string")
			break
		}
		decision := AuthPermitted
		if p.authorizeEncryption != nil {
			decision = p.authorizeEncryption(event.PubKey, secret, req.Method)
		}
		if decision == AuthDrop {
			return req, resp, eventResponse, true, nil
		}
		if decision == AuthDenied {
			resultErr = fmt.Errorf("not authorized")
			break
		}
		ciphertext, err := userKeyer.Encrypt(ctx, req.Params[1], thirdPartyPubkey)
		if err != nil {
			resultErr = fmt.Errorf("failed to encrypt: %w", err)
			break
		}
		result = ciphertext

	case "nip44_decrypt":
		if len(req.Params) != 2 {
			resultErr = fmt.Errorf("wrong number of arguments to 'nip44_decrypt'")
			break
		}
		thirdPartyPubkey := req.Params[0]
		if !nostr.IsValidPublicKey(thirdPartyPubkey) {
			resultErr = fmt.Errorf("first argument to 'nip44_decrypt' is not a pubkey string")
			break
		}
		decision := AuthPermitted
		if p.authorizeEncryption != nil {
			decision = p.authorizeEncryption(event.PubKey, secret, req.Method)
		}
		if decision == AuthDrop {
			return req, resp, eventResponse, true, nil
		}
		if decision == AuthDenied {
			resultErr = fmt.Errorf("not authorized")
			break
		}
		plaintext, err := userKeyer.Decrypt(ctx, req.Params[1], thirdPartyPubkey)
		if err != nil {
			resultErr = fmt.Errorf("failed to decrypt: %w", err)
			break
		}
		result = plaintext

	case "ping":
		result = "pong"

	case "nip04_encrypt", "nip04_decrypt", "nip04_get_public_key":
		resultErr = fmt.Errorf("NIP-04 is deprecated, use NIP-44")

	default:
		resultErr = fmt.Errorf("unknown method '%s'", req.Method)
	}

	resp, eventResponse, err = session.MakeResponse(req.ID, event.PubKey, result, resultErr)
	if err != nil {
		return req, resp, eventResponse, false, err
	}

	if err := eventResponse.Sign(handlerSecret); err != nil {
		return req, resp, eventResponse, false, err
	}

	return req, resp, eventResponse, false, nil
}
