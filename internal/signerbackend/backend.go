// Package signerbackend starts one NIP-46 backend per online custodied
// key: it owns the key's kind-24133 subscription, runs every inbound
// request through the ACL evaluator (parking Undecided ones), gives
// connect its own admin-secret and connection-token fast paths, and
// publishes the signed response.
package signerbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	nostr "github.com/btcforplebs/Signet"
	"github.com/btcforplebs/Signet/internal/acl"
	"github.com/btcforplebs/Signet/internal/audit"
	"github.com/btcforplebs/Signet/internal/bus"
	"github.com/btcforplebs/Signet/internal/pending"
	"github.com/btcforplebs/Signet/internal/signeterr"
	"github.com/btcforplebs/Signet/internal/store"
	"github.com/btcforplebs/Signet/internal/submgr"
	"github.com/btcforplebs/Signet/internal/tokenstore"
	"github.com/btcforplebs/Signet/internal/vault"
	"github.com/btcforplebs/Signet/keyring"
	"github.com/btcforplebs/Signet/nip44"
	"github.com/btcforplebs/Signet/nip46"
)

// Manager owns the wiring shared by every key's backend: the ACL
// evaluator, the pending-approval queue, connection-token redemption,
// the audit log, the subscription manager, and how to publish an
// outbound event. It registers itself with the vault so a backend
// starts the instant a key comes online and stops the instant it goes
// offline or is deleted.
type Manager struct {
	store       *store.Store
	acl         *acl.Evaluator
	pending     *pending.Queue
	tokens      *tokenstore.Store
	audit       *audit.Log
	sub         *submgr.Manager
	bus         *bus.Bus
	publish     func(*nostr.Event) error
	adminSecret string
	log         *zap.SugaredLogger

	running map[string]func()
}

func New(
	s *store.Store,
	a *acl.Evaluator,
	p *pending.Queue,
	t *tokenstore.Store,
	au *audit.Log,
	sm *submgr.Manager,
	b *bus.Bus,
	publish func(*nostr.Event) error,
	adminSecret string,
	log *zap.SugaredLogger,
) *Manager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		store:       s,
		acl:         a,
		pending:     p,
		tokens:      t,
		audit:       au,
		sub:         sm,
		bus:         b,
		publish:     publish,
		adminSecret: adminSecret,
		log:         log,
		running:     map[string]func(){},
	}
}

// Attach registers this manager's Start/Stop as the vault's
// activation/deactivation callbacks. Call once during startup, before
// any key is created or unlocked.
func (m *Manager) Attach(v *vault.Vault) {
	v.OnActivate(m.Start)
	v.OnDeactivate(m.Stop)
}

// Start is idempotent from the vault's perspective (it only calls this
// once per activation) and subscribes the key's handler pubkey to
// inbound kind-24133 requests.
func (m *Manager) Start(name string, secretHex string) {
	pubkey, err := nostr.GetPublicKey(secretHex)
	if err != nil {
		m.log.Errorw("could not derive public key, backend not started", "key", name, "error", err)
		return
	}

	b := &keyBackend{
		name:        name,
		pubkey:      pubkey,
		secretHex:   secretHex,
		store:       m.store,
		acl:         m.acl,
		pending:     m.pending,
		tokens:      m.tokens,
		audit:       m.audit,
		bus:         m.bus,
		publish:     m.publish,
		adminSecret: m.adminSecret,
		log:         m.log,
	}
	signer := b.buildSigner()

	subID := "signer:" + name
	m.sub.Register(subID, nostr.Filters{{
		Kinds: []int{nostr.KindNostrConnect},
		Tags:  nostr.TagMap{"p": []string{pubkey}},
	}}, func(evt *nostr.Event) {
		go b.handle(context.Background(), signer, evt)
	})

	m.running[name] = func() { m.sub.Unregister(subID) }
	m.log.Infow("backend started", "key", name, "pubkey", pubkey)
}

func (m *Manager) Stop(name string) {
	stopFn, ok := m.running[name]
	if !ok {
		return
	}
	delete(m.running, name)
	stopFn()
	m.log.Infow("backend stopped", "key", name)
}

// keyBackend is the per-key state closed over by the callbacks handed
// to nip46.KeySigner.
type keyBackend struct {
	name        string
	pubkey      string
	secretHex   string
	store       *store.Store
	acl         *acl.Evaluator
	pending     *pending.Queue
	tokens      *tokenstore.Store
	audit       *audit.Log
	bus         *bus.Bus
	publish     func(*nostr.Event) error
	adminSecret string
	log         *zap.SugaredLogger
}

func (b *keyBackend) buildSigner() *nip46.KeySigner {
	return nip46.NewKeySigner(
		func(handlerPubkey string) (string, error) {
			if handlerPubkey != b.pubkey {
				return "", fmt.Errorf("unknown handler %s", handlerPubkey)
			}
			return b.secretHex, nil
		},
		func(handlerPubkey string) (nostr.Keyer, error) {
			if handlerPubkey != b.pubkey {
				return nil, fmt.Errorf("unknown handler %s", handlerPubkey)
			}
			return b.userKeyer(), nil
		},
		b.authorizeSigning,
		b.authorizeEncryption,
		b.authorizeConnect,
		nil,
		nil,
	)
}

// userKeyer wraps the borrowed secret directly, without going through
// a session negotiated for someone else's benefit: the manual signer
// here signs and NIP-44-transacts as the custodied identity itself.
func (b *keyBackend) userKeyer() nostr.Keyer {
	return keyring.ManualSigner{
		ManualGetPublicKey: func(context.Context) (string, error) {
			return b.pubkey, nil
		},
		ManualSignEvent: func(_ context.Context, evt *nostr.Event) error {
			return evt.Sign(b.secretHex)
		},
		ManualEncrypt: func(_ context.Context, plaintext string, recipient string) (string, error) {
			ck, err := nip44.GenerateConversationKey(recipient, b.secretHex)
			if err != nil {
				return "", err
			}
			return nip44.Encrypt(plaintext, ck)
		},
		ManualDecrypt: func(_ context.Context, ciphertext string, sender string) (string, error) {
			ck, err := nip44.GenerateConversationKey(sender, b.secretHex)
			if err != nil {
				return "", err
			}
			return nip44.Decrypt(ciphertext, ck)
		},
	}
}

func (b *keyBackend) handle(ctx context.Context, signer *nip46.KeySigner, evt *nostr.Event) {
	if ok, _ := evt.CheckSignature(); !ok {
		b.log.Warnw("dropping request with bad signature", "key", b.name, "from", evt.PubKey)
		return
	}

	_, _, resp, drop, err := signer.HandleRequest(ctx, evt)
	if err != nil {
		b.log.Debugw("request handling error", "key", b.name, "from", evt.PubKey, "error", err)
		return
	}
	if drop {
		b.log.Infow("request dropped silently", "key", b.name, "from", evt.PubKey)
		return
	}
	if b.publish == nil {
		return
	}
	if err := b.publish(&resp); err != nil {
		if signeterr.Is(err, signeterr.KindTransientIO) && b.waitForReconnect(5*time.Second) {
			if err := b.publish(&resp); err != nil {
				b.log.Errorw("publish retry after reconnect failed", "key", b.name, "to", evt.PubKey, "error", err)
			} else {
				b.log.Infow("publish succeeded after reconnect retry", "key", b.name, "to", evt.PubKey)
			}
			return
		}
		b.log.Errorw("publish failed", "key", b.name, "to", evt.PubKey, "error", err)
	}
}

// waitForReconnect blocks until a relay reports reconnection on the
// bus or timeout elapses, so a failed publish can be retried exactly
// once against a relay that just came back.
func (b *keyBackend) waitForReconnect(timeout time.Duration) bool {
	if b.bus == nil {
		return false
	}
	sub := b.bus.Subscribe()
	defer sub.Close()

	deadline := time.After(timeout)
	for {
		select {
		case evt := <-sub.C:
			if evt.Topic == bus.TopicRelaysUpdated {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

// authorizeSigning runs sign_event through the ACL, parking on Undecided.
func (b *keyBackend) authorizeSigning(evt nostr.Event, from string, _ string) nip46.AuthDecision {
	kind := evt.Kind
	j, _ := json.Marshal(evt)
	return b.authorize(from, "sign_event", &kind, string(j))
}

// authorizeEncryption runs nip44_encrypt/nip44_decrypt through the ACL.
func (b *keyBackend) authorizeEncryption(from string, _ string, method string) nip46.AuthDecision {
	return b.authorize(from, method, nil, "")
}

// authorize consults the ACL cache/table; an Undecided verdict parks
// the request and blocks this goroutine (never the relay read loop,
// since callers always run it via go b.handle(...)) until a human
// decides or the 60-second TTL expires.
func (b *keyBackend) authorize(from, method string, kind *int, params string) nip46.AuthDecision {
	decision, ku, err := b.acl.Evaluate(b.name, from, method, kind)
	if err != nil {
		b.log.Errorw("acl evaluation failed", "key", b.name, "from", from, "method", method, "error", err)
		return nip46.AuthDrop
	}

	switch decision {
	case acl.Permitted:
		var keyUserID *int64
		if ku != nil {
			id := ku.ID
			keyUserID = &id
		}
		b.audit.Record("auto", method, params, keyUserID, store.ApprovalAutoTrust)
		return nip46.AuthPermitted

	case acl.Denied:
		b.log.Infow("request denied by acl", "key", b.name, "from", from, "method", method)
		return nip46.AuthDenied
	}

	id, resultCh, err := b.pending.Park(b.name, from, method, params)
	if err != nil {
		b.log.Errorw("could not park request", "key", b.name, "from", from, "method", method, "error", err)
		return nip46.AuthDrop
	}
	b.log.Infow("request parked pending approval", "key", b.name, "from", from, "method", method, "request_id", id)

	switch <-resultCh {
	case pending.ResultApproved:
		b.audit.Record("manual", method, params, nil, store.ApprovalManual)
		return nip46.AuthPermitted
	case pending.ResultDenied:
		b.log.Infow("parked request denied", "key", b.name, "from", from, "method", method, "request_id", id)
		return nip46.AuthDenied
	default: // expired: no response is ever sent for this request
		b.log.Infow("parked request expired, dropping", "key", b.name, "from", from, "method", method, "request_id", id)
		return nip46.AuthDrop
	}
}

// authorizeConnect implements connect-with-secret: an admin-secret
// match grants trust level reasonable outright, a connection-token
// match redeems the token (which already materializes its policy), and
// any other non-empty secret is dropped silently. An empty secret falls
// through to the normal ACL/pending path for a manually-approved
// connect.
func (b *keyBackend) authorizeConnect(from string, secret string, _ []string) nip46.AuthDecision {
	if secret != "" {
		if b.adminSecret != "" && vault.TimingSafeEqual(secret, b.adminSecret) {
			keyUserID, err := b.store.UpsertKeyUser(b.name, from, "admin-secret", store.TrustReasonable)
			if err != nil {
				b.log.Errorw("connect: could not upsert key user", "key", b.name, "from", from, "error", err)
				return nip46.AuthDrop
			}
			if err := b.store.AddSigningCondition(keyUserID, "connect", nil, true); err != nil {
				b.log.Errorw("connect: could not add signing condition", "key", b.name, "from", from, "error", err)
				return nip46.AuthDrop
			}
			b.acl.Invalidate(b.name, from)
			b.audit.Record("connect", "connect", "", nil, store.ApprovalAutoPermission)
			if b.bus != nil {
				b.bus.Publish(bus.TopicAppConnected, from)
			}
			b.log.Infow("connect approved via admin secret", "key", b.name, "from", from)
			return nip46.AuthPermitted
		}

		// The admin secret is one alternative in the secret slot; a
		// one-shot connection token is the other, and must still be
		// tried even when an admin secret is configured.
		if _, ok, err := b.tokens.Redeem(secret, from); err == nil && ok {
			b.audit.Record("connect", "connect", "", nil, store.ApprovalAutoPermission)
			if b.bus != nil {
				b.bus.Publish(bus.TopicAppConnected, from)
			}
			b.log.Infow("connect approved via connection token", "key", b.name, "from", from)
			return nip46.AuthPermitted
		}
		b.log.Warnw("connect rejected: secret matched neither admin secret nor a token", "key", b.name, "from", from)
		return nip46.AuthDrop
	}

	return b.authorize(from, "connect", nil, "")
}
