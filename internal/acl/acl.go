// Package acl decides whether a NIP-46 call is Permitted, Denied, or
// Undecided, from explicit SigningConditions, trust-level defaults, and
// a bounded TTL+LRU cache in front of the store.
package acl

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/btcforplebs/Signet/internal/store"
)

type Decision int

const (
	Undecided Decision = iota
	Permitted
	Denied
)

func (d Decision) String() string {
	switch d {
	case Permitted:
		return "Permitted"
	case Denied:
		return "Denied"
	default:
		return "Undecided"
	}
}

// SAFE kinds are auto-permitted for sign_event under trust level
// reasonable, unless also SENSITIVE.
var safeKinds = map[int]bool{
	1: true, 6: true, 7: true, 16: true, 1111: true, 30023: true,
	30024: true, 1808: true, 9735: true, 10000: true, 10001: true,
	30000: true, 30001: true, 24242: true,
}

// SENSITIVE kinds override SAFE and always require an explicit
// decision under trust level reasonable.
var sensitiveKinds = map[int]bool{
	0: true, 3: true, 4: true, 5: true, 10002: true, 22242: true,
	24133: true, 13194: true, 23194: true, 23195: true,
}

func IsSafeKind(kind int) bool {
	return safeKinds[kind] && !sensitiveKinds[kind]
}

const (
	cacheCapacity = 1000
	cacheTTL      = 30 * time.Second
)

type cacheEntry struct {
	keyUserID     int64
	revoked       bool
	suspended     bool
	trustLevel    store.TrustLevel
	hasGlobalDeny bool
}

type cacheKey struct {
	keyName string
	pubkey  string
}

// Evaluator implements the §4.3 algorithm. The cache is a soft
// optimization only: the specific method/kind row lookup always hits
// the database.
type Evaluator struct {
	store *store.Store
	cache *expirable.LRU[cacheKey, cacheEntry]
	log   *zap.SugaredLogger
}

func New(s *store.Store, log *zap.SugaredLogger) *Evaluator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Evaluator{
		store: s,
		cache: expirable.NewLRU[cacheKey, cacheEntry](cacheCapacity, nil, cacheTTL),
		log:   log,
	}
}

// Evaluate runs the full algorithm for one (key, remote, method[,kind]) call.
func (e *Evaluator) Evaluate(keyName, pubkey, method string, kind *int) (Decision, *store.KeyUser, error) {
	entry, ku, err := e.load(keyName, pubkey)
	if err != nil {
		e.log.Errorw("acl load failed", "key", keyName, "from", pubkey, "error", err)
		return Undecided, nil, err
	}
	if ku == nil {
		return Undecided, nil, nil // first contact
	}
	if entry.revoked {
		e.log.Debugw("acl denied: revoked", "key", keyName, "from", pubkey)
		return Denied, ku, nil
	}
	if entry.suspended {
		e.log.Debugw("acl denied: suspended", "key", keyName, "from", pubkey)
		return Denied, ku, nil
	}
	if entry.hasGlobalDeny {
		e.log.Debugw("acl denied: global deny condition", "key", keyName, "from", pubkey)
		return Denied, ku, nil
	}

	conds, err := e.store.ListSigningConditions(entry.keyUserID)
	if err != nil {
		return Undecided, ku, fmt.Errorf("load signing conditions: %w", err)
	}

	kindStr := "all"
	if kind != nil {
		kindStr = strconv.Itoa(*kind)
	}

	for _, c := range conds {
		if c.Method != method {
			continue
		}
		if method != "sign_event" {
			return decisionFromBool(c.Allow), ku, nil
		}
		if c.Kind == nil {
			continue
		}
		if *c.Kind == "all" || *c.Kind == kindStr {
			return decisionFromBool(c.Allow), ku, nil
		}
	}

	decision := e.trustDefault(entry.trustLevel, method, kind)
	if decision == Permitted {
		go e.store.TouchLastUsed(entry.keyUserID) // best-effort, non-blocking
	}
	return decision, ku, nil
}

func decisionFromBool(allow bool) Decision {
	if allow {
		return Permitted
	}
	return Denied
}

func (e *Evaluator) trustDefault(trust store.TrustLevel, method string, kind *int) Decision {
	switch trust {
	case store.TrustFull:
		return Permitted
	case store.TrustReasonable:
		switch method {
		case "ping", "connect":
			return Permitted
		case "sign_event":
			if kind != nil && IsSafeKind(*kind) {
				return Permitted
			}
			return Undecided
		default:
			return Undecided
		}
	default: // paranoid
		return Undecided
	}
}

func (e *Evaluator) load(keyName, pubkey string) (cacheEntry, *store.KeyUser, error) {
	key := cacheKey{keyName, pubkey}
	if entry, ok := e.cache.Get(key); ok {
		if entry.keyUserID == 0 {
			return entry, nil, nil
		}
		ku := &store.KeyUser{ID: entry.keyUserID, KeyName: keyName, PubKey: pubkey, TrustLevel: entry.trustLevel}
		return entry, ku, nil
	}

	ku, err := e.store.GetKeyUser(keyName, pubkey)
	if err != nil {
		return cacheEntry{}, nil, fmt.Errorf("load key user: %w", err)
	}
	if ku == nil {
		e.cache.Add(key, cacheEntry{})
		return cacheEntry{}, nil, nil
	}

	conds, err := e.store.ListSigningConditions(ku.ID)
	if err != nil {
		return cacheEntry{}, nil, fmt.Errorf("load signing conditions: %w", err)
	}
	hasGlobalDeny := false
	for _, c := range conds {
		if c.Method == "*" && !c.Allow {
			hasGlobalDeny = true
			break
		}
	}

	suspended := ku.SuspendedAt != nil && (ku.SuspendUntil == nil || *ku.SuspendUntil > time.Now().Unix())
	entry := cacheEntry{
		keyUserID:     ku.ID,
		revoked:       ku.RevokedAt != nil,
		suspended:     suspended,
		trustLevel:    ku.TrustLevel,
		hasGlobalDeny: hasGlobalDeny,
	}
	e.cache.Add(key, entry)
	return entry, ku, nil
}

// Invalidate drops the cached entry for one (key, remote) pair,
// forcing the next Evaluate to hit the database. Called synchronously
// on any mutation of the KeyUser or its SigningConditions.
func (e *Evaluator) Invalidate(keyName, pubkey string) {
	e.cache.Remove(cacheKey{keyName, pubkey})
}

// InvalidateKey drops every cached entry for a key, for mass-revoke.
func (e *Evaluator) InvalidateKey(keyName string) {
	for _, key := range e.cache.Keys() {
		if key.keyName == keyName {
			e.cache.Remove(key)
		}
	}
}
