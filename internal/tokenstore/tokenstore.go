// Package tokenstore wraps the store's connection-token rows with the
// redemption workflow: atomic claim, policy materialization as
// SigningConditions on a fresh KeyUser, and rollback-by-unredeem on
// any failure after a successful claim.
package tokenstore

import (
	"fmt"
	"time"

	"github.com/btcforplebs/Signet/internal/acl"
	"github.com/btcforplebs/Signet/internal/store"
)

type Store struct {
	store *store.Store
	acl   *acl.Evaluator
}

func New(s *store.Store, a *acl.Evaluator) *Store {
	return &Store{store: s, acl: a}
}

func (t *Store) Create(keyName string, policyID *int64, ttl time.Duration) (*store.ConnectionToken, error) {
	return t.store.CreateConnectionToken(keyName, policyID, ttl)
}

func (t *Store) List(keyName string) ([]store.ConnectionToken, error) {
	return t.store.ListConnectionTokens(keyName)
}

func (t *Store) Delete(id string) error {
	return t.store.DeleteConnectionToken(id)
}

// Redeem claims the token, upserts a KeyUser for pubkey, and
// materializes the token's policy rules as SigningConditions, all
// tied together: any failure after the claim clears redeemed_at so
// the client can retry.
func (t *Store) Redeem(id, pubkey string) (keyUserID int64, ok bool, err error) {
	tok, claimed, err := t.store.RedeemConnectionToken(id)
	if err != nil {
		return 0, false, fmt.Errorf("redeem token: %w", err)
	}
	if !claimed {
		return 0, false, nil
	}

	keyUserID, err = t.store.UpsertKeyUser(tok.KeyName, pubkey, "", store.TrustParanoid)
	if err != nil {
		t.store.UnredeemConnectionToken(id)
		return 0, false, fmt.Errorf("materialize key user: %w", err)
	}

	if tok.PolicyID != nil {
		_, rules, err := t.store.GetPolicy(*tok.PolicyID)
		if err != nil {
			t.store.UnredeemConnectionToken(id)
			return 0, false, fmt.Errorf("load policy: %w", err)
		}
		for _, rule := range rules {
			if err := t.store.AddSigningCondition(keyUserID, rule.Method, rule.Kind, rule.Allow); err != nil {
				t.store.UnredeemConnectionToken(id)
				return 0, false, fmt.Errorf("materialize policy rule: %w", err)
			}
		}
	}

	t.acl.Invalidate(tok.KeyName, pubkey)
	return keyUserID, true, nil
}
