package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateConnectionToken mints a one-shot token bound to keyName,
// defaulting to a 5-minute expiry.
func (s *Store) CreateConnectionToken(keyName string, policyID *int64, ttl time.Duration) (*ConnectionToken, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	tok := ConnectionToken{
		ID:        uuid.NewString(),
		KeyName:   keyName,
		PolicyID:  policyID,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	_, err := s.db.Exec(`
		INSERT INTO connection_tokens (id, key_name, policy_id, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		tok.ID, tok.KeyName, tok.PolicyID, tok.CreatedAt, tok.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("create connection token: %w", err)
	}
	return &tok, nil
}

func (s *Store) ListConnectionTokens(keyName string) ([]ConnectionToken, error) {
	var toks []ConnectionToken
	err := s.db.Select(&toks, `SELECT * FROM connection_tokens WHERE key_name = ? ORDER BY created_at DESC`, keyName)
	if err != nil {
		return nil, fmt.Errorf("list connection tokens: %w", err)
	}
	return toks, nil
}

// ListAllConnectionTokens returns every token across every key, used by
// the expiry janitor rather than any per-key UI listing.
func (s *Store) ListAllConnectionTokens() ([]ConnectionToken, error) {
	var toks []ConnectionToken
	err := s.db.Select(&toks, `SELECT * FROM connection_tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list all connection tokens: %w", err)
	}
	return toks, nil
}

func (s *Store) DeleteConnectionToken(id string) error {
	_, err := s.db.Exec(`DELETE FROM connection_tokens WHERE id = ?`, id)
	return err
}

// RedeemConnectionToken atomically claims an unredeemed, unexpired
// token. Exactly one concurrent caller observes ok=true.
func (s *Store) RedeemConnectionToken(id string) (tok *ConnectionToken, ok bool, err error) {
	now := time.Now().Unix()
	res, err := s.db.Exec(`
		UPDATE connection_tokens SET redeemed_at = ?
		WHERE id = ? AND redeemed_at IS NULL AND expires_at > ?`,
		now, id, now)
	if err != nil {
		return nil, false, fmt.Errorf("redeem connection token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n != 1 {
		return nil, false, nil
	}

	var t ConnectionToken
	if err := s.db.Get(&t, `SELECT * FROM connection_tokens WHERE id = ?`, id); err != nil {
		return nil, false, fmt.Errorf("load redeemed token: %w", err)
	}
	return &t, true, nil
}

// UnredeemConnectionToken clears redeemed_at, permitting retry after a
// failure that occurs after a successful claim but before the
// KeyUser/SigningCondition materialization commits.
func (s *Store) UnredeemConnectionToken(id string) error {
	_, err := s.db.Exec(`UPDATE connection_tokens SET redeemed_at = NULL WHERE id = ?`, id)
	return err
}

// CreatePolicy inserts a named, empty permission bundle; rules are
// attached afterward with AddPolicyRule.
func (s *Store) CreatePolicy(name string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO policies (name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("create policy: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) AddPolicyRule(policyID int64, method string, kind *string, allow bool) error {
	_, err := s.db.Exec(`
		INSERT INTO policy_rules (policy_id, method, kind, allow)
		VALUES (?, ?, ?, ?)`,
		policyID, method, kind, allow)
	if err != nil {
		return fmt.Errorf("add policy rule: %w", err)
	}
	return nil
}

func (s *Store) GetPolicy(id int64) (*Policy, []PolicyRule, error) {
	var p Policy
	if err := s.db.Get(&p, `SELECT * FROM policies WHERE id = ?`, id); err != nil {
		return nil, nil, fmt.Errorf("get policy: %w", err)
	}
	var rules []PolicyRule
	if err := s.db.Select(&rules, `SELECT * FROM policy_rules WHERE policy_id = ?`, id); err != nil {
		return nil, nil, fmt.Errorf("get policy rules: %w", err)
	}
	return &p, rules, nil
}
