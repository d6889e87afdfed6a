package store

import (
	"fmt"
	"time"
)

// GetKeyUser loads the non-revoked KeyUser for (keyName, pubkey), if any.
func (s *Store) GetKeyUser(keyName, pubkey string) (*KeyUser, error) {
	var ku KeyUser
	err := s.db.Get(&ku, `
		SELECT * FROM key_users
		WHERE key_name = ? AND pubkey = ? AND revoked_at IS NULL`,
		keyName, pubkey)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get key user: %w", err)
	}
	return &ku, nil
}

// UpsertKeyUser inserts a KeyUser (used by connect-with-secret
// auto-approval and manual approve-with-scope), returning its id.
func (s *Store) UpsertKeyUser(keyName, pubkey, description string, trust TrustLevel) (int64, error) {
	existing, err := s.GetKeyUser(keyName, pubkey)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}

	res, err := s.db.Exec(`
		INSERT INTO key_users (key_name, pubkey, description, trust_level, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		keyName, pubkey, description, trust, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("insert key user: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) TouchLastUsed(keyUserID int64) error {
	_, err := s.db.Exec(`UPDATE key_users SET last_used_at = ? WHERE id = ?`, time.Now().Unix(), keyUserID)
	return err
}

func (s *Store) RevokeKeyUser(id int64) error {
	_, err := s.db.Exec(`UPDATE key_users SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`, time.Now().Unix(), id)
	return err
}

// SuspendKeyUser blocks a KeyUser until until (nil means indefinitely).
func (s *Store) SuspendKeyUser(id int64, until *int64) error {
	_, err := s.db.Exec(`UPDATE key_users SET suspended_at = ?, suspend_until = ? WHERE id = ?`,
		time.Now().Unix(), until, id)
	return err
}

func (s *Store) UnsuspendKeyUser(id int64) error {
	_, err := s.db.Exec(`UPDATE key_users SET suspended_at = NULL, suspend_until = NULL WHERE id = ?`, id)
	return err
}

func (s *Store) SetTrustLevel(id int64, trust TrustLevel) error {
	_, err := s.db.Exec(`UPDATE key_users SET trust_level = ? WHERE id = ?`, trust, id)
	return err
}

// RevokeAllKeyUsers revokes every non-revoked KeyUser for a key,
// returning the count, satisfying vault.UserRevoker.
func (s *Store) RevokeAllKeyUsers(keyName string) (int, error) {
	res, err := s.db.Exec(`
		UPDATE key_users SET revoked_at = ?
		WHERE key_name = ? AND revoked_at IS NULL`,
		time.Now().Unix(), keyName)
	if err != nil {
		return 0, fmt.Errorf("revoke key users: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RenameKeyReferences propagates a key rename to every row bearing the
// old name, inside one transaction, satisfying vault.UserRevoker.
func (s *Store) RenameKeyReferences(oldName, newName string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`UPDATE key_users SET key_name = ? WHERE key_name = ?`,
		`UPDATE requests SET key_name = ? WHERE key_name = ?`,
		`UPDATE connection_tokens SET key_name = ? WHERE key_name = ?`,
	} {
		if _, err := tx.Exec(stmt, newName, oldName); err != nil {
			return fmt.Errorf("rename key references: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListSigningConditions(keyUserID int64) ([]SigningCondition, error) {
	var conds []SigningCondition
	err := s.db.Select(&conds, `SELECT * FROM signing_conditions WHERE key_user_id = ?`, keyUserID)
	if err != nil {
		return nil, fmt.Errorf("list signing conditions: %w", err)
	}
	return conds, nil
}

func (s *Store) AddSigningCondition(keyUserID int64, method string, kind *string, allow bool) error {
	_, err := s.db.Exec(`
		INSERT INTO signing_conditions (key_user_id, method, kind, allow)
		VALUES (?, ?, ?, ?)`,
		keyUserID, method, kind, allow)
	return err
}
