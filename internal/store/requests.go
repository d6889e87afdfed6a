package store

import (
	"fmt"
	"time"
)

const pendingTTLSeconds = 60

// InsertRequest persists a freshly parked request with allowed=NULL.
func (s *Store) InsertRequest(id, keyName, pubkey, method, params string) error {
	_, err := s.db.Exec(`
		INSERT INTO requests (id, key_name, pubkey, method, params, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, keyName, pubkey, method, params, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(id string) (*Request, error) {
	var r Request
	err := s.db.Get(&r, `SELECT * FROM requests WHERE id = ?`, id)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return &r, nil
}

// DecideRequest performs the linearizing conditional update: only the
// first caller for a given id observes ok=true, everyone else gets
// ok=false (AlreadyProcessed).
func (s *Store) DecideRequest(id string, allowed bool) (ok bool, err error) {
	res, err := s.db.Exec(`
		UPDATE requests SET allowed = ?, processed_at = ?
		WHERE id = ? AND allowed IS NULL`,
		allowed, time.Now().Unix(), id)
	if err != nil {
		return false, fmt.Errorf("decide request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RequestStatus is the computed status used by List.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusDenied   RequestStatus = "denied"
	StatusExpired  RequestStatus = "expired"
)

// ListRequests returns a page of requests filtered by computed status.
func (s *Store) ListRequests(status RequestStatus, limit, offset int) ([]Request, error) {
	cutoff := time.Now().Unix() - pendingTTLSeconds
	var (
		query string
		args  []any
	)
	switch status {
	case StatusPending:
		query = `SELECT * FROM requests WHERE allowed IS NULL AND created_at >= ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
		args = []any{cutoff, limit, offset}
	case StatusExpired:
		query = `SELECT * FROM requests WHERE allowed IS NULL AND created_at < ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
		args = []any{cutoff, limit, offset}
	case StatusApproved:
		query = `SELECT * FROM requests WHERE allowed = 1 ORDER BY created_at DESC LIMIT ? OFFSET ?`
		args = []any{limit, offset}
	case StatusDenied:
		query = `SELECT * FROM requests WHERE allowed = 0 ORDER BY created_at DESC LIMIT ? OFFSET ?`
		args = []any{limit, offset}
	default:
		query = `SELECT * FROM requests ORDER BY created_at DESC LIMIT ? OFFSET ?`
		args = []any{limit, offset}
	}

	var reqs []Request
	if err := s.db.Select(&reqs, query, args...); err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return reqs, nil
}

// CleanupExpiredRequests bulk-deletes pending rows older than olderThan.
// Audit is preserved separately in log_entries.
func (s *Store) CleanupExpiredRequests(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := s.db.Exec(`DELETE FROM requests WHERE allowed IS NULL AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired requests: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// InsertLogEntry appends one audit record.
func (s *Store) InsertLogEntry(entry LogEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO log_entries (type, method, params, key_user_id, approval_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Type, entry.Method, entry.Params, entry.KeyUserID, entry.ApprovalType, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

func (s *Store) RecentLogEntries(limit int) ([]LogEntry, error) {
	var entries []LogEntry
	err := s.db.Select(&entries, `SELECT * FROM log_entries ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list log entries: %w", err)
	}
	return entries, nil
}
