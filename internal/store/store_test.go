package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestStore returns a fresh, migrated in-memory store for one test.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertKeyUserIsIdempotent(t *testing.T) {
	s := openTestStore(t)

	id1, err := s.UpsertKeyUser("alice", "pub1", "first", TrustReasonable)
	require.NoError(t, err)

	id2, err := s.UpsertKeyUser("alice", "pub1", "second", TrustFull)
	require.NoError(t, err)

	require.Equal(t, id1, id2, "a second upsert for the same (key, pubkey) must return the existing row")

	ku, err := s.GetKeyUser("alice", "pub1")
	require.NoError(t, err)
	require.Equal(t, TrustReasonable, ku.TrustLevel, "upsert must not overwrite an existing row's trust level")
}

func TestRevokeKeyUserHidesFromGetKeyUser(t *testing.T) {
	s := openTestStore(t)

	id, err := s.UpsertKeyUser("alice", "pub1", "", TrustReasonable)
	require.NoError(t, err)

	require.NoError(t, s.RevokeKeyUser(id))

	ku, err := s.GetKeyUser("alice", "pub1")
	require.NoError(t, err)
	require.Nil(t, ku, "a revoked key user must not be returned by GetKeyUser")
}

func TestDecideRequestIsLinearized(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.InsertRequest("req1", "alice", "pub1", "sign_event", "{}"))

	ok1, err := s.DecideRequest("req1", true)
	require.NoError(t, err)
	require.True(t, ok1, "the first decision must win")

	ok2, err := s.DecideRequest("req1", false)
	require.NoError(t, err)
	require.False(t, ok2, "a second decision on an already-decided request must be rejected")

	req, err := s.GetRequest("req1")
	require.NoError(t, err)
	require.NotNil(t, req.Allowed)
	require.True(t, *req.Allowed, "the second, losing call must not flip the outcome")
}

func TestRedeemConnectionTokenIsAtomic(t *testing.T) {
	s := openTestStore(t)
	tok, err := s.CreateConnectionToken("alice", nil, 0)
	require.NoError(t, err)

	_, ok1, err := s.RedeemConnectionToken(tok.ID)
	require.NoError(t, err)
	require.True(t, ok1)

	_, ok2, err := s.RedeemConnectionToken(tok.ID)
	require.NoError(t, err)
	require.False(t, ok2, "a token may be redeemed exactly once")
}

func TestSuspendAndUnsuspendKeyUser(t *testing.T) {
	s := openTestStore(t)
	id, err := s.UpsertKeyUser("alice", "pub1", "", TrustReasonable)
	require.NoError(t, err)

	require.NoError(t, s.SuspendKeyUser(id, nil))
	ku, err := s.GetKeyUser("alice", "pub1")
	require.NoError(t, err)
	require.NotNil(t, ku.SuspendedAt)

	require.NoError(t, s.UnsuspendKeyUser(id))
	ku, err = s.GetKeyUser("alice", "pub1")
	require.NoError(t, err)
	require.Nil(t, ku.SuspendedAt)
}
