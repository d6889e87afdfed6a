package vault

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btcforplebs/Signet/internal/config"
)

type noopRevoker struct{}

func (noopRevoker) RevokeAllKeyUsers(string) (int, error)         { return 0, nil }
func (noopRevoker) RenameKeyReferences(string, string) error      { return nil }

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	cfg := &config.Config{Relays: []string{"wss://relay.example"}, BindAddr: ":0", Keys: map[string]config.KeyEntry{}}
	return New(config.NewStore(cfg), "", noopRevoker{}, nil)
}

func TestCreatePlainKeyActivatesImmediately(t *testing.T) {
	v := newTestVault(t)

	var activated string
	v.OnActivate(func(name, secretHex string) { activated = name })

	info, err := v.Create("alice", "", "")
	require.NoError(t, err)
	require.Equal(t, StatusOnline, info.Status)
	require.Equal(t, "alice", activated)
}

func TestCreateWithPassphraseStaysLocked(t *testing.T) {
	v := newTestVault(t)

	activateCalled := false
	v.OnActivate(func(name, secretHex string) { activateCalled = true })

	info, err := v.Create("alice", "hunter2", "")
	require.NoError(t, err)
	require.Equal(t, StatusLocked, info.Status)
	require.False(t, activateCalled, "an encrypted key must not activate until unlocked")
}

func TestUnlockActivatesAndLockDeactivates(t *testing.T) {
	v := newTestVault(t)

	activations := 0
	deactivations := 0
	v.OnActivate(func(name, secretHex string) { activations++ })
	v.OnDeactivate(func(name string) { deactivations++ })

	_, err := v.Create("alice", "hunter2", "")
	require.NoError(t, err)
	require.Equal(t, 0, activations)

	require.NoError(t, v.Unlock("alice", "hunter2"))
	require.Equal(t, 1, activations)

	require.NoError(t, v.Lock("alice"))
	require.Equal(t, 1, deactivations)
}

func TestUnlockWrongPassphraseFails(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Create("alice", "hunter2", "")
	require.NoError(t, err)

	err = v.Unlock("alice", "wrong")
	require.Error(t, err)
}

func TestActivateAllStartsEveryPlainKey(t *testing.T) {
	v := newTestVault(t)

	var started []string
	v.OnActivate(func(name, secretHex string) { started = append(started, name) })

	_, err := v.Create("alice", "", "")
	require.NoError(t, err)
	_, err = v.Create("bob", "hunter2", "")
	require.NoError(t, err)
	started = nil // Create itself already activated alice; reset to isolate ActivateAll

	v.ActivateAll()
	require.Contains(t, started, "alice")
	require.NotContains(t, started, "bob", "an encrypted key must stay locked across ActivateAll")
}

func TestDeleteRevokesAndForgetsKey(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Create("alice", "", "")
	require.NoError(t, err)

	_, err = v.Delete("alice", "")
	require.NoError(t, err)

	keys, err := v.List()
	require.NoError(t, err)
	require.Empty(t, keys)
}
