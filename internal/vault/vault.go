// Package vault owns the storage format and lifecycle of custodied
// keys: at-rest AES-256-GCM encryption of key material with
// PBKDF2-derived wrapping keys, unlock/lock, enumeration, rename, and
// delete-with-passphrase-proof. It never signs anything itself; on
// activation it hands a borrowed reference to the registered callback,
// which is what starts a NIP-46 backend for that key.
package vault

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	nostr "github.com/btcforplebs/Signet"
	"github.com/btcforplebs/Signet/internal/config"
	"github.com/btcforplebs/Signet/internal/signeterr"
)

type Status int

const (
	StatusOffline Status = iota
	StatusLocked
	StatusOnline
)

func (s Status) String() string {
	switch s {
	case StatusOnline:
		return "online"
	case StatusLocked:
		return "locked"
	default:
		return "offline"
	}
}

// KeyInfo is the enumerable summary of one custodied key.
type KeyInfo struct {
	Name      string
	PublicKey string
	Status    Status
}

// UserRevoker is implemented by the SQL store; the vault calls it
// during delete to revoke every KeyUser row bound to the deleted key,
// inside the same logical operation the spec describes.
type UserRevoker interface {
	RevokeAllKeyUsers(keyName string) (int, error)
	RenameKeyReferences(oldName, newName string) error
}

// ActivationFunc starts (or, if already running, no-ops) the NIP-46
// backend for a key that just became online. It must be idempotent.
type ActivationFunc func(name string, secretHex string)

// DeactivationFunc stops a running backend, called on lock and delete.
type DeactivationFunc func(name string)

type Vault struct {
	mu     sync.Mutex
	cfg    *config.Store
	path   string
	active map[string]string // name -> hex secret, only while unlocked

	revoker UserRevoker

	onActivate   ActivationFunc
	onDeactivate DeactivationFunc
	activated    map[string]bool

	log *zap.SugaredLogger
}

func New(cfg *config.Store, path string, revoker UserRevoker, log *zap.SugaredLogger) *Vault {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Vault{
		cfg:       cfg,
		path:      path,
		active:    map[string]string{},
		activated: map[string]bool{},
		revoker:   revoker,
		log:       log,
	}
}

// OnActivate registers the callback invoked whenever a key becomes
// online (created plain, or unlocked). Must be called before Create
// or Unlock is used for the first time.
func (v *Vault) OnActivate(fn ActivationFunc)     { v.onActivate = fn }
func (v *Vault) OnDeactivate(fn DeactivationFunc) { v.onDeactivate = fn }

func (v *Vault) activate(name, secretHex string) {
	if v.activated[name] {
		return
	}
	v.activated[name] = true
	v.log.Infow("key activated", "key", name)
	if v.onActivate != nil {
		v.onActivate(name, secretHex)
	}
}

func (v *Vault) deactivate(name string) {
	if !v.activated[name] {
		return
	}
	delete(v.activated, name)
	v.log.Infow("key deactivated", "key", name)
	if v.onDeactivate != nil {
		v.onDeactivate(name)
	}
}

// ActivateAll starts the backend for every plain (non-encrypted) key
// already present in the config. Call once at startup after
// OnActivate/OnDeactivate are registered; encrypted keys stay locked
// until an operator calls Unlock.
func (v *Vault) ActivateAll() {
	v.mu.Lock()
	defer v.mu.Unlock()

	for name, entry := range v.cfg.Current().Keys {
		if entry.Encrypted() {
			continue
		}
		v.active[name] = entry.Key
		v.activate(name, entry.Key)
	}
}

// Create adds a new key, either freshly generated or from an
// admin-supplied secret, optionally sealed under passphrase.
func (v *Vault) Create(name string, passphrase string, existingSecretHex string) (KeyInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	cfg := v.cfg.Current()
	if _, exists := cfg.Keys[name]; exists {
		return KeyInfo{}, signeterr.ErrNameInUse
	}
	if name == "" {
		return KeyInfo{}, signeterr.ErrEmptyName
	}

	secretHex := existingSecretHex
	if secretHex == "" {
		secretHex = nostr.GeneratePrivateKey()
	} else if !nostr.IsValid32ByteHex(secretHex) {
		return KeyInfo{}, signeterr.ErrInvalidSecretEncoding
	}

	pubkey, err := nostr.GetPublicKey(secretHex)
	if err != nil {
		return KeyInfo{}, signeterr.Wrap(signeterr.KindInvalidArgument, "derive public key", err)
	}

	next := cloneConfig(cfg)
	status := StatusOnline
	if passphrase != "" {
		wrapped, err := Wrap(passphrase, []byte(secretHex))
		if err != nil {
			return KeyInfo{}, err
		}
		iv, data := wrapped.Encode()
		next.Keys[name] = config.KeyEntry{IV: iv, Data: data}
		status = StatusLocked
	} else {
		next.Keys[name] = config.KeyEntry{Key: secretHex}
	}

	if err := v.persist(next); err != nil {
		return KeyInfo{}, err
	}

	if status == StatusOnline {
		v.active[name] = secretHex
		v.activate(name, secretHex)
	}

	return KeyInfo{Name: name, PublicKey: pubkey, Status: status}, nil
}

// Unlock decrypts an at-rest key with passphrase and activates it.
func (v *Vault) Unlock(name, passphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.cfg.Current().Keys[name]
	if !ok {
		return signeterr.New(signeterr.KindNotFound, fmt.Sprintf("key %q not found", name))
	}
	if !entry.Encrypted() {
		return signeterr.ErrNotEncrypted
	}

	wrapped, err := Decode(entry.IV, entry.Data)
	if err != nil {
		return signeterr.Wrap(signeterr.KindInvalidArgument, "decode key material", err)
	}
	secretHex, err := Unwrap(passphrase, wrapped)
	if err != nil {
		return err
	}

	v.active[name] = string(secretHex)
	v.activate(name, string(secretHex))
	return nil
}

// Lock evicts an unlocked key's secret from memory and stops its backend.
func (v *Vault) Lock(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.cfg.Current().Keys[name]; !ok {
		return signeterr.New(signeterr.KindNotFound, fmt.Sprintf("key %q not found", name))
	}
	if _, active := v.active[name]; !active {
		return signeterr.ErrNotActive
	}
	delete(v.active, name)
	v.deactivate(name)
	return nil
}

// List returns every key ordered by name.
func (v *Vault) List() ([]KeyInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	cfg := v.cfg.Current()
	names := make([]string, 0, len(cfg.Keys))
	for name := range cfg.Keys {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]KeyInfo, 0, len(names))
	for _, name := range names {
		entry := cfg.Keys[name]
		status := StatusLocked
		var secretHex string
		if s, active := v.active[name]; active {
			secretHex = s
			status = StatusOnline
		} else if !entry.Encrypted() {
			secretHex = entry.Key
			status = StatusOnline
		}
		var pubkey string
		if secretHex != "" {
			pubkey, _ = nostr.GetPublicKey(secretHex)
		}
		infos = append(infos, KeyInfo{Name: name, PublicKey: pubkey, Status: status})
	}
	return infos, nil
}

// Rename propagates a key's new name to the config and, via the
// revoker, to every KeyUser/Request/Token row bearing the old name.
func (v *Vault) Rename(oldName, newName string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if newName == "" {
		return signeterr.ErrEmptyName
	}
	cfg := v.cfg.Current()
	entry, ok := cfg.Keys[oldName]
	if !ok {
		return signeterr.New(signeterr.KindNotFound, fmt.Sprintf("key %q not found", oldName))
	}
	if _, exists := cfg.Keys[newName]; exists {
		return signeterr.ErrNameInUse
	}

	if v.revoker != nil {
		if err := v.revoker.RenameKeyReferences(oldName, newName); err != nil {
			return signeterr.Wrap(signeterr.KindTransientIO, "rename key references", err)
		}
	}

	next := cloneConfig(cfg)
	delete(next.Keys, oldName)
	next.Keys[newName] = entry
	if err := v.persist(next); err != nil {
		return err
	}

	if secretHex, active := v.active[oldName]; active {
		delete(v.active, oldName)
		v.active[newName] = secretHex
	}
	if v.activated[oldName] {
		delete(v.activated, oldName)
		v.activated[newName] = true
	}
	return nil
}

// SetPassphrase seals a currently-plain key at rest.
func (v *Vault) SetPassphrase(name, passphrase string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if passphrase == "" {
		return signeterr.ErrEmptyPassphrase
	}
	cfg := v.cfg.Current()
	entry, ok := cfg.Keys[name]
	if !ok {
		return signeterr.New(signeterr.KindNotFound, fmt.Sprintf("key %q not found", name))
	}
	if entry.Encrypted() {
		return signeterr.ErrAlreadyEncrypted
	}

	wrapped, err := Wrap(passphrase, []byte(entry.Key))
	if err != nil {
		return err
	}
	iv, data := wrapped.Encode()

	next := cloneConfig(cfg)
	next.Keys[name] = config.KeyEntry{IV: iv, Data: data}
	return v.persist(next)
}

// Delete removes a key, requiring the passphrase if it is at-rest
// encrypted, and returns the number of KeyUsers revoked as a result.
func (v *Vault) Delete(name string, passphrase string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	cfg := v.cfg.Current()
	entry, ok := cfg.Keys[name]
	if !ok {
		return 0, signeterr.New(signeterr.KindNotFound, fmt.Sprintf("key %q not found", name))
	}
	if entry.Encrypted() {
		if passphrase == "" {
			return 0, signeterr.ErrPassphraseRequired
		}
		wrapped, err := Decode(entry.IV, entry.Data)
		if err != nil {
			return 0, err
		}
		if _, err := Unwrap(passphrase, wrapped); err != nil {
			return 0, err
		}
	}

	next := cloneConfig(cfg)
	delete(next.Keys, name)
	if err := v.persist(next); err != nil {
		return 0, err
	}
	delete(v.active, name)
	v.deactivate(name)

	if v.revoker == nil {
		return 0, nil
	}
	count, err := v.revoker.RevokeAllKeyUsers(name)
	if err != nil {
		return 0, signeterr.Wrap(signeterr.KindTransientIO, "revoke key users", err)
	}
	v.log.Infow("key deleted", "key", name, "revoked_key_users", count)
	return count, nil
}

// SecretFor returns the borrowed hex secret for an active key, for the
// duration of a single sign/encrypt/decrypt call only.
func (v *Vault) SecretFor(name string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.active[name]
	return s, ok
}

func (v *Vault) persist(next *config.Config) error {
	if err := next.Validate(); err != nil {
		return signeterr.Wrap(signeterr.KindInvalidArgument, "validate config", err)
	}
	if v.path != "" {
		if err := next.Save(v.path); err != nil {
			return signeterr.Wrap(signeterr.KindTransientIO, "persist config", err)
		}
	}
	v.cfg.Swap(next)
	return nil
}

func cloneConfig(c *config.Config) *config.Config {
	next := *c
	next.Keys = make(map[string]config.KeyEntry, len(c.Keys))
	for k, v := range c.Keys {
		next.Keys[k] = v
	}
	next.Relays = append([]string{}, c.Relays...)
	return &next
}
