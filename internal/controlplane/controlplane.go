// Package controlplane is the service layer behind the HTTP control
// plane's route table: one Go method per route, returning plain DTOs.
// It owns no transport, no JWT/CSRF verification, and no CORS policy —
// those belong to the (not built here) HTTP handler layer that will
// call these methods after authenticating the caller.
package controlplane

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"time"

	"github.com/btcforplebs/Signet/internal/acl"
	"github.com/btcforplebs/Signet/internal/audit"
	"github.com/btcforplebs/Signet/internal/bus"
	"github.com/btcforplebs/Signet/internal/config"
	"github.com/btcforplebs/Signet/internal/pending"
	"github.com/btcforplebs/Signet/internal/relaypool"
	"github.com/btcforplebs/Signet/internal/signeterr"
	"github.com/btcforplebs/Signet/internal/store"
	"github.com/btcforplebs/Signet/internal/tokenstore"
	"github.com/btcforplebs/Signet/internal/vault"
)

// Service wires every piece the HTTP layer will need behind it.
type Service struct {
	cfg     *config.Store
	vault   *vault.Vault
	acl     *acl.Evaluator
	pending *pending.Queue
	tokens  *tokenstore.Store
	audit   *audit.Log
	bus     *bus.Bus
	pool    *relaypool.Pool
	store   *store.Store
}

func New(
	cfg *config.Store,
	v *vault.Vault,
	a *acl.Evaluator,
	p *pending.Queue,
	t *tokenstore.Store,
	au *audit.Log,
	b *bus.Bus,
	pool *relaypool.Pool,
	s *store.Store,
) *Service {
	return &Service{cfg: cfg, vault: v, acl: a, pending: p, tokens: t, audit: au, bus: b, pool: pool, store: s}
}

// --- GET /connection ---

type ConnectionInfo struct {
	BunkerURI string   `json:"bunker_uri"`
	Relays    []string `json:"relays"`
}

// Connection builds the bunker:// URI for name's public key from the
// current relay list, matching the URI shape in the wire-protocol section.
func (s *Service) Connection(name string) (ConnectionInfo, error) {
	keys, err := s.vault.List()
	if err != nil {
		return ConnectionInfo{}, err
	}
	var pubkey string
	for _, k := range keys {
		if k.Name == name {
			pubkey = k.PublicKey
		}
	}
	if pubkey == "" {
		return ConnectionInfo{}, signeterr.New(signeterr.KindNotFound, fmt.Sprintf("key %q not found", name))
	}

	cfg := s.cfg.Current()
	q := url.Values{}
	for _, r := range cfg.Relays {
		q.Add("relay", r)
	}
	if cfg.AdminSecret != "" {
		q.Set("secret", cfg.AdminSecret)
	}
	uri := fmt.Sprintf("bunker://%s", pubkey)
	if enc := q.Encode(); enc != "" {
		uri += "?" + enc
	}
	return ConnectionInfo{BunkerURI: uri, Relays: cfg.Relays}, nil
}

// --- GET /relays ---

func (s *Service) Relays() []relaypool.RelayInfo {
	return s.pool.Status()
}

// --- GET /dashboard ---

type Dashboard struct {
	Stats           audit.Stats     `json:"stats"`
	RecentActivity  []store.LogEntry `json:"recent_activity"`
	HourlyHistogram [24]int         `json:"hourly_histogram"`
}

func (s *Service) Dashboard(recentLimit int) (Dashboard, error) {
	stats, err := s.audit.Summarize(recentLimit)
	if err != nil {
		return Dashboard{}, err
	}
	recent, err := s.store.RecentLogEntries(recentLimit)
	if err != nil {
		return Dashboard{}, err
	}

	var histogram [24]int
	now := time.Now()
	for _, e := range recent {
		age := now.Sub(time.Unix(e.CreatedAt, 0))
		if age < 0 || age >= 24*time.Hour {
			continue
		}
		histogram[23-int(age/time.Hour)]++
	}

	return Dashboard{Stats: stats, RecentActivity: recent, HourlyHistogram: histogram}, nil
}

// --- GET /events (SSE) ---

// Subscribe hands the caller a live bus subscription to drive an SSE
// stream; the HTTP layer owns turning bus.Event into wire frames and
// the 30s keep-alive comment.
func (s *Service) Subscribe() *bus.Subscriber {
	return s.bus.Subscribe()
}

// --- /keys ---

type KeyDTO struct {
	Name      string `json:"name"`
	PublicKey string `json:"public_key"`
	Status    string `json:"status"`
}

func toKeyDTO(k vault.KeyInfo) KeyDTO {
	return KeyDTO{Name: k.Name, PublicKey: k.PublicKey, Status: k.Status.String()}
}

func (s *Service) ListKeys() ([]KeyDTO, error) {
	keys, err := s.vault.List()
	if err != nil {
		return nil, err
	}
	dtos := make([]KeyDTO, len(keys))
	for i, k := range keys {
		dtos[i] = toKeyDTO(k)
	}
	return dtos, nil
}

type CreateKeyRequest struct {
	Name       string `json:"name"`
	Passphrase string `json:"passphrase,omitempty"`
	SecretHex  string `json:"secret_hex,omitempty"`
}

func (s *Service) CreateKey(req CreateKeyRequest) (KeyDTO, error) {
	k, err := s.vault.Create(req.Name, req.Passphrase, req.SecretHex)
	if err != nil {
		return KeyDTO{}, err
	}
	s.bus.Publish(bus.TopicKeyCreated, req.Name)
	return toKeyDTO(k), nil
}

type PatchKeyRequest struct {
	NewName string `json:"new_name,omitempty"`
}

func (s *Service) PatchKey(name string, req PatchKeyRequest) error {
	if req.NewName != "" && req.NewName != name {
		return s.vault.Rename(name, req.NewName)
	}
	return nil
}

func (s *Service) DeleteKey(name, passphrase string) (revoked int, err error) {
	revoked, err = s.vault.Delete(name, passphrase)
	if err != nil {
		return 0, err
	}
	s.acl.InvalidateKey(name)
	s.bus.Publish(bus.TopicKeyDeleted, name)
	return revoked, nil
}

func (s *Service) UnlockKey(name, passphrase string) error {
	if err := s.vault.Unlock(name, passphrase); err != nil {
		return err
	}
	s.bus.Publish(bus.TopicKeyUnlocked, name)
	return nil
}

func (s *Service) SetKeyPassphrase(name, passphrase string) error {
	return s.vault.SetPassphrase(name, passphrase)
}

// --- /apps (KeyUser ops) ---

type AppDTO struct {
	ID         int64             `json:"id"`
	KeyName    string            `json:"key_name"`
	PubKey     string            `json:"pubkey"`
	TrustLevel store.TrustLevel  `json:"trust_level"`
	Revoked    bool              `json:"revoked"`
	Suspended  bool              `json:"suspended"`
}

func toAppDTO(ku store.KeyUser) AppDTO {
	return AppDTO{
		ID: ku.ID, KeyName: ku.KeyName, PubKey: ku.PubKey, TrustLevel: ku.TrustLevel,
		Revoked:   ku.RevokedAt != nil,
		Suspended: ku.SuspendedAt != nil && (ku.SuspendUntil == nil || *ku.SuspendUntil > time.Now().Unix()),
	}
}

func (s *Service) App(keyName, pubkey string) (*AppDTO, error) {
	ku, err := s.store.GetKeyUser(keyName, pubkey)
	if err != nil || ku == nil {
		return nil, err
	}
	dto := toAppDTO(*ku)
	return &dto, nil
}

func (s *Service) RevokeApp(id int64, keyName, pubkey string) error {
	if err := s.store.RevokeKeyUser(id); err != nil {
		return err
	}
	s.acl.Invalidate(keyName, pubkey)
	s.bus.Publish(bus.TopicAppRevoked, pubkey)
	return nil
}

type PatchAppRequest struct {
	TrustLevel store.TrustLevel `json:"trust_level,omitempty"`
}

func (s *Service) PatchApp(id int64, keyName, pubkey string, req PatchAppRequest) error {
	if req.TrustLevel == "" {
		return nil
	}
	if err := s.store.SetTrustLevel(id, req.TrustLevel); err != nil {
		return err
	}
	s.acl.Invalidate(keyName, pubkey)
	return nil
}

// SuspendApp blocks a KeyUser; a nil until means indefinitely.
func (s *Service) SuspendApp(id int64, keyName, pubkey string, until *int64) error {
	if err := s.store.SuspendKeyUser(id, until); err != nil {
		return err
	}
	s.acl.Invalidate(keyName, pubkey)
	return nil
}

func (s *Service) UnsuspendApp(id int64, keyName, pubkey string) error {
	if err := s.store.UnsuspendKeyUser(id); err != nil {
		return err
	}
	s.acl.Invalidate(keyName, pubkey)
	return nil
}

// --- /requests (pending queue) ---

type RequestDTO struct {
	ID      string `json:"id"`
	KeyName string `json:"key_name"`
	PubKey  string `json:"pubkey"`
	Method  string `json:"method"`
	Params  string `json:"params"`
}

func toRequestDTO(r store.Request) RequestDTO {
	return RequestDTO{ID: r.ID, KeyName: r.KeyName, PubKey: r.PubKey, Method: r.Method, Params: r.Params}
}

func (s *Service) ListRequests(status store.RequestStatus, limit, offset int) ([]RequestDTO, error) {
	reqs, err := s.pending.List(status, limit, offset)
	if err != nil {
		return nil, err
	}
	dtos := make([]RequestDTO, len(reqs))
	for i, r := range reqs {
		dtos[i] = toRequestDTO(r)
	}
	return dtos, nil
}

type DecideRequest struct {
	Allow       bool             `json:"allow"`
	AlwaysAllow bool             `json:"always_allow,omitempty"`
	Kind        *string          `json:"kind,omitempty"`
	TrustLevel  store.TrustLevel `json:"trust_level,omitempty"`
}

func (s *Service) DecideOne(id string, req DecideRequest) error {
	if req.Allow {
		return s.pending.Approve(id, pending.Scope{AlwaysAllow: req.AlwaysAllow, Kind: req.Kind, TrustLevel: req.TrustLevel})
	}
	return s.pending.Deny(id)
}

// DecideBatch applies the same decision to every id, collecting each
// id's individual error rather than failing the whole call on the
// first AlreadyProcessed.
func (s *Service) DecideBatch(ids []string, req DecideRequest) map[string]error {
	results := make(map[string]error, len(ids))
	for _, id := range ids {
		results[id] = s.DecideOne(id, req)
	}
	return results
}

// --- /tokens ---

func (s *Service) CreateToken(keyName string, policyID *int64, ttl time.Duration) (*store.ConnectionToken, error) {
	return s.tokens.Create(keyName, policyID, ttl)
}

func (s *Service) ListTokens(keyName string) ([]store.ConnectionToken, error) {
	return s.tokens.List(keyName)
}

func (s *Service) DeleteToken(id string) error {
	return s.tokens.Delete(id)
}

// --- GET /csrf-token ---

// IssueCSRFToken hands back the raw token value for the double-submit
// cookie; the HTTP layer sets it as a cookie and echoes it in the body.
func IssueCSRFToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
