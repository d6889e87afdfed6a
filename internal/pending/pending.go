// Package pending parks NIP-46 requests whose ACL decision is
// Undecided, notifies the control plane via the event bus, and
// resolves each one exactly once: approved, denied, or expired after a
// 60-second TTL.
package pending

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/btcforplebs/Signet/internal/acl"
	"github.com/btcforplebs/Signet/internal/bus"
	"github.com/btcforplebs/Signet/internal/signeterr"
	"github.com/btcforplebs/Signet/internal/store"
)

const ttl = 60 * time.Second

type Result int

const (
	ResultExpired Result = iota
	ResultApproved
	ResultDenied
)

// Scope carries the optional "always allow" instruction from an
// approve call.
type Scope struct {
	AlwaysAllow bool
	Kind        *string // for sign_event, the specific kind to remember
	TrustLevel  store.TrustLevel // for connect, the trust level to grant
}

type waiter struct {
	ch    chan Result
	timer *time.Timer
}

// Queue is the process-wide pending-request tracker. One process owns
// exactly one instance.
type Queue struct {
	mu      sync.Mutex
	store   *store.Store
	bus     *bus.Bus
	acl     *acl.Evaluator
	waiters map[string]*waiter
}

func New(s *store.Store, b *bus.Bus, a *acl.Evaluator) *Queue {
	return &Queue{
		store:   s,
		bus:     b,
		acl:     a,
		waiters: map[string]*waiter{},
	}
}

// Park persists the request and returns its id plus a channel that
// resolves exactly once: from Approve/Deny, or from the TTL firing
// Expired first. The caller should range once over resultCh (buffered,
// capacity 1) rather than loop.
func (q *Queue) Park(keyName, pubkey, method, params string) (id string, resultCh <-chan Result, err error) {
	id = uuid.NewString()
	if err := q.store.InsertRequest(id, keyName, pubkey, method, params); err != nil {
		return "", nil, fmt.Errorf("park request: %w", err)
	}

	ch := make(chan Result, 1)
	w := &waiter{ch: ch}

	q.mu.Lock()
	q.waiters[id] = w
	q.mu.Unlock()

	w.timer = time.AfterFunc(ttl, func() { q.expire(id) })

	q.bus.Publish(bus.TopicRequestCreated, id)
	return id, ch, nil
}

func (q *Queue) takeWaiter(id string) (*waiter, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	w, ok := q.waiters[id]
	if ok {
		delete(q.waiters, id)
	}
	return w, ok
}

func (q *Queue) expire(id string) {
	w, ok := q.takeWaiter(id)
	if !ok {
		return // already decided
	}
	w.ch <- ResultExpired
	close(w.ch)
	q.bus.Publish(bus.TopicRequestExpired, id)
}

// Approve resolves a pending request as allowed. A connect request
// always materializes a KeyUser at scope.TrustLevel (reasonable when
// unset); for any other method, scope.AlwaysAllow also materializes a
// standing SigningCondition.
func (q *Queue) Approve(id string, scope Scope) error {
	ok, err := q.store.DecideRequest(id, true)
	if err != nil {
		return fmt.Errorf("approve request: %w", err)
	}
	if !ok {
		return signeterr.ErrAlreadyProcessed
	}

	req, err := q.store.GetRequest(id)
	if err != nil {
		return err
	}
	if err := q.materializeScope(req, scope); err != nil {
		return err
	}

	w, waiting := q.takeWaiter(id)
	if waiting {
		w.timer.Stop()
		w.ch <- ResultApproved
		close(w.ch)
	}
	q.bus.Publish(bus.TopicRequestApproved, id)
	return nil
}

func (q *Queue) materializeScope(req *store.Request, scope Scope) error {
	if req.Method == "connect" {
		trust := scope.TrustLevel
		if trust == "" {
			trust = store.TrustReasonable
		}
		keyUserID, err := q.store.UpsertKeyUser(req.KeyName, req.PubKey, "", trust)
		if err != nil {
			return fmt.Errorf("materialize connect: %w", err)
		}
		if err := q.store.AddSigningCondition(keyUserID, "connect", nil, true); err != nil {
			return fmt.Errorf("materialize connect condition: %w", err)
		}
		if trust == store.TrustFull {
			for _, method := range []string{"nip44_encrypt", "nip44_decrypt"} {
				if err := q.store.AddSigningCondition(keyUserID, method, nil, true); err != nil {
					return fmt.Errorf("materialize connect condition: %w", err)
				}
			}
		}
		q.acl.Invalidate(req.KeyName, req.PubKey)
		q.bus.Publish(bus.TopicAppConnected, req.PubKey)
		return nil
	}

	if !scope.AlwaysAllow {
		return nil
	}
	ku, err := q.store.GetKeyUser(req.KeyName, req.PubKey)
	if err != nil {
		return err
	}
	if ku == nil {
		return nil
	}
	if err := q.store.AddSigningCondition(ku.ID, req.Method, scope.Kind, true); err != nil {
		return fmt.Errorf("materialize always-allow: %w", err)
	}
	q.acl.Invalidate(req.KeyName, req.PubKey)
	return nil
}

// Deny resolves a pending request as denied.
func (q *Queue) Deny(id string) error {
	ok, err := q.store.DecideRequest(id, false)
	if err != nil {
		return fmt.Errorf("deny request: %w", err)
	}
	if !ok {
		return signeterr.ErrAlreadyProcessed
	}

	w, waiting := q.takeWaiter(id)
	if waiting {
		w.timer.Stop()
		w.ch <- ResultDenied
		close(w.ch)
	}
	q.bus.Publish(bus.TopicRequestDenied, id)
	return nil
}

func (q *Queue) List(status store.RequestStatus, limit, offset int) ([]store.Request, error) {
	return q.store.ListRequests(status, limit, offset)
}

// Cleanup bulk-deletes expired pending rows; audit survives in the log table.
func (q *Queue) Cleanup(olderThan time.Duration) (int, error) {
	return q.store.CleanupExpiredRequests(olderThan)
}
