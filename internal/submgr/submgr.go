// Package submgr wraps the relay pool with a higher-level invariant:
// every registered subscription is currently live on at least one
// relay. It runs a heartbeat that detects both simple relay flakiness
// and a wholesale sleep/wake of the host process, restarting every
// subscription when either happens.
package submgr

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	nostr "github.com/btcforplebs/Signet"
	"github.com/btcforplebs/Signet/internal/relaypool"
)

const (
	defaultHeartbeatInterval = 60 * time.Second
	pingProbeTimeout         = 10 * time.Second
	restartDebounce          = 2 * time.Second
	restartQuiescence        = 500 * time.Millisecond
)

type triple struct {
	id      string
	filters nostr.Filters
	onEvent func(*nostr.Event)
}

// Manager keeps the (id, filter, on_event) triple for every
// subscription so it can recreate them after a restart.
type Manager struct {
	pool     *relaypool.Pool
	interval time.Duration
	log      *zap.SugaredLogger

	mu        sync.Mutex
	subs      map[string]triple
	closeFns  map[string]func()
	lastTick  time.Time
	restartAt *time.Timer
}

func New(pool *relaypool.Pool, interval time.Duration, log *zap.SugaredLogger) *Manager {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		pool:     pool,
		interval: interval,
		log:      log,
		subs:     map[string]triple{},
		closeFns: map[string]func(){},
		lastTick: time.Now(),
	}
}

// Register creates a subscription and remembers its triple so it
// survives a restart.
func (m *Manager) Register(id string, filters nostr.Filters, onEvent func(*nostr.Event)) {
	m.mu.Lock()
	m.subs[id] = triple{id: id, filters: filters, onEvent: onEvent}
	m.mu.Unlock()

	closeFn := m.pool.Subscribe(id, filters, onEvent, nil)

	m.mu.Lock()
	m.closeFns[id] = closeFn
	m.mu.Unlock()
}

func (m *Manager) Unregister(id string) {
	m.mu.Lock()
	closeFn, ok := m.closeFns[id]
	delete(m.subs, id)
	delete(m.closeFns, id)
	m.mu.Unlock()
	if ok {
		closeFn()
	}
}

// Run drives the heartbeat loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.tick(ctx, now)
		}
	}
}

func (m *Manager) tick(ctx context.Context, now time.Time) {
	m.mu.Lock()
	elapsed := now.Sub(m.lastTick)
	m.lastTick = now
	m.mu.Unlock()

	if elapsed > 3*m.interval {
		m.log.Warnw("sleep/wake detected", "elapsed", elapsed)
		m.scheduleRestart()
		return
	}

	if !m.pingProbe(ctx) {
		m.log.Warnw("heartbeat ping probe failed, resetting disconnected relays")
		m.pool.ResetDisconnected()
		m.scheduleRestart()
	}
}

// pingProbe opens a throwaway subscription guaranteed to return no
// events and waits for EOSE from any relay.
func (m *Manager) pingProbe(ctx context.Context) bool {
	since := nostr.Timestamp(time.Now().Add(365 * 24 * time.Hour).Unix())
	filters := nostr.Filters{{Kinds: []int{0}, Since: &since, Limit: 1}}

	eosed := make(chan struct{}, 1)
	id := "healthcheck-" + since.Time().Format("20060102150405")
	closeFn := m.pool.Subscribe(id, filters, nil, func() {
		select {
		case eosed <- struct{}{}:
		default:
		}
	})
	defer closeFn()

	probeCtx, cancel := context.WithTimeout(ctx, pingProbeTimeout)
	defer cancel()

	select {
	case <-eosed:
		return true
	case <-probeCtx.Done():
		return false
	}
}

// scheduleRestart debounces bursts of restart requests into a single
// close-wait-recreate cycle.
func (m *Manager) scheduleRestart() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.restartAt != nil {
		m.restartAt.Stop()
	}
	m.log.Infow("subscription restart scheduled")
	m.restartAt = time.AfterFunc(restartDebounce, m.restart)
}

func (m *Manager) restart() {
	m.mu.Lock()
	triples := make([]triple, 0, len(m.subs))
	for _, t := range m.subs {
		triples = append(triples, t)
	}
	for id, closeFn := range m.closeFns {
		closeFn()
		delete(m.closeFns, id)
	}
	m.mu.Unlock()

	time.Sleep(restartQuiescence)

	for _, t := range triples {
		closeFn := m.pool.Subscribe(t.id, t.filters, t.onEvent, nil)
		m.mu.Lock()
		m.closeFns[t.id] = closeFn
		m.mu.Unlock()
	}
}
