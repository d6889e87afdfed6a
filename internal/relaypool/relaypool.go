// Package relaypool maintains outbound WebSocket connections to
// several Nostr relays: publish fan-out, per-subscription multiplex,
// liveness, and exponential-backoff reconnect.
package relaypool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	nostr "github.com/btcforplebs/Signet"
	"github.com/btcforplebs/Signet/internal/bus"
	"github.com/btcforplebs/Signet/internal/signeterr"
)

type ConnStatus int

const (
	StatusDisconnected ConnStatus = iota
	StatusConnecting
	StatusConnected
	StatusAuthenticated
)

func (s ConnStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

// RelayInfo is the in-memory relay status the control plane surfaces.
type RelayInfo struct {
	URL                string
	Status             ConnStatus
	LastConnectedAt    *time.Time
	LastDisconnectedAt *time.Time
	Attempts           int
}

type relayConn struct {
	mu     sync.Mutex
	url    string
	conn   *websocket.Conn
	status ConnStatus

	lastConnectedAt    *time.Time
	lastDisconnectedAt *time.Time
	attempts           int

	cancel context.CancelFunc
}

type subscription struct {
	id      string
	filters nostr.Filters
	onEvent func(*nostr.Event)
	onEOSE  func()
	eosed   bool
}

// PublishResult reports the outcome of sending an event to one relay.
type PublishResult struct {
	URL string
	Ok  bool
	Err error
}

// Pool owns every relay connection and every active subscription. The
// relay set is a concurrent map since dial completion, publish
// fan-out, and EnsureRelay churn from independent goroutines with no
// natural single writer.
type Pool struct {
	relays *xsync.MapOf[string, *relayConn]

	mu   sync.Mutex
	subs map[string]*subscription
	bus  *bus.Bus
	log  *zap.SugaredLogger

	// OnPublishResult is an optional hook for the audit logger.
	OnPublishResult func(eventID string, results []PublishResult)
}

func New(b *bus.Bus, log *zap.SugaredLogger) *Pool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pool{
		relays: xsync.NewMapOf[string, *relayConn](),
		subs:   map[string]*subscription{},
		bus:    b,
		log:    log,
	}
}

// EnsureRelay adds url to the managed set if not already present and
// starts its connect loop. url is normalized first so that equivalent
// spellings of the same relay (trailing slash, missing scheme, mixed
// case host) collapse onto one entry.
func (p *Pool) EnsureRelay(url string) {
	url = nostr.NormalizeURL(url)
	if url == "" {
		return
	}
	rc := &relayConn{url: url, status: StatusDisconnected}
	if _, loaded := p.relays.LoadOrStore(url, rc); loaded {
		return
	}
	p.log.Infow("relay added", "url", url)
	go p.connectLoop(rc)
}

func (p *Pool) connectLoop(rc *relayConn) {
	ctx, cancel := context.WithCancel(context.Background())
	rc.mu.Lock()
	rc.cancel = cancel
	rc.status = StatusConnecting
	rc.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, rc.url, nil)
	if err != nil {
		cancel()
		p.log.Warnw("relay dial failed", "url", rc.url, "error", err)
		p.scheduleReconnect(rc)
		return
	}

	now := time.Now()
	rc.mu.Lock()
	rc.conn = conn
	rc.status = StatusConnected
	rc.lastConnectedAt = &now
	rc.attempts = 0
	rc.mu.Unlock()

	p.log.Infow("relay connected", "url", rc.url)
	p.bus.Publish(bus.TopicRelaysUpdated, rc.url)
	p.resubscribeAll(ctx, rc)
	p.readLoop(ctx, rc)
}

func (p *Pool) scheduleReconnect(rc *relayConn) {
	rc.mu.Lock()
	rc.attempts++
	attempts := rc.attempts
	now := time.Now()
	rc.lastDisconnectedAt = &now
	rc.status = StatusDisconnected
	rc.mu.Unlock()

	delay := time.Duration(1<<uint(attempts)) * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	time.AfterFunc(delay, func() { p.connectLoop(rc) })
}

func (p *Pool) readLoop(ctx context.Context, rc *relayConn) {
	defer func() {
		rc.conn.Close(websocket.StatusNormalClosure, "")
		p.scheduleReconnect(rc)
	}()

	for {
		_, data, err := rc.conn.Read(ctx)
		if err != nil {
			p.log.Debugw("relay read ended", "url", rc.url, "error", err)
			return
		}
		p.dispatch(data)
	}
}

// dispatch decodes a relay frame ["EVENT", subID, event] or ["EOSE",
// subID] and routes it to the matching subscription.
func (p *Pool) dispatch(data []byte) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || len(frame) < 2 {
		return
	}
	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return
	}

	switch label {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		var evt nostr.Event
		if err := json.Unmarshal(frame[2], &evt); err != nil {
			return
		}
		p.mu.Lock()
		sub, ok := p.subs[subID]
		p.mu.Unlock()
		if ok && sub.onEvent != nil {
			sub.onEvent(&evt)
		}
	case "EOSE":
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			return
		}
		p.mu.Lock()
		sub, ok := p.subs[subID]
		p.mu.Unlock()
		if ok && !sub.eosed {
			sub.eosed = true
			if sub.onEOSE != nil {
				sub.onEOSE()
			}
		}
	}
}

func (p *Pool) resubscribeAll(ctx context.Context, rc *relayConn) {
	p.mu.Lock()
	subs := make([]*subscription, 0, len(p.subs))
	for _, s := range p.subs {
		subs = append(subs, s)
	}
	p.mu.Unlock()

	for _, s := range subs {
		p.sendReq(ctx, rc, s)
	}
}

func (p *Pool) sendReq(ctx context.Context, rc *relayConn, s *subscription) {
	frame := []any{"REQ", s.id}
	for _, f := range s.filters {
		frame = append(frame, f)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Write(ctx, websocket.MessageText, data)
}

func (p *Pool) allRelays() []*relayConn {
	relays := make([]*relayConn, 0)
	p.relays.Range(func(_ string, rc *relayConn) bool {
		relays = append(relays, rc)
		return true
	})
	return relays
}

// Subscribe registers filters on every current relay and every future
// new relay, multiplexing incoming events by subscription id.
func (p *Pool) Subscribe(id string, filters nostr.Filters, onEvent func(*nostr.Event), onEOSE func()) (closeFn func()) {
	sub := &subscription{id: id, filters: filters, onEvent: onEvent, onEOSE: onEOSE}

	p.mu.Lock()
	p.subs[id] = sub
	p.mu.Unlock()

	for _, rc := range p.allRelays() {
		rc.mu.Lock()
		status := rc.status
		rc.mu.Unlock()
		if status == StatusConnected || status == StatusAuthenticated {
			p.sendReq(context.Background(), rc, sub)
		}
	}

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// Publish sends event to every connected relay concurrently and
// returns once dispatched to all of them; it does not wait for
// per-relay OK responses. It reports a KindTransientIO error when not
// a single relay accepted the frame, so callers can retry once a
// relay reconnects.
func (p *Pool) Publish(evt *nostr.Event) error {
	results := p.publishOnce(evt)

	if p.OnPublishResult != nil {
		p.OnPublishResult(evt.ID, results)
	}

	for _, r := range results {
		if r.Ok {
			return nil
		}
	}
	return signeterr.New(signeterr.KindTransientIO, "no relay accepted the event")
}

func (p *Pool) publishOnce(evt *nostr.Event) []PublishResult {
	relays := p.allRelays()

	frame, err := json.Marshal([]any{"EVENT", evt})
	if err != nil {
		return nil
	}

	results := make([]PublishResult, len(relays))
	var wg sync.WaitGroup
	for i, rc := range relays {
		wg.Add(1)
		go func(i int, rc *relayConn) {
			defer wg.Done()
			rc.mu.Lock()
			conn := rc.conn
			connected := rc.status == StatusConnected || rc.status == StatusAuthenticated
			rc.mu.Unlock()
			if !connected || conn == nil {
				results[i] = PublishResult{URL: rc.url, Ok: false, Err: fmt.Errorf("not connected")}
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := conn.Write(ctx, websocket.MessageText, frame)
			results[i] = PublishResult{URL: rc.url, Ok: err == nil, Err: err}
		}(i, rc)
	}
	wg.Wait()
	return results
}

// Status returns a snapshot of every managed relay's state.
func (p *Pool) Status() []RelayInfo {
	relays := p.allRelays()
	infos := make([]RelayInfo, 0, len(relays))
	for _, rc := range relays {
		rc.mu.Lock()
		infos = append(infos, RelayInfo{
			URL:                rc.url,
			Status:             rc.status,
			LastConnectedAt:    rc.lastConnectedAt,
			LastDisconnectedAt: rc.lastDisconnectedAt,
			Attempts:           rc.attempts,
		})
		rc.mu.Unlock()
	}
	return infos
}

// ResetDisconnected cancels the connection context of every relay that
// is not currently connected, used by the subscription manager's health
// loop. A relay that is still dialing has its dial aborted and goes back
// through scheduleReconnect's backoff; a relay already waiting out its
// backoff keeps its scheduled retry, and no extra attempt is started.
func (p *Pool) ResetDisconnected() {
	for _, rc := range p.allRelays() {
		rc.mu.Lock()
		status := rc.status
		cancel := rc.cancel
		rc.mu.Unlock()
		if status != StatusConnected && status != StatusAuthenticated && cancel != nil {
			cancel()
		}
	}
}

// HealthLoop calls ResetDisconnected every 30s until ctx is cancelled.
func (p *Pool) HealthLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ResetDisconnected()
		}
	}
}
