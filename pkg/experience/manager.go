package experience

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Aeonia-ai/gaia-sub004/pkg/natsclient"
	"github.com/Aeonia-ai/gaia-sub004/pkg/telemetry/metrics"
	"github.com/Aeonia-ai/gaia-sub004/pkg/worldstate"
)

// EventBus is the subset of natsclient.Client the Manager needs.
type EventBus interface {
	IsConnected() bool
	Subscribe(subject string, handler natsclient.Handler) (*natsclient.Subscription, error)
	Unsubscribe(sub *natsclient.Subscription) error
}

// Info is a snapshot of one connection.
type Info struct {
	ID               uuid.UUID `json:"connection_id"`
	UserID           string    `json:"user_id"`
	ExperienceID     string    `json:"experience"`
	ConnectedAt      time.Time `json:"connected_at"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	Realtime         bool      `json:"realtime"`
}

type connection struct {
	id          uuid.UUID
	userID      string
	experience  string
	connectedAt time.Time
	socket      Socket

	sent     atomic.Int64
	received atomic.Int64

	// Guarded by Manager.mu.
	realtime bool

	// deliverMu orders bus deliveries against tap changes, so events reach
	// the socket in publish order whether or not a chat turn is running.
	deliverMu sync.Mutex
	tap       *tap
}

// tap diverts bus events for one connection into a channel for the
// duration of a chat turn. Events go straight into the channel while it has
// room; beyond that they queue in arrival order and a pump moves them over
// as the reader catches up.
type tap struct {
	mu    sync.Mutex
	queue []json.RawMessage

	out     chan json.RawMessage
	ready   chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func newTap() *tap {
	t := &tap{
		out:     make(chan json.RawMessage, tapBufferSize),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go t.pump()
	return t
}

func (t *tap) pump() {
	defer close(t.stopped)
	for {
		t.mu.Lock()
		if len(t.queue) == 0 {
			t.mu.Unlock()
			select {
			case <-t.ready:
				continue
			case <-t.done:
				return
			}
		}
		head := t.queue[0]
		t.mu.Unlock()

		select {
		case t.out <- head:
			t.mu.Lock()
			t.queue[0] = nil
			t.queue = t.queue[1:]
			t.mu.Unlock()
		case <-t.done:
			return
		}
	}
}

// offer accepts data in arrival order. It returns false once the channel
// and tapMaxQueued overflow slots are all taken.
func (t *tap) offer(data json.RawMessage) bool {
	t.mu.Lock()
	if len(t.queue) == 0 {
		select {
		case t.out <- data:
			t.mu.Unlock()
			return true
		default:
		}
	}
	if len(t.queue) >= tapMaxQueued {
		t.mu.Unlock()
		return false
	}
	t.queue = append(t.queue, data)
	t.mu.Unlock()

	select {
	case t.ready <- struct{}{}:
	default:
	}
	return true
}

// close stops the pump and returns every event the reader never took,
// oldest first.
func (t *tap) close() []json.RawMessage {
	close(t.done)
	<-t.stopped

	t.mu.Lock()
	defer t.mu.Unlock()
	var rest []json.RawMessage
drain:
	for {
		select {
		case data := <-t.out:
			rest = append(rest, data)
		default:
			break drain
		}
	}
	rest = append(rest, t.queue...)
	t.queue = nil
	return rest
}

const (
	// tapBufferSize events are readable by the multiplexer as soon as
	// they are offered.
	tapBufferSize = 64

	// tapMaxQueued bounds overflow behind the channel. Beyond it new events
	// are dropped rather than sent around the queue.
	tapMaxQueued = 4096
)

// Manager tracks live connections. The active map, the subscription side
// table and the user map change together under mu.
type Manager struct {
	bus     EventBus
	store   worldstate.Store
	logger  *slog.Logger
	metrics *metrics.Collector

	mu        sync.Mutex
	active    map[uuid.UUID]*connection
	subs      map[uuid.UUID]*natsclient.Subscription
	userConns map[string]uuid.UUID
}

// NewManager creates a manager. bus and collector may be nil; without a bus
// every connection runs without realtime updates.
func NewManager(bus EventBus, store worldstate.Store, logger *slog.Logger, collector *metrics.Collector) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		bus:       bus,
		store:     store,
		logger:    logger.With("component", "experience.manager"),
		metrics:   collector,
		active:    make(map[uuid.UUID]*connection),
		subs:      make(map[uuid.UUID]*natsclient.Subscription),
		userConns: make(map[string]uuid.UUID),
	}
}

// Connect registers socket for userID in experience and returns the new
// connection ID. A failure to initialize world state or to subscribe is
// logged; the connection is still usable.
func (m *Manager) Connect(ctx context.Context, socket Socket, userID, experience string) (uuid.UUID, error) {
	c := &connection{
		id:          uuid.New(),
		userID:      userID,
		experience:  experience,
		connectedAt: time.Now().UTC(),
		socket:      socket,
	}

	m.mu.Lock()
	m.active[c.id] = c
	m.userConns[userID] = c.id
	m.mu.Unlock()

	m.metrics.ConnectionOpened()
	log := m.logger.With("connection_id", c.id.String(), "user_id", userID, "experience", experience)

	if m.store != nil {
		if _, err := m.store.EnsurePlayerInitialized(ctx, experience, userID); err != nil {
			log.Error("failed to initialize player state", "error", err)
		}
	}

	if m.bus == nil || !m.bus.IsConnected() {
		log.Info("connected without realtime updates")
		return c.id, nil
	}

	sub, err := m.bus.Subscribe(natsclient.WorldUpdateSubject(userID), m.deliver(c.id))
	if err != nil {
		log.Warn("world update subscription failed, continuing without realtime updates", "error", err)
		return c.id, nil
	}

	m.mu.Lock()
	if _, ok := m.active[c.id]; !ok {
		// Disconnected while subscribing.
		m.mu.Unlock()
		if err := m.bus.Unsubscribe(sub); err != nil {
			log.Warn("failed to unsubscribe", "error", err)
		}
		return c.id, nil
	}
	m.subs[c.id] = sub
	c.realtime = true
	m.mu.Unlock()

	log.Info("connected", "subject", sub.Subject)
	return c.id, nil
}

// deliver is the bus callback for one connection.
func (m *Manager) deliver(id uuid.UUID) natsclient.Handler {
	return func(subject string, data []byte) {
		if !json.Valid(data) {
			m.metrics.RecordNATSEvent("invalid")
			m.logger.Warn("dropping invalid JSON from bus", "subject", subject, "connection_id", id.String())
			return
		}

		m.mu.Lock()
		c, ok := m.active[id]
		m.mu.Unlock()
		if !ok {
			m.metrics.RecordNATSEvent("dropped")
			return
		}

		c.deliverMu.Lock()
		defer c.deliverMu.Unlock()

		payload := json.RawMessage(append([]byte(nil), data...))
		if c.tap != nil {
			if c.tap.offer(payload) {
				m.metrics.RecordNATSEvent("delivered")
				return
			}
			m.metrics.RecordNATSEvent("dropped")
			m.logger.Warn("chat turn event queue full, dropping bus event", "subject", subject, "connection_id", id.String())
			return
		}
		if m.Send(id, payload) {
			m.metrics.RecordNATSEvent("delivered")
		} else {
			m.metrics.RecordNATSEvent("dropped")
		}
	}
}

// Disconnect removes the connection and revokes its subscription. Unknown
// or already removed IDs are ignored.
func (m *Manager) Disconnect(id uuid.UUID) {
	m.mu.Lock()
	c, ok := m.active[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active, id)
	sub := m.subs[id]
	delete(m.subs, id)
	if m.userConns[c.userID] == id {
		delete(m.userConns, c.userID)
	}
	m.mu.Unlock()

	c.deliverMu.Lock()
	if c.tap != nil {
		c.tap.close()
		c.tap = nil
	}
	c.deliverMu.Unlock()
	m.metrics.ConnectionClosed()

	if sub != nil && m.bus != nil {
		if err := m.bus.Unsubscribe(sub); err != nil {
			m.logger.Warn("failed to unsubscribe", "connection_id", id.String(), "error", err)
		}
	}

	m.logger.Info("disconnected",
		"connection_id", id.String(),
		"user_id", c.userID,
		"messages_sent", c.sent.Load(),
		"messages_received", c.received.Load(),
	)
}

// Send writes msg to the connection. It returns false if the connection is
// gone or the write failed.
func (m *Manager) Send(id uuid.UUID, msg any) bool {
	m.mu.Lock()
	c, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return false
	}

	if err := c.socket.WriteJSON(msg); err != nil {
		m.logger.Debug("send failed", "connection_id", id.String(), "error", err)
		return false
	}
	c.sent.Add(1)
	m.metrics.RecordMessage("out")
	return true
}

// RecordReceived counts an inbound frame.
func (m *Manager) RecordReceived(id uuid.UUID) {
	m.mu.Lock()
	c, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		c.received.Add(1)
		m.metrics.RecordMessage("in")
	}
}

// OpenTap diverts the connection's bus events into the returned channel
// until closeTap is called. closeTap delivers anything still queued to the
// socket before later events, keeping publish order.
func (m *Manager) OpenTap(id uuid.UUID) (events <-chan json.RawMessage, closeTap func()) {
	m.mu.Lock()
	c, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return nil, func() {}
	}

	t := newTap()
	c.deliverMu.Lock()
	if prev := c.tap; prev != nil {
		for _, data := range prev.close() {
			t.offer(data)
		}
	}
	c.tap = t
	c.deliverMu.Unlock()

	return t.out, func() {
		c.deliverMu.Lock()
		defer c.deliverMu.Unlock()
		if c.tap != t {
			// Replaced or torn down by Disconnect.
			return
		}
		c.tap = nil
		for _, data := range t.close() {
			m.Send(id, data)
		}
	}
}

// ConnectionCount returns the number of live connections.
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// IsConnected reports whether userID has a live connection.
func (m *Manager) IsConnected(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.userConns[userID]
	if !ok {
		return false
	}
	_, ok = m.active[id]
	return ok
}

// ConnectionInfo returns a snapshot of the connection.
func (m *Manager) ConnectionInfo(id uuid.UUID) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.active[id]
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:               c.id,
		UserID:           c.userID,
		ExperienceID:     c.experience,
		ConnectedAt:      c.connectedAt,
		MessagesSent:     c.sent.Load(),
		MessagesReceived: c.received.Load(),
		Realtime:         c.realtime,
	}, true
}

// CloseAll closes every socket with 1001 (going away) and disconnects it.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.active))
	for _, c := range m.active {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		if ctx.Err() != nil {
			m.logger.Warn("shutdown deadline reached, abandoning remaining connections", "remaining", m.ConnectionCount())
			return
		}
		if err := c.socket.Close(websocket.CloseGoingAway, "server shutting down"); err != nil {
			m.logger.Debug("close failed", "connection_id", c.id.String(), "error", err)
		}
		m.Disconnect(c.id)
	}
}
