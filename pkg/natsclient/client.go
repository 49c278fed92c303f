// Package natsclient wraps a NATS connection with the small surface the
// gateway needs: publish, subscribe with a callback, explicit unsubscribe by
// handle or subject, and request/reply. It tracks every subscription it
// creates so that callers can revoke them independently of whatever object
// they were created for.
package natsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// ErrNotConnected is returned by operations attempted before Connect or
// after Close.
var ErrNotConnected = errors.New("nats: not connected")

// WorldUpdateSubject returns the per-user world update subject.
func WorldUpdateSubject(userID string) string {
	return "world.updates.user." + userID
}

// Handler receives one message. It runs on the subscription's delivery
// goroutine, so messages for one subscription arrive in order.
type Handler func(subject string, data []byte)

// Subscription is a revocable handle returned by Subscribe.
type Subscription struct {
	Subject string

	sub *nats.Subscription
}

// NewSubscription returns a detached handle for subject. Test doubles use it
// to hand out subscriptions without a server.
func NewSubscription(subject string) *Subscription {
	return &Subscription{Subject: subject}
}

// Options configures the connection.
type Options struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	RequestTimeout time.Duration
}

// Client is a NATS connection plus its subject-to-subscription table.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu   sync.Mutex
	nc   *nats.Conn
	subs map[string][]*Subscription
}

// New creates a client. Call Connect before use.
func New(opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ReconnectWait == 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = -1
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	return &Client{
		opts:   opts,
		logger: logger.With("component", "natsclient"),
		subs:   make(map[string][]*Subscription),
	}
}

// Connect dials the server. The initial connection is retried in the
// background, so Connect succeeds even while the server is still starting;
// IsConnected reports the live state.
func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	nc, err := nats.Connect(c.opts.URL,
		nats.Name(c.opts.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(c.opts.MaxReconnects),
		nats.ReconnectWait(c.opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	c.nc = nc
	c.mu.Unlock()

	c.logger.Info("nats client started", "url", c.opts.URL, "connected", nc.IsConnected())
	return nil
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	nc := c.nc
	c.mu.Unlock()
	return nc != nil && nc.IsConnected()
}

func (c *Client) conn() (*nats.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil || c.nc.IsClosed() {
		return nil, ErrNotConnected
	}
	return c.nc, nil
}

// Publish sends data on subject.
func (c *Client) Publish(subject string, data []byte) error {
	nc, err := c.conn()
	if err != nil {
		return err
	}
	if err := nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// PublishJSON marshals v and publishes it on subject.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	return c.Publish(subject, data)
}

// Subscribe registers handler for subject and returns its handle.
func (c *Client) Subscribe(subject string, handler Handler) (*Subscription, error) {
	nc, err := c.conn()
	if err != nil {
		return nil, err
	}

	ns, err := nc.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Subject, m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	sub := &Subscription{Subject: subject, sub: ns}

	c.mu.Lock()
	c.subs[subject] = append(c.subs[subject], sub)
	c.mu.Unlock()

	c.logger.Debug("subscribed", "subject", subject)
	return sub, nil
}

// Unsubscribe revokes one subscription. The local entry is removed even if
// the server-side unsubscribe fails.
func (c *Client) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return nil
	}

	c.mu.Lock()
	list := c.subs[sub.Subject]
	for i, s := range list {
		if s == sub {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(c.subs, sub.Subject)
	} else {
		c.subs[sub.Subject] = list
	}
	c.mu.Unlock()

	if sub.sub == nil {
		return nil
	}
	if err := sub.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return fmt.Errorf("unsubscribe %s: %w", sub.Subject, err)
	}
	return nil
}

// UnsubscribeSubject revokes every subscription on subject.
func (c *Client) UnsubscribeSubject(subject string) error {
	c.mu.Lock()
	list := c.subs[subject]
	delete(c.subs, subject)
	c.mu.Unlock()

	var errs []error
	for _, s := range list {
		if s.sub == nil {
			continue
		}
		if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("unsubscribe %s: %w", subject, errors.Join(errs...))
	}
	return nil
}

// SubscriptionCount returns the number of tracked subscriptions.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, list := range c.subs {
		n += len(list)
	}
	return n
}

// Request sends data on subject and waits for one reply. Without a deadline
// on ctx the configured request timeout applies.
func (c *Client) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	nc, err := c.conn()
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	msg, err := nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}
	return msg.Data, nil
}

// Ping verifies the connection with a server round trip. It backs the
// bus entry of the health report.
func (c *Client) Ping(ctx context.Context) error {
	nc, err := c.conn()
	if err != nil {
		return err
	}
	if !nc.IsConnected() {
		return ErrNotConnected
	}
	timeout := c.opts.RequestTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	return nc.FlushTimeout(timeout)
}

// Close drains the connection, letting in-flight handlers finish, and
// forgets all subscriptions.
func (c *Client) Close() error {
	c.mu.Lock()
	nc := c.nc
	c.nc = nil
	c.subs = make(map[string][]*Subscription)
	c.mu.Unlock()

	if nc == nil {
		return nil
	}
	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
