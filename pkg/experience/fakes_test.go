package experience

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/Aeonia-ai/gaia-sub004/pkg/auth"
	"github.com/Aeonia-ai/gaia-sub004/pkg/natsclient"
)

// fakeBus is an in-process EventBus and Publisher. Published messages are
// delivered synchronously to matching subscriptions.
type fakeBus struct {
	mu           sync.Mutex
	connected    bool
	subErr       error
	onSubscribe  func()
	handlers     map[*natsclient.Subscription]natsclient.Handler
	subscribes   int
	unsubscribes int
	published    []string
}

func newFakeBus() *fakeBus {
	return &fakeBus{connected: true, handlers: map[*natsclient.Subscription]natsclient.Handler{}}
}

func (b *fakeBus) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBus) Subscribe(subject string, handler natsclient.Handler) (*natsclient.Subscription, error) {
	b.mu.Lock()
	hook := b.onSubscribe
	if b.subErr != nil {
		b.mu.Unlock()
		return nil, b.subErr
	}
	sub := natsclient.NewSubscription(subject)
	b.handlers[sub] = handler
	b.subscribes++
	b.mu.Unlock()

	if hook != nil {
		hook()
	}
	return sub, nil
}

func (b *fakeBus) Unsubscribe(sub *natsclient.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, sub)
	b.unsubscribes++
	return nil
}

func (b *fakeBus) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.published = append(b.published, subject)
	b.mu.Unlock()
	b.emit(subject, data)
	return nil
}

func (b *fakeBus) emit(subject string, data []byte) {
	b.mu.Lock()
	var targets []natsclient.Handler
	for sub, h := range b.handlers {
		if sub.Subject == subject {
			targets = append(targets, h)
		}
	}
	b.mu.Unlock()

	for _, h := range targets {
		h(subject, data)
	}
}

func (b *fakeBus) handlerFor(subject string) natsclient.Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub, h := range b.handlers {
		if sub.Subject == subject {
			return h
		}
	}
	return nil
}

func (b *fakeBus) publishedSubjects() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

func (b *fakeBus) counts() (subscribes, unsubscribes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subscribes, b.unsubscribes
}

// fakeSocket records every frame as JSON.
type fakeSocket struct {
	mu        sync.Mutex
	frames    []string
	closed    bool
	closeCode int
	failWrite bool
}

func (s *fakeSocket) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrite || s.closed {
		return errors.New("write on closed socket")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.frames = append(s.frames, string(data))
	return nil
}

func (s *fakeSocket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCode = code
	return nil
}

func (s *fakeSocket) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

// fakeValidator accepts "token-<user>".
type fakeValidator struct{}

func (fakeValidator) Validate(token string) (*auth.Identity, error) {
	const prefix = "token-"
	if len(token) <= len(prefix) || token[:len(prefix)] != prefix {
		return nil, errors.New("invalid token")
	}
	return &auth.Identity{UserID: token[len(prefix):]}, nil
}
