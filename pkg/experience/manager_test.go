package experience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aeonia-ai/gaia-sub004/pkg/natsclient"
	"github.com/Aeonia-ai/gaia-sub004/pkg/worldstate"
)

func TestManager_ConnectSubscribesToUserSubject(t *testing.T) {
	bus := newFakeBus()
	store := worldstate.NewMemoryStore()
	m := NewManager(bus, store, nil, nil)

	sock := &fakeSocket{}
	id, err := m.Connect(context.Background(), sock, "u1", "wylding-woods")
	require.NoError(t, err)

	info, ok := m.ConnectionInfo(id)
	require.True(t, ok)
	assert.True(t, info.Realtime)
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, "wylding-woods", info.ExperienceID)
	assert.True(t, m.IsConnected("u1"))
	assert.Equal(t, 1, m.ConnectionCount())
	assert.NotNil(t, bus.handlerFor(natsclient.WorldUpdateSubject("u1")))

	_, err = store.GetPlayerView(context.Background(), "wylding-woods", "u1")
	assert.NoError(t, err, "player state is initialized on connect")

	bus.emit(natsclient.WorldUpdateSubject("u1"), []byte(`{"type":"world_update","n":1}`))
	assert.Equal(t, []string{`{"type":"world_update","n":1}`}, sock.Frames())
}

func TestManager_ConnectWithoutRealtime(t *testing.T) {
	tests := []struct {
		name string
		bus  func() EventBus
	}{
		{"no bus", func() EventBus { return nil }},
		{"bus disconnected", func() EventBus {
			b := newFakeBus()
			b.connected = false
			return b
		}},
		{"subscribe fails", func() EventBus {
			b := newFakeBus()
			b.subErr = errors.New("permission denied")
			return b
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.bus(), nil, nil, nil)
			id, err := m.Connect(context.Background(), &fakeSocket{}, "u1", "exp")
			require.NoError(t, err)

			info, ok := m.ConnectionInfo(id)
			require.True(t, ok)
			assert.False(t, info.Realtime)
			assert.True(t, m.Send(id, map[string]string{"type": "pong"}), "socket still usable")
		})
	}
}

func TestManager_InvalidJSONIsDropped(t *testing.T) {
	bus := newFakeBus()
	m := NewManager(bus, nil, nil, nil)
	sock := &fakeSocket{}
	_, err := m.Connect(context.Background(), sock, "u1", "exp")
	require.NoError(t, err)

	bus.emit(natsclient.WorldUpdateSubject("u1"), []byte(`{not json`))
	bus.emit(natsclient.WorldUpdateSubject("u1"), []byte(`{"ok":true}`))
	assert.Equal(t, []string{`{"ok":true}`}, sock.Frames())
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	bus := newFakeBus()
	m := NewManager(bus, nil, nil, nil)
	id, err := m.Connect(context.Background(), &fakeSocket{}, "u1", "exp")
	require.NoError(t, err)

	m.Disconnect(id)
	m.Disconnect(id)
	m.Disconnect(uuid.New())

	_, unsubs := bus.counts()
	assert.Equal(t, 1, unsubs)
	assert.False(t, m.IsConnected("u1"))
	assert.Equal(t, 0, m.ConnectionCount())
	_, ok := m.ConnectionInfo(id)
	assert.False(t, ok)
}

func TestManager_LateDeliveryAfterDisconnectIsDropped(t *testing.T) {
	bus := newFakeBus()
	m := NewManager(bus, nil, nil, nil)
	sock := &fakeSocket{}
	id, err := m.Connect(context.Background(), sock, "u1", "exp")
	require.NoError(t, err)

	// A callback already in flight when the subscription is revoked.
	handler := bus.handlerFor(natsclient.WorldUpdateSubject("u1"))
	require.NotNil(t, handler)
	m.Disconnect(id)

	handler(natsclient.WorldUpdateSubject("u1"), []byte(`{"late":true}`))
	assert.Empty(t, sock.Frames())
	assert.False(t, m.Send(id, map[string]string{"type": "x"}))
}

func TestManager_DisconnectDuringSubscribe(t *testing.T) {
	bus := newFakeBus()
	m := NewManager(bus, nil, nil, nil)
	bus.onSubscribe = func() { m.CloseAll(context.Background()) }

	sock := &fakeSocket{}
	id, err := m.Connect(context.Background(), sock, "u1", "exp")
	require.NoError(t, err)

	_, ok := m.ConnectionInfo(id)
	assert.False(t, ok)
	subs, unsubs := bus.counts()
	assert.Equal(t, 1, subs)
	assert.Equal(t, 1, unsubs, "the orphaned subscription is revoked")
	assert.Nil(t, bus.handlerFor(natsclient.WorldUpdateSubject("u1")))
}

func TestManager_LastConnectWins(t *testing.T) {
	bus := newFakeBus()
	m := NewManager(bus, nil, nil, nil)

	first, err := m.Connect(context.Background(), &fakeSocket{}, "u1", "exp")
	require.NoError(t, err)
	second, err := m.Connect(context.Background(), &fakeSocket{}, "u1", "exp")
	require.NoError(t, err)
	assert.Equal(t, 2, m.ConnectionCount(), "the older socket is not evicted")

	m.Disconnect(first)
	assert.True(t, m.IsConnected("u1"), "closing the older socket keeps the newer mapping")

	m.Disconnect(second)
	assert.False(t, m.IsConnected("u1"))
}

func TestManager_TapDivertsEventsUntilClosed(t *testing.T) {
	bus := newFakeBus()
	m := NewManager(bus, nil, nil, nil)
	sock := &fakeSocket{}
	id, err := m.Connect(context.Background(), sock, "u1", "exp")
	require.NoError(t, err)

	subject := natsclient.WorldUpdateSubject("u1")
	events, closeTap := m.OpenTap(id)

	bus.emit(subject, []byte(`{"n":1}`))
	bus.emit(subject, []byte(`{"n":2}`))
	bus.emit(subject, []byte(`{"n":3}`))
	assert.Empty(t, sock.Frames(), "tapped events bypass the socket")

	first := <-events
	assert.JSONEq(t, `{"n":1}`, string(first))

	closeTap()
	assert.Equal(t, []string{`{"n":2}`, `{"n":3}`}, sock.Frames(), "leftovers are delivered in order")

	bus.emit(subject, []byte(`{"n":4}`))
	assert.Equal(t, `{"n":4}`, sock.Frames()[2])
}

func TestManager_TapKeepsPublishOrder(t *testing.T) {
	bus := newFakeBus()
	m := NewManager(bus, nil, nil, nil)
	sock := &fakeSocket{}
	id, err := m.Connect(context.Background(), sock, "u1", "exp")
	require.NoError(t, err)

	subject := natsclient.WorldUpdateSubject("u1")
	events, closeTap := m.OpenTap(id)

	const n = 200
	for i := 1; i <= n; i++ {
		bus.emit(subject, []byte(fmt.Sprintf(`{"n":%d}`, i)))
	}
	assert.Empty(t, sock.Frames(), "a busy turn still queues every event")

	for i := 1; i <= 2; i++ {
		select {
		case ev := <-events:
			assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(ev))
		case <-time.After(time.Second):
			t.Fatal("tap did not hand over queued events")
		}
	}

	closeTap()
	bus.emit(subject, []byte(fmt.Sprintf(`{"n":%d}`, n+1)))

	frames := sock.Frames()
	require.Len(t, frames, n-1)
	for i, frame := range frames {
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i+3), frame)
	}
}

func TestManager_TapQueueIsBounded(t *testing.T) {
	bus := newFakeBus()
	m := NewManager(bus, nil, nil, nil)
	sock := &fakeSocket{}
	id, err := m.Connect(context.Background(), sock, "u1", "exp")
	require.NoError(t, err)

	subject := natsclient.WorldUpdateSubject("u1")
	_, closeTap := m.OpenTap(id)
	const capacity = tapBufferSize + tapMaxQueued
	for i := 1; i <= capacity+5; i++ {
		bus.emit(subject, []byte(fmt.Sprintf(`{"n":%d}`, i)))
	}
	closeTap()

	frames := sock.Frames()
	require.Len(t, frames, capacity, "overflow is dropped, never sent ahead of the queue")
	assert.JSONEq(t, `{"n":1}`, frames[0])
	assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, capacity), frames[len(frames)-1])
}

func TestManager_DisconnectClosesTap(t *testing.T) {
	bus := newFakeBus()
	m := NewManager(bus, nil, nil, nil)
	sock := &fakeSocket{}
	id, err := m.Connect(context.Background(), sock, "u1", "exp")
	require.NoError(t, err)

	_, closeTap := m.OpenTap(id)
	bus.emit(natsclient.WorldUpdateSubject("u1"), []byte(`{"n":1}`))
	m.Disconnect(id)
	closeTap()

	assert.Empty(t, sock.Frames())
}

func TestManager_SendCountsMessages(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	sock := &fakeSocket{}
	id, err := m.Connect(context.Background(), sock, "u1", "exp")
	require.NoError(t, err)

	assert.True(t, m.Send(id, map[string]int{"a": 1}))
	m.RecordReceived(id)
	m.RecordReceived(id)

	info, _ := m.ConnectionInfo(id)
	assert.EqualValues(t, 1, info.MessagesSent)
	assert.EqualValues(t, 2, info.MessagesReceived)

	sock.failWrite = true
	assert.False(t, m.Send(id, map[string]int{"a": 2}))
}

func TestManager_CloseAll(t *testing.T) {
	bus := newFakeBus()
	m := NewManager(bus, nil, nil, nil)
	a, b := &fakeSocket{}, &fakeSocket{}
	_, err := m.Connect(context.Background(), a, "u1", "exp")
	require.NoError(t, err)
	_, err = m.Connect(context.Background(), b, "u2", "exp")
	require.NoError(t, err)

	m.CloseAll(context.Background())

	assert.Equal(t, 0, m.ConnectionCount())
	assert.True(t, a.closed)
	assert.Equal(t, websocket.CloseGoingAway, a.closeCode)
	assert.Equal(t, websocket.CloseGoingAway, b.closeCode)
	_, unsubs := bus.counts()
	assert.Equal(t, 2, unsubs)
}
