package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// Kind tags the origin of an Event.
type Kind string

const (
	// KindLLMChunk is an item produced by the LLM source.
	KindLLMChunk Kind = "llm_chunk"

	// KindNATSEvent is an item taken from the bus event queue.
	KindNATSEvent Kind = "nats_event"
)

// Event is one item of the merged sequence.
type Event struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Options tunes a Multiplexer.
type Options struct {
	// IdleTimeout ends the sequence when neither source produces anything
	// for this long. Expiry is a normal end (io.EOF), not an error.
	// Zero waits indefinitely.
	IdleTimeout time.Duration

	// BufferSize is the capacity of the internal LLM queue.
	// Default: 16
	BufferSize int
}

// Multiplexer is a single-use merged stream. It is not safe for concurrent
// calls to Next; one multiplexer serves one client connection.
type Multiplexer struct {
	events <-chan json.RawMessage
	llm    chan json.RawMessage
	idle   time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	// Written by the producer before llm is closed.
	llmErr error

	pending    json.RawMessage
	hasPending bool
	llmDone    bool

	finished bool
	finalErr error
}

// Merge starts consuming src and returns the merged stream of src and
// events. events may be nil. The caller must eventually call Close, or read
// until Next returns an error.
func Merge(ctx context.Context, src Source, events <-chan json.RawMessage, opts Options) *Multiplexer {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 16
	}

	pctx, cancel := context.WithCancel(ctx)
	m := &Multiplexer{
		events: events,
		llm:    make(chan json.RawMessage, opts.BufferSize),
		idle:   opts.IdleTimeout,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go m.produce(pctx, src)
	return m
}

func (m *Multiplexer) produce(ctx context.Context, src Source) {
	defer close(m.done)
	defer close(m.llm)

	for {
		item, err := src.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				m.llmErr = err
			}
			return
		}
		select {
		case m.llm <- item:
		case <-ctx.Done():
			return
		}
	}
}

// Next returns the next event. It returns io.EOF when the LLM source is
// exhausted and no bus event is waiting, or when both sources have been
// idle for the configured timeout. An error from the LLM source is returned
// once every item produced before it has been delivered.
func (m *Multiplexer) Next(ctx context.Context) (Event, error) {
	if m.finished {
		return Event{}, m.finalErr
	}

	for {
		if m.events != nil {
			select {
			case ev, ok := <-m.events:
				if !ok {
					m.events = nil
					continue
				}
				return Event{Kind: KindNATSEvent, Payload: ev}, nil
			default:
			}
		}

		if m.hasPending {
			item := m.pending
			m.pending, m.hasPending = nil, false
			return Event{Kind: KindLLMChunk, Payload: item}, nil
		}

		if m.llmDone {
			return Event{}, m.finish(m.llmErr)
		}

		var timeout <-chan time.Time
		var timer *time.Timer
		if m.idle > 0 {
			timer = time.NewTimer(m.idle)
			timeout = timer.C
		}

		select {
		case item, ok := <-m.llm:
			stopTimer(timer)
			if !ok {
				m.llmDone = true
				continue
			}
			// Hold the item back so that any bus event that became ready
			// in the meantime is delivered first.
			m.pending, m.hasPending = item, true

		case ev, ok := <-m.events:
			stopTimer(timer)
			if !ok {
				m.events = nil
				continue
			}
			return Event{Kind: KindNATSEvent, Payload: ev}, nil

		case <-timeout:
			return Event{}, m.finish(nil)

		case <-ctx.Done():
			stopTimer(timer)
			return Event{}, m.finish(ctx.Err())
		}
	}
}

// Drain calls fn for every event until the sequence ends. It returns nil on
// a normal end, otherwise the first error from the stream or fn. The
// multiplexer is closed on return.
func (m *Multiplexer) Drain(ctx context.Context, fn func(Event) error) error {
	defer m.Close()
	for {
		ev, err := m.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// Close stops the LLM producer and waits for it to exit. It is safe to call
// more than once.
func (m *Multiplexer) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		<-m.done
	})
}

func (m *Multiplexer) finish(err error) error {
	m.Close()
	if err == nil {
		err = io.EOF
	}
	m.finished = true
	m.finalErr = err
	return err
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
