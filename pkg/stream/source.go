package stream

import (
	"context"
	"encoding/json"
	"io"
)

// Source produces LLM items. Next returns io.EOF when the stream is complete
// and must return promptly once ctx is cancelled.
type Source interface {
	Next(ctx context.Context) (json.RawMessage, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (json.RawMessage, error)

// Next calls f(ctx).
func (f SourceFunc) Next(ctx context.Context) (json.RawMessage, error) {
	return f(ctx)
}

// Slice returns a Source that yields items in order and then io.EOF.
func Slice(items ...json.RawMessage) Source {
	i := 0
	return SourceFunc(func(ctx context.Context) (json.RawMessage, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i >= len(items) {
			return nil, io.EOF
		}
		item := items[i]
		i++
		return item, nil
	})
}

// Chan returns a Source that reads from ch until it is closed.
func Chan(ch <-chan json.RawMessage) Source {
	return SourceFunc(func(ctx context.Context) (json.RawMessage, error) {
		select {
		case item, ok := <-ch:
			if !ok {
				return nil, io.EOF
			}
			return item, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}
