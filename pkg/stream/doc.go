// Package stream merges an LLM output stream with a queue of out-of-band
// bus events into one ordered sequence.
//
// Queued bus events always win: before any LLM item is handed out, every bus
// event that is already waiting is delivered first, in arrival order. This
// keeps world-state and visual updates from queueing up behind narrative
// text.
//
// The LLM source is consumed on its own goroutine so that a slow reader
// never stalls the producer and vice versa. Every exit path of the
// multiplexer cancels that goroutine and waits for it.
package stream
