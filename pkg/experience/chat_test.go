package experience

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aeonia-ai/gaia-sub004/internal/upstream"
	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy"
	"github.com/Aeonia-ai/gaia-sub004/pkg/stream"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantCode string
		check    func(t *testing.T, msg Message)
	}{
		{name: "invalid json", input: `{"type":`, wantCode: CodeInvalidJSON},
		{name: "not an object", input: `[1,2]`, wantCode: CodeInvalidJSON},
		{name: "missing type", input: `{"action":"collect_bottle"}`, wantCode: CodeMissingType},
		{name: "empty type", input: `{"type":""}`, wantCode: CodeMissingType},
		{name: "numeric type", input: `{"type":5}`, wantCode: CodeMissingType},
		{name: "null type", input: `{"type":null}`, wantCode: CodeMissingType},
		{name: "unknown type", input: `{"type":"dance"}`, wantCode: CodeUnknownType},
		{name: "malformed field", input: `{"type":"chat","text":42}`, wantCode: CodeInvalidJSON},
		{
			name:  "action",
			input: `{"type":"action","action":"collect_bottle","item_id":"b3"}`,
			check: func(t *testing.T, msg Message) {
				a, ok := msg.(*ActionMessage)
				require.True(t, ok)
				assert.Equal(t, ActionCollectBottle, a.Action)
				assert.Equal(t, "b3", a.ItemID)
			},
		},
		{
			name:  "ping with timestamp",
			input: `{"type":"ping","timestamp":"2025-01-01T00:00:00Z"}`,
			check: func(t *testing.T, msg Message) {
				p, ok := msg.(*PingMessage)
				require.True(t, ok)
				assert.JSONEq(t, `"2025-01-01T00:00:00Z"`, string(p.Timestamp))
			},
		},
		{
			name:  "chat",
			input: `{"type":"chat","text":"hello"}`,
			check: func(t *testing.T, msg Message) {
				c, ok := msg.(*ChatMessage)
				require.True(t, ok)
				assert.Equal(t, "hello", c.Text)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, perr := DecodeMessage([]byte(tt.input))
			if tt.wantCode != "" {
				require.NotNil(t, perr)
				assert.Equal(t, tt.wantCode, perr.Code)
				assert.Equal(t, "error", perr.frame().Type)
				return
			}
			require.Nil(t, perr)
			tt.check(t, msg)
		})
	}
}

func TestChunkText(t *testing.T) {
	assert.Equal(t, "plain", chunkText(json.RawMessage(`"plain"`)))
	assert.Equal(t, "obj", chunkText(chunkJSON("obj")))
	assert.Equal(t, "", chunkText(json.RawMessage(`42`)))
}

func TestResponseText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`{"response":"a"}`, "a"},
		{`{"text":"b"}`, "b"},
		{`{"content":"c"}`, "c"},
		{`{"choices":[{"delta":{"content":"d"}}]}`, "d"},
		{`{"choices":[{"message":{"content":"e"}}]}`, "e"},
		{`{"other":1}`, ""},
		{`nope`, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, responseText([]byte(tt.input)), tt.input)
	}
}

func drain(t *testing.T, src stream.Source) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var out []string
	for {
		item, err := src.Next(ctx)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, chunkText(item))
	}
}

func TestScriptedResponder(t *testing.T) {
	r := ScriptedResponder{NPCName: "Louisa"}

	tests := []struct {
		text string
		want string
	}{
		{"Hello!", "I'm Louisa"},
		{"where is the bottle?", "the bottles"},
		{"tell me a secret", `"tell me a secret"`},
	}
	for _, tt := range tests {
		src, err := r.Respond(context.Background(), ChatRequest{Text: tt.text})
		require.NoError(t, err)
		chunks := drain(t, src)
		assert.Len(t, chunks, 3)
		assert.Contains(t, strings.Join(chunks, ""), tt.want)
	}
}

func newChatForwarder(t *testing.T, up *upstream.Server) *proxy.Forwarder {
	t.Helper()
	table, err := proxy.NewTable(map[string]string{"chat": up.URL()}, nil)
	require.NoError(t, err)
	return proxy.NewForwarder(table, proxy.Options{RequestTimeout: 2 * time.Second}, nil, nil)
}

func TestChatServiceResponder_Stream(t *testing.T) {
	up := upstream.NewServer()
	defer up.Close()
	up.Set("/chat/stream", upstream.Response{
		Chunks: []string{
			"event: start\ndata: {\"status\":\"started\"}\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n",
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n",
			": keepalive\n\n",
			"data: [DONE]\n\n",
		},
		ChunkDelay: 5 * time.Millisecond,
	})

	r := ChatServiceResponder{Forwarder: newChatForwarder(t, up), Path: "/chat/stream"}
	src, err := r.Respond(context.Background(), ChatRequest{UserID: "u1", Experience: "wylding-woods", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, drain(t, src))

	reqs := up.Requests()
	require.Len(t, reqs, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	assert.Equal(t, "hi", body["message"])
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, "u1", body["user_id"])
}

func TestChatServiceResponder_BufferedReply(t *testing.T) {
	up := upstream.NewServer()
	defer up.Close()
	up.Set("/chat/stream", upstream.Response{
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    map[string]string{"response": "All at once."},
	})

	r := ChatServiceResponder{Forwarder: newChatForwarder(t, up), Path: "/chat/stream"}
	src, err := r.Respond(context.Background(), ChatRequest{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"All at once."}, drain(t, src))
}

func TestChatServiceResponder_Errors(t *testing.T) {
	up := upstream.NewServer()
	defer up.Close()
	up.Set("/chat/broken", upstream.Response{StatusCode: 500, Body: map[string]string{"detail": "boom"}})

	f := newChatForwarder(t, up)

	_, err := ChatServiceResponder{Forwarder: f, Path: "/chat/broken"}.Respond(context.Background(), ChatRequest{Text: "hi"})
	var upErr *proxy.UpstreamError
	assert.ErrorAs(t, err, &upErr)

	_, err = ChatServiceResponder{Forwarder: f, Path: "/chat/missing"}.Respond(context.Background(), ChatRequest{Text: "hi"})
	assert.Error(t, err, "404 is not a reply")

	_, err = ChatServiceResponder{Forwarder: f, Service: "nope", Path: "/chat"}.Respond(context.Background(), ChatRequest{Text: "hi"})
	var unavailable *proxy.ServiceUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestSSESource_CancelClosesBody(t *testing.T) {
	up := upstream.NewServer()
	defer up.Close()
	up.Set("/chat/stream", upstream.Response{
		Chunks:     []string{"data: {\"text\":\"first\"}\n\n", "data: {\"text\":\"never\"}\n\n"},
		ChunkDelay: 5 * time.Second,
	})

	r := ChatServiceResponder{Forwarder: newChatForwarder(t, up), Path: "/chat/stream"}
	src, err := r.Respond(context.Background(), ChatRequest{Text: "hi"})
	require.NoError(t, err)

	item, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", chunkText(item))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = src.Next(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
