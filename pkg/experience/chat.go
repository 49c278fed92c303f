package experience

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/Aeonia-ai/gaia-sub004/pkg/proxy"
	"github.com/Aeonia-ai/gaia-sub004/pkg/stream"
)

// ChatRequest is one player utterance.
type ChatRequest struct {
	UserID       string
	Experience   string
	ConnectionID string
	Text         string
}

// Responder produces the NPC's reply as a stream of chunks. Each chunk is a
// JSON object with a text field.
type Responder interface {
	Respond(ctx context.Context, req ChatRequest) (stream.Source, error)
}

type chunk struct {
	Text string `json:"text"`
}

func chunkJSON(text string) json.RawMessage {
	b, _ := json.Marshal(chunk{Text: text})
	return b
}

// chunkText extracts the text of an LLM chunk. A bare JSON string is
// accepted as well as {"text": ...}.
func chunkText(payload json.RawMessage) string {
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	var c chunk
	if err := json.Unmarshal(payload, &c); err == nil {
		return c.Text
	}
	return ""
}

// ScriptedResponder answers without calling any service. It keeps the
// experience playable when the chat service is not deployed.
type ScriptedResponder struct {
	NPCName string
}

// Respond implements Responder.
func (r ScriptedResponder) Respond(ctx context.Context, req ChatRequest) (stream.Source, error) {
	name := r.NPCName
	if name == "" {
		name = "Louisa"
	}
	text := strings.TrimSpace(req.Text)
	lower := strings.ToLower(text)

	var lines []string
	switch {
	case strings.Contains(lower, "bottle"):
		lines = []string{
			"Oh, the bottles! ",
			"Each one holds a dream that slipped away from the village. ",
			"Bring them back to me and the woods will remember.",
		}
	case strings.Contains(lower, "hello") || strings.Contains(lower, "hi"):
		lines = []string{
			fmt.Sprintf("Hello, traveler. I'm %s. ", name),
			"The fairy folk have scattered their dream bottles across the woods. ",
			"Will you help me find them?",
		}
	default:
		lines = []string{
			"Hmm, ",
			fmt.Sprintf("\"%s\"... ", text),
			"The woods are full of mysteries. Ask me about the dream bottles.",
		}
	}

	items := make([]json.RawMessage, len(lines))
	for i, l := range lines {
		items[i] = chunkJSON(l)
	}
	return stream.Slice(items...), nil
}

// ChatServiceResponder streams the reply from the chat service through the
// gateway's Forwarder.
type ChatServiceResponder struct {
	Forwarder *proxy.Forwarder
	Service   string
	Path      string
}

type chatServiceRequest struct {
	Message    string `json:"message"`
	Stream     bool   `json:"stream"`
	Experience string `json:"experience,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

// Respond implements Responder.
func (r ChatServiceResponder) Respond(ctx context.Context, req ChatRequest) (stream.Source, error) {
	body, err := json.Marshal(chatServiceRequest{
		Message:    req.Text,
		Stream:     true,
		Experience: req.Experience,
		UserID:     req.UserID,
	})
	if err != nil {
		return nil, err
	}

	service := r.Service
	if service == "" {
		service = "chat"
	}

	resp, err := r.Forwarder.Forward(ctx, &proxy.Request{
		Service:    service,
		Method:     http.MethodPost,
		Path:       r.Path,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       body,
		StreamHint: true,
	})
	if err != nil {
		return nil, err
	}

	switch resp.Kind {
	case proxy.KindStream:
		return newSSESource(resp.Body), nil
	case proxy.KindJSON:
		text := responseText(resp.JSON)
		if text == "" {
			return nil, fmt.Errorf("chat service returned no text")
		}
		return stream.Slice(chunkJSON(text)), nil
	case proxy.KindNotFound:
		return nil, fmt.Errorf("chat service: %s", resp.NotFoundDetail)
	default:
		return nil, fmt.Errorf("chat service returned unexpected %s response", resp.Kind)
	}
}

// responseText pulls reply text out of the shapes the chat service uses.
func responseText(data []byte) string {
	var v struct {
		Response string `json:"response"`
		Text     string `json:"text"`
		Content  string `json:"content"`
		Choices  []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return ""
	}
	switch {
	case v.Response != "":
		return v.Response
	case v.Text != "":
		return v.Text
	case v.Content != "":
		return v.Content
	case len(v.Choices) > 0 && v.Choices[0].Delta.Content != "":
		return v.Choices[0].Delta.Content
	case len(v.Choices) > 0:
		return v.Choices[0].Message.Content
	}
	return ""
}

// sseSource turns an SSE body into text chunks. Only data lines are
// used; [DONE] ends the stream.
type sseSource struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	once    sync.Once
}

func newSSESource(body io.ReadCloser) *sseSource {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseSource{body: body, scanner: sc}
}

func (s *sseSource) close() {
	s.once.Do(func() { s.body.Close() })
}

// Next implements stream.Source. Cancelling ctx closes the body, which
// unblocks the pending read.
func (s *sseSource) Next(ctx context.Context) (json.RawMessage, error) {
	stop := context.AfterFunc(ctx, s.close)
	defer stop()

	for s.scanner.Scan() {
		line := s.scanner.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := bytes.TrimSpace(line[len("data:"):])
		if len(data) == 0 {
			continue
		}
		if string(data) == "[DONE]" {
			s.close()
			return nil, io.EOF
		}
		text := responseText(data)
		if text == "" && !json.Valid(data) {
			text = string(data)
		}
		if text == "" {
			continue
		}
		return chunkJSON(text), nil
	}

	s.close()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return nil, io.EOF
}
