package experience

import (
	"encoding/json"
	"fmt"
	"time"
)

// Error codes sent in error frames.
const (
	CodeInvalidJSON      = "invalid_json"
	CodeUnsupportedFrame = "unsupported_frame"
	CodeMissingType      = "missing_type"
	CodeUnknownType      = "unknown_type"
	CodeMissingAction    = "missing_action"
	CodeUnknownAction    = "unknown_action"
	CodeMissingItem      = "missing_item_id"
	CodeMissingObject    = "missing_object_id"
	CodeMissingText      = "missing_text"
	CodeChatFailed       = "chat_failed"
)

// Actions understood inside an action frame.
const (
	ActionCollectBottle  = "collect_bottle"
	ActionDropItem       = "drop_item"
	ActionInteractObject = "interact_object"
)

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// ConnectedFrame is the first frame on every connection.
type ConnectedFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	Experience   string `json:"experience"`
	Timestamp    string `json:"timestamp"`
	Message      string `json:"message"`
}

// ActionResponseFrame answers an action frame.
type ActionResponseFrame struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	Success   bool   `json:"success"`
	ItemID    string `json:"item_id,omitempty"`
	ObjectID  string `json:"object_id,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// QuestUpdateFrame reports quest progress.
type QuestUpdateFrame struct {
	Type             string `json:"type"`
	QuestID          string `json:"quest_id"`
	Status           string `json:"status"`
	BottlesCollected int    `json:"bottles_collected"`
	BottlesTotal     int    `json:"bottles_total"`
	Timestamp        string `json:"timestamp"`
}

// QuestCompleteFrame is sent once, when the last bottle is collected.
type QuestCompleteFrame struct {
	Type         string `json:"type"`
	QuestID      string `json:"quest_id"`
	BottlesTotal int    `json:"bottles_total"`
	Message      string `json:"message"`
	Timestamp    string `json:"timestamp"`
}

// PongFrame answers a ping.
type PongFrame struct {
	Type            string          `json:"type"`
	Timestamp       string          `json:"timestamp"`
	ClientTimestamp json.RawMessage `json:"client_timestamp,omitempty"`
}

// NPCSpeechFrame carries one chunk of NPC dialogue.
type NPCSpeechFrame struct {
	Type      string `json:"type"`
	NPCID     string `json:"npc_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice"`
	Timestamp string `json:"timestamp"`
}

// ErrorFrame reports a protocol or handler error. The connection stays open.
type ErrorFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func newError(code, message string) ErrorFrame {
	return ErrorFrame{Type: "error", Code: code, Message: message, Timestamp: timestamp()}
}

// WorldUpdate is published on the player's bus subject after a state change.
type WorldUpdate struct {
	Type       string         `json:"type"`
	Experience string         `json:"experience"`
	UserID     string         `json:"user_id"`
	Action     string         `json:"action"`
	Changes    map[string]any `json:"changes"`
	Timestamp  string         `json:"timestamp"`
}

// Message is a decoded client frame: *ActionMessage, *PingMessage or
// *ChatMessage.
type Message interface {
	messageType() string
}

// ActionMessage is {"type":"action","action":...}.
type ActionMessage struct {
	Action   string `json:"action"`
	ItemID   string `json:"item_id"`
	ObjectID string `json:"object_id"`
}

func (*ActionMessage) messageType() string { return "action" }

// PingMessage is {"type":"ping"}.
type PingMessage struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

func (*PingMessage) messageType() string { return "ping" }

// ChatMessage is {"type":"chat","text":...}.
type ChatMessage struct {
	Text string `json:"text"`
}

func (*ChatMessage) messageType() string { return "chat" }

// ProtocolError is a client mistake answered with an error frame.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProtocolError) frame() ErrorFrame {
	return newError(e.Code, e.Message)
}

// DecodeMessage parses one client frame.
func DecodeMessage(data []byte) (Message, *ProtocolError) {
	var envelope struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &ProtocolError{Code: CodeInvalidJSON, Message: "Message is not valid JSON"}
	}
	var typ string
	if len(envelope.Type) == 0 || json.Unmarshal(envelope.Type, &typ) != nil || typ == "" {
		return nil, &ProtocolError{Code: CodeMissingType, Message: "Message is missing a string type field"}
	}

	var msg Message
	switch typ {
	case "action":
		msg = &ActionMessage{}
	case "ping":
		msg = &PingMessage{}
	case "chat":
		msg = &ChatMessage{}
	default:
		return nil, &ProtocolError{Code: CodeUnknownType, Message: fmt.Sprintf("Unknown message type: %s", typ)}
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &ProtocolError{Code: CodeInvalidJSON, Message: fmt.Sprintf("Malformed %s message", typ)}
	}
	return msg, nil
}
